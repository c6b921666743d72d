// Package ingest defines the data model and plugin contracts shared by the
// source, dispatch and sink stages.
package ingest
