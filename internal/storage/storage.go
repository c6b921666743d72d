// Package storage defines the output stores of the record pipeline: blob
// objects (local directory or GCS) and wide rows keyed by a primary key.
package storage

import (
	"context"
	"io"
)

// BlobStore saves one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RowWriter upserts one row. Columns are merged into an existing row with
// the same primary key.
type RowWriter interface {
	PutRow(ctx context.Context, table string, pk map[string]any, columns map[string]any) error
}
