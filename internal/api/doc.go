// Package api hosts the admin HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for queue depths and registered plugins.
//   - GET /checkpoints?prefix= and /checkpoints/{key} to inspect in-flight
//     items and cursors without stopping the process.
package api
