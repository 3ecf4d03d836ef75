// Package metrics exposes Prometheus collectors for the TRB ingest pipeline,
// the WebSocket and UDP transports and the HTTP API.
package metrics
