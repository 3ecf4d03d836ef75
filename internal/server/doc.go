// Package server implements the TRB ingest transports (WebSocket and UDP), the
// watch stream and the HTTP API. Every transport hands its messages to a shared
// Pipeline which decodes them, records them in the history store and keeps the
// counters exposed by /stats and /metrics.
package server
