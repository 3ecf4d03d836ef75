package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/trbscope/internal/config"
	"github.com/skypro1111/trbscope/internal/history"
	"github.com/skypro1111/trbscope/internal/metrics"
	"github.com/skypro1111/trbscope/internal/trb"
)

const (
	serviceName    = "trbscope"
	serviceVersion = "1.0.0"

	defaultPacketLimit = 100
	maxDecodeBody      = 64 << 10
)

// HTTPServer provides HTTP API endpoints for inspection and management
type HTTPServer struct {
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
	config    *config.Config
	pipeline  *Pipeline
	store     *history.Store
	wsServer  *WebSocketServer
	udpServer *UDPServer
	metrics   *metrics.Metrics

	// Server state
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. udpServer may be nil when UDP
// ingest is disabled.
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, pipeline *Pipeline,
	store *history.Store, wsServer *WebSocketServer, udpServer *UDPServer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		pipeline:  pipeline,
		store:     store,
		wsServer:  wsServer,
		udpServer: udpServer,
		metrics:   m,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the API routes
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Packet history endpoints
	mux.HandleFunc("/packets", h.withMetrics("/packets", h.handlePackets))
	mux.HandleFunc("/packets/", h.withMetrics("/packets/{seq}", h.handlePacketDetail))

	// Stateless decoding
	mux.HandleFunc("/decode", h.withMetrics("/decode", h.handleDecode))

	// Open WebSocket connections
	mux.HandleFunc("/connections", h.withMetrics("/connections", h.handleConnections))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", h.metrics.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pipelineStats := h.pipeline.Statistics()

	components := map[string]interface{}{
		"websocket": map[string]interface{}{
			"status":             "running",
			"ingest_connections": h.wsServer.ConnectionCount(metrics.RoleIngest),
			"watch_connections":  h.wsServer.ConnectionCount(metrics.RoleWatch),
		},
		"pipeline": map[string]interface{}{
			"status":            "running",
			"messages_received": pipelineStats.MessagesReceived,
			"decode_errors":     pipelineStats.DecodeErrors,
		},
		"history": map[string]interface{}{
			"status":  "running",
			"records": h.store.Len(),
		},
	}
	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp"] = map[string]interface{}{
			"status":           "running",
			"packets_received": udpStats.PacketsReceived,
			"queue_size":       udpStats.QueueSize,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handlePackets implements GET and DELETE on /packets
func (h *HTTPServer) handlePackets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := defaultPacketLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		records := h.store.Recent(limit)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_packets": h.store.Len(),
			"timestamp":     time.Now().UTC(),
			"packets":       records,
		})

	case http.MethodDelete:
		removed := h.store.Clear()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"removed": removed,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePacketDetail implements the /packets/{seq} endpoint
func (h *HTTPServer) handlePacketDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract sequence number from URL path
	seqStr := strings.TrimPrefix(r.URL.Path, "/packets/")
	if seqStr == "" {
		http.Error(w, "Sequence number required", http.StatusBadRequest)
		return
	}

	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		http.Error(w, "Invalid sequence number", http.StatusBadRequest)
		return
	}

	record, exists := h.store.Get(seq)
	if !exists {
		http.Error(w, "Packet not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleDecode implements POST /decode. The body is raw TRB bytes when sent as
// application/octet-stream and hex text otherwise; ?format=dwords accepts the
// dump format printed by the viewer.
func (h *HTTPServer) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDecodeBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	data := body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/octet-stream" {
		parse := trb.ParseHex
		if r.URL.Query().Get("format") == "dwords" {
			parse = trb.ParseDwords
		}
		if data, err = parse(string(body)); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	env, err := h.pipeline.Decoder().Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, env)
}

// handleConnections implements the /connections endpoint
func (h *HTTPServer) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	connections := h.wsServer.Connections()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_connections": len(connections),
		"timestamp":         time.Now().UTC(),
		"connections":       connections,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := map[string]interface{}{
		"websocket": map[string]interface{}{
			"address":          h.config.WebSocket.Address,
			"port":             h.config.WebSocket.Port,
			"path":             h.config.WebSocket.Path,
			"watch_path":       h.config.WebSocket.WatchPath,
			"max_message_size": h.config.WebSocket.MaxMessageSize,
			"idle_timeout":     h.config.WebSocket.IdleTimeout,
		},
		"udp": map[string]interface{}{
			"enabled":      h.config.UDP.Enabled,
			"bind_address": h.config.UDP.BindAddress,
			"port":         h.config.UDP.Port,
			"buffer_size":  h.config.UDP.BufferSize,
			"workers":      h.config.UDP.Workers,
			"queue_size":   h.config.UDP.QueueSize,
		},
		"http": map[string]interface{}{
			"enabled": h.config.HTTP.Enabled,
			"address": h.config.HTTP.Address,
			"port":    h.config.HTTP.Port,
		},
		"decoder": map[string]interface{}{
			"min_length": h.pipeline.Decoder().MinLength(),
		},
		"history": map[string]interface{}{
			"capacity":  h.config.History.Capacity,
			"retention": h.config.History.Retention,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"pipeline":  h.pipeline.Statistics(),
		"history":   h.store.Summary(),
		"websocket": map[string]interface{}{
			"ingest_connections": h.wsServer.ConnectionCount(metrics.RoleIngest),
			"watch_connections":  h.wsServer.ConnectionCount(metrics.RoleWatch),
		},
	}
	if h.udpServer != nil {
		stats["udp"] = h.udpServer.GetStatistics()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "TRB Inspection Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                              "API documentation",
			"GET /health":                        "Service health check",
			"GET /packets?limit=N":               "Recent decoded packets, newest first",
			"GET /packets/{seq}":                 "Get a decoded packet by sequence number",
			"DELETE /packets":                    "Clear packet history and statistics",
			"POST /decode":                       "Decode a TRB without storing it",
			"GET /connections":                   "List open WebSocket connections",
			"GET /config":                        "Get service configuration",
			"GET /stats":                         "Get service and per-type statistics",
			"GET /metrics":                       "Prometheus metrics",
			"WS " + h.config.WebSocket.Path:      "TRB ingest",
			"WS " + h.config.WebSocket.WatchPath: "Decoded packet stream",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
