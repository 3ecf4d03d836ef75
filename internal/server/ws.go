package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/trbscope/internal/config"
	"github.com/skypro1111/trbscope/internal/history"
	"github.com/skypro1111/trbscope/internal/metrics"
)

const (
	watchBuffer  = 256
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
	maxReplay    = 1000
)

// WebSocketServer accepts TRB messages on the ingest path and streams decoded
// records to clients on the watch path
type WebSocketServer struct {
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	config   *config.WebSocketConfig
	logger   *slog.Logger
	pipeline *Pipeline
	store    *history.Store
	metrics  *metrics.Metrics
	conns    *connectionRegistry

	// Shutdown signalling for watch writers
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWebSocketServer creates a new WebSocket server instance
func NewWebSocketServer(cfg *config.WebSocketConfig, logger *slog.Logger, pipeline *Pipeline,
	store *history.Store, m *metrics.Metrics) *WebSocketServer {

	ctx, cancel := context.WithCancel(context.Background())
	s := &WebSocketServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Capture tools and local viewers connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		config:   cfg,
		logger:   logger,
		pipeline: pipeline,
		store:    store,
		metrics:  m,
		conns:    newConnectionRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routes served by the WebSocket listener
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleIngest)
	mux.HandleFunc(s.config.WatchPath, s.handleWatch)
	return mux
}

// Start begins listening for WebSocket connections
func (s *WebSocketServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = listener

	s.logger.Info("WebSocket server started",
		slog.String("address", listener.Addr().String()),
		slog.String("ingest_path", s.config.Path),
		slog.String("watch_path", s.config.WatchPath),
		slog.Int("max_message_size", s.config.MaxMessageSize),
		slog.Duration("idle_timeout", s.config.GetIdleTimeoutDuration()),
	)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound listener address, or the configured one before Start
func (s *WebSocketServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop closes the listener and every open connection
func (s *WebSocketServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server...")

	// Shutdown does not track hijacked connections; the registry does.
	err := s.server.Shutdown(ctx)
	s.cancel()

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	s.conns.closeAll(deadline)

	s.logger.Info("WebSocket server stopped")
	return err
}

// Connections returns a snapshot of all open connections
func (s *WebSocketServer) Connections() []ConnectionInfo {
	return s.conns.snapshot()
}

// ConnectionCount returns the number of open connections for a role
func (s *WebSocketServer) ConnectionCount(role string) int {
	return s.conns.count(role)
}

// handleIngest reads TRB messages until the peer goes away
func (s *WebSocketServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	c, ok := s.open(metrics.RoleIngest, r.RemoteAddr, conn)
	if !ok {
		return
	}
	defer s.close(c)

	conn.SetReadLimit(int64(s.config.MaxMessageSize))
	idle := s.config.GetIdleTimeoutDuration()

	for {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.logReadError(c, err)
			return
		}
		c.touch()

		switch messageType {
		case websocket.BinaryMessage:
			_, err = s.pipeline.Handle(c.remoteAddr, TransportWebSocket, data)
		case websocket.TextMessage:
			_, err = s.pipeline.HandleText(c.remoteAddr, TransportWebSocket, string(data))
		}
		if err != nil {
			c.errors.Add(1)
		}
	}
}

// handleWatch streams records to the client as JSON text frames.
// An optional replay query parameter sends up to N stored records first.
func (s *WebSocketServer) handleWatch(w http.ResponseWriter, r *http.Request) {
	replay := 0
	if v := r.URL.Query().Get("replay"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid replay count", http.StatusBadRequest)
			return
		}
		replay = min(n, maxReplay)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	c, ok := s.open(metrics.RoleWatch, r.RemoteAddr, conn)
	if !ok {
		return
	}
	defer s.close(c)

	// Subscribe before taking the replay snapshot so nothing falls in between.
	records, unsubscribe := s.store.Subscribe(watchBuffer)
	defer unsubscribe()

	var lastSeq uint64
	if replay > 0 {
		backlog := s.store.Recent(replay)
		for i := len(backlog) - 1; i >= 0; i-- {
			if err := s.writeRecord(c, backlog[i]); err != nil {
				return
			}
			lastSeq = backlog[i].Seq
		}
	}

	// The read side only services control frames and notices the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.logReadError(c, err)
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-done:
			return

		case record, ok := <-records:
			if !ok {
				return
			}
			if record.Seq <= lastSeq {
				continue
			}
			if err := s.writeRecord(c, record); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketServer) writeRecord(c *connection, record history.Record) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(record); err != nil {
		c.errors.Add(1)
		s.logger.Debug("Watch write failed",
			slog.Uint64("connection_id", c.id),
			slog.String("error", err.Error()),
		)
		return err
	}

	c.touch()
	s.metrics.RecordWatchDelivery()
	return nil
}

func (s *WebSocketServer) open(role, remoteAddr string, conn *websocket.Conn) (*connection, bool) {
	c, ok := s.conns.add(role, remoteAddr, conn)
	if !ok {
		_ = conn.Close()
		return nil, false
	}

	s.metrics.RecordConnectionOpened(role)
	s.logger.Info("WebSocket connection opened",
		slog.Uint64("connection_id", c.id),
		slog.String("role", role),
		slog.String("remote_addr", remoteAddr),
	)
	return c, true
}

func (s *WebSocketServer) close(c *connection) {
	_ = c.conn.Close()
	s.conns.remove(c)
	s.metrics.RecordConnectionClosed(c.role)

	s.logger.Info("WebSocket connection closed",
		slog.Uint64("connection_id", c.id),
		slog.String("role", c.role),
		slog.String("remote_addr", c.remoteAddr),
		slog.Duration("duration", time.Since(c.connectedAt)),
		slog.Uint64("messages", c.messages.Load()),
		slog.Uint64("errors", c.errors.Load()),
	)
}

func (s *WebSocketServer) logReadError(c *connection, err error) {
	var netErr net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return
	case errors.As(err, &netErr) && netErr.Timeout():
		s.logger.Info("Closing idle WebSocket connection",
			slog.Uint64("connection_id", c.id),
			slog.String("remote_addr", c.remoteAddr),
		)
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn("WebSocket message exceeds size limit",
			slog.Uint64("connection_id", c.id),
			slog.String("remote_addr", c.remoteAddr),
			slog.Int("max_message_size", s.config.MaxMessageSize),
		)
	case websocket.IsUnexpectedCloseError(err):
		s.logger.Warn("WebSocket connection closed unexpectedly",
			slog.Uint64("connection_id", c.id),
			slog.String("error", err.Error()),
		)
	default:
		s.logger.Debug("WebSocket read ended",
			slog.Uint64("connection_id", c.id),
			slog.String("error", err.Error()),
		)
	}
}
