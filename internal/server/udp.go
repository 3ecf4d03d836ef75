package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/trbscope/internal/config"
	"github.com/skypro1111/trbscope/internal/metrics"
)

// UDPServer accepts one TRB per datagram
type UDPServer struct {
	conn     *net.UDPConn
	config   *config.UDPConfig
	logger   *slog.Logger
	pipeline *Pipeline
	metrics  *metrics.Metrics

	// Concurrency management
	ctx       context.Context
	cancel    context.CancelFunc
	receiveWG sync.WaitGroup
	workerWG  sync.WaitGroup

	// Datagram processing
	packetChan chan *incomingPacket

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
}

// incomingPacket represents a received UDP datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// UDPStatistics represents UDP ingest counters
type UDPStatistics struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDropped  uint64 `json:"packets_dropped"`
	QueueSize       uint64 `json:"queue_size"`
	QueueCapacity   uint64 `json:"queue_capacity"`
	Workers         int    `json:"workers"`
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.UDPConfig, logger *slog.Logger, pipeline *Pipeline, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		pipeline:   pipeline,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, cfg.QueueSize),
	}
}

// Start begins listening for UDP datagrams
func (s *UDPServer) Start() error {
	// Create UDP address
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	// Create UDP connection
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	// Set buffer size
	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", s.config.Workers),
		slog.Int("queue_size", s.config.QueueSize),
	)

	// Start packet processing workers
	for i := 0; i < s.config.Workers; i++ {
		s.workerWG.Add(1)
		go s.packetProcessor(i)
	}

	// Start main receiver loop
	s.receiveWG.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address once the server is started
func (s *UDPServer) Addr() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.LocalAddr().String()
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	// Cancel context to signal shutdown
	s.cancel()

	// Close UDP connection to unblock the receive loop
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop is the only sender; the queue closes after it exits.
	s.receiveWG.Wait()
	close(s.packetChan)
	s.workerWG.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
	)

	return nil
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.receiveWG.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
			// Continue to receive datagrams
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			// Check if this is a timeout (expected during graceful shutdown)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // Check context and try again
			}

			// Check if we're shutting down
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.packetsReceived.Add(1)

		// Create packet data copy (buffer will be reused)
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		// Send to processing channel (non-blocking)
		select {
		case s.packetChan <- packet:
			s.metrics.SetQueueSize(len(s.packetChan))
		default:
			// Channel full, drop packet and log warning
			s.packetsDropped.Add(1)
			s.metrics.RecordMessageDropped(TransportUDP)
			s.logger.Warn("Packet processing queue full, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor decodes datagrams from the packet channel
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.workerWG.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.packetChan {
		s.metrics.SetQueueSize(len(s.packetChan))
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket decodes and records a single datagram
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	record, err := s.pipeline.Handle(packet.remoteAddr.String(), TransportUDP, packet.data)
	if err != nil {
		return
	}

	s.logger.Debug("Datagram processed",
		slog.Uint64("seq", record.Seq),
		slog.String("type_name", record.Packet.Name),
		slog.Duration("queue_latency", record.ReceivedAt.Sub(packet.timestamp)),
		slog.Int("worker_id", workerID),
	)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() UDPStatistics {
	return UDPStatistics{
		PacketsReceived: s.packetsReceived.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
		QueueSize:       uint64(len(s.packetChan)),
		QueueCapacity:   uint64(cap(s.packetChan)),
		Workers:         s.config.Workers,
	}
}
