package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/trbscope/internal/config"
	"github.com/skypro1111/trbscope/internal/history"
	"github.com/skypro1111/trbscope/internal/logging"
	"github.com/skypro1111/trbscope/internal/metrics"
	"github.com/skypro1111/trbscope/internal/server"
	"github.com/skypro1111/trbscope/internal/trb"
)

const shutdownTimeout = 10 * time.Second

// runServe starts every configured transport and blocks until SIGINT/SIGTERM
func runServe(ctx context.Context, configPath string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger based on configuration
	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("websocket_address", fmt.Sprintf("%s:%d", cfg.WebSocket.Address, cfg.WebSocket.Port)),
		slog.Bool("udp_enabled", cfg.UDP.Enabled),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Int("min_length", cfg.Decoder.MinLength),
		slog.Int("history_capacity", cfg.History.Capacity),
		slog.Duration("history_retention", cfg.History.GetRetentionDuration()),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(metrics.NewRegistry())
	logger.Info("Prometheus metrics initialized")

	store := history.NewStore(logger, history.Config{
		Capacity:  cfg.History.Capacity,
		Retention: cfg.History.GetRetentionDuration(),
		Observer:  appMetrics,
	})

	decoder, err := trb.NewDecoder(trb.WithLogger(logger), trb.WithMinLength(cfg.Decoder.MinLength))
	if err != nil {
		store.Stop()
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	pipeline := server.NewPipeline(decoder, store, appMetrics, logger)
	wsServer := server.NewWebSocketServer(&cfg.WebSocket, logger, pipeline, store, appMetrics)

	// Initialize UDP server (if enabled)
	var udpServer *server.UDPServer
	if cfg.UDP.Enabled {
		udpServer = server.NewUDPServer(&cfg.UDP, logger, pipeline, appMetrics)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(logger, cfg, pipeline, store, wsServer, udpServer, appMetrics)
	}

	shutdown := func() {
		logger.Info("Starting graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// Stop HTTP server first (stop accepting new requests)
		if httpServer != nil {
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}

		// Stop ingest transports
		if udpServer != nil {
			if err := udpServer.Stop(); err != nil {
				logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
			}
		}
		if err := wsServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
		}

		store.Stop()

		stats := pipeline.Statistics()
		logger.Info("Final pipeline statistics",
			slog.Uint64("messages_received", stats.MessagesReceived),
			slog.Uint64("packets_decoded", stats.PacketsDecoded),
			slog.Uint64("packets_truncated", stats.PacketsTruncated),
			slog.Uint64("decode_errors", stats.DecodeErrors),
		)
		logger.Info("Service stopped")
	}

	if err := wsServer.Start(); err != nil {
		shutdown()
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	if udpServer != nil {
		if err := udpServer.Start(); err != nil {
			shutdown()
			return fmt.Errorf("failed to start UDP server: %w", err)
		}
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			shutdown()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("websocket_address", wsServer.Addr()),
	)

	<-ctx.Done()
	logger.Info("Received shutdown signal", slog.String("cause", context.Cause(ctx).Error()))

	shutdown()
	return nil
}
