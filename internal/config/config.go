package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
	UDP       UDPConfig       `yaml:"udp"`
	HTTP      HTTPConfig      `yaml:"http"`
	Decoder   DecoderConfig   `yaml:"decoder"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WebSocketConfig contains the WebSocket ingest listener configuration
type WebSocketConfig struct {
	Port           int    `yaml:"port"`
	Address        string `yaml:"address"`
	Path           string `yaml:"path"`
	WatchPath      string `yaml:"watch_path"`
	MaxMessageSize int    `yaml:"max_message_size"` // bytes
	IdleTimeout    int    `yaml:"idle_timeout"`     // seconds, 0 disables
}

// UDPConfig contains the optional UDP ingest configuration
type UDPConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// DecoderConfig contains TRB decoder settings
type DecoderConfig struct {
	MinLength int `yaml:"min_length"` // 14 accepts truncated TRBs, 16 is strict
}

// HistoryConfig contains the decoded packet history settings
type HistoryConfig struct {
	Capacity  int `yaml:"capacity"`
	Retention int `yaml:"retention"` // seconds, 0 keeps records until evicted
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		WebSocket: WebSocketConfig{
			Port:           8080,
			Address:        "0.0.0.0",
			Path:           "/trb",
			WatchPath:      "/watch",
			MaxMessageSize: 4096,
		},
		UDP: UDPConfig{
			Port:        8082,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
			Workers:     4,
			QueueSize:   1000,
		},
		HTTP: HTTPConfig{
			Port:    8081,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Decoder: DecoderConfig{
			MinLength: 14,
		},
		History: HistoryConfig{
			Capacity: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  25,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}

	if err := c.UDP.Validate(); err != nil {
		return fmt.Errorf("udp config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates WebSocket configuration
func (w *WebSocketConfig) Validate() error {
	if w.Port < 1 || w.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", w.Port)
	}

	if w.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if len(w.Path) == 0 || w.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got '%s'", w.Path)
	}

	if len(w.WatchPath) == 0 || w.WatchPath[0] != '/' {
		return fmt.Errorf("watch_path must start with '/', got '%s'", w.WatchPath)
	}

	if w.Path == w.WatchPath {
		return fmt.Errorf("path and watch_path must differ, both are '%s'", w.Path)
	}

	if w.MaxMessageSize < 16 {
		return fmt.Errorf("max_message_size must be at least 16 bytes, got %d", w.MaxMessageSize)
	}

	if w.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", w.IdleTimeout)
	}

	return nil
}

// Validate validates UDP configuration
func (u *UDPConfig) Validate() error {
	if !u.Enabled {
		return nil
	}

	if u.Port < 1 || u.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", u.Port)
	}

	if u.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if u.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", u.BufferSize)
	}

	if u.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", u.Workers)
	}

	if u.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", u.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates decoder configuration
func (d *DecoderConfig) Validate() error {
	if d.MinLength < 14 || d.MinLength > 16 {
		return fmt.Errorf("min_length must be between 14 and 16 bytes, got %d", d.MinLength)
	}

	return nil
}

// Validate validates history configuration
func (h *HistoryConfig) Validate() error {
	if h.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", h.Capacity)
	}

	if h.Retention < 0 {
		return fmt.Errorf("retention cannot be negative, got %d", h.Retention)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path and is rotated.
	if l.IsFile() {
		if l.MaxSizeMB < 1 {
			return fmt.Errorf("max_size_mb must be at least 1, got %d", l.MaxSizeMB)
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative, got %d", l.MaxBackups)
		}
		if l.MaxAgeDays < 0 {
			return fmt.Errorf("max_age_days cannot be negative, got %d", l.MaxAgeDays)
		}
	}

	return nil
}

// IsFile reports whether Output names a log file rather than a standard stream
func (l *LoggingConfig) IsFile() bool {
	return l.Output != "" && l.Output != "stdout" && l.Output != "stderr"
}

// GetIdleTimeoutDuration returns the connection idle timeout as a time.Duration
func (w *WebSocketConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(w.IdleTimeout) * time.Second
}

// GetRetentionDuration returns the history retention as a time.Duration
func (h *HistoryConfig) GetRetentionDuration() time.Duration {
	return time.Duration(h.Retention) * time.Second
}
