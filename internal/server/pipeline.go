package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skypro1111/trbscope/internal/history"
	"github.com/skypro1111/trbscope/internal/metrics"
	"github.com/skypro1111/trbscope/internal/trb"
)

// Transport names used in records, logs and metric labels
const (
	TransportWebSocket = "websocket"
	TransportUDP       = "udp"
)

// Decode error reasons used as metric labels
const (
	ReasonTooShort = "too_short"
	ReasonBadHex   = "bad_hex"
	ReasonInvalid  = "invalid"
)

// Pipeline decodes incoming messages and stores the results
type Pipeline struct {
	decoder *trb.Decoder
	store   *history.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	received     atomic.Uint64
	decoded      atomic.Uint64
	truncated    atomic.Uint64
	decodeErrors atomic.Uint64
	lastPacket   atomic.Int64
}

// PipelineStatistics represents pipeline counters
type PipelineStatistics struct {
	MessagesReceived uint64     `json:"messages_received"`
	PacketsDecoded   uint64     `json:"packets_decoded"`
	PacketsTruncated uint64     `json:"packets_truncated"`
	DecodeErrors     uint64     `json:"decode_errors"`
	LastPacketAt     *time.Time `json:"last_packet_at,omitempty"`
}

// NewPipeline creates a pipeline feeding store through decoder
func NewPipeline(decoder *trb.Decoder, store *history.Store, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		decoder: decoder,
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// Decoder returns the decoder used by the pipeline
func (p *Pipeline) Decoder() *trb.Decoder {
	return p.decoder
}

// Handle decodes one binary message and records it. Decode failures are
// logged and counted; the caller only needs the error for its own bookkeeping.
func (p *Pipeline) Handle(source, transport string, data []byte) (history.Record, error) {
	receivedAt := time.Now()
	p.received.Add(1)
	p.metrics.RecordMessageReceived(transport, len(data))

	env, err := p.decoder.Decode(data)
	if err != nil {
		reason := ReasonInvalid
		if errors.Is(err, trb.ErrTooShort) {
			reason = ReasonTooShort
		}
		p.fail(source, transport, reason, len(data), err)
		return history.Record{}, err
	}

	p.decoded.Add(1)
	if env.Truncated {
		p.truncated.Add(1)
	}
	p.lastPacket.Store(receivedAt.UnixNano())
	p.metrics.RecordPacketDecoded(env.Name, env.Truncated, time.Since(receivedAt).Seconds())

	return p.store.Add(source, transport, env, receivedAt), nil
}

// HandleText parses a hex text message and handles the resulting bytes
func (p *Pipeline) HandleText(source, transport, text string) (history.Record, error) {
	data, err := trb.ParseHex(text)
	if err != nil {
		p.received.Add(1)
		p.metrics.RecordMessageReceived(transport, len(text))
		p.fail(source, transport, ReasonBadHex, len(text), err)
		return history.Record{}, fmt.Errorf("text message: %w", err)
	}
	return p.Handle(source, transport, data)
}

// Statistics returns current pipeline counters
func (p *Pipeline) Statistics() PipelineStatistics {
	stats := PipelineStatistics{
		MessagesReceived: p.received.Load(),
		PacketsDecoded:   p.decoded.Load(),
		PacketsTruncated: p.truncated.Load(),
		DecodeErrors:     p.decodeErrors.Load(),
	}
	if ns := p.lastPacket.Load(); ns != 0 {
		last := time.Unix(0, ns).UTC()
		stats.LastPacketAt = &last
	}
	return stats
}

func (p *Pipeline) fail(source, transport, reason string, size int, err error) {
	p.decodeErrors.Add(1)
	p.metrics.RecordDecodeError(transport, reason)

	p.logger.Warn("Failed to decode TRB",
		slog.String("source", source),
		slog.String("transport", transport),
		slog.String("reason", reason),
		slog.Int("size", size),
		slog.String("error", err.Error()),
	)
}
