package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/trbscope/internal/config"
	"github.com/skypro1111/trbscope/internal/history"
	"github.com/skypro1111/trbscope/internal/metrics"
	"github.com/skypro1111/trbscope/internal/trb"
)

// Transfer Event in memory order, and the same TRB as the viewer prints it
const (
	transferEventHex    = "efbeadde 01000000 00000002 00800184"
	transferEventDwords = "deadbeef 00000001 02000000 84018000"
)

type testEnv struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    *history.Store
	pipeline *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	store := history.NewStore(logger, history.Config{Capacity: 100, Observer: m})
	t.Cleanup(store.Stop)

	decoder, err := trb.NewDecoder(trb.WithLogger(logger))
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}

	return &testEnv{
		cfg:      &cfg,
		logger:   logger,
		metrics:  m,
		store:    store,
		pipeline: NewPipeline(decoder, store, m, logger),
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	data, err := trb.ParseHex(s)
	if err != nil {
		t.Fatalf("ParseHex(%q) failed: %v", s, err)
	}
	return data
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// wireRecord mirrors history.Record for decoding JSON produced by the server
type wireRecord struct {
	Seq       uint64 `json:"seq"`
	Source    string `json:"source"`
	Transport string `json:"transport"`
	Packet    struct {
		Type      int            `json:"trb_type"`
		Name      string         `json:"type_name"`
		Data      map[string]any `json:"data"`
		Raw       trb.RawBytes   `json:"raw"`
		Truncated bool           `json:"truncated"`
	} `json:"packet"`
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
}
