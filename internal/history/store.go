package history

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/skypro1111/trbscope/internal/trb"
)

const defaultCleanupInterval = 30 * time.Second

// Record is one decoded TRB as it was received
type Record struct {
	Seq        uint64        `json:"seq"`
	ReceivedAt time.Time     `json:"received_at"`
	Source     string        `json:"source"`
	Transport  string        `json:"transport"`
	Packet     *trb.Envelope `json:"packet"`
}

// TypeCount is the number of records seen for one TRB type
type TypeCount struct {
	Type  trb.Type `json:"trb_type"`
	Name  string   `json:"type_name"`
	Count uint64   `json:"count"`
}

// Summary is a point-in-time view of the store
type Summary struct {
	Records     int         `json:"records"`
	Capacity    int         `json:"capacity"`
	Added       uint64      `json:"added"`
	Subscribers int         `json:"subscribers"`
	Types       []TypeCount `json:"types"`
}

// Observer receives store events. metrics.Metrics satisfies it.
type Observer interface {
	SetHistorySize(size int)
	RecordHistoryEvictions(count int)
	RecordWatchDropped()
}

// Config contains configuration for the history store
type Config struct {
	Capacity        int
	Retention       time.Duration // zero keeps records until they are overwritten
	CleanupInterval time.Duration
	Observer        Observer
}

// Store holds recent records in a ring buffer
type Store struct {
	mu       sync.RWMutex
	records  []Record
	start    int
	count    int
	nextSeq  uint64
	added    uint64
	counts   map[trb.Type]uint64
	subs     map[uint64]chan Record
	nextSub  uint64
	logger   *slog.Logger
	config   Config
	observer Observer

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewStore creates a store and starts retention cleanup when a retention is set
func NewStore(logger *slog.Logger, config Config) *Store {
	if config.Capacity < 1 {
		config.Capacity = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		records:  make([]Record, config.Capacity),
		nextSeq:  1,
		counts:   make(map[trb.Type]uint64),
		subs:     make(map[uint64]chan Record),
		logger:   logger,
		config:   config,
		observer: config.Observer,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}

	if config.Retention > 0 {
		go s.startCleanupRoutine()
	} else {
		close(s.cleanup)
	}

	return s
}

// Add stores a decoded packet, assigns its sequence number and notifies subscribers
func (s *Store) Add(source, transport string, packet *trb.Envelope, receivedAt time.Time) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := Record{
		Seq:        s.nextSeq,
		ReceivedAt: receivedAt,
		Source:     source,
		Transport:  transport,
		Packet:     packet,
	}
	s.nextSeq++
	s.added++
	s.counts[packet.Type]++

	end := (s.start + s.count) % len(s.records)
	s.records[end] = record
	if s.count < len(s.records) {
		s.count++
	} else {
		s.start = (s.start + 1) % len(s.records)
	}
	s.observer.SetHistorySize(s.count)

	for _, ch := range s.subs {
		select {
		case ch <- record:
		default:
			s.observer.RecordWatchDropped()
		}
	}

	return record
}

// Recent returns up to limit records, newest first. A limit below one returns all.
func (s *Store) Recent(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 || limit > s.count {
		limit = s.count
	}

	result := make([]Record, 0, limit)
	for i := 0; i < limit; i++ {
		result = append(result, s.at(s.count-1-i))
	}
	return result
}

// Get returns the record with the given sequence number if it is still held
func (s *Store) Get(seq uint64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return Record{}, false
	}

	// Sequence numbers are contiguous from oldest to newest.
	oldest := s.at(0).Seq
	if seq < oldest || seq-oldest >= uint64(s.count) {
		return Record{}, false
	}
	return s.at(int(seq - oldest)), true
}

// Clear drops every record and resets the per-type statistics.
// Sequence numbers keep increasing across a clear.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.count
	clear(s.records)
	s.start = 0
	s.count = 0
	s.counts = make(map[trb.Type]uint64)
	s.observer.SetHistorySize(0)

	s.logger.Info("Packet history cleared", slog.Int("removed", removed))
	return removed
}

// Len returns the number of records currently held
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// TypeStats returns per-type counts since the last clear, highest count first
func (s *Store) TypeStats() []TypeCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typeStatsLocked()
}

// Summary returns a snapshot of the store for monitoring
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Summary{
		Records:     s.count,
		Capacity:    len(s.records),
		Added:       s.added,
		Subscribers: len(s.subs),
		Types:       s.typeStatsLocked(),
	}
}

// Subscribe registers a watcher. Records are dropped for the watcher when its
// buffer is full. The returned function unsubscribes and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer < 1 {
		buffer = 1
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Record, buffer)
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Stop stops the cleanup routine and closes all subscriber channels
func (s *Store) Stop() {
	s.cancel()
	<-s.cleanup

	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	held, added := s.count, s.added
	s.mu.Unlock()

	s.logger.Info("Packet history stopped",
		slog.Int("records", held),
		slog.Uint64("added", added),
	)
}

func (s *Store) at(i int) Record {
	return s.records[(s.start+i)%len(s.records)]
}

func (s *Store) typeStatsLocked() []TypeCount {
	stats := lo.MapToSlice(s.counts, func(t trb.Type, n uint64) TypeCount {
		return TypeCount{Type: t, Name: t.String(), Count: n}
	})
	slices.SortFunc(stats, func(a, b TypeCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return stats
}

// startCleanupRoutine runs in a separate goroutine to drop records past retention
func (s *Store) startCleanupRoutine() {
	defer close(s.cleanup)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	s.logger.Info("History cleanup routine started",
		slog.Duration("retention", s.config.Retention),
		slog.Duration("check_interval", s.config.CleanupInterval),
	)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("History cleanup routine stopping")
			return

		case now := <-ticker.C:
			s.removeExpired(now)
		}
	}
}

// removeExpired drops records received more than the retention before now
func (s *Store) removeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.config.Retention)
	removed := 0
	for s.count > 0 && s.at(0).ReceivedAt.Before(cutoff) {
		s.records[s.start] = Record{}
		s.start = (s.start + 1) % len(s.records)
		s.count--
		removed++
	}

	if removed > 0 {
		s.observer.RecordHistoryEvictions(removed)
		s.observer.SetHistorySize(s.count)
		s.logger.Debug("Expired records removed",
			slog.Int("removed", removed),
			slog.Int("remaining", s.count),
		)
	}
	return removed
}

type nopObserver struct{}

func (nopObserver) SetHistorySize(int)         {}
func (nopObserver) RecordHistoryEvictions(int) {}
func (nopObserver) RecordWatchDropped()        {}
