package server

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// ConnectionInfo represents a JSON-serializable snapshot of an open connection
type ConnectionInfo struct {
	ID           uint64    `json:"id"`
	Role         string    `json:"role"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Messages     uint64    `json:"messages"`
	Errors       uint64    `json:"errors"`
}

// connection is one tracked WebSocket connection
type connection struct {
	id          uint64
	role        string
	remoteAddr  string
	connectedAt time.Time
	conn        *websocket.Conn

	lastActivity atomic.Int64
	messages     atomic.Uint64
	errors       atomic.Uint64
}

func (c *connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
	c.messages.Add(1)
}

func (c *connection) info() ConnectionInfo {
	return ConnectionInfo{
		ID:           c.id,
		Role:         c.role,
		RemoteAddr:   c.remoteAddr,
		ConnectedAt:  c.connectedAt,
		LastActivity: time.Unix(0, c.lastActivity.Load()),
		Messages:     c.messages.Load(),
		Errors:       c.errors.Load(),
	}
}

// connectionRegistry tracks open connections so they can be listed and closed on shutdown
type connectionRegistry struct {
	mu     sync.RWMutex
	conns  map[uint64]*connection
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

func newConnectionRegistry() *connectionRegistry {
	return &connectionRegistry{conns: make(map[uint64]*connection)}
}

// add registers conn. It returns false once the registry has been closed.
func (r *connectionRegistry) add(role, remoteAddr string, conn *websocket.Conn) (*connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}

	r.nextID++
	now := time.Now()
	c := &connection{
		id:          r.nextID,
		role:        role,
		remoteAddr:  remoteAddr,
		connectedAt: now,
		conn:        conn,
	}
	c.lastActivity.Store(now.UnixNano())
	r.conns[c.id] = c
	r.wg.Add(1)

	return c, true
}

func (r *connectionRegistry) remove(c *connection) {
	r.mu.Lock()
	_, ok := r.conns[c.id]
	delete(r.conns, c.id)
	r.mu.Unlock()

	if ok {
		r.wg.Done()
	}
}

func (r *connectionRegistry) count(role string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.CountBy(lo.Values(r.conns), func(c *connection) bool {
		return c.role == role
	})
}

func (r *connectionRegistry) snapshot() []ConnectionInfo {
	r.mu.RLock()
	infos := lo.Map(lo.Values(r.conns), func(c *connection, _ int) ConnectionInfo {
		return c.info()
	})
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ConnectionInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return infos
}

// closeAll refuses new connections, closes the open ones and waits for their handlers
func (r *connectionRegistry) closeAll(deadline time.Time) {
	r.mu.Lock()
	r.closed = true
	conns := lo.Values(r.conns)
	r.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.conn.Close()
	}

	r.wg.Wait()
}
