package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxPerIdentity = 3
	defaultSendLimit      = 64
	anonymousPrefix       = "anon:"
)

// Transport is the registry's view of a client connection.
type Transport interface {
	Send(data []byte) error
	// Close drops the connection without a close handshake.
	Close() error
	CloseWithReason(code int, reason string) error
}

// Connection is one registered client session.
type Connection struct {
	ID        uuid.UUID
	Identity  string
	CreatedAt time.Time

	transport Transport
}

func (c *Connection) Send(data []byte) error {
	return c.transport.Send(data)
}

func (c *Connection) CloseWithReason(code int, reason string) error {
	return c.transport.CloseWithReason(code, reason)
}

// Registry tracks live connections per identity.
type Registry struct {
	clock          clockwork.Clock
	metrics        *metrics.WebSocketMetrics
	maxPerIdentity int
	sendLimit      int

	mu    sync.Mutex
	conns map[string][]*Connection
	total int
}

var _ domain.Broadcaster = (*Registry)(nil)

func NewRegistry(maxPerIdentity int, clock clockwork.Clock, m *metrics.WebSocketMetrics) *Registry {
	if maxPerIdentity < 1 {
		maxPerIdentity = DefaultMaxPerIdentity
	}
	return &Registry{
		clock:          clock,
		metrics:        m,
		maxPerIdentity: maxPerIdentity,
		sendLimit:      defaultSendLimit,
		conns:          make(map[string][]*Connection),
	}
}

// Connect registers transport under identity. When identity already holds the
// maximum number of connections, the oldest one is removed and closed abruptly.
// An empty identity gets a unique anonymous one.
func (r *Registry) Connect(transport Transport, identity string) *Connection {
	if identity == "" {
		identity = anonymousPrefix + uuid.NewString()
	}

	conn := &Connection{
		ID:        uuid.New(),
		Identity:  identity,
		CreatedAt: r.clock.Now(),
		transport: transport,
	}

	var evicted []*Connection

	r.mu.Lock()
	list := r.conns[identity]
	if overflow := len(list) + 1 - r.maxPerIdentity; overflow > 0 {
		evicted = slices.Clone(list[:overflow])
		list = slices.Delete(list, 0, overflow)
	}
	r.conns[identity] = append(list, conn)
	r.total += 1 - len(evicted)
	r.metrics.ActiveConnections.Set(float64(r.total))
	r.mu.Unlock()

	for _, old := range evicted {
		r.metrics.Evictions.Inc()
		slog.Warn("Evicting oldest connection", "identity", identity, "connection_id", old.ID, "age", r.clock.Since(old.CreatedAt))
		if err := old.transport.Close(); err != nil {
			slog.Debug("Evicted connection close failed", "connection_id", old.ID, "error", err)
		}
	}

	slog.Debug("Connection registered", "identity", identity, "connection_id", conn.ID)
	return conn
}

// Disconnect removes conn and closes its transport. It reports whether conn
// was still registered; calling it again is a no-op.
func (r *Registry) Disconnect(conn *Connection) bool {
	if !r.remove(conn) {
		return false
	}

	if err := conn.transport.Close(); err != nil {
		slog.Debug("Connection close failed", "connection_id", conn.ID, "error", err)
	}
	slog.Debug("Connection unregistered", "identity", conn.Identity, "connection_id", conn.ID)
	return true
}

func (r *Registry) remove(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.conns[conn.Identity]
	idx := slices.Index(list, conn)
	if idx < 0 {
		return false
	}

	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(r.conns, conn.Identity)
	} else {
		r.conns[conn.Identity] = list
	}
	r.total--
	r.metrics.ActiveConnections.Set(float64(r.total))
	return true
}

// Broadcast wraps content in a broadcast frame and sends it to every connection
// registered at call time. Sends run concurrently; every failed connection is
// disconnected after the sweep.
func (r *Registry) Broadcast(ctx context.Context, content json.RawMessage) domain.BroadcastResult {
	start := r.clock.Now()
	frame, err := BroadcastFrame(content, start)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode broadcast frame", "error", err)
		return domain.BroadcastResult{}
	}

	targets := r.snapshot()
	if len(targets) == 0 {
		return domain.BroadcastResult{}
	}

	var (
		failedMu sync.Mutex
		failed   []*Connection
	)

	var g errgroup.Group
	g.SetLimit(r.sendLimit)
	for _, conn := range targets {
		g.Go(func() error {
			if err := conn.Send(frame); err != nil {
				slog.DebugContext(ctx, "Broadcast send failed", "connection_id", conn.ID,
					"error", fmt.Errorf("%w: %w", domain.ErrSendFailed, err))
				failedMu.Lock()
				failed = append(failed, conn)
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	pruned := 0
	for _, conn := range failed {
		if r.Disconnect(conn) {
			pruned++
		}
	}

	result := domain.BroadcastResult{Delivered: len(targets) - len(failed), Pruned: pruned}
	r.metrics.FramesDelivered.Add(float64(result.Delivered))
	r.metrics.ConnectionsPruned.Add(float64(result.Pruned))
	r.metrics.FanoutDuration.Observe(r.clock.Since(start).Seconds())
	if pruned > 0 {
		slog.WarnContext(ctx, "Pruned connections after failed sends", "pruned", pruned, "delivered", result.Delivered)
	}
	return result
}

func (r *Registry) snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Connection, 0, r.total)
	for _, list := range r.conns {
		all = append(all, list...)
	}
	return all
}

// Count returns how many connections identity currently holds.
func (r *Registry) Count(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[identity])
}

// connections returns identity's connections, oldest first.
func (r *Registry) connections(identity string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.conns[identity])
}

// Total returns the number of registered connections.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// CloseAll empties the registry and closes every connection with code and reason.
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.Lock()
	all := make([]*Connection, 0, r.total)
	for _, list := range r.conns {
		all = append(all, list...)
	}
	r.conns = make(map[string][]*Connection)
	r.total = 0
	r.metrics.ActiveConnections.Set(0)
	r.mu.Unlock()

	for _, conn := range all {
		if err := conn.transport.CloseWithReason(code, reason); err != nil {
			slog.Debug("Close during shutdown failed", "connection_id", conn.ID, "error", err)
		}
	}
	return len(all)
}
