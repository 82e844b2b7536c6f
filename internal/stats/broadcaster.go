// Package stats pushes aggregate counts and user events to connected
// dashboard clients in reaction to storage changes and socket lifecycle.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petermazzocco/excel-analytics/internal/feed"
)

// Socket event names.
const (
	EventNewUser     = "newUser"
	EventUserUpdated = "userUpdated"
	EventUserDeleted = "userDeleted"
	EventStatsUpdate = "statsUpdate"
)

const pushTimeout = 5 * time.Second

// Stats is the aggregate snapshot shown on the admin dashboard.
type Stats struct {
	UserCount         int64 `json:"userCount"`
	UploadCount       int64 `json:"uploadCount"`
	ActiveConnections int   `json:"activeConnections"`
}

// Counter reports stored record counts.
type Counter interface {
	CountUsers(ctx context.Context) (int64, error)
	CountUploads(ctx context.Context) (int64, error)
}

// Connections reports the number of live socket connections.
type Connections interface {
	Count() int
}

// Emitter delivers a named event to every connected client.
type Emitter interface {
	Broadcast(event string, data any)
}

// Broadcaster recomputes stats and emits socket events.
type Broadcaster struct {
	counts   Counter
	conns    Connections
	out      Emitter
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending *time.Timer
	stopped bool
}

// New creates a Broadcaster. Disconnect-triggered pushes wait for debounce so
// the connection count has settled; bursts of disconnects produce one push.
func New(counts Counter, conns Connections, out Emitter, debounce time.Duration, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		counts:   counts,
		conns:    conns,
		out:      out,
		debounce: debounce,
		logger:   logger.With("component", "stats"),
	}
}

// Attach subscribes the broadcaster to storage changes.
func (b *Broadcaster) Attach(sub feed.Subscriber) {
	sub.OnUserChange(b.handleUser)
	sub.OnUploadChange(b.handleUpload)
}

// Snapshot computes the current counts.
func (b *Broadcaster) Snapshot(ctx context.Context) (Stats, error) {
	users, err := b.counts.CountUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	uploads, err := b.counts.CountUploads(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count uploads: %w", err)
	}
	return Stats{
		UserCount:         users,
		UploadCount:       uploads,
		ActiveConnections: b.conns.Count(),
	}, nil
}

// ClientConnected pushes fresh stats immediately.
func (b *Broadcaster) ClientConnected() {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	b.push(ctx)
}

// ClientDisconnected schedules a stats push after the debounce delay.
func (b *Broadcaster) ClientDisconnected() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	if b.pending != nil {
		b.pending.Reset(b.debounce)
		return
	}
	b.pending = time.AfterFunc(b.debounce, func() {
		b.mu.Lock()
		b.pending = nil
		b.mu.Unlock()
		b.ClientConnected()
	})
}

// Stop cancels a scheduled push. After Stop no further stats are pushed.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.pending != nil {
		b.pending.Stop()
		b.pending = nil
	}
}

func (b *Broadcaster) handleUser(ctx context.Context, c feed.UserChange) {
	switch c.Op {
	case feed.OpInsert:
		if c.User != nil {
			b.out.Broadcast(EventNewUser, c.User)
		}
		b.push(ctx)
	case feed.OpUpdate:
		b.out.Broadcast(EventUserUpdated, map[string]any{"id": c.UserID, "user": c.User})
	case feed.OpDelete:
		b.out.Broadcast(EventUserDeleted, map[string]any{"id": c.UserID})
		b.push(ctx)
	}
}

func (b *Broadcaster) handleUpload(ctx context.Context, c feed.UploadChange) {
	switch c.Op {
	case feed.OpInsert, feed.OpDelete:
		b.push(ctx)
	}
}

func (b *Broadcaster) push(ctx context.Context) {
	if b.isStopped() {
		return
	}
	s, err := b.Snapshot(ctx)
	if err != nil {
		b.logger.Error("failed to compute stats", "error", err)
		return
	}
	b.out.Broadcast(EventStatsUpdate, s)
}

func (b *Broadcaster) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}
