// Package feed is the storage change-feed: stores publish an Event after each
// committed mutation and subscribers react to user and upload changes without
// knowing which storage technology produced them.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/petermazzocco/excel-analytics/models"
)

// Op is the kind of mutation a change describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Kind names the collection an Event belongs to.
type Kind string

const (
	KindUser   Kind = "user"
	KindUpload Kind = "upload"
)

// UserChange describes a mutation of a user record. User is set for inserts
// and updates.
type UserChange struct {
	Op     Op               `json:"op"`
	UserID uint             `json:"userId"`
	User   *models.UserView `json:"user,omitempty"`
}

// UploadChange describes a mutation of upload records. Count is the number of
// records affected, which is more than one for bulk deletes.
type UploadChange struct {
	Op       Op    `json:"op"`
	UploadID uint  `json:"uploadId,omitempty"`
	OwnerID  *uint `json:"ownerId,omitempty"`
	Count    int   `json:"count"`
}

// Event is the unit carried by a feed. Exactly one of User or Upload is set,
// matching Kind.
type Event struct {
	Kind   Kind          `json:"kind"`
	User   *UserChange   `json:"user,omitempty"`
	Upload *UploadChange `json:"upload,omitempty"`
}

// UserEvent wraps a user change.
func UserEvent(c UserChange) Event {
	return Event{Kind: KindUser, User: &c}
}

// UploadEvent wraps an upload change.
func UploadEvent(c UploadChange) Event {
	if c.Count == 0 {
		c.Count = 1
	}
	return Event{Kind: KindUpload, Upload: &c}
}

type (
	UserHandler   func(ctx context.Context, change UserChange)
	UploadHandler func(ctx context.Context, change UploadChange)
)

// Publisher accepts change events. Publish never blocks on subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Subscriber registers change handlers.
type Subscriber interface {
	OnUserChange(h UserHandler)
	OnUploadChange(h UploadHandler)
}

// Feed is a single long-lived subscription: Run delivers events to the
// registered handlers one at a time until ctx is cancelled.
type Feed interface {
	Publisher
	Subscriber
	Run(ctx context.Context) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Fanout publishes every event to each of its publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, p := range f {
		p.Publish(ctx, ev)
	}
}

// dispatcher holds registered handlers and fans an event out to them in
// registration order.
type dispatcher struct {
	mu      sync.RWMutex
	users   []UserHandler
	uploads []UploadHandler
	logger  *slog.Logger
}

func (d *dispatcher) OnUserChange(h UserHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, h)
}

func (d *dispatcher) OnUploadChange(h UploadHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads = append(d.uploads, h)
}

func (d *dispatcher) dispatch(ctx context.Context, ev Event) {
	d.mu.RLock()
	users := d.users
	uploads := d.uploads
	d.mu.RUnlock()

	switch {
	case ev.Kind == KindUser && ev.User != nil:
		for _, h := range users {
			d.safely(func() { h(ctx, *ev.User) })
		}
	case ev.Kind == KindUpload && ev.Upload != nil:
		for _, h := range uploads {
			d.safely(func() { h(ctx, *ev.Upload) })
		}
	default:
		d.logger.Warn("ignoring malformed change event", "kind", ev.Kind)
	}
}

// safely keeps one failing handler from killing the subscription.
func (d *dispatcher) safely(fn func()) {
	defer func() {
		if rvr := recover(); rvr != nil {
			d.logger.Error("change handler panicked", slog.Any("panic", rvr))
		}
	}()
	fn()
}
