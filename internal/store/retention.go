package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petermazzocco/excel-analytics/models"
)

// ObjectRemover deletes archived originals.
type ObjectRemover interface {
	Delete(ctx context.Context, key string) error
}

// Sweeper periodically deletes unowned uploads older than the retention window.
type Sweeper struct {
	store     *Store
	objects   ObjectRemover
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates a retention sweeper. objects may be nil when archiving is disabled.
func NewSweeper(s *Store, objects ObjectRemover, retention, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     s,
		objects:   objects,
		retention: retention,
		interval:  interval,
		logger:    logger.With("component", "store.sweeper"),
		now:       time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("retention sweep interval must be positive, got %s", w.interval)
	}
	w.logger.Info("retention sweeper started", "retention", w.retention, "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("retention sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("retention sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce deletes expired unowned uploads and returns how many were removed.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := w.store.SweepUnowned(ctx, w.now().Add(-w.retention))
	if err != nil {
		return 0, err
	}
	w.removeObjects(ctx, expired)
	if len(expired) > 0 {
		w.logger.Info("expired unowned uploads", "count", len(expired))
	}
	return len(expired), nil
}

func (w *Sweeper) removeObjects(ctx context.Context, uploads []models.Upload) {
	if w.objects == nil {
		return
	}
	for _, u := range uploads {
		if u.ObjectKey == "" {
			continue
		}
		if err := w.objects.Delete(ctx, u.ObjectKey); err != nil {
			w.logger.Warn("failed to delete archived object", "key", u.ObjectKey, "error", err)
		}
	}
}
