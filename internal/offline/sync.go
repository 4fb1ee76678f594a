// internal/offline/sync.go
package offline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Haleem001/agrivault/internal/model"
)

// Applier applies a single queued mutation against the live backend.
// Implemented by the data service.
type Applier interface {
	Apply(ctx context.Context, item model.QueueItem) error
}

// Syncer drains the offline queue through an Applier once
// connectivity returns. Items are replayed in append order; a failed
// item stops the pass and stays queued along with everything after
// it, so a later pass resumes in order.
type Syncer struct {
	queue   *Queue
	applier Applier
	logger  *slog.Logger
}

// NewSyncer creates a syncer over the given queue and applier.
func NewSyncer(queue *Queue, applier Applier, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{queue: queue, applier: applier, logger: logger}
}

// Sync replays the queue. Returns the number of items applied and the
// error that stopped the pass, if any.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	items, err := s.queue.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue: %w", err)
	}

	applied := 0
	for _, item := range items {
		if err := s.applier.Apply(ctx, item); err != nil {
			s.logger.Warn("sync pass stopped",
				"item_id", item.ID,
				"kind", item.Kind,
				"applied", applied,
				"error", err)
			return applied, fmt.Errorf("failed to apply %s item %s: %w", item.Kind, item.ID, err)
		}
		if err := s.queue.Remove(ctx, item.ID); err != nil {
			// Applied but not removed; the item would replay. Stop
			// here rather than risk applying later items twice too.
			return applied, fmt.Errorf("failed to remove applied item %s: %w", item.ID, err)
		}
		applied++
		s.logger.Info("queued item synced", "item_id", item.ID, "kind", item.Kind)
	}
	return applied, nil
}

// Attach subscribes the syncer to a monitor so a transition to online
// triggers a sync pass automatically. The pass runs on its own
// goroutine; failures are logged and retried on the next transition
// or manual sync.
func (s *Syncer) Attach(monitor *Monitor) {
	monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := s.Sync(context.Background()); err != nil {
				s.logger.Warn("automatic sync failed", "error", err)
			}
		}()
	})
}
