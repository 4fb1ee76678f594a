// Package offline implements the offline-first support layer: a
// durable queue of captured mutations, a read cache with age-based
// invalidation, a connectivity monitor and the sync pass that replays
// the queue when connectivity returns.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/Haleem001/agrivault/internal/clock"
	"github.com/Haleem001/agrivault/internal/config"
	"github.com/Haleem001/agrivault/internal/kv"
	"github.com/Haleem001/agrivault/internal/model"
	"github.com/Haleem001/agrivault/internal/schema"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity
// and the reject-new policy is in effect.
var ErrQueueFull = fmt.Errorf("offline queue full")

// Queue is the durable store of mutations captured while offline.
// Items keep strict append order; IDs are ULIDs so order survives the
// round trip through storage.
type Queue struct {
	mu        sync.Mutex
	store     kv.Store
	validator *schema.Validator
	clock     clock.Clock
	capacity  int
	policy    config.QueuePolicy
	entropy   *ulid.MonotonicEntropy

	// degraded records whether the last storage access failed, so
	// status reads can report it without another round trip.
	degraded bool
}

// NewQueue creates a queue over the given kv store. A nil clk falls
// back to the real clock.
func NewQueue(store kv.Store, validator *schema.Validator, clk clock.Clock, capacity int, policy config.QueuePolicy) *Queue {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Queue{
		store:     store,
		validator: validator,
		clock:     clk,
		capacity:  capacity,
		policy:    policy,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(clk.Now().UnixNano())), 0),
	}
}

// load reads the persisted queue. A missing key is an empty queue; a
// storage failure is surfaced as kv.ErrUnavailable so callers never
// mistake it for empty.
func (q *Queue) load(ctx context.Context) ([]model.QueueItem, error) {
	raw, ok, err := q.store.Get(ctx, kv.KeyQueue)
	if err != nil {
		q.degraded = true
		return nil, err
	}
	q.degraded = false
	if !ok {
		return []model.QueueItem{}, nil
	}
	var items []model.QueueItem
	if err := json.Unmarshal(raw, &items); err != nil {
		// Corrupt state reads as unavailable rather than silently empty.
		q.degraded = true
		return nil, fmt.Errorf("%w: corrupt queue state: %v", kv.ErrUnavailable, err)
	}
	return items, nil
}

func (q *Queue) save(ctx context.Context, items []model.QueueItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	if err := q.store.Set(ctx, kv.KeyQueue, raw); err != nil {
		q.degraded = true
		return err
	}
	q.degraded = false
	return nil
}

// Enqueue validates and appends a mutation. At capacity, the
// configured policy either rejects the new item or evicts the oldest
// to make room. Returns the stored item with its assigned ID.
func (q *Queue) Enqueue(ctx context.Context, kind model.QueueKind, payload map[string]interface{}) (*model.QueueItem, error) {
	if !model.ValidQueueKind(kind) {
		return nil, fmt.Errorf("unknown queue kind: %s", kind)
	}
	if q.validator != nil {
		if err := q.validator.Validate(kind, payload); err != nil {
			return nil, err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	if q.capacity > 0 && len(items) >= q.capacity {
		switch q.policy {
		case config.QueueEvictOldest:
			items = items[1:]
		default:
			return nil, ErrQueueFull
		}
	}

	now := q.clock.Now()
	item := model.QueueItem{
		ID:        ulid.MustNew(ulid.Timestamp(now), q.entropy).String(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: now,
	}
	items = append(items, item)

	if err := q.save(ctx, items); err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns all queued items in append order. An empty queue
// returns an empty slice; a failed read returns an error so callers
// can tell the two apart.
func (q *Queue) List(ctx context.Context) ([]model.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Remove deletes the item with the given ID. Removing an absent ID is
// not an error; a sync pass may race a manual clear.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	return q.save(ctx, kept)
}

// Clear removes all queued items.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Delete(ctx, kv.KeyQueue); err != nil {
		q.degraded = true
		return err
	}
	q.degraded = false
	return nil
}

// Depth returns the number of queued items and whether the backing
// store was reachable on the last access.
func (q *Queue) Depth(ctx context.Context) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, true, err
	}
	return len(items), q.degraded, nil
}
