package record

import (
	"context"
	"fmt"
	"time"
)

// Step declares one dependent collection in a cascade plan: children of the
// current level are found where ForeignKey equals a parent id. Steps nest
// for deeper hierarchies (weld logs → welds).
type Step struct {
	Collection string
	ForeignKey string
	Children   []Step
}

// Plan maps a root collection to the dependent collections a soft delete
// must propagate into. One generic walk consumes it; there is no
// per-entity-type cascade code.
type Plan map[string][]Step

// CascaderConfig mirrors OpsConfig for the orchestrator.
type CascaderConfig struct {
	Notifier  Notifier
	Publisher Publisher
	Now       func() time.Time
}

// Cascader marks a root record and every dependent descendant deleted in one
// logical operation, chunking discovery reads at MaxInValues and batching
// writes at MaxBatchOps. Batches commit in order; a commit failure aborts
// the cascade and leaves earlier batches committed (at-least-once — a rerun
// is a safe no-op because marking deleted records deleted changes nothing).
type Cascader struct {
	backend   Backend
	plan      Plan
	notifier  Notifier
	publisher Publisher
	now       func() time.Time
}

func NewCascader(backend Backend, plan Plan, cfg CascaderConfig) *Cascader {
	c := &Cascader{
		backend:   backend,
		plan:      plan,
		notifier:  cfg.Notifier,
		publisher: cfg.Publisher,
		now:       cfg.Now,
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type pendingMark struct {
	collection string
	id         string
}

// SoftDelete cascades a soft delete from the given root. It returns the
// total number of records marked (root plus every descendant) so callers can
// tell the user how many related records were also removed. All marks in one
// call share one timestamp/actor stamp.
func (c *Cascader) SoftDelete(ctx context.Context, actor Actor, rootCollection, rootID string) (int, error) {
	if actor.ID == "" {
		return 0, ErrAuthRequired
	}
	if rootCollection == "" || rootID == "" {
		return 0, fmt.Errorf("%w: cascade requires a root collection and id", ErrInvalidInput)
	}

	steps, ok := c.plan[rootCollection]
	if !ok {
		return 0, fmt.Errorf("%w: no cascade plan for collection %q", ErrInvalidInput, rootCollection)
	}

	stamp := Stamp{At: c.now(), By: actor.ID}
	seen := map[pendingMark]struct{}{}
	marks := make([]pendingMark, 0, 16)
	add := func(collection, id string) {
		key := pendingMark{collection: collection, id: id}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		marks = append(marks, key)
	}

	add(rootCollection, rootID)
	touched := map[string]struct{}{rootCollection: {}}

	var walk func(steps []Step, parentIDs []string) error
	walk = func(steps []Step, parentIDs []string) error {
		for _, step := range steps {
			ids, err := c.discover(ctx, step, parentIDs)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				continue
			}
			touched[step.Collection] = struct{}{}
			for _, id := range ids {
				add(step.Collection, id)
			}
			if len(step.Children) > 0 {
				if err := walk(step.Children, ids); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(steps, []string{rootID}); err != nil {
		return 0, fmt.Errorf("cascade %s/%s: %w", rootCollection, rootID, err)
	}

	if err := c.commitMarks(ctx, marks, stamp); err != nil {
		return 0, fmt.Errorf("cascade %s/%s: %w", rootCollection, rootID, err)
	}

	for collection := range touched {
		if c.publisher != nil {
			c.publisher.Publish(ctx, collection)
		}
	}
	if len(marks) > 1 {
		c.notifier.Success(fmt.Sprintf("Removed %d related records.", len(marks)-1))
	}
	return len(marks), nil
}

// discover queries one dependent collection for children of the given
// parents, chunking the parent id set at MaxInValues. Records already in
// deleted status are excluded so a rerun rediscovers nothing.
func (c *Cascader) discover(ctx context.Context, step Step, parentIDs []string) ([]string, error) {
	maxIn := c.backend.Limits().MaxInValues
	ids := make([]string, 0)
	for _, chunk := range ChunkIDs(parentIDs, maxIn) {
		items, err := c.backend.FetchOnce(ctx, step.Collection, []Filter{
			In(step.ForeignKey, chunk),
			Neq("status", string(StatusDeleted)),
		})
		if err != nil {
			return nil, fmt.Errorf("discover %s by %s: %w", step.Collection, step.ForeignKey, err)
		}
		for _, item := range items {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

// commitMarks flushes the pending marks as an ordered sequence of atomic
// batches, each at most MaxBatchOps writes. The first rejected commit fails
// the whole cascade; no further batches are attempted.
func (c *Cascader) commitMarks(ctx context.Context, marks []pendingMark, stamp Stamp) error {
	maxOps := c.backend.Limits().MaxBatchOps
	batches := make([]Batch, 0, 1)
	current := c.backend.NewBatch()
	for _, mark := range marks {
		if maxOps > 0 && current.Len() >= maxOps {
			batches = append(batches, current)
			current = c.backend.NewBatch()
		}
		current.SetStatus(mark.collection, mark.id, StatusDeleted, stamp)
	}
	if current.Len() > 0 {
		batches = append(batches, current)
	}

	for i, batch := range batches {
		if err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("commit batch %d/%d: %w", i+1, len(batches), err)
		}
	}
	return nil
}
