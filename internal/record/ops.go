package record

import (
	"context"
	"fmt"
	"time"

	"weldvault/api/internal/util"
)

// OpsConfig carries the optional collaborators of an Ops facade. Zero values
// are replaced with working defaults (no-op notifier, wall clock, random ids).
type OpsConfig struct {
	Notifier  Notifier
	Publisher Publisher
	Watcher   Watcher
	Now       func() time.Time
	NewID     func() string
}

// Ops is the uniform CRUD facade for one collection: create, update,
// soft-delete, archive, restore, plus one-shot and live reads. Every
// mutation requires an authenticated actor and carries audit stamps.
type Ops struct {
	backend    Backend
	collection string
	notifier   Notifier
	publisher  Publisher
	watcher    Watcher
	now        func() time.Time
	newID      func() string
}

func NewOps(backend Backend, collection string, cfg OpsConfig) *Ops {
	o := &Ops{
		backend:    backend,
		collection: collection,
		notifier:   cfg.Notifier,
		publisher:  cfg.Publisher,
		watcher:    cfg.Watcher,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}
	if o.notifier == nil {
		o.notifier = noopNotifier{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = func() string { return util.NewID("") }
	}
	return o
}

// Collection returns the collection name this facade operates on.
func (o *Ops) Collection() string {
	return o.collection
}

// CreateOptions tune a single Create call. An explicit ID makes the write
// upsert-style; Status overrides the default active; Silent suppresses the
// success notification (batch paths report aggregates instead).
type CreateOptions struct {
	ID     string
	Status Status
	Silent bool
}

// Create validates, stamps, and writes a new record, returning its id.
func (o *Ops) Create(ctx context.Context, actor Actor, data map[string]any, opts *CreateOptions) (string, error) {
	if actor.ID == "" {
		return "", ErrAuthRequired
	}
	if data == nil {
		return "", fmt.Errorf("%w: create data must be a non-null object", ErrInvalidInput)
	}
	if opts == nil {
		opts = &CreateOptions{}
	}

	id := opts.ID
	if id == "" {
		id = o.newID()
	}
	status := opts.Status
	if status == "" {
		status = StatusActive
	}

	now := o.now()
	rec := Record{
		ID:        id,
		Status:    status,
		Fields:    stripReserved(data),
		CreatedAt: now,
		CreatedBy: actor.ID,
		UpdatedAt: now,
		UpdatedBy: actor.ID,
	}
	if err := o.backend.Insert(ctx, o.collection, rec); err != nil {
		wrapped := fmt.Errorf("create %s record: %w", o.collection, err)
		o.notifier.Error(FriendlyMessage(wrapped))
		return "", wrapped
	}
	if !opts.Silent {
		o.notifier.Success("Created.")
	}
	o.publish(ctx)
	return id, nil
}

// Update merges a field patch into an existing record. Audit fields are
// forced last: a patch can never change id, createdAt, or createdBy.
func (o *Ops) Update(ctx context.Context, actor Actor, id string, patch map[string]any) error {
	if actor.ID == "" {
		return ErrAuthRequired
	}
	if id == "" {
		return fmt.Errorf("%w: update requires a record id", ErrInvalidInput)
	}
	if patch == nil {
		return fmt.Errorf("%w: update patch must be a non-null object", ErrInvalidInput)
	}

	stamp := Stamp{At: o.now(), By: actor.ID}
	if err := o.backend.ApplyPatch(ctx, o.collection, id, stripReserved(patch), stamp); err != nil {
		wrapped := fmt.Errorf("update %s record %s: %w", o.collection, id, err)
		o.notifier.Error(FriendlyMessage(wrapped))
		return wrapped
	}
	o.publish(ctx)
	return nil
}

// Remove soft-deletes by default; hard=true physically erases the record.
// Hard deletion is reserved for simple non-cascading leaf records.
func (o *Ops) Remove(ctx context.Context, actor Actor, id string, hard bool) error {
	if actor.ID == "" {
		return ErrAuthRequired
	}
	if id == "" {
		return fmt.Errorf("%w: remove requires a record id", ErrInvalidInput)
	}

	var err error
	if hard {
		err = o.backend.Remove(ctx, o.collection, id)
	} else {
		err = o.backend.SetStatus(ctx, o.collection, id, StatusDeleted, Stamp{At: o.now(), By: actor.ID})
	}
	if err != nil {
		wrapped := fmt.Errorf("remove %s record %s: %w", o.collection, id, err)
		o.notifier.Error(FriendlyMessage(wrapped))
		return wrapped
	}
	o.publish(ctx)
	return nil
}

// Archive transitions a record to archived with its own audit stamp.
func (o *Ops) Archive(ctx context.Context, actor Actor, id string) error {
	return o.transition(ctx, actor, id, StatusArchived)
}

// Restore resets a record to active with its own audit stamp.
func (o *Ops) Restore(ctx context.Context, actor Actor, id string) error {
	return o.transition(ctx, actor, id, StatusActive)
}

func (o *Ops) transition(ctx context.Context, actor Actor, id string, status Status) error {
	if actor.ID == "" {
		return ErrAuthRequired
	}
	if id == "" {
		return fmt.Errorf("%w: status transition requires a record id", ErrInvalidInput)
	}
	if err := o.backend.SetStatus(ctx, o.collection, id, status, Stamp{At: o.now(), By: actor.ID}); err != nil {
		wrapped := fmt.Errorf("set %s record %s status %s: %w", o.collection, id, status, err)
		o.notifier.Error(FriendlyMessage(wrapped))
		return wrapped
	}
	o.publish(ctx)
	return nil
}

// Get returns one record by id.
func (o *Ops) Get(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, fmt.Errorf("%w: get requires a record id", ErrInvalidInput)
	}
	return o.backend.Get(ctx, o.collection, id)
}

// List runs a one-shot query against the collection.
func (o *Ops) List(ctx context.Context, filters ...Filter) ([]Record, error) {
	items, err := o.backend.FetchOnce(ctx, o.collection, filters)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", o.collection, err)
	}
	return items, nil
}

// Watch registers a live, continuously-updated view of the collection. The
// callback receives the full fresh result set on every upstream change.
// Callers must not mutate the slices they receive.
func (o *Ops) Watch(ctx context.Context, filters []Filter, fn func([]Record)) (func(), error) {
	if o.watcher == nil {
		return nil, fmt.Errorf("%s: no watcher configured", o.collection)
	}
	return o.watcher.Watch(ctx, o.collection, filters, fn)
}

func (o *Ops) publish(ctx context.Context) {
	if o.publisher != nil {
		o.publisher.Publish(ctx, o.collection)
	}
}

type noopNotifier struct{}

func (noopNotifier) Success(string) {}
func (noopNotifier) Error(string)   {}
