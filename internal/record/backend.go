package record

import "context"

// Limits are the backend's documented write/query caps. They are
// configuration, not behavior: the facade and the cascade orchestrator chunk
// their work to stay inside them.
type Limits struct {
	// MaxBatchOps caps the number of writes per atomic batch.
	MaxBatchOps int
	// MaxInValues caps the set size of an in-set filter.
	MaxInValues int
}

// Batch accumulates writes that commit atomically as one unit. A batch is
// single-use: after Commit it must not be reused.
type Batch interface {
	Set(collection string, rec Record)
	SetStatus(collection, id string, status Status, stamp Stamp)
	Delete(collection, id string)
	Len() int
	Commit(ctx context.Context) error
}

// Backend is the structured-document store the facade is defined against.
// Implementations: the Postgres store and the in-memory store.
type Backend interface {
	Limits() Limits

	Get(ctx context.Context, collection, id string) (Record, error)
	// FetchOnce runs a one-shot query; cascade discovery and other batch
	// paths never need a live subscription.
	FetchOnce(ctx context.Context, collection string, filters []Filter) ([]Record, error)

	// Insert writes a full record, upsert-style when the id already exists.
	Insert(ctx context.Context, collection string, rec Record) error
	// ApplyPatch merges payload fields into an existing record and stamps
	// updatedAt/updatedBy. Returns ErrNotFound for an absent record.
	ApplyPatch(ctx context.Context, collection, id string, fields map[string]any, stamp Stamp) error
	// SetStatus performs a lifecycle transition with its audit stamp.
	SetStatus(ctx context.Context, collection, id string, status Status, stamp Stamp) error
	// Remove physically erases a record (hard delete).
	Remove(ctx context.Context, collection, id string) error

	NewBatch() Batch
}

// Publisher announces that a collection changed so live-list subscribers can
// refetch. Implemented by the Redis watch hub; nil disables publishing.
type Publisher interface {
	Publish(ctx context.Context, collection string)
}

// Notifier is the UI notification collaborator. The core never depends on a
// particular rendering.
type Notifier interface {
	Success(message string)
	Error(message string)
}

// Watcher provides live, continuously-updated result sets for a query.
type Watcher interface {
	Watch(ctx context.Context, collection string, filters []Filter, fn func([]Record)) (func(), error)
}
