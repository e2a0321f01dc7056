package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"weldvault/api/internal/record"
)

// Memory is an in-memory record.Backend used by tests and by single-process
// deployments without Postgres. It also implements record.Publisher and
// record.Watcher so live lists work without Redis: publishing a collection
// refetches and fans the fresh result set out to local subscribers.
type Memory struct {
	mu     sync.RWMutex
	limits record.Limits
	data   map[string]map[string]record.Record

	subMu   sync.Mutex
	nextSub int
	subs    map[int]*memorySub
}

type memorySub struct {
	collection string
	filters    []record.Filter
	fn         func([]record.Record)
}

func NewMemory(limits record.Limits) *Memory {
	if limits.MaxBatchOps <= 0 {
		limits.MaxBatchOps = 500
	}
	if limits.MaxInValues <= 0 {
		limits.MaxInValues = 30
	}
	return &Memory{
		limits: limits,
		data:   make(map[string]map[string]record.Record),
		subs:   make(map[int]*memorySub),
	}
}

func (m *Memory) Limits() record.Limits {
	return m.limits
}

func (m *Memory) Get(_ context.Context, collection, id string) (record.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[collection][id]
	if !ok {
		return record.Record{}, record.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) FetchOnce(_ context.Context, collection string, filters []record.Filter) ([]record.Record, error) {
	if err := validateFilters(filters, m.limits.MaxInValues); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchLocked(collection, filters), nil
}

func (m *Memory) fetchLocked(collection string, filters []record.Filter) []record.Record {
	items := make([]record.Record, 0)
	for _, rec := range m.data[collection] {
		if matches(rec, filters) {
			items = append(items, rec.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (m *Memory) Insert(_ context.Context, collection string, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(collection, rec.Clone())
	return nil
}

func (m *Memory) ApplyPatch(_ context.Context, collection, id string, fields map[string]any, stamp record.Stamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[collection][id]
	if !ok {
		return record.ErrNotFound
	}
	rec = rec.Clone()
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	rec.UpdatedAt = stamp.At
	rec.UpdatedBy = stamp.By
	m.putLocked(collection, rec)
	return nil
}

func (m *Memory) SetStatus(_ context.Context, collection, id string, status record.Status, stamp record.Stamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setStatusLocked(collection, id, status, stamp)
}

func (m *Memory) setStatusLocked(collection, id string, status record.Status, stamp record.Stamp) error {
	rec, ok := m.data[collection][id]
	if !ok {
		return record.ErrNotFound
	}
	rec = rec.Clone()
	rec.Status = status
	rec.UpdatedAt = stamp.At
	rec.UpdatedBy = stamp.By
	at := stamp.At
	switch status {
	case record.StatusDeleted:
		rec.DeletedAt = &at
		rec.DeletedBy = stamp.By
	case record.StatusArchived:
		rec.ArchivedAt = &at
		rec.ArchivedBy = stamp.By
	case record.StatusActive:
		rec.RestoredAt = &at
		rec.RestoredBy = stamp.By
	}
	m.putLocked(collection, rec)
	return nil
}

func (m *Memory) Remove(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], id)
	return nil
}

func (m *Memory) putLocked(collection string, rec record.Record) {
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]record.Record)
	}
	m.data[collection][rec.ID] = rec
}

type memoryBatch struct {
	store *Memory
	ops   []func() error
	done  bool
}

func (m *Memory) NewBatch() record.Batch {
	return &memoryBatch{store: m}
}

func (b *memoryBatch) Set(collection string, rec record.Record) {
	b.ops = append(b.ops, func() error {
		b.store.putLocked(collection, rec.Clone())
		return nil
	})
}

func (b *memoryBatch) SetStatus(collection, id string, status record.Status, stamp record.Stamp) {
	b.ops = append(b.ops, func() error {
		// A vanished record does not fail the batch.
		_ = b.store.setStatusLocked(collection, id, status, stamp)
		return nil
	})
}

func (b *memoryBatch) Delete(collection, id string) {
	b.ops = append(b.ops, func() error {
		delete(b.store.data[collection], id)
		return nil
	})
}

func (b *memoryBatch) Len() int {
	return len(b.ops)
}

func (b *memoryBatch) Commit(context.Context) error {
	if b.done {
		return fmt.Errorf("batch already committed")
	}
	b.done = true
	if len(b.ops) > b.store.limits.MaxBatchOps {
		return fmt.Errorf("batch of %d ops exceeds limit %d", len(b.ops), b.store.limits.MaxBatchOps)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

// Publish fans the current result set out to local subscribers of the
// changed collection.
func (m *Memory) Publish(_ context.Context, collection string) {
	m.subMu.Lock()
	targets := make([]*memorySub, 0)
	for _, sub := range m.subs {
		if sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	m.subMu.Unlock()

	for _, sub := range targets {
		m.mu.RLock()
		items := m.fetchLocked(sub.collection, sub.filters)
		m.mu.RUnlock()
		sub.fn(items)
	}
}

// Watch registers a local live view. The callback fires once immediately
// with the current result set, then on every Publish of the collection.
func (m *Memory) Watch(_ context.Context, collection string, filters []record.Filter, fn func([]record.Record)) (func(), error) {
	if err := validateFilters(filters, m.limits.MaxInValues); err != nil {
		return nil, err
	}

	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = &memorySub{collection: collection, filters: filters, fn: fn}
	m.subMu.Unlock()

	m.mu.RLock()
	items := m.fetchLocked(collection, filters)
	m.mu.RUnlock()
	fn(items)

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}, nil
}

func validateFilters(filters []record.Filter, maxIn int) error {
	for _, filter := range filters {
		if filter.Op != record.OpIn {
			continue
		}
		values, ok := filter.Value.([]string)
		if !ok {
			return fmt.Errorf("%w: in-set filter on %q needs string values", record.ErrInvalidInput, filter.Field)
		}
		if maxIn > 0 && len(values) > maxIn {
			return fmt.Errorf("%w: in-set filter on %q exceeds %d values", record.ErrInvalidInput, filter.Field, maxIn)
		}
	}
	return nil
}

func matches(rec record.Record, filters []record.Filter) bool {
	for _, filter := range filters {
		var actual any
		if filter.Field == "status" {
			actual = string(rec.Status)
		} else {
			actual = rec.Field(filter.Field)
		}
		switch filter.Op {
		case record.OpEqual:
			if fmt.Sprint(actual) != fmt.Sprint(filter.Value) {
				return false
			}
		case record.OpNotEqual:
			if fmt.Sprint(actual) == fmt.Sprint(filter.Value) {
				return false
			}
		case record.OpIn:
			values, _ := filter.Value.([]string)
			found := false
			for _, v := range values {
				if s, _ := actual.(string); s == v {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}
