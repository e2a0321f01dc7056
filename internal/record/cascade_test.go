package record

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var testPlan = Plan{
	"projects": {
		{Collection: "projectParticipants", ForeignKey: "projectId"},
		{Collection: "weldLogs", ForeignKey: "projectId", Children: []Step{
			{Collection: "welds", ForeignKey: "weldLogId"},
		}},
		{Collection: "sections", ForeignKey: "projectId", Children: []Step{
			{Collection: "documents", ForeignKey: "sectionId"},
		}},
	},
	"weldLogs": {
		{Collection: "welds", ForeignKey: "weldLogId"},
	},
	"sections": {
		{Collection: "documents", ForeignKey: "sectionId"},
	},
}

func seed(t *testing.T, backend *fakeBackend, collection, id string, fields map[string]any) {
	t.Helper()
	if fields == nil {
		fields = map[string]any{}
	}
	backend.put(collection, Record{
		ID:     id,
		Status: StatusActive,
		Fields: fields,
	})
}

func TestCascadeProjectScenario(t *testing.T) {
	backend := newFakeBackend(Limits{})
	seed(t, backend, "projects", "p1", nil)
	for l := 0; l < 2; l++ {
		logID := fmt.Sprintf("log-%d", l)
		seed(t, backend, "weldLogs", logID, map[string]any{"projectId": "p1"})
		for w := 0; w < 3; w++ {
			seed(t, backend, "welds", fmt.Sprintf("%s-weld-%d", logID, w), map[string]any{"weldLogId": logID})
		}
	}
	seed(t, backend, "sections", "sec-1", map[string]any{"projectId": "p1"})
	seed(t, backend, "documents", "doc-1", map[string]any{"sectionId": "sec-1"})
	seed(t, backend, "documents", "doc-2", map[string]any{"sectionId": "sec-1"})

	now := time.Date(2026, 7, 1, 10, 30, 0, 0, time.UTC)
	cascader := NewCascader(backend, testPlan, CascaderConfig{Now: fixedClock(now)})

	affected, err := cascader.SoftDelete(context.Background(), testActor, "projects", "p1")
	if err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if affected != 12 {
		t.Fatalf("expected 12 affected records, got %d", affected)
	}

	for collection, records := range backend.data {
		for id, rec := range records {
			if rec.Status != StatusDeleted {
				t.Errorf("%s/%s not deleted (status %s)", collection, id, rec.Status)
			}
			if !rec.UpdatedAt.Equal(now) {
				t.Errorf("%s/%s has stamp %v, want shared stamp %v", collection, id, rec.UpdatedAt, now)
			}
			if rec.DeletedBy != testActor.ID {
				t.Errorf("%s/%s deletedBy=%s", collection, id, rec.DeletedBy)
			}
		}
	}
}

func TestCascadeRootWithoutChildren(t *testing.T) {
	backend := newFakeBackend(Limits{})
	seed(t, backend, "projects", "lonely", nil)
	cascader := NewCascader(backend, testPlan, CascaderConfig{})

	affected, err := cascader.SoftDelete(context.Background(), testActor, "projects", "lonely")
	if err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected affected=1, got %d", affected)
	}
}

func TestCascadeIsIdempotent(t *testing.T) {
	backend := newFakeBackend(Limits{})
	seed(t, backend, "projects", "p1", nil)
	seed(t, backend, "weldLogs", "log-1", map[string]any{"projectId": "p1"})
	seed(t, backend, "welds", "w-1", map[string]any{"weldLogId": "log-1"})

	cascader := NewCascader(backend, testPlan, CascaderConfig{})
	first, err := cascader.SoftDelete(context.Background(), testActor, "projects", "p1")
	if err != nil {
		t.Fatalf("first cascade failed: %v", err)
	}
	if first != 3 {
		t.Fatalf("expected 3 affected, got %d", first)
	}

	// Children are already deleted, so rediscovery finds nothing; only the
	// root is re-marked.
	second, err := cascader.SoftDelete(context.Background(), testActor, "projects", "p1")
	if err != nil {
		t.Fatalf("second cascade must not error: %v", err)
	}
	if second != 1 {
		t.Fatalf("expected rerun to re-mark only the root, got %d", second)
	}
	for _, rec := range backend.data["welds"] {
		if rec.Status != StatusDeleted {
			t.Errorf("end state changed on rerun: %+v", rec)
		}
	}
}

func TestCascadeChunksDiscoveryQueries(t *testing.T) {
	backend := newFakeBackend(Limits{MaxInValues: 30})
	seed(t, backend, "projects", "p1", nil)
	for i := 0; i < 35; i++ {
		logID := fmt.Sprintf("log-%02d", i)
		seed(t, backend, "weldLogs", logID, map[string]any{"projectId": "p1"})
		seed(t, backend, "welds", fmt.Sprintf("weld-%02d", i), map[string]any{"weldLogId": logID})
	}

	cascader := NewCascader(backend, testPlan, CascaderConfig{})
	affected, err := cascader.SoftDelete(context.Background(), testActor, "projects", "p1")
	if err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if affected != 1+35+35 {
		t.Fatalf("expected 71 affected, got %d", affected)
	}

	// 35 weld-log ids discovered against a 30-value in-set cap means two
	// weld queries, sizes 30 and 5, and a complete union.
	if got := backend.fetchCount("welds"); got != 2 {
		t.Fatalf("expected 2 chunked weld queries, got %d", got)
	}
	var sizes []int
	for _, call := range backend.fetches {
		if call.collection != "welds" {
			continue
		}
		for _, filter := range call.filters {
			if filter.Op == OpIn {
				values, _ := filter.Value.([]string)
				sizes = append(sizes, len(values))
			}
		}
	}
	if len(sizes) != 2 || sizes[0] != 30 || sizes[1] != 5 {
		t.Errorf("expected chunk sizes [30 5], got %v", sizes)
	}
	deleted := 0
	for _, rec := range backend.data["welds"] {
		if rec.Status == StatusDeleted {
			deleted++
		}
	}
	if deleted != 35 {
		t.Errorf("chunk boundaries dropped welds: %d of 35 deleted", deleted)
	}
}

func TestCascadeSplitsOversizedBatches(t *testing.T) {
	backend := newFakeBackend(Limits{MaxBatchOps: 500})
	seed(t, backend, "weldLogs", "log-1", nil)
	for i := 0; i < 1200; i++ {
		seed(t, backend, "welds", fmt.Sprintf("weld-%04d", i), map[string]any{"weldLogId": "log-1"})
	}

	cascader := NewCascader(backend, testPlan, CascaderConfig{})
	affected, err := cascader.SoftDelete(context.Background(), testActor, "weldLogs", "log-1")
	if err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if affected != 1201 {
		t.Fatalf("expected 1201 affected, got %d", affected)
	}
	if len(backend.commits) != 3 {
		t.Fatalf("expected 3 batches, got %d (%v)", len(backend.commits), backend.commits)
	}
	total := 0
	for _, size := range backend.commits {
		if size > 500 {
			t.Errorf("batch exceeds cap: %d", size)
		}
		total += size
	}
	if total != 1201 {
		t.Errorf("marks lost across batches: %d of 1201 applied", total)
	}
}

func TestCascadeAbortsOnCommitFailure(t *testing.T) {
	backend := newFakeBackend(Limits{MaxBatchOps: 10})
	backend.commitFailAt = 2
	seed(t, backend, "weldLogs", "log-1", nil)
	for i := 0; i < 25; i++ {
		seed(t, backend, "welds", fmt.Sprintf("weld-%02d", i), map[string]any{"weldLogId": "log-1"})
	}

	cascader := NewCascader(backend, testPlan, CascaderConfig{})
	_, err := cascader.SoftDelete(context.Background(), testActor, "weldLogs", "log-1")
	if err == nil {
		t.Fatal("expected cascade to fail on rejected batch commit")
	}
	// First batch committed, second rejected, third never attempted.
	if len(backend.commits) != 1 {
		t.Fatalf("expected exactly 1 committed batch, got %d", len(backend.commits))
	}
}

func TestCascadeSharedHierarchyNoDuplicates(t *testing.T) {
	backend := newFakeBackend(Limits{})
	seed(t, backend, "projects", "p1", nil)
	seed(t, backend, "sections", "sec-1", map[string]any{"projectId": "p1"})
	// Same document reachable twice would still be marked once.
	seed(t, backend, "documents", "doc-1", map[string]any{"sectionId": "sec-1"})

	cascader := NewCascader(backend, testPlan, CascaderConfig{})
	affected, err := cascader.SoftDelete(context.Background(), testActor, "projects", "p1")
	if err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if affected != 3 {
		t.Fatalf("expected 3 affected, got %d", affected)
	}
}

func TestCascadeRequiresActorAndPlan(t *testing.T) {
	backend := newFakeBackend(Limits{})
	cascader := NewCascader(backend, testPlan, CascaderConfig{})

	if _, err := cascader.SoftDelete(context.Background(), Actor{}, "projects", "p1"); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired, got %v", err)
	}
	if _, err := cascader.SoftDelete(context.Background(), testActor, "mystery", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown plan, got %v", err)
	}
	if _, err := cascader.SoftDelete(context.Background(), testActor, "projects", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty id, got %v", err)
	}
}

func TestCascadeReportsAggregateNotification(t *testing.T) {
	backend := newFakeBackend(Limits{})
	notifier := &spyNotifier{}
	seed(t, backend, "weldLogs", "log-1", nil)
	seed(t, backend, "welds", "w-1", map[string]any{"weldLogId": "log-1"})
	seed(t, backend, "welds", "w-2", map[string]any{"weldLogId": "log-1"})

	cascader := NewCascader(backend, testPlan, CascaderConfig{Notifier: notifier})
	if _, err := cascader.SoftDelete(context.Background(), testActor, "weldLogs", "log-1"); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if len(notifier.successes) != 1 {
		t.Fatalf("expected one aggregate notification, got %d", len(notifier.successes))
	}
	if notifier.successes[0] != "Removed 2 related records." {
		t.Errorf("unexpected aggregate message %q", notifier.successes[0])
	}
}
