package search

import (
	"testing"

	"weldvault/api/internal/record"
)

func TestFromRecordMapping(t *testing.T) {
	doc := DocumentFromRecord(record.Record{
		ID:     "d1",
		Status: record.StatusActive,
		Fields: map[string]any{
			"title":     "WPS-042 Procedure",
			"body":      "GTAW root pass on carbon steel",
			"projectId": "p1",
			"sectionId": "s1",
		},
	})
	if doc.Title != "WPS-042 Procedure" || doc.ProjectID != "p1" || doc.Status != "active" {
		t.Fatalf("unexpected mapping: %+v", doc)
	}

	w := WeldLogFromRecord(record.Record{ID: "wl1", Fields: map[string]any{"name": "Line 4", "projectId": "p1"}})
	if w.Name != "Line 4" || w.ProjectID != "p1" {
		t.Fatalf("unexpected mapping: %+v", w)
	}
}

func TestSearchWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(Query{Text: "anything"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty response, got %+v", resp)
	}

	// Indexing without Meilisearch is a silent no-op.
	svc.IndexRecord("projects", record.Record{ID: "p1"})
	svc.DeleteRecord("projects", "p1")
}
