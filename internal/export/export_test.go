package export

import (
	"context"
	"strings"
	"testing"
	"time"

	"weldvault/api/internal/record"
	"weldvault/api/internal/store"
)

func seedWeldLog(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory(record.Limits{})
	ctx := context.Background()

	_ = m.Insert(ctx, "projects", record.Record{
		ID: "p1", Status: record.StatusActive,
		Fields: map[string]any{"name": "Refinery North", "code": "RN-01"},
	})
	_ = m.Insert(ctx, "weldLogs", record.Record{
		ID: "wl1", Status: record.StatusActive,
		Fields: map[string]any{"name": "Line 4 Tie-ins", "spec": "ASME IX", "projectId": "p1"},
	})
	welds := []record.Record{
		{ID: "w1", Status: record.StatusActive, Fields: map[string]any{"weldLogId": "wl1", "number": "W-001", "welderName": "Avery", "position": "6G", "result": "accepted", "weldedAt": "2026-08-20"}},
		{ID: "w2", Status: record.StatusActive, Fields: map[string]any{"weldLogId": "wl1", "number": "W-002", "welderName": "Sam", "position": "2G", "result": "rejected", "weldedAt": "2026-08-21"}},
		{ID: "w3", Status: record.StatusArchived, Fields: map[string]any{"weldLogId": "wl1", "number": "W-003"}},
		{ID: "w4", Status: record.StatusDeleted, Fields: map[string]any{"weldLogId": "wl1", "number": "W-004"}},
		{ID: "w5", Status: record.StatusActive, Fields: map[string]any{"weldLogId": "other", "number": "X-001"}},
	}
	for i, w := range welds {
		w.CreatedAt = time.Date(2026, 8, 20, 0, i, 0, 0, time.UTC)
		_ = m.Insert(ctx, "welds", w)
	}
	return m
}

func TestBuildReport(t *testing.T) {
	svc := NewService(seedWeldLog(t))
	svc.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	data, err := svc.buildReport(context.Background(), Request{WeldLogID: "wl1"})
	if err != nil {
		t.Fatalf("buildReport failed: %v", err)
	}
	if data.LogName != "Line 4 Tie-ins" || data.ProjectName != "Refinery North" || data.ProjectCode != "RN-01" {
		t.Fatalf("unexpected header data: %+v", data)
	}
	// Archived and deleted welds stay out, as do other logs' welds.
	if len(data.Welds) != 2 {
		t.Fatalf("expected 2 welds, got %d: %+v", len(data.Welds), data.Welds)
	}

	withArchived, err := svc.buildReport(context.Background(), Request{WeldLogID: "wl1", IncludeArchived: true})
	if err != nil {
		t.Fatalf("buildReport failed: %v", err)
	}
	if len(withArchived.Welds) != 3 {
		t.Fatalf("expected 3 welds with archived, got %d", len(withArchived.Welds))
	}
}

func TestBuildReportUnknownLog(t *testing.T) {
	svc := NewService(seedWeldLog(t))
	if _, err := svc.buildReport(context.Background(), Request{WeldLogID: "ghost"}); err == nil {
		t.Fatal("expected error for unknown weld log")
	}
}

func TestRenderReportHTML(t *testing.T) {
	html, err := RenderReportHTML(TemplateData{
		ProjectName: "Refinery North",
		ProjectCode: "RN-01",
		LogName:     "Line 4 Tie-ins",
		Spec:        "ASME IX",
		GeneratedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Welds: []TemplateWeld{
			{Number: "W-001", Welder: "Avery", Position: "6G", Result: "accepted", Date: "2026-08-20"},
			{Number: "W-002", Welder: "<script>alert(1)</script>", Position: "2G", Result: "rejected", Date: "2026-08-21"},
		},
	})
	if err != nil {
		t.Fatalf("RenderReportHTML failed: %v", err)
	}
	for _, want := range []string{"Line 4 Tie-ins", "Refinery North", "W-001", "rejected"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("welder name not HTML-escaped")
	}
}

func TestRenderReportHTMLEmptyLog(t *testing.T) {
	html, err := RenderReportHTML(TemplateData{LogName: "Empty", GeneratedAt: time.Now()})
	if err != nil {
		t.Fatalf("RenderReportHTML failed: %v", err)
	}
	if !strings.Contains(html, "No welds recorded") {
		t.Error("expected empty-log message")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Line 4 Tie-ins":  "Line-4-Tie-ins",
		"weird/|<>chars!": "weirdchars",
		"":                "weld-log",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Fatalf("percentEncodeForDataURL = %q", got)
	}
}
