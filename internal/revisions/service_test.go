package revisions

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestSaveAndHistory(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.Save("doc-1", Content{Title: "WPS-042", Body: "root pass"}, "Avery", "Initial revision")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if first.Hash == "" || first.Author != "Avery" {
		t.Fatalf("unexpected commit: %+v", first)
	}

	second, err := svc.Save("doc-1", Content{Title: "WPS-042", Body: "root and fill pass"}, "Avery", "Add fill pass")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Hash != second.Hash {
		t.Errorf("history not newest-first: %+v", history)
	}

	content, info, err := svc.Head("doc-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if content.Body != "root and fill pass" || info.Hash != second.Hash {
		t.Errorf("unexpected head: %+v %+v", content, info)
	}

	old, err := svc.ContentAt("doc-1", first.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if old.Body != "root pass" {
		t.Errorf("expected original body, got %q", old.Body)
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir())
	for i := 0; i < 5; i++ {
		if _, err := svc.Save("doc-1", Content{Title: "T", Body: fmt.Sprintf("rev %d", i)}, "Avery", ""); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	history, err := svc.History("doc-1", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
}

func TestSaveInitializesRepoOnDisk(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)
	if _, err := svc.Save("doc-9", Content{Title: "T", Body: "B"}, "Avery", ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "doc-9", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
}

func TestConcurrentSavesSameDocument(t *testing.T) {
	svc := New(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Save("doc-1", Content{Title: "T", Body: fmt.Sprintf("rev %d", i)}, "Avery", ""); err != nil {
				t.Errorf("Save() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 revisions, got %d", len(history))
	}
}

func TestUnknownDocument(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("ghost", 10); err == nil {
		t.Fatal("expected error for unknown document")
	}
	if _, _, err := svc.Head("ghost"); err == nil {
		t.Fatal("expected error for unknown document")
	}
}
