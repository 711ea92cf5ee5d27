package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"papersub/internal/paper"
)

func savedEvent(id int64, title string, created bool, diffs ...string) paper.SavedEvent {
	return paper.SavedEvent{
		PaperID: id,
		Created: created,
		Diffs:   diffs,
		Paper:   &paper.Export{PID: id, Title: title, Status: "draft", Draft: true},
		Actor:   paper.Actor{Email: "chair@x.edu", Admin: true},
	}
}

func TestPaperHistoryLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	ctx := context.Background()

	if err := svc.PaperSaved(ctx, savedEvent(7, "Query Planning", true, "title", "authors")); err != nil {
		t.Fatalf("PaperSaved() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "paper-7", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	if err := svc.PaperSaved(ctx, savedEvent(7, "Query Planning, Revisited", false, "title")); err != nil {
		t.Fatalf("PaperSaved() error = %v", err)
	}

	history, err := svc.History(7, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	latest := history[0]
	if !strings.HasPrefix(latest.Message, "Update submission #7") || !strings.Contains(latest.Message, "changed: title") {
		t.Fatalf("unexpected message %q", latest.Message)
	}
	if latest.Email != "chair@x.edu" {
		t.Fatalf("commit author = %q", latest.Email)
	}
	if !slices.Equal(latest.Fields, []string{"title"}) {
		t.Fatalf("latest fields = %v", latest.Fields)
	}
	if !slices.Contains(history[1].Fields, "pid") {
		t.Fatalf("first commit should add every field, got %v", history[1].Fields)
	}

	raw, err := svc.ContentAt(7, history[1].Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	var first paper.Export
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if first.Title != "Query Planning" {
		t.Fatalf("unexpected first content: %+v", first)
	}
}

func TestUnchangedSaveAddsNoCommit(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.PaperSaved(ctx, savedEvent(3, "Same", i == 0)); err != nil {
			t.Fatalf("PaperSaved() error = %v", err)
		}
	}
	history, err := svc.History(3, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single commit, got %d", len(history))
	}
}

func TestChangedFields(t *testing.T) {
	fields, err := ChangedFields(
		json.RawMessage(`{"title":"A","topics":["x","y"],"abstract":"gone"}`),
		json.RawMessage(`{"title":"A","topics":["x", "y"],"status":"submitted"}`),
	)
	if err != nil {
		t.Fatalf("ChangedFields() error = %v", err)
	}
	if !slices.Equal(fields, []string{"abstract", "status"}) {
		t.Fatalf("ChangedFields() = %v", fields)
	}
}

func TestConcurrentSavesSamePaper(t *testing.T) {
	svc := New(t.TempDir())
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := svc.PaperSaved(ctx, savedEvent(1, fmt.Sprintf("title-%02d", idx), false, "title")); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("PaperSaved() concurrent error = %v", err)
		}
	}

	history, err := svc.History(1, 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}

func TestHistoryOfUnknownPaperIsEmpty(t *testing.T) {
	history, err := New(t.TempDir()).History(42, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(history))
	}
}
