package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestRecordAndFinish(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Record(ctx, Entry{
		TaskID:    "abc123",
		Name:      "garden export",
		InputDir:  "/frames/garden",
		OutputDir: "/exports/garden",
		Selection: "dayslice hours=all minutes=[0]",
		FileCount: 120,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := s.Finish(ctx, id, "completed", 118, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	e := entries[0]
	if e.Status != "completed" || e.FileCount != 118 || e.Error != "" {
		t.Errorf("entry = %+v", e)
	}
	if e.TaskID != "abc123" || e.Selection != "dayslice hours=all minutes=[0]" {
		t.Errorf("entry identity lost: %+v", e)
	}
	if e.FinishedAt.IsZero() {
		t.Error("finished timestamp not recorded")
	}
}

func TestFinishFailureKeepsError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Record(ctx, Entry{TaskID: "t1", Name: "bad run", InputDir: "/a", OutputDir: "/b", Selection: "cron"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(ctx, id, "failed", 3, "disk full"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Status != "failed" || entries[0].Error != "disk full" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestFinishUnknownID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Finish(context.Background(), 9999, "completed", 0, ""); err == nil {
		t.Error("finishing an unknown record should fail")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, Entry{
			TaskID:    fmt.Sprintf("t%d", i),
			Name:      fmt.Sprintf("run %d", i),
			InputDir:  "/a",
			OutputDir: "/b",
			Selection: "dayslice",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"t4", "t3", "t2"} {
		if entries[i].TaskID != want {
			t.Errorf("entry %d = %s, want %s", i, entries[i].TaskID, want)
		}
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		if _, err := s.Record(ctx, Entry{
			TaskID: fmt.Sprintf("t%d", i), Name: "run", InputDir: "/a", OutputDir: "/b",
			Selection: "cron", StartedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.Prune(ctx, 4)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 6 {
		t.Errorf("deleted %d rows, want 6", deleted)
	}

	entries, err := s.Recent(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Errorf("%d entries remain, want 4", len(entries))
	}
	if entries[0].TaskID != "t9" {
		t.Errorf("newest surviving entry = %s, want t9", entries[0].TaskID)
	}
}
