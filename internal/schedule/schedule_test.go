package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonicdm/pyLapse/internal/tasks"
)

func noopRun(ctx context.Context) error { return nil }

func TestNewExportRejectsBadSpec(t *testing.T) {
	if _, err := NewExport("bad", "every tuesday-ish", noopRun); err == nil {
		t.Error("invalid cron spec should not parse")
	}
}

func TestNextRunFromEvaluator(t *testing.T) {
	e, err := NewExport("hourly", "0 * * * *", noopRun)
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2023, 5, 1, 10, 30, 0, 0, time.Local)
	next := e.NextRun(at)
	want := time.Date(2023, 5, 1, 11, 0, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("NextRun(%v) = %v, want %v", at, next, want)
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	s := NewScheduler(tasks.NewManager())

	e1, _ := NewExport("garden", "@hourly", noopRun)
	e2, _ := NewExport("garden", "@daily", noopRun)

	if err := s.Add(e1); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := s.Add(e2); err == nil {
		t.Error("duplicate name should be rejected")
	}
}

func TestRemove(t *testing.T) {
	s := NewScheduler(tasks.NewManager())

	e, _ := NewExport("garden", "@hourly", noopRun)
	if err := s.Add(e); err != nil {
		t.Fatal(err)
	}

	if !s.Remove("garden") {
		t.Error("Remove of a registered export should succeed")
	}
	if s.Remove("garden") {
		t.Error("second Remove should report false")
	}
	if len(s.Jobs()) != 0 {
		t.Errorf("jobs remain after removal: %v", s.Jobs())
	}
}

func TestJobsSortedWithNextRun(t *testing.T) {
	s := NewScheduler(tasks.NewManager())

	for _, name := range []string{"zebra", "alpha"} {
		e, _ := NewExport(name, "@hourly", noopRun)
		if err := s.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].Name != "alpha" || jobs[1].Name != "zebra" {
		t.Fatalf("jobs = %v, want alpha then zebra", jobs)
	}
	for _, j := range jobs {
		if !j.NextRun.After(time.Now().Add(-time.Second)) {
			t.Errorf("job %s has stale next run %v", j.Name, j.NextRun)
		}
	}
}

func TestScheduledFireRunsAsTask(t *testing.T) {
	manager := tasks.NewManager()
	s := NewScheduler(manager)

	var fired atomic.Int32
	e, err := NewExport("tick", "* * * * * *", func(ctx context.Context) error {
		fired.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(e); err != nil {
		t.Fatal(err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("per-second schedule never fired")
	}

	// The fire is visible as a tracked task.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, snap := range manager.All() {
			if snap.Name == "tick" && snap.Status == tasks.StatusCompleted {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no completed task recorded for the scheduled fire")
}
