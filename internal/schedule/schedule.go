package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sonicdm/pyLapse/internal/executor"
	"github.com/sonicdm/pyLapse/internal/logging"
	"github.com/sonicdm/pyLapse/internal/tasks"
)

// scheduleParser matches the selection-side cron dialect: five fields,
// optional leading seconds, @-descriptors.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RunFunc performs one scheduled export run.
type RunFunc func(ctx context.Context) error

// ScheduledExport pairs a cron expression with the export it drives.
// The parsed schedule travels with the spec string so next-run times
// always come from the evaluator.
type ScheduledExport struct {
	Name string
	Spec string

	schedule cron.Schedule
	run      RunFunc
}

// NewExport parses spec and binds it to run.
func NewExport(name, spec string, run RunFunc) (*ScheduledExport, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	return &ScheduledExport{Name: name, Spec: spec, schedule: sched, run: run}, nil
}

// NextRun returns the first fire instant strictly after t.
func (e *ScheduledExport) NextRun(t time.Time) time.Time {
	return e.schedule.Next(t)
}

// JobInfo describes a registered export for listings.
type JobInfo struct {
	Name    string
	Spec    string
	NextRun time.Time
}

// Scheduler owns a cron runner and submits each fire as a background
// task so scheduled runs are observable and cancellable like manual
// ones.
type Scheduler struct {
	cron    *cron.Cron
	manager *tasks.Manager

	mu      sync.Mutex
	entries map[string]cron.EntryID
	exports map[string]*ScheduledExport
}

// NewScheduler creates a stopped scheduler submitting runs to manager.
func NewScheduler(manager *tasks.Manager) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		manager: manager,
		entries: make(map[string]cron.EntryID),
		exports: make(map[string]*ScheduledExport),
	}
}

// Add registers an export. Names must be unique.
func (s *Scheduler) Add(export *ScheduledExport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exports[export.Name]; exists {
		return fmt.Errorf("schedule %q already registered", export.Name)
	}

	id := s.cron.Schedule(export.schedule, cron.FuncJob(func() { s.fire(export) }))
	s.entries[export.Name] = id
	s.exports[export.Name] = export

	logging.Info("Scheduled %q (%s), next run %s",
		export.Name, export.Spec, export.NextRun(time.Now()).Format(time.RFC3339))
	return nil
}

func (s *Scheduler) fire(export *ScheduledExport) {
	s.manager.Create(export.Name, func(ctx context.Context, progress executor.ProgressFunc) (interface{}, error) {
		return nil, export.run(ctx)
	})
}

// Remove unregisters an export by name.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	delete(s.exports, name)
	return true
}

// Jobs lists registered exports by name, with next-run times derived
// from each schedule.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	jobs := make([]JobInfo, 0, len(s.exports))
	for _, e := range s.exports {
		jobs = append(jobs, JobInfo{Name: e.Name, Spec: e.Spec, NextRun: e.NextRun(now)})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Start begins firing schedules on their own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts firing and waits for in-flight cron dispatches. Tasks
// already submitted keep running under the task manager.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
