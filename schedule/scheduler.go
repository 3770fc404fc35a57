// Package schedule runs scripts on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

// ErrJobNotFound is returned when removing an unknown job.
var ErrJobNotFound = errors.New("schedule not found")

// Job is a recurring script run.
type Job struct {
	Name    string `yaml:"name"`
	Cron    string `yaml:"cron"`
	Script  string `yaml:"script"`
	Enabled bool   `yaml:"enabled"`
}

// RunFunc executes the script of a job.
type RunFunc func(ctx context.Context, job Job) error

// Scheduler runs jobs on their cron expressions.
type Scheduler struct {
	c       *cron.Cron
	parser  cron.ScheduleParser
	run     RunFunc
	persist func(job Job) error
	remove  func(name string) error

	mu      sync.Mutex
	ctx     context.Context
	jobs    map[string]Job
	entries map[string]cron.EntryID // job name → cron entry ID
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPersistence sets callbacks invoked after a job is added or removed
// so it can be saved to permanent storage. Failures are logged.
func WithPersistence(persist func(job Job) error, remove func(name string) error) Option {
	return func(s *Scheduler) {
		s.persist = persist
		s.remove = remove
	}
}

// WithParser sets the cron expression parser. The default accepts the
// standard five fields and descriptors such as @hourly.
func WithParser(p cron.ScheduleParser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// SecondsParser accepts an optional leading seconds field.
var SecondsParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler creates a Scheduler that calls run when a job fires.
func NewScheduler(run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		run:     run,
		ctx:     context.Background(),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.c = cron.New(cron.WithParser(s.parser))
	return s
}

// Start begins the cron runner and blocks until ctx is cancelled. Runs
// started by the scheduler inherit ctx; Start waits for them to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.c.Start()
	slog.Info("scheduler started", "jobs", len(s.ListJobs()))
	<-ctx.Done()
	<-s.c.Stop().Done()
	slog.Info("scheduler stopped")
}

// AddJob schedules a job, replacing any job with the same name. Disabled
// jobs are kept and persisted but never fire.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("schedule name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", job.Cron, err)
	}

	if id, ok := s.entries[job.Name]; ok {
		s.c.Remove(id)
		delete(s.entries, job.Name)
	}
	if job.Enabled {
		s.entries[job.Name] = s.c.Schedule(sched, cron.FuncJob(s.makeFunc(job)))
	}
	s.jobs[job.Name] = job

	if s.persist != nil {
		if err := s.persist(job); err != nil {
			slog.Warn("scheduler: persist job failed", "name", job.Name, "error", err)
		}
	}

	slog.Info("scheduler: job added", "name", job.Name, "cron", job.Cron, "script", job.Script, "enabled", job.Enabled)
	return nil
}

// RemoveJob unschedules a job and calls the remove callback.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
		delete(s.entries, name)
	}
	delete(s.jobs, name)

	if s.remove != nil {
		if err := s.remove(name); err != nil {
			slog.Warn("scheduler: remove job from store failed", "name", name, "error", err)
		}
	}

	slog.Info("scheduler: job removed", "name", name)
	return nil
}

// ListJobs returns a snapshot of all jobs sorted by name.
func (s *Scheduler) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// RunNow fires a job immediately, regardless of whether it is enabled.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, job)
}

// makeFunc returns the cron callback for a job.
func (s *Scheduler) makeFunc(job Job) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		slog.Info("scheduler: firing job", "name", job.Name, "script", job.Script)
		if err := s.run(ctx, job); err != nil {
			slog.Warn("scheduler: job failed", "name", job.Name, "script", job.Script, "error", err)
		}
	}
}
