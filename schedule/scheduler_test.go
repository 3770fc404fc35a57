package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu   sync.Mutex
	runs []string
	hit  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{hit: make(chan struct{}, 16)}
}

func (r *recorder) run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.runs = append(r.runs, job.Name)
	r.mu.Unlock()
	select {
	case r.hit <- struct{}{}:
	default:
	}
	return nil
}

func TestAddListRemove(t *testing.T) {
	var persisted, removed []string
	s := NewScheduler(newRecorder().run, WithPersistence(
		func(job Job) error { persisted = append(persisted, job.Name); return nil },
		func(name string) error { removed = append(removed, name); return nil },
	))

	if err := s.AddJob(Job{Name: "nightly", Cron: "0 2 * * *", Script: "nightly.devin", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(Job{Name: "audit", Cron: "@hourly", Script: "audit.devin"}); err != nil {
		t.Fatal(err)
	}
	// Replacing keeps a single entry.
	if err := s.AddJob(Job{Name: "nightly", Cron: "0 3 * * *", Script: "nightly.devin", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 2 || jobs[0].Name != "audit" || jobs[1].Cron != "0 3 * * *" {
		t.Errorf("ListJobs() = %+v", jobs)
	}
	if len(s.c.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1 (disabled jobs never fire)", len(s.c.Entries()))
	}

	if err := s.RemoveJob("nightly"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("nightly"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("second RemoveJob error = %v", err)
	}
	if len(s.c.Entries()) != 0 {
		t.Errorf("cron entries after remove = %d", len(s.c.Entries()))
	}

	if len(persisted) != 3 || len(removed) != 1 {
		t.Errorf("persisted=%v removed=%v", persisted, removed)
	}
}

func TestAddJobValidation(t *testing.T) {
	s := NewScheduler(newRecorder().run)

	tests := []struct {
		name string
		job  Job
	}{
		{"missing name", Job{Cron: "* * * * *"}},
		{"bad cron", Job{Name: "x", Cron: "not a cron", Enabled: true}},
		{"bad cron disabled", Job{Name: "y", Cron: "61 * * * *"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AddJob(tt.job); err == nil {
				t.Error("expected error")
			}
		})
	}
	if len(s.ListJobs()) != 0 {
		t.Errorf("invalid jobs were kept: %+v", s.ListJobs())
	}
}

func TestJobFires(t *testing.T) {
	rec := newRecorder()
	s := NewScheduler(rec.run, WithParser(SecondsParser))
	if err := s.AddJob(Job{Name: "tick", Cron: "* * * * * *", Script: "tick.devin", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-rec.hit:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.runs[0] != "tick" {
		t.Errorf("runs = %v", rec.runs)
	}
}

func TestRunNow(t *testing.T) {
	rec := newRecorder()
	s := NewScheduler(rec.run)
	if err := s.AddJob(Job{Name: "manual", Cron: "@daily", Script: "m.devin"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "manual"); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "other"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow(other) error = %v", err)
	}
	if len(rec.runs) != 1 {
		t.Errorf("runs = %v", rec.runs)
	}
}
