package devins

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/everydev1618/devins/schedule"
	"github.com/everydev1618/devins/store"
	"github.com/everydev1618/devins/workspace"
)

// Watch refreshes the command catalogues whenever files change under the
// skill, prompt or custom command directories. It blocks until ctx is
// cancelled.
func (r *Runtime) Watch(ctx context.Context) error {
	dirs := []string{r.cfg.Speckit.Directory, r.cfg.Commands.Directory}
	dirs = append(dirs, r.skills.Directories()...)

	w, err := workspace.NewWatcher(r.ws, dirs...)
	if err != nil {
		return err
	}
	r.logger.Info("watching for changes", "dirs", w.Watched())
	return w.Run(ctx)
}

// NewScheduler builds a scheduler whose jobs run script files through the
// job chain resolver. Jobs are persisted to the history store when there
// is one.
func (r *Runtime) NewScheduler(opts ...schedule.Option) *schedule.Scheduler {
	if r.store != nil {
		opts = append([]schedule.Option{schedule.WithPersistence(
			func(job schedule.Job) error {
				return r.store.UpsertSchedule(store.Schedule{
					Name:      job.Name,
					Cron:      job.Cron,
					Script:    job.Script,
					Enabled:   job.Enabled,
					CreatedAt: time.Now(),
				})
			},
			r.store.DeleteSchedule,
		)}, opts...)
	}
	return schedule.NewScheduler(r.runJob, opts...)
}

func (r *Runtime) runJob(ctx context.Context, job schedule.Job) error {
	res, err := r.RunFile(ctx, job.Script, nil)
	if err != nil {
		return err
	}
	r.logger.Info("scheduled run finished",
		"name", job.Name, "chain", res.ID, "links", len(res.Links), "has_error", res.HasError)
	if res.HasError {
		return fmt.Errorf("%s: script reported an error", job.Script)
	}
	return nil
}

// Serve runs the configured and stored schedules and watches the
// workspace until ctx is cancelled. Configured schedules replace stored
// ones of the same name.
func (r *Runtime) Serve(ctx context.Context) error {
	s := r.NewScheduler()

	if r.store != nil {
		stored, err := r.store.ListSchedules()
		if err != nil {
			return fmt.Errorf("load schedules: %w", err)
		}
		for _, sc := range stored {
			job := schedule.Job{Name: sc.Name, Cron: sc.Cron, Script: sc.Script, Enabled: sc.Enabled}
			if err := s.AddJob(job); err != nil {
				r.logger.Warn("skipping stored schedule", "name", sc.Name, "error", err)
			}
		}
	}
	for _, job := range r.cfg.Schedules {
		if err := s.AddJob(job); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Start(ctx)
		return nil
	})
	if r.cfg.Skills.Watch {
		g.Go(func() error {
			return r.Watch(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
