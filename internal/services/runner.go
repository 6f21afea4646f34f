package services

import (
	"context"
	"time"

	"github.com/pbn-studio/engine/internal/models"
	"github.com/pbn-studio/engine/internal/queue"
	"github.com/pbn-studio/engine/internal/repository"
	appErr "github.com/pbn-studio/engine/pkg/errors"
	"github.com/pbn-studio/engine/pkg/logger"
	"github.com/pbn-studio/engine/pkg/utils"
	"go.uber.org/zap"
)

const (
	maxLastError   = 1000
	failureCleanup = 5 * time.Minute
)

// Runner executes site ticks: one site per tick until the project reaches its site count.
type Runner struct {
	projects  repository.ProjectRepository
	sites     SiteCreator
	cleaner   Cleaner
	scheduler Scheduler
	lock      RunLock
	notify    *Notifier
	now       func() time.Time
}

func NewRunner(projects repository.ProjectRepository, sites SiteCreator, cleaner Cleaner, scheduler Scheduler, lock RunLock, notify *Notifier) *Runner {
	return &Runner{
		projects:  projects,
		sites:     sites,
		cleaner:   cleaner,
		scheduler: scheduler,
		lock:      lock,
		notify:    notify,
		now:       time.Now,
	}
}

// Tick creates the site at tick.Position. Ticks for stopped projects, older runs or
// positions that are already filled are dropped.
func (r *Runner) Tick(ctx context.Context, tick queue.Tick) error {
	log := logger.L().With(zap.String("project_id", tick.ProjectID.String()), zap.Int("position", tick.Position))

	unlock, ok, err := r.lock.TryLock(ctx, tick.ProjectID)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "acquire run lock failed")
	}
	if !ok {
		log.Info("tick skipped, another tick is in flight")
		return nil
	}
	defer unlock()

	var p models.Project
	if err := r.projects.GetByID(ctx, tick.ProjectID, &p); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			log.Info("project gone, dropping tick")
			return nil
		}
		return err
	}
	if !p.IsRunning || p.RunID != tick.RunID {
		log.Info("stale tick dropped", zap.Bool("running", p.IsRunning), zap.String("run_id", p.RunID))
		return nil
	}
	if tick.Position <= len(p.Progress) {
		log.Info("position already filled, dropping tick", zap.Int("progress", len(p.Progress)))
		return nil
	}
	if p.Done() {
		return r.complete(ctx, &p)
	}

	position := len(p.Progress) + 1
	siteID := utils.NewSiteID(r.now(), position)
	log = log.With(zap.String("site_id", siteID))
	log.Info("creating site", zap.Int("of", p.SiteCount))

	entry, err := r.sites.CreateSite(ctx, &p, siteID)
	if err != nil {
		return r.fail(ctx, &p, err)
	}
	if err := r.projects.AppendProgress(ctx, p.ID, entry); err != nil {
		// the new site is not stored yet, so hand it to cleanup explicitly
		p.Progress = append(p.Progress, *entry)
		return r.fail(ctx, &p, err)
	}
	p.Progress = append(p.Progress, *entry)
	r.notify.Project(ctx, &p)
	r.notify.Summary(ctx)

	if p.Done() {
		return r.complete(ctx, &p)
	}

	next := r.now().Add(p.Interval())
	if err := r.projects.SetNextRunAt(ctx, p.ID, next); err != nil {
		return r.fail(ctx, &p, err)
	}
	if err := r.scheduler.Schedule(ctx, queue.Tick{ProjectID: p.ID, RunID: p.RunID, Position: position + 1}, p.Interval()); err != nil {
		return r.fail(ctx, &p, err)
	}
	return nil
}

func (r *Runner) complete(ctx context.Context, p *models.Project) error {
	if err := r.projects.SetState(ctx, p.ID, repository.ProjectState{Status: models.StatusCompleted}); err != nil {
		return err
	}
	p.Status = models.StatusCompleted
	p.IsRunning = false
	p.NextRunAt = nil
	logger.L().Info("project completed", zap.String("project_id", p.ID.String()), zap.Int("sites", len(p.Progress)))
	r.notify.Project(ctx, p)
	r.notify.Summary(ctx)
	return nil
}

// fail aborts the run: cleanup, error state, broadcast. The cause is returned so the
// queue records the failed tick.
func (r *Runner) fail(ctx context.Context, p *models.Project, cause error) error {
	log := logger.L().With(zap.String("project_id", p.ID.String()))
	log.Error("site creation failed, aborting run", zap.Error(cause))

	// the tick context may already be past its deadline
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureCleanup)
	defer cancel()

	if err := r.cleaner.Cleanup(cctx, p); err != nil {
		log.Warn("cleanup after failure incomplete", zap.Error(err))
	}

	msg := cause.Error()
	if len(msg) > maxLastError {
		msg = msg[:maxLastError]
	}
	if err := r.projects.SetState(cctx, p.ID, repository.ProjectState{Status: models.StatusError, LastError: msg}); err != nil {
		log.Warn("mark project errored failed", zap.Error(err))
	}
	p.Status = models.StatusError
	p.IsRunning = false
	p.NextRunAt = nil
	p.LastError = msg
	r.notify.Project(cctx, p)
	r.notify.Summary(cctx)
	return cause
}
