package services

import (
	"context"
	"time"

	"github.com/pbn-studio/engine/internal/queue"
	"github.com/pbn-studio/engine/internal/repository"
	"github.com/pbn-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

// Reconciler re-schedules running projects whose next tick is overdue, for example
// because the worker was down when it was due or the enqueue was lost.
type Reconciler struct {
	projects  repository.ProjectRepository
	scheduler Scheduler
	grace     time.Duration
	now       func() time.Time
}

// NewReconciler treats a tick as lost once it is grace past its due time.
func NewReconciler(projects repository.ProjectRepository, scheduler Scheduler, grace time.Duration) *Reconciler {
	return &Reconciler{projects: projects, scheduler: scheduler, grace: grace, now: time.Now}
}

// Sweep returns the number of ticks it scheduled.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	due, err := r.projects.ListDueRunning(ctx, r.now().Add(-r.grace))
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range due {
		p := &due[i]
		tick := queue.Tick{ProjectID: p.ID, RunID: p.RunID, Position: len(p.Progress) + 1}
		if err := r.scheduler.Schedule(ctx, tick, 0); err != nil {
			logger.L().Warn("reschedule overdue tick failed", zap.String("project_id", p.ID.String()), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		logger.L().Info("overdue ticks rescheduled", zap.Int("count", n))
	}
	return n, nil
}
