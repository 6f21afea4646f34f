package tasks

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/pbn-studio/engine/internal/queue"
	"github.com/pbn-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

// TickRunner is satisfied by *services.Runner.
type TickRunner interface {
	Tick(ctx context.Context, tick queue.Tick) error
}

// SiteTickHandler handles site:tick tasks.
type SiteTickHandler struct {
	runner TickRunner
}

func NewSiteTickHandler(runner TickRunner) *SiteTickHandler {
	return &SiteTickHandler{runner: runner}
}

// Register binds the handler to its task type on mux.
func (h *SiteTickHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TypeSiteTick, h.HandleSiteTick)
}

// HandleSiteTick never asks asynq for a retry: a failed tick has already aborted the
// run and cleaned up, so the task is archived for inspection instead.
func (h *SiteTickHandler) HandleSiteTick(ctx context.Context, t *asynq.Task) error {
	tick, err := queue.ParseTick(t)
	if err != nil {
		logger.L().Error("invalid site tick payload", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	logger.L().Info("handling site tick",
		zap.String("task_id", taskID),
		zap.String("project_id", tick.ProjectID.String()),
		zap.Int("position", tick.Position))

	if err := h.runner.Tick(ctx, tick); err != nil {
		return fmt.Errorf("site tick %s: %w: %w", tick.TaskID(), err, asynq.SkipRetry)
	}
	return nil
}
