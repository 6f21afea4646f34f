package services

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pbn-studio/engine/internal/queue"
	appErr "github.com/pbn-studio/engine/pkg/errors"
	"github.com/pbn-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

// Scheduler arranges for tick to run after delay.
type Scheduler interface {
	Schedule(ctx context.Context, tick queue.Tick, delay time.Duration) error
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is satisfied by *asynq.Inspector.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

type AsynqScheduler struct {
	client    Enqueuer
	inspector TaskInspector
	timeout   time.Duration
}

// NewAsynqScheduler enqueues ticks on client; timeout bounds a single tick. inspector
// resolves task id conflicts with archived ticks; without one a conflict counts as scheduled.
func NewAsynqScheduler(client Enqueuer, inspector TaskInspector, timeout time.Duration) *AsynqScheduler {
	return &AsynqScheduler{client: client, inspector: inspector, timeout: timeout}
}

var _ Scheduler = (*AsynqScheduler)(nil)

func (s *AsynqScheduler) Schedule(ctx context.Context, tick queue.Tick, delay time.Duration) error {
	opts := []asynq.Option{
		asynq.Queue(queue.DefaultQueue),
		asynq.TaskID(tick.TaskID()),
		asynq.MaxRetry(0),
		asynq.ProcessIn(delay),
	}
	if s.timeout > 0 {
		opts = append(opts, asynq.Timeout(s.timeout))
	}
	task, err := queue.NewTickTask(tick, opts...)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "build tick task failed")
	}

	log := logger.L().With(zap.String("project_id", tick.ProjectID.String()), zap.Int("position", tick.Position))
	info, err := s.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		var live bool
		live, err = s.clearFinished(tick.TaskID())
		if err != nil {
			return err
		}
		if live {
			log.Debug("tick already scheduled")
			return nil
		}
		info, err = s.client.EnqueueContext(ctx, task)
	}
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			log.Debug("tick already scheduled")
			return nil
		}
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue tick failed")
	}
	log.Info("tick scheduled", zap.String("task_id", info.ID), zap.Time("process_at", info.NextProcessAt))
	return nil
}

// clearFinished reports whether the task holding id will still run. An archived or
// retained completed task never will, so it is deleted to free the id.
func (s *AsynqScheduler) clearFinished(id string) (bool, error) {
	if s.inspector == nil {
		return true, nil
	}
	info, err := s.inspector.GetTaskInfo(queue.DefaultQueue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, appErr.Wrap(err, appErr.CodeUnavailable, "inspect tick failed")
	}
	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
	default:
		return true, nil
	}
	if err := s.inspector.DeleteTask(queue.DefaultQueue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, appErr.Wrap(err, appErr.CodeUnavailable, "delete finished tick failed")
	}
	logger.L().Info("finished tick removed for reschedule", zap.String("task_id", id), zap.String("state", info.State.String()))
	return false, nil
}
