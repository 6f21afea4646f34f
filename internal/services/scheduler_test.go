package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pbn-studio/engine/internal/queue"
	appErr "github.com/pbn-studio/engine/pkg/errors"
)

func TestAsynqScheduler_Schedule(t *testing.T) {
	enq := &mockEnqueuer{}
	s := NewAsynqScheduler(enq, nil, 10*time.Minute)
	tick := queue.Tick{ProjectID: uuid.New(), RunID: "run-1", Position: 3}

	enq.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		got, err := queue.ParseTick(task)
		return err == nil && got == tick && task.Type() == queue.TypeSiteTick
	}), mock.Anything).Return(&asynq.TaskInfo{ID: tick.TaskID(), NextProcessAt: time.Now().Add(time.Minute)}, nil).Once()

	require.NoError(t, s.Schedule(context.Background(), tick, time.Minute))
	enq.AssertExpectations(t)
}

func TestAsynqScheduler_AlreadyScheduledIsOK(t *testing.T) {
	for _, dupErr := range []error{asynq.ErrTaskIDConflict, asynq.ErrDuplicateTask} {
		enq := &mockEnqueuer{}
		enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, dupErr).Once()
		s := NewAsynqScheduler(enq, nil, 0)
		assert.NoError(t, s.Schedule(context.Background(), queue.Tick{ProjectID: uuid.New(), RunID: "r", Position: 1}, 0))
		enq.AssertExpectations(t)
	}
}

func TestAsynqScheduler_ConflictWithLiveTask(t *testing.T) {
	tick := queue.Tick{ProjectID: uuid.New(), RunID: "r", Position: 2}
	for _, state := range []asynq.TaskState{asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateActive, asynq.TaskStateRetry} {
		enq := &mockEnqueuer{}
		enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict).Once()
		insp := &mockInspector{}
		insp.On("GetTaskInfo", queue.DefaultQueue, tick.TaskID()).Return(&asynq.TaskInfo{ID: tick.TaskID(), State: state}, nil).Once()

		s := NewAsynqScheduler(enq, insp, 0)
		require.NoError(t, s.Schedule(context.Background(), tick, 0), state.String())
		enq.AssertExpectations(t)
		insp.AssertExpectations(t)
		insp.AssertNotCalled(t, "DeleteTask", mock.Anything, mock.Anything)
	}
}

func TestAsynqScheduler_ReplacesArchivedTask(t *testing.T) {
	tick := queue.Tick{ProjectID: uuid.New(), RunID: "r", Position: 2}
	enq := &mockEnqueuer{}
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict).Once()
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{ID: tick.TaskID()}, nil).Once()
	insp := &mockInspector{}
	insp.On("GetTaskInfo", queue.DefaultQueue, tick.TaskID()).Return(&asynq.TaskInfo{ID: tick.TaskID(), State: asynq.TaskStateArchived}, nil).Once()
	insp.On("DeleteTask", queue.DefaultQueue, tick.TaskID()).Return(nil).Once()

	s := NewAsynqScheduler(enq, insp, 0)
	require.NoError(t, s.Schedule(context.Background(), tick, 0))
	enq.AssertExpectations(t)
	insp.AssertExpectations(t)
}

func TestAsynqScheduler_InspectFailure(t *testing.T) {
	enq := &mockEnqueuer{}
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict).Once()
	insp := &mockInspector{}
	insp.On("GetTaskInfo", mock.Anything, mock.Anything).Return(nil, errors.New("redis: connection refused")).Once()

	s := NewAsynqScheduler(enq, insp, 0)
	err := s.Schedule(context.Background(), queue.Tick{ProjectID: uuid.New(), RunID: "r", Position: 1}, 0)
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeUnavailable))
}

func TestAsynqScheduler_EnqueueFailure(t *testing.T) {
	enq := &mockEnqueuer{}
	enq.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused")).Once()
	s := NewAsynqScheduler(enq, nil, 0)

	err := s.Schedule(context.Background(), queue.Tick{ProjectID: uuid.New(), RunID: "r", Position: 1}, time.Second)
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeUnavailable))
}

func TestRedisRunLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	lock := NewRedisRunLock(rdb, time.Minute)
	id := uuid.New()

	unlock, ok, err := lock.TryLock(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.TryLock(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	_, ok, err = lock.TryLock(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, ok, "other projects are independent")

	unlock()
	unlock2, ok, err := lock.TryLock(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	unlock2()
}

func TestRedisRunLock_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	lock := NewRedisRunLock(rdb, time.Second)
	id := uuid.New()

	staleUnlock, ok, err := lock.TryLock(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = lock.TryLock(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	staleUnlock()
	assert.True(t, mr.Exists(runLockKey(id)), "stale holder must not release the new lock")
}
