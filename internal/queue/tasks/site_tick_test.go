package tasks

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pbn-studio/engine/internal/queue"
	"github.com/pbn-studio/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests (required by tasks)
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Tick(ctx context.Context, tick queue.Tick) error {
	args := m.Called(ctx, tick)
	return args.Error(0)
}

func newTask(t *testing.T, tick queue.Tick) *asynq.Task {
	t.Helper()
	task, err := queue.NewTickTask(tick)
	require.NoError(t, err)
	return task
}

func TestHandleSiteTick_RunsTick(t *testing.T) {
	tick := queue.Tick{ProjectID: uuid.New(), RunID: "run-1", Position: 2}
	r := &mockRunner{}
	r.On("Tick", mock.Anything, tick).Return(nil).Once()

	h := NewSiteTickHandler(r)
	require.NoError(t, h.HandleSiteTick(context.Background(), newTask(t, tick)))
	r.AssertExpectations(t)
}

func TestHandleSiteTick_FailureSkipsRetry(t *testing.T) {
	tick := queue.Tick{ProjectID: uuid.New(), RunID: "run-1", Position: 1}
	cause := errors.New("llm: 400 bad request")
	r := &mockRunner{}
	r.On("Tick", mock.Anything, tick).Return(cause).Once()

	h := NewSiteTickHandler(r)
	err := h.HandleSiteTick(context.Background(), newTask(t, tick))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, cause)
	r.AssertExpectations(t)
}

func TestHandleSiteTick_BadPayload(t *testing.T) {
	r := &mockRunner{}
	h := NewSiteTickHandler(r)

	err := h.HandleSiteTick(context.Background(), asynq.NewTask(queue.TypeSiteTick, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	r.AssertNotCalled(t, "Tick", mock.Anything, mock.Anything)
}

func TestRegister(t *testing.T) {
	tick := queue.Tick{ProjectID: uuid.New(), RunID: "run-1", Position: 1}
	r := &mockRunner{}
	r.On("Tick", mock.Anything, tick).Return(nil).Once()

	mux := asynq.NewServeMux()
	NewSiteTickHandler(r).Register(mux)
	require.NoError(t, mux.ProcessTask(context.Background(), newTask(t, tick)))
	r.AssertExpectations(t)
}
