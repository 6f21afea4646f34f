package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pbn-studio/engine/internal/models"
	"github.com/pbn-studio/engine/internal/queue"
	"github.com/pbn-studio/engine/internal/realtime"
	"github.com/pbn-studio/engine/internal/repository"
)

type runEnv struct {
	store     *repository.Store
	sites     *fakeSiteCreator
	cleaner   *mockCleaner
	scheduler *queueScheduler
	lock      *localLock
	events    *recorder
	runner    *Runner
	svc       ProjectService
}

func newRunEnv(t *testing.T) *runEnv {
	t.Helper()
	env := &runEnv{
		store:     newStore(t),
		sites:     &fakeSiteCreator{},
		cleaner:   &mockCleaner{},
		scheduler: &queueScheduler{},
		lock:      &localLock{},
		events:    &recorder{},
	}
	notify := NewNotifier(env.store.Projects, env.events, "claude-sonnet-4-5")
	env.runner = NewRunner(env.store.Projects, env.sites, env.cleaner, env.scheduler, env.lock, notify)
	env.svc = NewProjectService(env.store.Projects, env.cleaner, env.scheduler, notify, t.TempDir())
	return env
}

// drain runs scheduled ticks until none are left and returns the last tick error.
func (e *runEnv) drain(t *testing.T) error {
	t.Helper()
	var last error
	for i := 0; i < 100; i++ {
		tick, ok := e.scheduler.pop()
		if !ok {
			return last
		}
		last = e.runner.Tick(context.Background(), tick)
	}
	t.Fatal("ticks did not drain")
	return nil
}

func (e *runEnv) load(t *testing.T, id uuid.UUID) *models.Project {
	t.Helper()
	var p models.Project
	require.NoError(t, e.store.Projects.GetByID(context.Background(), id, &p))
	return &p
}

func TestRunner_RunCompletes(t *testing.T) {
	env := newRunEnv(t)
	ctx := context.Background()
	env.cleaner.On("Cleanup", mock.Anything, mock.Anything).Return(nil)

	p := testProject("tea", 3)
	require.NoError(t, env.store.Projects.Create(ctx, p))

	started, err := env.svc.RunProject(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, started.IsRunning)
	assert.Equal(t, models.StatusRunning, started.Status)

	require.NoError(t, env.drain(t))

	got := env.load(t, p.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.False(t, got.IsRunning)
	assert.Nil(t, got.NextRunAt)
	require.Len(t, got.Progress, 3)
	for i, e := range got.Progress {
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, "acme", e.Owner)
		assert.Equal(t, models.SiteStatusDeployed, e.Status)
	}
	assert.Len(t, env.sites.calls, 3)

	// every tick waits one interval, including the first
	for _, d := range env.scheduler.delays {
		assert.Equal(t, time.Second, d)
	}

	summaries := env.events.ofType(realtime.EventSummaryUpdate)
	require.NotEmpty(t, summaries)
	var s models.Summary
	require.NoError(t, json.Unmarshal(summaries[len(summaries)-1].Payload, &s))
	assert.Equal(t, 1, s.TotalProjects)
	assert.Equal(t, 3, s.TotalSites)
	assert.InDelta(t, 1.5, s.AverageCreationSeconds, 0.001)
	assert.Equal(t, "claude-sonnet-4-5", s.AIModel)

	updates := env.events.ofType(realtime.EventProjectUpdate)
	require.NotEmpty(t, updates)
	var last realtime.ProjectUpdate
	require.NoError(t, json.Unmarshal(updates[len(updates)-1].Payload, &last))
	assert.Equal(t, models.StatusCompleted, last.Status)
	assert.False(t, last.IsRunning)
	assert.Len(t, last.Progress, 3)
}

func TestRunner_FailureAbortsRun(t *testing.T) {
	env := newRunEnv(t)
	ctx := context.Background()
	env.cleaner.On("Cleanup", mock.Anything, mock.Anything).Return(nil)

	p := testProject("failing", 3)
	require.NoError(t, env.store.Projects.Create(ctx, p))
	_, err := env.svc.RunProject(ctx, p.ID)
	require.NoError(t, err)

	env.sites.err = &StepError{Step: "generate html", Err: errors.New("400 bad request")}
	err = env.drain(t)
	require.Error(t, err)

	got := env.load(t, p.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.False(t, got.IsRunning)
	assert.Nil(t, got.NextRunAt)
	assert.Contains(t, got.LastError, "generate html")
	assert.Empty(t, got.Progress)
	assert.Len(t, env.sites.calls, 1)

	// once before the run starts, once for the failure
	env.cleaner.AssertNumberOfCalls(t, "Cleanup", 2)

	_, pending := env.scheduler.pop()
	assert.False(t, pending, "no tick may follow a failure")
}

func TestRunner_FailureMidRunKeepsEarlierProgressForCleanup(t *testing.T) {
	env := newRunEnv(t)
	ctx := context.Background()

	p := testProject("midway", 3)
	require.NoError(t, env.store.Projects.Create(ctx, p))
	env.cleaner.On("Cleanup", mock.Anything, mock.MatchedBy(func(p *models.Project) bool { return len(p.Progress) == 0 })).Return(nil).Once()
	env.cleaner.On("Cleanup", mock.Anything, mock.MatchedBy(func(p *models.Project) bool { return len(p.Progress) == 1 })).Return(errors.New("github down")).Once()

	_, err := env.svc.RunProject(ctx, p.ID)
	require.NoError(t, err)

	tick, ok := env.scheduler.pop()
	require.True(t, ok)
	require.NoError(t, env.runner.Tick(ctx, tick))

	env.sites.err = errors.New("push: exit status 128")
	tick, ok = env.scheduler.pop()
	require.True(t, ok)
	require.Error(t, env.runner.Tick(ctx, tick))

	got := env.load(t, p.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Len(t, got.Progress, 1)
	env.cleaner.AssertExpectations(t)
}

func TestRunner_DropsStaleTicks(t *testing.T) {
	env := newRunEnv(t)
	ctx := context.Background()
	env.cleaner.On("Cleanup", mock.Anything, mock.Anything).Return(nil)

	p := testProject("stale", 2)
	require.NoError(t, env.store.Projects.Create(ctx, p))
	_, err := env.svc.RunProject(ctx, p.ID)
	require.NoError(t, err)
	current := env.load(t, p.ID)

	cases := []queue.Tick{
		{ProjectID: p.ID, RunID: "older-run", Position: 1},
		{ProjectID: uuid.New(), RunID: current.RunID, Position: 1},
	}
	for _, tick := range cases {
		require.NoError(t, env.runner.Tick(ctx, tick))
	}
	assert.Empty(t, env.sites.calls)

	// run the real first tick, then replay it
	first, ok := env.scheduler.pop()
	require.True(t, ok)
	require.NoError(t, env.runner.Tick(ctx, first))
	require.NoError(t, env.runner.Tick(ctx, first))
	assert.Len(t, env.sites.calls, 1)
	assert.Len(t, env.load(t, p.ID).Progress, 1)
}

func TestRunner_SkipsWhileLocked(t *testing.T) {
	env := newRunEnv(t)
	ctx := context.Background()
	env.cleaner.On("Cleanup", mock.Anything, mock.Anything).Return(nil)

	p := testProject("locked", 1)
	require.NoError(t, env.store.Projects.Create(ctx, p))
	_, err := env.svc.RunProject(ctx, p.ID)
	require.NoError(t, err)

	unlock, ok, err := env.lock.TryLock(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)

	tick, _ := env.scheduler.pop()
	require.NoError(t, env.runner.Tick(ctx, tick))
	assert.Empty(t, env.sites.calls)

	unlock()
	require.NoError(t, env.runner.Tick(ctx, tick))
	assert.Len(t, env.sites.calls, 1)
	assert.Equal(t, models.StatusCompleted, env.load(t, p.ID).Status)
}

func TestRunner_ScheduleFailureErrorsProject(t *testing.T) {
	env := newRunEnv(t)
	ctx := context.Background()
	env.cleaner.On("Cleanup", mock.Anything, mock.Anything).Return(nil)

	p := testProject("noqueue", 2)
	require.NoError(t, env.store.Projects.Create(ctx, p))
	_, err := env.svc.RunProject(ctx, p.ID)
	require.NoError(t, err)

	tick, _ := env.scheduler.pop()
	env.scheduler.err = errors.New("redis: connection refused")
	require.Error(t, env.runner.Tick(ctx, tick))

	got := env.load(t, p.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.False(t, got.IsRunning)
}
