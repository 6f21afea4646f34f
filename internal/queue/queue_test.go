package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickTaskRoundTrip(t *testing.T) {
	want := Tick{ProjectID: uuid.New(), RunID: "r1", Position: 3}
	task, err := NewTickTask(want)
	require.NoError(t, err)
	assert.Equal(t, TypeSiteTick, task.Type())

	got, err := ParseTick(task)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTickTaskIDSeparatesRuns(t *testing.T) {
	id := uuid.New()
	a := Tick{ProjectID: id, RunID: "r1", Position: 1}
	b := Tick{ProjectID: id, RunID: "r2", Position: 1}
	assert.NotEqual(t, a.TaskID(), b.TaskID())
	assert.Equal(t, "tick:"+id.String()+":r1:1", a.TaskID())
}

func TestParseTickRejectsGarbage(t *testing.T) {
	_, err := ParseTick(asynq.NewTask(TypeSiteTick, []byte("{")))
	require.Error(t, err)

	_, err = ParseTick(asynq.NewTask(TypeSiteTick, []byte(`{"project_id":"`+uuid.NewString()+`","position":0}`)))
	require.Error(t, err)
}
