// Package queue defines the asynq task types shared by the api and the worker.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeSiteTick creates the next site of a running project.
const TypeSiteTick = "site:tick"

// DefaultQueue is where site ticks are enqueued.
const DefaultQueue = "default"

// Tick identifies the run of a project and the progress position a tick should fill.
type Tick struct {
	ProjectID uuid.UUID `json:"project_id"`
	RunID     string    `json:"run_id"`
	Position  int       `json:"position"`
}

// TaskID is unique per run and position, so a position is scheduled at most once
// while a re-run of the same project never collides with a retained task.
func (t Tick) TaskID() string {
	return fmt.Sprintf("tick:%s:%s:%d", t.ProjectID, t.RunID, t.Position)
}

func NewTickTask(t Tick, opts ...asynq.Option) (*asynq.Task, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSiteTick, b, opts...), nil
}

// ParseTick decodes a tick payload.
func ParseTick(task *asynq.Task) (Tick, error) {
	var t Tick
	if err := json.Unmarshal(task.Payload(), &t); err != nil {
		return Tick{}, fmt.Errorf("decode tick payload: %w", err)
	}
	if t.ProjectID == uuid.Nil || t.Position < 1 {
		return Tick{}, fmt.Errorf("invalid tick payload %s", string(task.Payload()))
	}
	return t, nil
}
