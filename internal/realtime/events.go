// Package realtime carries project and summary updates to connected dashboards.
package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pbn-studio/engine/internal/models"
)

type EventType string

const (
	EventProjectUpdate EventType = "projectUpdate"
	EventSummaryUpdate EventType = "summaryUpdate"
)

// Event is the frame written to websocket clients and to the redis channel.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ProjectUpdate reports the status and progress of one project.
type ProjectUpdate struct {
	ProjectID uuid.UUID              `json:"projectId"`
	Status    string                 `json:"status"`
	Progress  []models.ProgressEntry `json:"progress"`
	SiteCount int                    `json:"siteCount"`
	IsRunning bool                   `json:"isRunning"`
}

// ProjectUpdateOf snapshots p.
func ProjectUpdateOf(p *models.Project) ProjectUpdate {
	progress := p.Progress
	if progress == nil {
		progress = []models.ProgressEntry{}
	}
	return ProjectUpdate{
		ProjectID: p.ID,
		Status:    p.Status,
		Progress:  progress,
		SiteCount: p.SiteCount,
		IsRunning: p.IsRunning,
	}
}

func NewProjectEvent(u ProjectUpdate) Event {
	return newEvent(EventProjectUpdate, u)
}

func NewSummaryEvent(s models.Summary) Event {
	return newEvent(EventSummaryUpdate, s)
}

func newEvent(t EventType, payload any) Event {
	// payloads are plain structs; marshalling cannot fail
	b, _ := json.Marshal(payload)
	return Event{Type: t, Payload: b}
}

// Publisher delivers events to whoever is listening. Publishing is best effort:
// callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
