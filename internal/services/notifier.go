package services

import (
	"context"

	"github.com/pbn-studio/engine/internal/models"
	"github.com/pbn-studio/engine/internal/realtime"
	"github.com/pbn-studio/engine/internal/repository"
	"github.com/pbn-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

// Notifier pushes project and summary updates. Failures are logged, never returned:
// a missed update must not fail the operation that caused it.
type Notifier struct {
	projects repository.ProjectRepository
	pub      realtime.Publisher
	model    string
}

func NewNotifier(projects repository.ProjectRepository, pub realtime.Publisher, model string) *Notifier {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	return &Notifier{projects: projects, pub: pub, model: model}
}

func (n *Notifier) Project(ctx context.Context, p *models.Project) {
	n.publish(ctx, realtime.NewProjectEvent(realtime.ProjectUpdateOf(p)))
}

// ProjectStatus announces a status that is not (or not yet) stored, such as deleting.
func (n *Notifier) ProjectStatus(ctx context.Context, p *models.Project, status string, running bool) {
	u := realtime.ProjectUpdateOf(p)
	u.Status = status
	u.IsRunning = running
	n.publish(ctx, realtime.NewProjectEvent(u))
}

func (n *Notifier) Summary(ctx context.Context) {
	s, err := n.ComputeSummary(ctx)
	if err != nil {
		logger.L().Warn("compute summary failed", zap.Error(err))
		return
	}
	n.publish(ctx, realtime.NewSummaryEvent(s))
}

func (n *Notifier) ComputeSummary(ctx context.Context) (models.Summary, error) {
	projects, err := n.projects.List(ctx)
	if err != nil {
		return models.Summary{}, err
	}
	return models.Summarize(projects, n.model), nil
}

func (n *Notifier) publish(ctx context.Context, ev realtime.Event) {
	if err := n.pub.Publish(ctx, ev); err != nil {
		logger.L().Warn("publish update failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}
