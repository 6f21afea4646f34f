package services

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pbn-studio/engine/internal/models"
	"github.com/pbn-studio/engine/internal/queue"
	"github.com/pbn-studio/engine/internal/repository"
	appErr "github.com/pbn-studio/engine/pkg/errors"
	"github.com/pbn-studio/engine/pkg/logger"
	"github.com/pbn-studio/engine/pkg/utils"
	"go.uber.org/zap"
)

type ProjectService interface {
	CreateProject(ctx context.Context, input *ProjectInput) (*models.Project, error)
	GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	UpdateProject(ctx context.Context, projectID uuid.UUID, input *ProjectInput) (*models.Project, error)
	DeleteProject(ctx context.Context, projectID uuid.UUID) error

	// RunProject starts a fresh run, discarding the artefacts of the previous one.
	RunProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	Summary(ctx context.Context) (models.Summary, error)
	ExportCSV(ctx context.Context, projectID uuid.UUID, w io.Writer) error
}

// ProjectInput carries the user-editable project definition.
type ProjectInput struct {
	Name            string `validate:"required"`
	SystemPrompt    string `validate:"required"`
	UserPrompt      string `validate:"required"`
	SiteCount       int    `validate:"gte=1"`
	IntervalSeconds int    `validate:"gte=1"`
}

type projectService struct {
	projects  repository.ProjectRepository
	cleaner   Cleaner
	scheduler Scheduler
	notify    *Notifier
	sitesDir  string
	validate  *validator.Validate
	now       func() time.Time
}

func NewProjectService(projects repository.ProjectRepository, cleaner Cleaner, scheduler Scheduler, notify *Notifier, sitesDir string) ProjectService {
	return &projectService{
		projects:  projects,
		cleaner:   cleaner,
		scheduler: scheduler,
		notify:    notify,
		sitesDir:  sitesDir,
		validate:  validator.New(),
		now:       time.Now,
	}
}

var _ ProjectService = (*projectService)(nil)

func (s *projectService) check(input *ProjectInput) error {
	if input == nil {
		return appErr.New(appErr.CodeInvalid, "Missing required fields")
	}
	if err := s.validate.Struct(input); err != nil {
		return appErr.Wrap(err, appErr.CodeInvalid, "Missing required fields")
	}
	return nil
}

func (s *projectService) CreateProject(ctx context.Context, input *ProjectInput) (*models.Project, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	exists, err := s.projects.ExistsByName(ctx, input.Name, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, appErr.New(appErr.CodeAlreadyExists, "Project name already exists")
	}

	p := &models.Project{
		Name:            input.Name,
		SystemPrompt:    input.SystemPrompt,
		UserPrompt:      input.UserPrompt,
		SiteCount:       input.SiteCount,
		IntervalSeconds: input.IntervalSeconds,
		Status:          models.StatusPending,
		Progress:        []models.ProgressEntry{},
	}
	if err := s.projects.Create(ctx, p); err != nil {
		// a concurrent create can still win the unique index
		if appErr.IsCode(err, appErr.CodeAlreadyExists) {
			return nil, appErr.New(appErr.CodeAlreadyExists, "Project name already exists")
		}
		return nil, err
	}

	logger.L().Info("project created", zap.String("project_id", p.ID.String()), zap.String("name", p.Name))
	s.notify.Summary(ctx)
	return p, nil
}

func (s *projectService) GetProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	var p models.Project
	if err := s.projects.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *projectService) ListProjects(ctx context.Context) ([]models.Project, error) {
	return s.projects.List(ctx)
}

func (s *projectService) UpdateProject(ctx context.Context, projectID uuid.UUID, input *ProjectInput) (*models.Project, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.IsRunning {
		return nil, appErr.New(appErr.CodeConflict, "Project is running")
	}
	exists, err := s.projects.ExistsByName(ctx, input.Name, projectID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, appErr.New(appErr.CodeAlreadyExists, "Project name already exists")
	}

	def := repository.ProjectDefinition{
		Name:            input.Name,
		SystemPrompt:    input.SystemPrompt,
		UserPrompt:      input.UserPrompt,
		SiteCount:       input.SiteCount,
		IntervalSeconds: input.IntervalSeconds,
	}
	if err := s.projects.UpdateDefinition(ctx, projectID, def); err != nil {
		return nil, err
	}
	p.Name = def.Name
	p.SystemPrompt = def.SystemPrompt
	p.UserPrompt = def.UserPrompt
	p.SiteCount = def.SiteCount
	p.IntervalSeconds = def.IntervalSeconds

	logger.L().Info("project updated", zap.String("project_id", projectID.String()))
	s.notify.Summary(ctx)
	return p, nil
}

func (s *projectService) DeleteProject(ctx context.Context, projectID uuid.UUID) error {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	log := logger.L().With(zap.String("project_id", projectID.String()))
	s.notify.ProjectStatus(ctx, p, models.StatusDeleting, true)

	if err := s.cleaner.Cleanup(ctx, p); err != nil {
		log.Warn("project cleanup incomplete", zap.Error(err))
	}
	if err := s.projects.Delete(ctx, projectID); err != nil {
		return err
	}

	log.Info("project deleted", zap.Int("sites", len(p.Progress)))
	s.notify.Summary(ctx)
	return nil
}

func (s *projectService) RunProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.IsRunning {
		return nil, appErr.New(appErr.CodeConflict, "Project already running")
	}
	log := logger.L().With(zap.String("project_id", projectID.String()))

	runID := uuid.NewString()
	next := s.now().Add(p.Interval())
	if err := s.projects.ClaimRun(ctx, projectID, runID, next); err != nil {
		if appErr.IsCode(err, appErr.CodeConflict) {
			return nil, appErr.New(appErr.CodeConflict, "Project already running")
		}
		return nil, err
	}

	// the previous run's sites go away before the new run starts
	if err := s.cleaner.Cleanup(ctx, p); err != nil {
		log.Warn("cleanup of previous run incomplete", zap.Error(err))
	}
	if err := s.projects.ResetProgress(ctx, projectID); err != nil {
		return nil, s.abort(ctx, p, err)
	}
	if err := os.MkdirAll(utils.ProjectDir(s.sitesDir, p.Name, p.ID), 0o755); err != nil {
		return nil, s.abort(ctx, p, appErr.Wrap(err, appErr.CodeInternal, "create project directory failed"))
	}

	p.Status = models.StatusRunning
	p.IsRunning = true
	p.RunID = runID
	p.NextRunAt = &next
	p.LastError = ""
	p.Progress = []models.ProgressEntry{}
	s.notify.Project(ctx, p)

	if err := s.scheduler.Schedule(ctx, queue.Tick{ProjectID: projectID, RunID: runID, Position: 1}, p.Interval()); err != nil {
		return nil, s.abort(ctx, p, err)
	}
	log.Info("project started", zap.String("run_id", runID), zap.Int("sites", p.SiteCount), zap.Int("interval_seconds", p.IntervalSeconds))
	return p, nil
}

// abort marks a run that never got its first tick as errored.
func (s *projectService) abort(ctx context.Context, p *models.Project, cause error) error {
	logger.L().Error("start run failed", zap.String("project_id", p.ID.String()), zap.Error(cause))
	if err := s.projects.SetState(ctx, p.ID, repository.ProjectState{Status: models.StatusError, LastError: cause.Error()}); err != nil {
		logger.L().Warn("mark project errored failed", zap.String("project_id", p.ID.String()), zap.Error(err))
	}
	p.Status = models.StatusError
	p.IsRunning = false
	p.NextRunAt = nil
	p.LastError = cause.Error()
	s.notify.Project(ctx, p)
	return cause
}

func (s *projectService) Summary(ctx context.Context) (models.Summary, error) {
	return s.notify.ComputeSummary(ctx)
}

var csvHeader = []string{"position", "site_id", "status", "created_at", "owner", "repo_url", "deploy_url", "deployment_id", "duration_ms"}

func (s *projectService) ExportCSV(ctx context.Context, projectID uuid.UUID, w io.Writer) error {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write csv failed")
	}
	for _, e := range p.Progress {
		row := []string{
			strconv.Itoa(e.Position),
			e.SiteID,
			e.Status,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Owner,
			e.RepoURL,
			e.DeployURL,
			e.DeploymentID,
			strconv.FormatInt(e.DurationMs, 10),
		}
		if err := cw.Write(row); err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "write csv failed")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write csv failed")
	}
	return nil
}
