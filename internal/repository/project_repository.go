package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pbn-studio/engine/internal/models"
	appErr "github.com/pbn-studio/engine/pkg/errors"
	"gorm.io/gorm"
)

// ProjectState is the run-state portion of a project written by the job runner.
type ProjectState struct {
	Status    string
	IsRunning bool
	NextRunAt *time.Time
	LastError string
}

// ProjectDefinition holds the user-editable fields of a project.
type ProjectDefinition struct {
	Name            string
	SystemPrompt    string
	UserPrompt      string
	SiteCount       int
	IntervalSeconds int
}

type ProjectRepository interface {
	BaseRepository[models.Project]
	GetByName(ctx context.Context, name string, dest *models.Project) error
	List(ctx context.Context) ([]models.Project, error)
	ExistsByName(ctx context.Context, name string, excludeID uuid.UUID) (bool, error)
	UpdateDefinition(ctx context.Context, projectID uuid.UUID, def ProjectDefinition) error
	// ClaimRun flips a stopped project to running under a new runID. It fails with
	// CodeConflict if the project is already running, so two concurrent run requests
	// cannot both win.
	ClaimRun(ctx context.Context, projectID uuid.UUID, runID string, nextRunAt time.Time) error
	SetState(ctx context.Context, projectID uuid.UUID, state ProjectState) error
	SetNextRunAt(ctx context.Context, projectID uuid.UUID, at time.Time) error
	ResetProgress(ctx context.Context, projectID uuid.UUID) error
	// AppendProgress stores entry at the next position of the project's log.
	AppendProgress(ctx context.Context, projectID uuid.UUID, entry *models.ProgressEntry) error
	ListDueRunning(ctx context.Context, before time.Time) ([]models.Project, error)
}

type projectRepository struct {
	BaseRepository[models.Project]
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{BaseRepository: NewBaseRepository[models.Project](db, "project"), db: db}
}

func orderedProgress(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *projectRepository) GetByID(ctx context.Context, id any, dest *models.Project) error {
	if err := r.db.WithContext(ctx).Preload("Progress", orderedProgress).First(dest, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, "project not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get project failed")
	}
	return nil
}

func (r *projectRepository) GetByName(ctx context.Context, name string, dest *models.Project) error {
	if err := r.db.WithContext(ctx).Preload("Progress", orderedProgress).Where("name = ?", name).First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, "project not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get project by name failed")
	}
	return nil
}

func (r *projectRepository) Delete(ctx context.Context, id any) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&models.ProgressEntry{}).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "delete project progress failed")
		}
		res := tx.Delete(&models.Project{}, "id = ?", id)
		if res.Error != nil {
			return appErr.Wrap(res.Error, appErr.CodeInternal, "delete project failed")
		}
		if res.RowsAffected == 0 {
			return appErr.New(appErr.CodeNotFound, "project not found")
		}
		return nil
	})
}

func (r *projectRepository) List(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	if err := r.db.WithContext(ctx).Preload("Progress", orderedProgress).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list projects failed")
	}
	return out, nil
}

func (r *projectRepository) ExistsByName(ctx context.Context, name string, excludeID uuid.UUID) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Project{}).Where("name = ?", name)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "check project name failed")
	}
	return n > 0, nil
}

func (r *projectRepository) UpdateDefinition(ctx context.Context, projectID uuid.UUID, def ProjectDefinition) error {
	res := r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Updates(map[string]any{
		"name":             def.Name,
		"system_prompt":    def.SystemPrompt,
		"user_prompt":      def.UserPrompt,
		"site_count":       def.SiteCount,
		"interval_seconds": def.IntervalSeconds,
		"updated_at":       time.Now().UTC(),
	})
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return appErr.Wrap(res.Error, appErr.CodeAlreadyExists, "project name already exists")
		}
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update project failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return nil
}

func (r *projectRepository) ClaimRun(ctx context.Context, projectID uuid.UUID, runID string, nextRunAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ? AND is_running = ?", projectID, false).
		Updates(map[string]any{
			"status":      models.StatusRunning,
			"is_running":  true,
			"next_run_at": nextRunAt.UTC(),
			"run_id":      runID,
			"last_error":  "",
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "claim project run failed")
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Count(&n).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "claim project run failed")
	}
	if n == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return appErr.New(appErr.CodeConflict, "project already running")
}

func (r *projectRepository) SetState(ctx context.Context, projectID uuid.UUID, state ProjectState) error {
	var next any
	if state.NextRunAt != nil {
		next = state.NextRunAt.UTC()
	}
	res := r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Updates(map[string]any{
		"status":      state.Status,
		"is_running":  state.IsRunning,
		"next_run_at": next,
		"last_error":  state.LastError,
		"updated_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update project state failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return nil
}

func (r *projectRepository) SetNextRunAt(ctx context.Context, projectID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Update("next_run_at", at.UTC())
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update next run failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return nil
}

func (r *projectRepository) ResetProgress(ctx context.Context, projectID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Delete(&models.ProgressEntry{}).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "reset progress failed")
	}
	return nil
}

func (r *projectRepository) AppendProgress(ctx context.Context, projectID uuid.UUID, entry *models.ProgressEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Project{}).Where("id = ?", projectID).Count(&n).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "append progress failed")
		}
		if n == 0 {
			return appErr.New(appErr.CodeNotFound, "project not found")
		}
		var maxPos int
		if err := tx.Model(&models.ProgressEntry{}).Where("project_id = ?", projectID).
			Select("COALESCE(MAX(position),0)").Scan(&maxPos).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "compute progress position failed")
		}
		entry.ProjectID = projectID
		entry.Position = maxPos + 1
		if err := tx.Create(entry).Error; err != nil {
			if isDuplicate(err) {
				return appErr.Wrap(err, appErr.CodeConflict, "progress position already taken")
			}
			return appErr.Wrap(err, appErr.CodeInternal, "append progress failed")
		}
		return nil
	})
}

func (r *projectRepository) ListDueRunning(ctx context.Context, before time.Time) ([]models.Project, error) {
	var out []models.Project
	if err := r.db.WithContext(ctx).Preload("Progress", orderedProgress).
		Where("is_running = ? AND next_run_at IS NOT NULL AND next_run_at < ?", true, before.UTC()).
		Order("next_run_at ASC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list due projects failed")
	}
	return out, nil
}
