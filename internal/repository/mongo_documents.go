package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/pbn-studio/engine/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"gorm.io/datatypes"
)

const (
	usersCollection    = "users"
	projectsCollection = "projects"
)

// Documents keep ids as strings so uuids stay readable in the shell.

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type progressDoc struct {
	ID              string    `bson:"id"`
	Position        int       `bson:"position"`
	SiteID          string    `bson:"site_id"`
	Status          string    `bson:"status"`
	CreatedAt       time.Time `bson:"created_at"`
	RepoURL         string    `bson:"repo_url,omitempty"`
	RepoName        string    `bson:"repo_name,omitempty"`
	RepoID          int64     `bson:"repo_id,omitempty"`
	Owner           string    `bson:"owner"`
	DeployURL       string    `bson:"deploy_url,omitempty"`
	DeployProjectID string    `bson:"deploy_project_id,omitempty"`
	DeploymentID    string    `bson:"deployment_id,omitempty"`
	ContentSHA256   string    `bson:"content_sha256,omitempty"`
	DurationMs      int64     `bson:"duration_ms"`
	Meta            bson.M    `bson:"meta,omitempty"`
}

type projectDoc struct {
	ID              string        `bson:"_id"`
	Name            string        `bson:"name"`
	SystemPrompt    string        `bson:"system_prompt"`
	UserPrompt      string        `bson:"user_prompt"`
	SiteCount       int           `bson:"site_count"`
	IntervalSeconds int           `bson:"interval_seconds"`
	Status          string        `bson:"status"`
	IsRunning       bool          `bson:"is_running"`
	NextRunAt       *time.Time    `bson:"next_run_at"`
	RunID           string        `bson:"run_id,omitempty"`
	LastError       string        `bson:"last_error,omitempty"`
	Progress        []progressDoc `bson:"progress"`
	CreatedAt       time.Time     `bson:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at"`
}

func toUserDoc(u *models.User) userDoc {
	return userDoc{
		ID:           u.ID.String(),
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d *userDoc) toModel(u *models.User) {
	*u = models.User{
		ID:           parseID(d.ID),
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func toProgressDoc(e *models.ProgressEntry) progressDoc {
	return progressDoc{
		ID:              e.ID.String(),
		Position:        e.Position,
		SiteID:          e.SiteID,
		Status:          e.Status,
		CreatedAt:       e.CreatedAt,
		RepoURL:         e.RepoURL,
		RepoName:        e.RepoName,
		RepoID:          e.RepoID,
		Owner:           e.Owner,
		DeployURL:       e.DeployURL,
		DeployProjectID: e.DeployProjectID,
		DeploymentID:    e.DeploymentID,
		ContentSHA256:   e.ContentSHA256,
		DurationMs:      e.DurationMs,
		Meta:            bson.M(e.Meta),
	}
}

func toProjectDoc(p *models.Project) projectDoc {
	d := projectDoc{
		ID:              p.ID.String(),
		Name:            p.Name,
		SystemPrompt:    p.SystemPrompt,
		UserPrompt:      p.UserPrompt,
		SiteCount:       p.SiteCount,
		IntervalSeconds: p.IntervalSeconds,
		Status:          p.Status,
		IsRunning:       p.IsRunning,
		NextRunAt:       p.NextRunAt,
		RunID:           p.RunID,
		LastError:       p.LastError,
		Progress:        make([]progressDoc, 0, len(p.Progress)),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	for i := range p.Progress {
		d.Progress = append(d.Progress, toProgressDoc(&p.Progress[i]))
	}
	return d
}

func (d *projectDoc) toModel(p *models.Project) {
	id := parseID(d.ID)
	*p = models.Project{
		ID:              id,
		Name:            d.Name,
		SystemPrompt:    d.SystemPrompt,
		UserPrompt:      d.UserPrompt,
		SiteCount:       d.SiteCount,
		IntervalSeconds: d.IntervalSeconds,
		Status:          d.Status,
		IsRunning:       d.IsRunning,
		NextRunAt:       d.NextRunAt,
		RunID:           d.RunID,
		LastError:       d.LastError,
		Progress:        make([]models.ProgressEntry, 0, len(d.Progress)),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, e := range d.Progress {
		p.Progress = append(p.Progress, models.ProgressEntry{
			ID:              parseID(e.ID),
			ProjectID:       id,
			Position:        e.Position,
			SiteID:          e.SiteID,
			Status:          e.Status,
			CreatedAt:       e.CreatedAt,
			RepoURL:         e.RepoURL,
			RepoName:        e.RepoName,
			RepoID:          e.RepoID,
			Owner:           e.Owner,
			DeployURL:       e.DeployURL,
			DeployProjectID: e.DeployProjectID,
			DeploymentID:    e.DeploymentID,
			ContentSHA256:   e.ContentSHA256,
			DurationMs:      e.DurationMs,
			Meta:            datatypes.JSONMap(e.Meta),
		})
	}
}

func parseID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// idString accepts the id shapes handed to GetByID and Delete.
func idString(id any) string {
	switch v := id.(type) {
	case uuid.UUID:
		return v.String()
	case string:
		return v
	case interface{ String() string }:
		return v.String()
	default:
		return ""
	}
}
