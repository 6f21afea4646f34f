package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SiteStatusDeployed marks a site whose production deployment was triggered.
const SiteStatusDeployed = "deployed"

// ProgressEntry records one generated and deployed site.
type ProgressEntry struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID       uuid.UUID `gorm:"type:uuid;index;not null;uniqueIndex:idx_progress_project_position" json:"-"`
	Position        int       `gorm:"not null;uniqueIndex:idx_progress_project_position" json:"position"`
	SiteID          string    `gorm:"not null" json:"site_id"`
	Status          string    `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	RepoURL         string    `json:"repo_url"`
	RepoName        string    `json:"repo_name"`
	RepoID          int64     `json:"repo_id"`
	Owner           string    `gorm:"not null" json:"owner" validate:"required"`
	DeployURL       string    `json:"deploy_url"`
	DeployProjectID string    `json:"deploy_project_id"`
	DeploymentID    string    `json:"deployment_id"`
	ContentSHA256   string    `json:"content_sha256"`
	DurationMs      int64     `json:"duration_ms"`

	// Meta keeps provider details that are shown but never queried, e.g. the pushed branch.
	Meta datatypes.JSONMap `json:"meta,omitempty"`
}

// TableName keeps the table name stable regardless of gorm's pluralisation rules.
func (ProgressEntry) TableName() string { return "progress_entries" }

// BeforeCreate assigns an id when the caller did not.
func (e *ProgressEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
