package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
	// StatusDeleting is only ever broadcast, never persisted.
	StatusDeleting = "deleting"
)

// Project is a batch of sites generated from the same prompts.
type Project struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string          `gorm:"uniqueIndex;not null" json:"name" validate:"required"`
	SystemPrompt    string          `gorm:"type:text;not null" json:"system_prompt" validate:"required"`
	UserPrompt      string          `gorm:"type:text;not null" json:"user_prompt" validate:"required"`
	SiteCount       int             `gorm:"not null" json:"site_count" validate:"gte=1"`
	IntervalSeconds int             `gorm:"not null" json:"interval_seconds" validate:"gte=1"`
	Status          string          `gorm:"type:varchar(16);index;not null;default:pending" json:"status" validate:"oneof=pending running completed error"`
	IsRunning       bool            `gorm:"not null;default:false;index" json:"is_running"`
	NextRunAt       *time.Time      `gorm:"index" json:"next_run_at,omitempty"`
	RunID           string          `gorm:"type:varchar(36)" json:"run_id,omitempty"`
	LastError       string          `gorm:"type:text" json:"last_error,omitempty"`
	Progress        []ProgressEntry `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"progress"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Interval returns the delay between two site ticks.
func (p *Project) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// Done reports whether the run has produced every requested site.
func (p *Project) Done() bool {
	return len(p.Progress) >= p.SiteCount
}

// BeforeCreate assigns an id when the caller did not.
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
