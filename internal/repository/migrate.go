package repository

import (
	"github.com/pbn-studio/engine/internal/models"
	"gorm.io/gorm"
)

// Models returns every model managed by gorm, in dependency order.
func Models() []any {
	return []any{
		&models.User{},
		&models.Project{},
		&models.ProgressEntry{},
	}
}

// AutoMigrate creates or updates the relational schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
