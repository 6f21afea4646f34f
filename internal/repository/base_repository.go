package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	appErr "github.com/pbn-studio/engine/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BaseRepository defines common CRUD operations.
type BaseRepository[T any] interface {
	Create(ctx context.Context, obj *T) error
	GetByID(ctx context.Context, id any, dest *T) error
	Update(ctx context.Context, obj *T) error
	Delete(ctx context.Context, id any) error
}

type baseRepository[T any] struct {
	db   *gorm.DB
	noun string
}

func NewBaseRepository[T any](db *gorm.DB, noun string) BaseRepository[T] {
	return &baseRepository[T]{db: db, noun: noun}
}

func (r *baseRepository[T]) Create(ctx context.Context, obj *T) error {
	if err := r.db.WithContext(ctx).Create(obj).Error; err != nil {
		if isDuplicate(err) {
			return appErr.Wrap(err, appErr.CodeAlreadyExists, r.noun+" already exists")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "create "+r.noun+" failed")
	}
	return nil
}

func (r *baseRepository[T]) GetByID(ctx context.Context, id any, dest *T) error {
	if err := r.db.WithContext(ctx).First(dest, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.New(appErr.CodeNotFound, r.noun+" not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get "+r.noun+" failed")
	}
	return nil
}

func (r *baseRepository[T]) Update(ctx context.Context, obj *T) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(obj).Error; err != nil {
		if isDuplicate(err) {
			return appErr.Wrap(err, appErr.CodeAlreadyExists, r.noun+" already exists")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "update "+r.noun+" failed")
	}
	return nil
}

func (r *baseRepository[T]) Delete(ctx context.Context, id any) error {
	var t T
	res := r.db.WithContext(ctx).Delete(&t, "id = ?", id)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "delete "+r.noun+" failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, fmt.Sprintf("%s %v not found", r.noun, id))
	}
	return nil
}

// isDuplicate reports unique-constraint violations. Drivers without gorm error
// translation surface them only in the message text.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
