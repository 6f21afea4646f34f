package repository

import (
	"context"
	"fmt"

	"github.com/pbn-studio/engine/pkg/config"
	"github.com/pbn-studio/engine/pkg/database"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"gorm.io/gorm"
)

// Store bundles the repositories of one backing database.
type Store struct {
	Users    UserRepository
	Projects ProjectRepository

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Users:    NewUserRepository(db),
		Projects: NewProjectRepository(db),
		ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		close: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

// NewMongoStore wraps an open mongo database.
func NewMongoStore(db *mongo.Database) *Store {
	return &Store{
		Users:    NewMongoUserRepository(db),
		Projects: NewMongoProjectRepository(db),
		ping: func(ctx context.Context) error {
			return db.Client().Ping(ctx, readpref.Primary())
		},
		close: func(ctx context.Context) error {
			return db.Client().Disconnect(ctx)
		},
	}
}

// OpenStore connects to the database selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.StoreDriver {
	case "mongo":
		db, err := database.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return NewMongoStore(db), nil
	case "postgres", "sqlite":
		db, err := database.OpenGorm(ctx, database.GormOptions{
			Driver:  cfg.StoreDriver,
			DSN:     cfg.DatabaseURL,
			Verbose: cfg.IsDevelopment(),
		})
		if err != nil {
			return nil, err
		}
		return NewGormStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}
