package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pbn-studio/engine/internal/app"
	"github.com/pbn-studio/engine/internal/repository"
	"github.com/pbn-studio/engine/pkg/config"
	"github.com/pbn-studio/engine/pkg/database"
	"github.com/pbn-studio/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := app.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.StoreDriver {
	case "mongo":
		db, err := database.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatal("failed to connect to mongo", zap.Error(err))
		}
		defer func() { _ = db.Client().Disconnect(context.Background()) }()
		if err := repository.EnsureMongoIndexes(ctx, db); err != nil {
			log.Fatal("index creation failed", zap.Error(err))
		}
	default:
		db, err := database.OpenGorm(ctx, database.GormOptions{Driver: cfg.StoreDriver, DSN: cfg.DatabaseURL, Verbose: true})
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		if err := repository.AutoMigrate(db); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
	}

	log.Info("migrations completed", zap.String("store", cfg.StoreDriver))
	fmt.Fprintln(os.Stdout, "migrations completed")
}
