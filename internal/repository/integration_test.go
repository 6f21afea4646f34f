package repository

import (
	"context"
	"testing"

	"github.com/pbn-studio/engine/pkg/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pbn"),
		postgres.WithUsername("pbn"),
		postgres.WithPassword("pbn"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := database.OpenGorm(ctx, database.GormOptions{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	s := NewGormStore(db)
	defer s.Close(ctx)
	require.NoError(t, s.Ping(ctx))

	exerciseUsers(t, s)
	exerciseProjects(t, s)
}

func TestMongoStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	ctr, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	db, err := database.OpenMongo(ctx, uri, "pbn_test")
	require.NoError(t, err)
	require.NoError(t, EnsureMongoIndexes(ctx, db))

	s := NewMongoStore(db)
	defer s.Close(ctx)
	require.NoError(t, s.Ping(ctx))

	exerciseUsers(t, s)
	exerciseProjects(t, s)
}
