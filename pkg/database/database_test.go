package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pbn-studio/engine/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init("error", "json"); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

func TestOpenGormSQLite(t *testing.T) {
	db, err := OpenGorm(context.Background(), GormOptions{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	require.Equal(t, 1, one)
}

func TestOpenGormUnknownDriver(t *testing.T) {
	_, err := OpenGorm(context.Background(), GormOptions{Driver: "oracle"})
	require.Error(t, err)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := OpenRedis(context.Background(), mr.Addr(), "")
	require.NoError(t, err)
	defer rdb.Close()

	_, err = OpenRedis(context.Background(), "127.0.0.1:1", "")
	require.Error(t, err)
}

func TestBackoffIsCapped(t *testing.T) {
	b := backoff{maxRetries: 5, delay: 500 * time.Millisecond, maxDelay: 5 * time.Second}
	require.Equal(t, 500*time.Millisecond, b.nextDelay(0))
	require.Equal(t, 2*time.Second, b.nextDelay(2))
	require.Equal(t, 5*time.Second, b.nextDelay(6))
}
