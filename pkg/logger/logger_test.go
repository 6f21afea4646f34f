package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownFormat(t *testing.T) {
	_, err := Init("info", "xml")
	require.Error(t, err)

	_, err = Init("loud", "json")
	require.Error(t, err)
}

func TestInitWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l, err := Init("debug", "json", WithFile(FileOptions{Path: path, MaxSizeMB: 1}))
	require.NoError(t, err)

	l.Info("site created")
	Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "site created")
}
