package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbn-studio/engine/pkg/config"
	"github.com/pbn-studio/engine/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		LogLevel:             "debug",
		LogFormat:            "json",
		LogFile:              filepath.Join(t.TempDir(), "engine.log"),
		LogMaxSizeMB:         1,
		RedisAddr:            "127.0.0.1:6379",
		GitHubAPIURL:         "https://api.github.com",
		GitHubToken:          "ghp_test",
		VercelAPIURL:         "https://api.vercel.com",
		VercelToken:          "vc_test",
		LLMModel:             "claude-sonnet-4-5",
		LLMMaxTokens:         4096,
		LLMMaxRetries:        3,
		LLMRetryDelay:        time.Second,
		LLMTimeout:           time.Minute,
		SitesDir:             t.TempDir(),
		ReadinessTimeout:     time.Minute,
		ReadinessMaxInterval: time.Second,
		OutboundRPS:          0.5,
	}
}

func TestInitLoggerWithFile(t *testing.T) {
	cfg := testConfig(t)
	log, err := InitLogger(cfg)
	require.NoError(t, err)
	log.Info("hello")
	logger.Sync()
	assert.FileExists(t, cfg.LogFile)
}

func TestNewIntegrations(t *testing.T) {
	cfg := testConfig(t)
	in, err := NewIntegrations(cfg)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", in.LLM.Model())
	assert.NotNil(t, in.Cleaner(cfg))
	assert.NotNil(t, in.Pipeline(cfg))
	assert.Equal(t, cfg.RedisAddr, RedisOpt(cfg).Addr)
	assert.Equal(t, 1, outboundLimiter(cfg.OutboundRPS).Burst())
}
