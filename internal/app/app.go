// Package app holds the wiring shared by the api and worker processes.
package app

import (
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pbn-studio/engine/internal/integrations/github"
	"github.com/pbn-studio/engine/internal/integrations/gitpush"
	"github.com/pbn-studio/engine/internal/integrations/llm"
	"github.com/pbn-studio/engine/internal/integrations/readiness"
	"github.com/pbn-studio/engine/internal/integrations/restclient"
	"github.com/pbn-studio/engine/internal/integrations/vercel"
	"github.com/pbn-studio/engine/internal/services"
	"github.com/pbn-studio/engine/pkg/config"
	"github.com/pbn-studio/engine/pkg/logger"
)

const outboundTimeout = 30 * time.Second

// InitLogger builds the process logger, tee'd to a rotating file when LOG_FILE is set.
func InitLogger(cfg *config.Config) (*zap.Logger, error) {
	var opts []logger.Option
	if cfg.LogFile != "" {
		opts = append(opts, logger.WithFile(logger.FileOptions{
			Path:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
			Compress:   true,
		}))
	}
	return logger.Init(cfg.LogLevel, cfg.LogFormat, opts...)
}

// RedisOpt is the asynq connection for cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
}

// Integrations are the clients of the external services.
type Integrations struct {
	GitHub *github.Client
	Vercel *vercel.Client
	LLM    *llm.Client
	Git    *gitpush.Pusher
}

func outboundLimiter(rps float64) *rate.Limiter {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func NewIntegrations(cfg *config.Config) (*Integrations, error) {
	gh, err := github.NewFromToken(cfg.GitHubAPIURL, cfg.GitHubToken, restclient.Options{
		Timeout: outboundTimeout,
		Limiter: outboundLimiter(cfg.OutboundRPS),
	})
	if err != nil {
		return nil, err
	}
	vc, err := vercel.NewFromToken(cfg.VercelAPIURL, cfg.VercelToken, cfg.VercelTeamID, restclient.Options{
		Timeout: outboundTimeout,
		Limiter: outboundLimiter(cfg.OutboundRPS),
	})
	if err != nil {
		return nil, err
	}
	gen := llm.NewClient(llm.Options{
		APIKey:     cfg.AnthropicAPIKey,
		BaseURL:    cfg.AnthropicURL,
		Model:      cfg.LLMModel,
		MaxTokens:  cfg.LLMMaxTokens,
		MaxRetries: cfg.LLMMaxRetries,
		RetryDelay: cfg.LLMRetryDelay,
		Timeout:    cfg.LLMTimeout,
	})
	return &Integrations{GitHub: gh, Vercel: vc, LLM: gen, Git: gitpush.New()}, nil
}

func (i *Integrations) Cleaner(cfg *config.Config) *services.ArtifactCleaner {
	return services.NewArtifactCleaner(i.GitHub, i.Vercel, cfg.SitesDir)
}

func (i *Integrations) Pipeline(cfg *config.Config) *services.SitePipeline {
	return services.NewSitePipeline(i.LLM, i.GitHub, i.Vercel, i.Git, services.PipelineConfig{
		SitesDir:      cfg.SitesDir,
		GitToken:      cfg.GitHubToken,
		ExpectedOwner: cfg.GitHubOwner,
		PrivateRepos:  cfg.GitHubPrivate,
		Readiness: readiness.Config{
			MaxInterval: cfg.ReadinessMaxInterval,
			Timeout:     cfg.ReadinessTimeout,
		},
	})
}
