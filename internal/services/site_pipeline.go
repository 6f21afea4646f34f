package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pbn-studio/engine/internal/integrations/github"
	"github.com/pbn-studio/engine/internal/integrations/gitpush"
	"github.com/pbn-studio/engine/internal/integrations/llm"
	"github.com/pbn-studio/engine/internal/integrations/readiness"
	"github.com/pbn-studio/engine/internal/integrations/restclient"
	"github.com/pbn-studio/engine/internal/integrations/vercel"
	"github.com/pbn-studio/engine/internal/models"
	"github.com/pbn-studio/engine/pkg/logger"
	"github.com/pbn-studio/engine/pkg/utils"
	"go.uber.org/zap"
)

const (
	indexFile     = "index.html"
	defaultBranch = "main"
	commitMessage = "Add PBN page"
	compensateTTL = 30 * time.Second
)

// SiteCreator builds one site end to end and returns its progress entry.
type SiteCreator interface {
	CreateSite(ctx context.Context, project *models.Project, siteID string) (*models.ProgressEntry, error)
}

type PipelineConfig struct {
	SitesDir string
	// GitToken authenticates the push; it is the same token the repository host client uses.
	GitToken string
	// ExpectedOwner only triggers a warning when the created repository lands elsewhere.
	ExpectedOwner string
	PrivateRepos  bool
	Readiness     readiness.Config
}

// SitePipeline generates a page, publishes it to a new repository and deploys it.
type SitePipeline struct {
	gen     llm.Generator
	repos   RepoHost
	deploys DeployPlatform
	git     GitPusher
	cfg     PipelineConfig
	now     func() time.Time
}

func NewSitePipeline(gen llm.Generator, repos RepoHost, deploys DeployPlatform, git GitPusher, cfg PipelineConfig) *SitePipeline {
	return &SitePipeline{gen: gen, repos: repos, deploys: deploys, git: git, cfg: cfg, now: time.Now}
}

var _ SiteCreator = (*SitePipeline)(nil)

// StepError names the pipeline step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

func step(name string, err error) error {
	return &StepError{Step: name, Err: err}
}

// CreateSite runs every step for siteID. If a later step fails, the repository and
// deployment project created by earlier steps are removed before returning.
func (p *SitePipeline) CreateSite(ctx context.Context, project *models.Project, siteID string) (entry *models.ProgressEntry, err error) {
	start := p.now()
	log := logger.L().With(zap.String("project_id", project.ID.String()), zap.String("site_id", siteID))
	repoName := utils.RepoName(siteID)

	var (
		repo      *github.Repo
		deployPrj *vercel.Project
	)
	defer func() {
		if err != nil {
			p.compensate(ctx, log, repo, deployPrj)
		}
	}()

	log.Info("generating page")
	html, err := p.gen.GenerateHTML(ctx, project.SystemPrompt, project.UserPrompt)
	if err != nil {
		return nil, step("generate html", err)
	}

	siteDir := utils.SiteDir(utils.ProjectDir(p.cfg.SitesDir, project.Name, project.ID), siteID)
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		return nil, step("write files", err)
	}
	if err := os.WriteFile(filepath.Join(siteDir, indexFile), []byte(html), 0o644); err != nil {
		return nil, step("write files", err)
	}
	log.Debug("page written", zap.String("dir", siteDir), zap.Int("bytes", len(html)))

	log.Info("creating repository", zap.String("repo", repoName))
	repo, err = p.repos.CreateRepo(ctx, repoName, p.cfg.PrivateRepos)
	if err != nil {
		return nil, step("create repository", err)
	}
	if repo.Name == "" {
		repo.Name = repoName
	}
	owner := repo.Owner.Login
	if owner == "" {
		return nil, step("create repository", fmt.Errorf("repository %s has no owner", repoName))
	}
	if p.cfg.ExpectedOwner != "" && owner != p.cfg.ExpectedOwner {
		log.Warn("repository owner differs from configured owner", zap.String("owner", owner), zap.String("expected", p.cfg.ExpectedOwner))
	}

	branch := repo.DefaultBranch
	err = readiness.WaitFor(ctx, p.cfg.Readiness, func(ctx context.Context) (bool, error) {
		r, err := p.repos.GetRepo(ctx, owner, repoName)
		if err != nil {
			return false, probeError(err)
		}
		if r.DefaultBranch != "" {
			branch = r.DefaultBranch
		}
		return true, nil
	})
	if err != nil {
		return nil, step("wait for repository", err)
	}
	if branch == "" {
		branch = defaultBranch
	}

	log.Info("pushing page", zap.String("branch", branch))
	if err := p.git.Push(ctx, gitpush.PushRequest{
		Dir:       siteDir,
		RemoteURL: repo.CloneURL,
		Branch:    branch,
		Token:     p.cfg.GitToken,
		Message:   commitMessage,
	}); err != nil {
		return nil, step("push", err)
	}

	err = readiness.WaitFor(ctx, p.cfg.Readiness, func(ctx context.Context) (bool, error) {
		items, err := p.repos.ListContents(ctx, owner, repoName, branch)
		if err != nil {
			return false, probeError(err)
		}
		for _, it := range items {
			if it.Name == indexFile {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, step("wait for contents", err)
	}

	gitRepo := vercel.GitRepo{Owner: owner, Name: repoName, RepoID: repo.ID}
	log.Info("creating deployment project")
	deployPrj, err = p.deploys.CreateProject(ctx, repoName, gitRepo)
	if err != nil {
		return nil, step("create deployment project", err)
	}
	deploymentID, err := p.deploys.TriggerDeployment(ctx, repoName, gitRepo, branch)
	if err != nil {
		return nil, step("trigger deployment", err)
	}

	done := p.now()
	log.Info("site deployed", zap.String("url", deployPrj.URL), zap.Duration("took", done.Sub(start)))
	return &models.ProgressEntry{
		SiteID:          siteID,
		Status:          models.SiteStatusDeployed,
		CreatedAt:       done.UTC(),
		RepoURL:         repo.CloneURL,
		RepoName:        repoName,
		RepoID:          repo.ID,
		Owner:           owner,
		DeployURL:       deployPrj.URL,
		DeployProjectID: deployPrj.ID,
		DeploymentID:    deploymentID,
		ContentSHA256:   utils.HexSHA256([]byte(html)),
		DurationMs:      done.Sub(start).Milliseconds(),
		Meta: map[string]any{
			"branch":   branch,
			"html_url": repo.HTMLURL,
			"bytes":    len(html),
		},
	}, nil
}

// probeError keeps polling on 404 and 409 (a repository that is still empty) and
// gives up at once when the token is rejected.
func probeError(err error) error {
	switch restclient.StatusCode(err) {
	case http.StatusNotFound, http.StatusConflict:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return readiness.Permanent(err)
	}
	return err
}

func (p *SitePipeline) compensate(ctx context.Context, log *zap.Logger, repo *github.Repo, deployPrj *vercel.Project) {
	if repo == nil && deployPrj == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTTL)
	defer cancel()

	if deployPrj != nil && deployPrj.ID != "" {
		if err := p.deploys.DeleteProject(ctx, deployPrj.ID); err != nil {
			log.Warn("rollback: delete deployment project failed", zap.String("deploy_project_id", deployPrj.ID), zap.Error(err))
		}
	}
	if repo != nil && repo.Owner.Login != "" {
		if err := p.repos.DeleteRepo(ctx, repo.Owner.Login, repo.Name); err != nil {
			log.Warn("rollback: delete repository failed", zap.String("repo", repo.Name), zap.Error(err))
		}
	}
}
