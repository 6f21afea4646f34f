package services

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/pbn-studio/engine/internal/models"
	"github.com/pbn-studio/engine/pkg/logger"
	"github.com/pbn-studio/engine/pkg/utils"
	"go.uber.org/zap"
)

// Cleaner removes everything a project run produced. Every step tolerates the
// artefact being gone already, so a cleanup can be repeated safely.
type Cleaner interface {
	Cleanup(ctx context.Context, project *models.Project) error
}

type ArtifactCleaner struct {
	repos    RepoHost
	deploys  DeployPlatform
	sitesDir string
}

func NewArtifactCleaner(repos RepoHost, deploys DeployPlatform, sitesDir string) *ArtifactCleaner {
	return &ArtifactCleaner{repos: repos, deploys: deploys, sitesDir: sitesDir}
}

var _ Cleaner = (*ArtifactCleaner)(nil)

// Cleanup deletes the local project directory, then the deployment project and the
// repository of every progress entry. It runs all steps and returns their failures joined.
func (c *ArtifactCleaner) Cleanup(ctx context.Context, project *models.Project) error {
	log := logger.L().With(zap.String("project_id", project.ID.String()))
	var errs []error

	dir := utils.ProjectDir(c.sitesDir, project.Name, project.ID)
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("cleanup: remove local files failed", zap.String("dir", dir), zap.Error(err))
		errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
	}

	for i := range project.Progress {
		e := &project.Progress[i]
		elog := log.With(zap.String("site_id", e.SiteID))

		if e.DeployProjectID != "" {
			if err := c.deploys.DeleteProject(ctx, e.DeployProjectID); err != nil {
				elog.Warn("cleanup: delete deployment project failed", zap.String("deploy_project_id", e.DeployProjectID), zap.Error(err))
				errs = append(errs, err)
			}
		}

		if e.RepoName == "" {
			continue
		}
		if e.Owner == "" {
			elog.Warn("cleanup: progress entry has no owner, repository left in place", zap.String("repo", e.RepoName))
			continue
		}
		if err := c.repos.DeleteRepo(ctx, e.Owner, e.RepoName); err != nil {
			elog.Warn("cleanup: delete repository failed", zap.String("repo", e.RepoName), zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		log.Info("cleanup finished", zap.Int("sites", len(project.Progress)))
	}
	return errors.Join(errs...)
}
