package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pbn-studio/engine/internal/models"
	"github.com/pbn-studio/engine/pkg/utils"
)

func TestArtifactCleaner(t *testing.T) {
	dir := t.TempDir()
	repos := &mockRepoHost{}
	deploys := &mockDeployPlatform{}
	c := NewArtifactCleaner(repos, deploys, dir)

	p := &models.Project{ID: uuid.New(), Name: "cleanup me", Progress: []models.ProgressEntry{
		{SiteID: "a", RepoName: "site-a", Owner: "acme", DeployProjectID: "prj_a"},
		{SiteID: "b", RepoName: "site-b", Owner: "acme"},
		// legacy entry without an owner: its repository is left alone
		{SiteID: "c", RepoName: "site-c", DeployProjectID: "prj_c"},
	}}
	projectDir := utils.ProjectDir(dir, p.Name, p.ID)
	writeSiteFile(t, utils.SiteDir(projectDir, "a"))

	deploys.On("DeleteProject", mock.Anything, "prj_a").Return(nil).Once()
	deploys.On("DeleteProject", mock.Anything, "prj_c").Return(nil).Once()
	repos.On("DeleteRepo", mock.Anything, "acme", "site-a").Return(nil).Once()
	repos.On("DeleteRepo", mock.Anything, "acme", "site-b").Return(nil).Once()

	require.NoError(t, c.Cleanup(context.Background(), p))

	_, err := os.Stat(projectDir)
	assert.True(t, os.IsNotExist(err))
	repos.AssertExpectations(t)
	deploys.AssertExpectations(t)
	repos.AssertNotCalled(t, "DeleteRepo", mock.Anything, mock.Anything, "site-c")
}

func TestArtifactCleaner_ContinuesPastFailures(t *testing.T) {
	repos := &mockRepoHost{}
	deploys := &mockDeployPlatform{}
	c := NewArtifactCleaner(repos, deploys, t.TempDir())

	p := &models.Project{ID: uuid.New(), Name: "partial", Progress: []models.ProgressEntry{
		{SiteID: "a", RepoName: "site-a", Owner: "acme", DeployProjectID: "prj_a"},
		{SiteID: "b", RepoName: "site-b", Owner: "acme", DeployProjectID: "prj_b"},
	}}
	vercelDown := errors.New("vercel: 503")
	githubDown := errors.New("github: 502")
	deploys.On("DeleteProject", mock.Anything, "prj_a").Return(vercelDown).Once()
	deploys.On("DeleteProject", mock.Anything, "prj_b").Return(nil).Once()
	repos.On("DeleteRepo", mock.Anything, "acme", "site-a").Return(nil).Once()
	repos.On("DeleteRepo", mock.Anything, "acme", "site-b").Return(githubDown).Once()

	err := c.Cleanup(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, vercelDown)
	assert.ErrorIs(t, err, githubDown)
	repos.AssertExpectations(t)
	deploys.AssertExpectations(t)
}

func TestArtifactCleaner_EmptyProject(t *testing.T) {
	c := NewArtifactCleaner(&mockRepoHost{}, &mockDeployPlatform{}, t.TempDir())
	require.NoError(t, c.Cleanup(context.Background(), &models.Project{ID: uuid.New(), Name: "never-ran"}))
}

func TestArtifactCleaner_LeavesSimilarlyNamedProjectAlone(t *testing.T) {
	dir := t.TempDir()
	c := NewArtifactCleaner(&mockRepoHost{}, &mockDeployPlatform{}, dir)

	spaced := &models.Project{ID: uuid.New(), Name: "a b"}
	underscored := &models.Project{ID: uuid.New(), Name: "a_b"}
	keep := utils.SiteDir(utils.ProjectDir(dir, underscored.Name, underscored.ID), "pbn-1-1")
	writeSiteFile(t, keep)
	writeSiteFile(t, utils.SiteDir(utils.ProjectDir(dir, spaced.Name, spaced.ID), "pbn-2-1"))

	require.NoError(t, c.Cleanup(context.Background(), spaced))

	_, err := os.Stat(filepath.Join(keep, "index.html"))
	require.NoError(t, err, "cleanup of one project must not touch another project's sites")
	_, err = os.Stat(utils.ProjectDir(dir, spaced.Name, spaced.ID))
	assert.True(t, os.IsNotExist(err))
}
