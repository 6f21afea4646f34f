package services

import (
	"context"

	"github.com/pbn-studio/engine/internal/integrations/github"
	"github.com/pbn-studio/engine/internal/integrations/gitpush"
	"github.com/pbn-studio/engine/internal/integrations/vercel"
)

// RepoHost is the subset of the repository host API the pipeline needs.
type RepoHost interface {
	CreateRepo(ctx context.Context, name string, private bool) (*github.Repo, error)
	GetRepo(ctx context.Context, owner, name string) (*github.Repo, error)
	DeleteRepo(ctx context.Context, owner, name string) error
	ListContents(ctx context.Context, owner, name, ref string) ([]github.ContentItem, error)
}

// DeployPlatform is the subset of the deployment platform API the pipeline needs.
type DeployPlatform interface {
	CreateProject(ctx context.Context, name string, repo vercel.GitRepo) (*vercel.Project, error)
	TriggerDeployment(ctx context.Context, name string, repo vercel.GitRepo, ref string) (string, error)
	DeleteProject(ctx context.Context, projectID string) error
}

type GitPusher interface {
	Push(ctx context.Context, req gitpush.PushRequest) error
}

var (
	_ RepoHost       = (*github.Client)(nil)
	_ DeployPlatform = (*vercel.Client)(nil)
	_ GitPusher      = (*gitpush.Pusher)(nil)
)
