// Package vercel creates and deploys projects on the Vercel platform.
package vercel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pbn-studio/engine/internal/integrations/restclient"
)

// Project is a deployment project bound to a git repository.
type Project struct {
	ID  string
	URL string
}

// GitRepo identifies the GitHub repository a project builds from.
type GitRepo struct {
	Owner  string
	Name   string
	RepoID int64
}

func (g GitRepo) slug() string { return g.Owner + "/" + g.Name }

type Client struct {
	rest   *restclient.Client
	teamID string
}

func New(rest *restclient.Client, teamID string) *Client {
	return &Client{rest: rest, teamID: teamID}
}

func NewFromToken(baseURL, token, teamID string, opts restclient.Options) (*Client, error) {
	opts.BaseURL = baseURL
	opts.Token = token
	rc, err := restclient.New(opts)
	if err != nil {
		return nil, err
	}
	return New(rc, teamID), nil
}

func (c *Client) query() url.Values {
	if c.teamID == "" {
		return nil
	}
	return url.Values{"teamId": {c.teamID}}
}

type createProjectRequest struct {
	Name            string  `json:"name"`
	Framework       *string `json:"framework"`
	BuildCommand    *string `json:"buildCommand"`
	InstallCommand  *string `json:"installCommand"`
	OutputDirectory *string `json:"outputDirectory"`
	GitRepository   struct {
		Type   string `json:"type"`
		Repo   string `json:"repo"`
		RepoID int64  `json:"repoId,omitempty"`
	} `json:"gitRepository"`
}

// CreateProject creates a static project (no framework, no build) linked to repo.
func (c *Client) CreateProject(ctx context.Context, name string, repo GitRepo) (*Project, error) {
	in := createProjectRequest{Name: name}
	in.GitRepository.Type = "github"
	in.GitRepository.Repo = repo.slug()
	in.GitRepository.RepoID = repo.RepoID

	var out struct {
		ID      string   `json:"id"`
		Name    string   `json:"name"`
		Domains []string `json:"domains"`
		Targets struct {
			Production struct {
				Alias []string `json:"alias"`
			} `json:"production"`
		} `json:"targets"`
	}
	if err := c.rest.Do(ctx, http.MethodPost, "/v10/projects", c.query(), in, &out); err != nil {
		return nil, fmt.Errorf("create vercel project %s: %w", name, err)
	}

	domain := name + ".vercel.app"
	switch {
	case len(out.Domains) > 0:
		domain = out.Domains[0]
	case len(out.Targets.Production.Alias) > 0:
		domain = out.Targets.Production.Alias[0]
	}
	return &Project{ID: out.ID, URL: "https://" + domain}, nil
}

// TriggerDeployment starts a production deployment of ref and returns its id.
func (c *Client) TriggerDeployment(ctx context.Context, name string, repo GitRepo, ref string) (string, error) {
	in := map[string]any{
		"name":   name,
		"target": "production",
		"gitSource": map[string]any{
			"type":   "github",
			"repo":   repo.slug(),
			"repoId": repo.RepoID,
			"ref":    ref,
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.rest.Do(ctx, http.MethodPost, "/v13/deployments", c.query(), in, &out); err != nil {
		return "", fmt.Errorf("trigger deployment %s: %w", name, err)
	}
	return out.ID, nil
}

// DeleteProject removes a project and its deployments. Missing projects are ignored.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	err := c.rest.Do(ctx, http.MethodDelete, "/v10/projects/"+url.PathEscape(projectID), c.query(), nil, nil)
	if err != nil && !restclient.IsNotFound(err) {
		return fmt.Errorf("delete vercel project %s: %w", projectID, err)
	}
	return nil
}
