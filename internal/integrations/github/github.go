// Package github talks to the GitHub REST API on behalf of the token owner.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v69/github"

	"github.com/pbn-studio/engine/internal/integrations/restclient"
)

type Repo struct {
	ID            int64
	Name          string
	FullName      string
	CloneURL      string
	HTMLURL       string
	DefaultBranch string
	Private       bool
	Owner         struct {
		Login string
	}
}

// ContentItem is one entry of a directory listing.
type ContentItem struct {
	Name string
	Path string
	Type string
	SHA  string
}

type Client struct {
	gh *gh.Client
}

func New(client *gh.Client) *Client {
	return &Client{gh: client}
}

// NewFromToken builds a client for baseURL authenticated with a personal access token.
// The token and opts.Limiter are applied by the shared outbound transport.
func NewFromToken(baseURL, token string, opts restclient.Options) (*Client, error) {
	opts.Token = token
	client := gh.NewClient(restclient.HTTPClient(opts))
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		client.BaseURL = u
	}
	return New(client), nil
}

// CreateRepo creates an empty repository for the authenticated user.
func (c *Client) CreateRepo(ctx context.Context, name string, private bool) (*Repo, error) {
	in := &gh.Repository{
		Name:     gh.Ptr(name),
		Private:  gh.Ptr(private),
		AutoInit: gh.Ptr(false),
	}
	out, resp, err := c.gh.Repositories.Create(ctx, "", in)
	if err != nil {
		return nil, fmt.Errorf("create repo %s: %w", name, statusError(resp, err))
	}
	return toRepo(out), nil
}

func (c *Client) GetRepo(ctx context.Context, owner, name string) (*Repo, error) {
	out, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("get repo %s/%s: %w", owner, name, statusError(resp, err))
	}
	return toRepo(out), nil
}

// DeleteRepo removes a repository. A repository that is already gone is not an error.
func (c *Client) DeleteRepo(ctx context.Context, owner, name string) error {
	resp, err := c.gh.Repositories.Delete(ctx, owner, name)
	if err == nil {
		return nil
	}
	err = statusError(resp, err)
	if restclient.IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("delete repo %s/%s: %w", owner, name, err)
}

// ListContents lists the root directory of the repository at ref.
func (c *Client) ListContents(ctx context.Context, owner, name, ref string) ([]ContentItem, error) {
	var opts *gh.RepositoryContentGetOptions
	if ref != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: ref}
	}
	file, dir, resp, err := c.gh.Repositories.GetContents(ctx, owner, name, "", opts)
	if err != nil {
		return nil, fmt.Errorf("list contents %s/%s: %w", owner, name, statusError(resp, err))
	}
	if file != nil {
		dir = append(dir, file)
	}
	out := make([]ContentItem, 0, len(dir))
	for _, it := range dir {
		out = append(out, ContentItem{Name: it.GetName(), Path: it.GetPath(), Type: it.GetType(), SHA: it.GetSHA()})
	}
	return out, nil
}

func toRepo(r *gh.Repository) *Repo {
	out := &Repo{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		CloneURL:      r.GetCloneURL(),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
	}
	out.Owner.Login = r.GetOwner().GetLogin()
	return out
}

// statusError maps API failures onto restclient.StatusError so callers classify GitHub
// and Vercel responses the same way. Transport errors pass through unchanged.
func statusError(resp *gh.Response, err error) error {
	var code int
	var method, path string
	var er *gh.ErrorResponse
	switch {
	case errors.As(err, &er) && er.Response != nil:
		code = er.Response.StatusCode
		if er.Response.Request != nil {
			method, path = er.Response.Request.Method, er.Response.Request.URL.Path
		}
	case resp != nil && resp.Response != nil && resp.StatusCode >= http.StatusBadRequest:
		code = resp.StatusCode
		if resp.Request != nil {
			method, path = resp.Request.Method, resp.Request.URL.Path
		}
	default:
		return err
	}
	msg := err.Error()
	if er != nil && er.Message != "" {
		msg = er.Message
	}
	return &restclient.StatusError{Method: method, URL: path, StatusCode: code, Body: msg}
}
