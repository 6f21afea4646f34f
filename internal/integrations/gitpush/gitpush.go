// Package gitpush publishes a local directory to a remote repository with the git CLI.
package gitpush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// Commit identity used for generated sites.
const (
	authorName  = "pbn-engine"
	authorEmail = "pbn-engine@users.noreply.github.com"
)

type Pusher struct {
	gitBin string
}

func New() *Pusher {
	return &Pusher{gitBin: "git"}
}

// PushRequest describes one initial commit pushed to an empty remote.
type PushRequest struct {
	Dir       string
	RemoteURL string
	Branch    string
	Token     string
	Message   string
}

// Push initialises Dir as a repository, commits everything in it on Branch and
// pushes to RemoteURL. Token is embedded in the remote URL and never appears in errors.
func (p *Pusher) Push(ctx context.Context, req PushRequest) error {
	if req.Branch == "" {
		req.Branch = "main"
	}
	if req.Message == "" {
		req.Message = "Add site"
	}
	remote, err := authRemote(req.RemoteURL, req.Token)
	if err != nil {
		return err
	}
	redact := func(s string) string {
		if req.Token == "" {
			return s
		}
		return strings.ReplaceAll(s, req.Token, "***")
	}

	steps := [][]string{
		{"init", "--quiet"},
		{"checkout", "-B", req.Branch},
		{"add", "--all"},
		{"-c", "user.name=" + authorName, "-c", "user.email=" + authorEmail, "commit", "--quiet", "-m", req.Message},
		{"push", "--quiet", "--set-upstream", remote, req.Branch},
	}
	for _, args := range steps {
		if err := p.run(ctx, req.Dir, args...); err != nil {
			return errors.New(redact(err.Error()))
		}
	}
	return nil
}

func (p *Pusher) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, p.gitBin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// authRemote injects token into an https remote; other schemes are returned as is.
func authRemote(remote, token string) (string, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	if token == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return remote, nil
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}
