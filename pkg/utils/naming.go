package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSiteID returns the identifier of the n-th site (1-based) of a run, e.g. "pbn-1718000000000-3".
func NewSiteID(now time.Time, n int) string {
	return fmt.Sprintf("pbn-%d-%d", now.UnixMilli(), n)
}

// RepoName is the repository and hosting-project name used for a site.
func RepoName(siteID string) string {
	return "site-" + siteID
}

var unsafeDirChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ProjectDir returns the local working directory for a project under root, named
// "<slug>-<id>". The slug only keeps the directory readable: names are free text and
// anything outside [a-zA-Z0-9._-] collapses to "_", so the id is what keeps it unique.
func ProjectDir(root, projectName string, projectID uuid.UUID) string {
	slug := unsafeDirChars.ReplaceAllString(projectName, "_")
	slug = strings.Trim(slug, "._")
	if slug == "" {
		return filepath.Join(root, projectID.String())
	}
	return filepath.Join(root, slug+"-"+projectID.String())
}

// SiteDir returns the directory holding a single generated site.
func SiteDir(projectDir, siteID string) string {
	return filepath.Join(projectDir, RepoName(siteID))
}
