package utils

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestHexSHA256(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HexSHA256(nil))
}

func TestSiteNaming(t *testing.T) {
	now := time.UnixMilli(1718000000123)
	id := NewSiteID(now, 2)
	assert.Equal(t, "pbn-1718000000123-2", id)
	assert.Equal(t, "site-pbn-1718000000123-2", RepoName(id))
}

func TestProjectDirStaysUnderRoot(t *testing.T) {
	root := filepath.Join("var", "sites")
	id := uuid.MustParse("4b6f1c1e-7d1a-4c57-9c3e-0e7f2b9a1d22")
	assert.Equal(t, filepath.Join(root, "dental_clinics-"+id.String()), ProjectDir(root, "dental clinics", id))
	assert.Equal(t, filepath.Join(root, "etc_passwd-"+id.String()), ProjectDir(root, "../etc/passwd", id))
	assert.Equal(t, filepath.Join(root, id.String()), ProjectDir(root, "..", id))
	assert.Equal(t, filepath.Join(root, "blog-"+id.String(), "site-pbn-1-1"), SiteDir(ProjectDir(root, "blog", id), "pbn-1-1"))
}

func TestProjectDirUniquePerProject(t *testing.T) {
	root := t.TempDir()
	seen := map[string]string{}
	for _, name := range []string{"a b", "a_b", "a/b", "a:b"} {
		dir := ProjectDir(root, name, uuid.New())
		prev, dup := seen[dir]
		assert.False(t, dup, "%q and %q share %s", name, prev, dir)
		seen[dir] = name
		assert.Equal(t, root, filepath.Dir(dir))
	}

	id := uuid.New()
	assert.Equal(t, ProjectDir(root, "a b", id), ProjectDir(root, "a b", id), "stable for the same project")
}
