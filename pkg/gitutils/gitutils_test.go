package gitutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuthor = &object.Signature{
	Name:  "Arch Tester",
	Email: "tester@example.com",
	When:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
}

func initRepo(t *testing.T) (string, *WorkTree) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("original\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("file.txt")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{Author: testAuthor})
	require.NoError(t, err)

	w, err := Open(dir)
	require.NoError(t, err)
	return dir, w
}

func TestOpenNonRepo(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.Error(t, err)
}

func TestOpenSubdirectory(t *testing.T) {
	dir, _ := initRepo(t)
	sub := filepath.Join(dir, "app-misc", "frobnicate")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	w, err := Open(sub)
	require.NoError(t, err)
	assert.Equal(t, dir, w.Path())
}

func TestBeginRefusesDirtyTree(t *testing.T) {
	dir, w := initRepo(t)
	require.NoError(t, w.Begin())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"),
		[]byte("modified\n"), 0o644))
	assert.ErrorIs(t, w.Begin(), ErrDirtyWorkTree)
}

func TestBeginIgnoresUntracked(t *testing.T) {
	dir, w := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.txt"),
		[]byte("notes\n"), 0o644))
	assert.NoError(t, w.Begin())
}

func TestRestoreRevertsModifications(t *testing.T) {
	dir, w := initRepo(t)
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("modified\n"), 0o644))

	require.NoError(t, w.Restore())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(data))
}

func TestCommit(t *testing.T) {
	dir, w := initRepo(t)
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("modified\n"), 0o644))

	hash, err := w.Commit("app-misc/frobnicate: Stabilize 1.2.3 amd64, #100001",
		[]string{"file.txt"}, testAuthor)
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	dirty, err := w.IsDirty()
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestCommitNoChanges(t *testing.T) {
	_, w := initRepo(t)
	_, err := w.Commit("message", []string{"file.txt"}, testAuthor)
	assert.ErrorIs(t, err, ErrNoChanges)
}
