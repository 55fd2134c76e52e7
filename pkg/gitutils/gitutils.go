// Package gitutils wraps the git operations the engine needs: scoping
// keyword edits to a clean work tree, restoring it afterwards and
// committing per-package changes.
package gitutils

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var (
	// ErrDirtyWorkTree refuses to touch a tree with local modifications
	// that a restore would wipe.
	ErrDirtyWorkTree = errors.New("working tree is dirty")
	// ErrNoChanges is returned by Commit when the given files carry no
	// modifications.
	ErrNoChanges = errors.New("no changes to commit")
)

// WorkTree is an open git checkout.
type WorkTree struct {
	path string
	repo *git.Repository
	wt   *git.Worktree
}

// Open locates the repository containing path.
func Open(path string) (*WorkTree, error) {
	repo, err := git.PlainOpenWithOptions(path,
		&git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%s is not a git repository: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	return &WorkTree{path: wt.Filesystem.Root(), repo: repo, wt: wt}, nil
}

// Path returns the top-level working tree directory.
func (w *WorkTree) Path() string {
	return w.path
}

// IsDirty reports whether tracked files have local modifications.
// Untracked files do not count; a restore leaves them alone.
func (w *WorkTree) IsDirty() (bool, error) {
	status, err := w.wt.Status()
	if err != nil {
		return false, err
	}
	for _, st := range status {
		if st.Worktree != git.Unmodified && st.Worktree != git.Untracked {
			return true, nil
		}
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}

// Begin verifies the tree is clean so a later Restore cannot destroy
// anything.
func (w *WorkTree) Begin() error {
	dirty, err := w.IsDirty()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("%w: %s", ErrDirtyWorkTree, w.path)
	}
	return nil
}

// Restore discards all tracked modifications, reverting keyword edits made
// for a check.
func (w *WorkTree) Restore() error {
	head, err := w.repo.Head()
	if err != nil {
		return err
	}
	return w.wt.Reset(&git.ResetOptions{
		Commit: head.Hash(),
		Mode:   git.HardReset,
	})
}

// Commit records the given files (paths relative to the tree top) with the
// message. A nil author falls back to the checkout's git config. Returns
// the new commit hash.
func (w *WorkTree) Commit(message string, files []string, author *object.Signature) (string, error) {
	changed := false
	status, err := w.wt.Status()
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if st, ok := status[f]; ok && st.Worktree != git.Unmodified {
			changed = true
		}
		if _, err := w.wt.Add(f); err != nil {
			return "", fmt.Errorf("adding %s: %w", f, err)
		}
	}
	if !changed {
		return "", ErrNoChanges
	}
	hash, err := w.wt.Commit(message, &git.CommitOptions{Author: author})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", ErrNoChanges
		}
		return "", err
	}
	return hash.String(), nil
}
