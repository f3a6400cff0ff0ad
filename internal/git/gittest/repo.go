// Package gittest builds throwaway repositories for tests.
package gittest

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Branch describes the files committed on one branch.
type Branch struct {
	Name  string
	Files map[string]string
}

// InitRepo creates a repository in dir. The first branch is committed from an
// empty tree; every further branch starts from the first branch's commit and
// adds or overwrites its own files.
func InitRepo(t testing.TB, dir string, branches ...Branch) *git.Repository {
	t.Helper()
	require.NotEmpty(t, branches)

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	base := plumbing.NewBranchReferenceName(branches[0].Name)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, base)))

	w, err := repo.Worktree()
	require.NoError(t, err)

	baseCommit := commitFiles(t, repo, w, dir, branches[0])
	for _, b := range branches[1:] {
		require.NoError(t, w.Checkout(&git.CheckoutOptions{
			Hash:   baseCommit,
			Branch: plumbing.NewBranchReferenceName(b.Name),
			Create: true,
			Force:  true,
		}))
		commitFiles(t, repo, w, dir, b)
	}
	return repo
}

func commitFiles(t testing.TB, repo *git.Repository, w *git.Worktree, dir string, b Branch) plumbing.Hash {
	t.Helper()
	paths := make([]string, 0, len(b.Files))
	for p := range b.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(b.Files[p]), 0o644))
		_, err := w.Add(p)
		require.NoError(t, err)
	}

	hash, err := w.Commit("commit on "+b.Name, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "Sweeper Test",
			Email: "test@example.com",
			When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	_, err = repo.CommitObject(hash)
	require.NoError(t, err)
	return hash
}
