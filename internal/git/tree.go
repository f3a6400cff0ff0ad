package git

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const remotePrefix = "refs/remotes/origin/"

// Branch is a branch tip of a cloned repository.
type Branch struct {
	Name string
	Hash plumbing.Hash
}

// File is a regular file in a branch tree.
type File struct {
	Path string
	Blob plumbing.Hash
	Size int64
}

// normalizeBranch strips the ref prefixes an operator may type.
func normalizeBranch(branch string) string {
	ref := plumbing.ReferenceName(branch)
	switch {
	case ref.IsBranch(), ref.IsRemote():
		name := ref.Short()
		return strings.TrimPrefix(name, "origin/")
	}
	return branch
}

// Branches returns the remote-tracking branches of repo sorted by name,
// or only the one named by only. Repositories without remote-tracking refs
// fall back to their local branches.
func Branches(repo *git.Repository, only string) ([]Branch, error) {
	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}

	var remote, local []Branch
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name().String()
		switch {
		case strings.HasPrefix(name, remotePrefix):
			short := strings.TrimPrefix(name, remotePrefix)
			if short != "HEAD" {
				remote = append(remote, Branch{Name: short, Hash: ref.Hash()})
			}
		case ref.Name().IsBranch():
			local = append(local, Branch{Name: ref.Name().Short(), Hash: ref.Hash()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate references: %w", err)
	}

	branches := remote
	if len(branches) == 0 {
		branches = local
	}
	if len(branches) == 0 {
		return nil, ErrNoBranches
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })

	if only == "" {
		return branches, nil
	}
	want := normalizeBranch(only)
	for _, b := range branches {
		if b.Name == want {
			return []Branch{b}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrBranchNotFound, want)
}

// WalkFiles calls fn for every regular file in the tree of branch. Symlinks and
// submodules are skipped.
func WalkFiles(repo *git.Repository, branch Branch, fn func(File) error) error {
	commit, err := repo.CommitObject(branch.Hash)
	if err != nil {
		return fmt.Errorf("failed to load commit of branch %q: %w", branch.Name, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("failed to load tree of branch %q: %w", branch.Name, err)
	}

	return tree.Files().ForEach(func(f *object.File) error {
		if f.Mode == filemode.Symlink || f.Mode == filemode.Submodule {
			return nil
		}
		return fn(File{Path: f.Name, Blob: f.Hash, Size: f.Size})
	})
}

// ReadBlob returns the content of a blob. A positive maxSize rejects larger
// blobs with ErrBlobTooLarge before reading them.
func ReadBlob(repo *git.Repository, hash plumbing.Hash, maxSize int64) ([]byte, error) {
	blob, err := repo.BlobObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %s: %w", hash, err)
	}
	if maxSize > 0 && blob.Size > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrBlobTooLarge, blob.Size, maxSize)
	}

	r, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", hash, err)
	}
	return data, nil
}
