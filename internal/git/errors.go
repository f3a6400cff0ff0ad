package git

import (
	"errors"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Tree walk errors
var (
	ErrBranchNotFound = errors.New("branch not found in repository")
	ErrNoBranches     = errors.New("repository has no branches")
	ErrBlobTooLarge   = errors.New("blob exceeds the maximum content size")
)

// IsEmptyRepository reports whether err means the repository holds no commits.
func IsEmptyRepository(err error) bool {
	return errors.Is(err, transport.ErrEmptyRemoteRepository) || errors.Is(err, ErrNoBranches)
}
