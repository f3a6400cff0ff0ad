package git

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/scan-io-git/sweeper/internal/logger"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
)

// Clone fetches every branch of cloneURL into targetFolder without checking out
// a worktree. Transient failures are retried after the folder is wiped; each
// attempt is bounded by the git_client timeout.
func (c *Client) Clone(ctx context.Context, cloneURL, targetFolder string) (*git.Repository, error) {
	output := logger.GetLoggerOutput(c.logger)

	var repo *git.Repository
	err := c.policy.Do(ctx, "git clone", func() error {
		if err := os.RemoveAll(targetFolder); err != nil {
			return fmt.Errorf("failed to clean target folder %q: %w", targetFolder, err)
		}

		cloneCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		c.logger.Debug("starting repository clone", "cloneURL", cloneURL, "targetFolder", targetFolder, "depth", c.depth)
		r, err := git.PlainCloneContext(cloneCtx, targetFolder, false, &git.CloneOptions{
			Auth:            c.auth,
			URL:             cloneURL,
			Progress:        output,
			Depth:           c.depth,
			NoCheckout:      true,
			InsecureSkipTLS: c.insecureTLS,
		})
		if err != nil {
			return classifyCloneError(ctx, err)
		}
		repo = r
		return nil
	})
	if err != nil {
		c.logger.Error("error occurred during clone", "cloneURL", cloneURL, "targetFolder", targetFolder, "error", err)
		return nil, fmt.Errorf("error occurred during clone: %w", err)
	}

	c.logger.Debug("repository cloned", "cloneURL", cloneURL, "targetFolder", targetFolder)
	return repo, nil
}

// classifyCloneError marks failures that another attempt cannot fix as
// permanent and everything else as transient. A clone that hit its own
// timeout while the run is still alive is transient.
func classifyCloneError(parent context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.Is(err, transport.ErrInvalidAuthMethod),
		errors.Is(err, git.ErrRepositoryAlreadyExists):
		return err
	}
	return sherrors.NewTransientIOError("git clone", 0, err)
}
