// Package integration resolves provider names to configured providers.
package integration

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/bitbucket"
	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/jira"
	"github.com/scan-io-git/sweeper/internal/provider"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
)

// NewProvider creates the provider registered under name.
func NewProvider(cfg *config.Config, name string, logger hclog.Logger) (provider.Provider, error) {
	if err := provider.ValidateName(name); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("global config is nil")
	}

	switch name {
	case provider.Bitbucket:
		return bitbucket.NewProvider(cfg, logger.Named(name))
	case provider.Jira:
		if cfg.Jira.BaseURL == "" {
			return nil, sherrors.NewConfigError("jira.base_url", fmt.Errorf("base_url is required for the jira provider"))
		}
		return jira.NewProvider(cfg, logger.Named(name))
	}
	return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, name)
}

// SourceKind returns the kind of sources produced by the named provider.
func SourceKind(name string) provider.SourceKind {
	if name == provider.Bitbucket {
		return provider.KindRepository
	}
	return provider.KindTrackerProject
}
