package integration

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/provider"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
)

func TestNewProvider(t *testing.T) {
	testCases := []struct {
		name       string
		provider   string
		cfg        *config.Config
		wantName   string
		wantConfig bool
		wantErr    error
	}{
		{
			name:     "bitbucket",
			provider: provider.Bitbucket,
			cfg:      &config.Config{Bitbucket: config.Bitbucket{Workspace: "acme"}},
			wantName: provider.Bitbucket,
		},
		{
			name:     "jira",
			provider: provider.Jira,
			cfg:      &config.Config{Jira: config.Jira{BaseURL: "https://acme.atlassian.net"}},
			wantName: provider.Jira,
		},
		{
			name:       "jira without base url",
			provider:   provider.Jira,
			cfg:        &config.Config{},
			wantConfig: true,
		},
		{
			name:       "bitbucket with a malformed cutoff",
			provider:   provider.Bitbucket,
			cfg:        &config.Config{Bitbucket: config.Bitbucket{ModifiedSince: "last tuesday"}},
			wantConfig: true,
		},
		{
			name:     "unknown provider",
			provider: "gitlab",
			cfg:      &config.Config{},
			wantErr:  provider.ErrUnknownProvider,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewProvider(tc.cfg, tc.provider, hclog.NewNullLogger())
			switch {
			case tc.wantConfig:
				require.Error(t, err)
				assert.True(t, sherrors.IsConfig(err))
			case tc.wantErr != nil:
				assert.True(t, errors.Is(err, tc.wantErr))
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.wantName, p.Name())
			}
		})
	}
}

func TestSourceKind(t *testing.T) {
	assert.Equal(t, provider.KindRepository, SourceKind(provider.Bitbucket))
	assert.Equal(t, provider.KindTrackerProject, SourceKind(provider.Jira))
}
