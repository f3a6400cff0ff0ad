package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/sweeper/internal/provider"
)

func TestValidateListArgs(t *testing.T) {
	testCases := []struct {
		name    string
		options RunOptionsList
		args    []string
		wantErr string
	}{
		{name: "bitbucket", options: RunOptionsList{Provider: "bitbucket", Branch: "main", Since: "2024-03-01"}},
		{name: "jira", options: RunOptionsList{Provider: "jira", OutputPath: "/tmp/out.txt"}},
		{name: "positional argument", options: RunOptionsList{Provider: "jira"}, args: []string{"SEC"}, wantErr: "no positional arguments"},
		{name: "provider required", wantErr: "'provider' flag"},
		{name: "unknown provider", options: RunOptionsList{Provider: "github"}, wantErr: "unknown provider"},
		{name: "branch on jira", options: RunOptionsList{Provider: "jira", Branch: "main"}, wantErr: "'branch' flag"},
		{name: "bad since", options: RunOptionsList{Provider: "jira", Since: "03/01/2024"}, wantErr: "invalid 'since'"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateListArgs(&tc.options, tc.args)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSourceKeys(t *testing.T) {
	sources := []provider.Source{
		{ID: "backend", Kind: provider.KindRepository},
		{ID: "frontend", Kind: provider.KindRepository, Branch: "main"},
		{ID: "SEC", Kind: provider.KindTrackerProject},
	}
	assert.Equal(t, []string{"backend", "frontend@main", "SEC"}, sourceKeys(sources))
	assert.Empty(t, sourceKeys(nil))
}
