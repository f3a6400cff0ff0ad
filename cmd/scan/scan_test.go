package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/state"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
)

func TestValidateScanArgs(t *testing.T) {
	inputFile := filepath.Join(t.TempDir(), "sources.txt")
	require.NoError(t, os.WriteFile(inputFile, []byte("backend\n"), 0o644))

	testCases := []struct {
		name    string
		options RunOptionsScan
		args    []string
		wantErr string
	}{
		{name: "provider required", options: RunOptionsScan{}, wantErr: "'provider' flag"},
		{name: "unknown provider", options: RunOptionsScan{Provider: "gitlab"}, wantErr: "unknown provider"},
		{name: "bitbucket with sources", options: RunOptionsScan{Provider: "bitbucket", Branch: "main"}, args: []string{"backend"}},
		{name: "jira with input file", options: RunOptionsScan{Provider: "jira", InputFile: inputFile}},
		{name: "input file and sources", options: RunOptionsScan{Provider: "jira", InputFile: inputFile}, args: []string{"SEC"}, wantErr: "input file together"},
		{name: "missing input file", options: RunOptionsScan{Provider: "jira", InputFile: inputFile + ".missing"}, wantErr: "failed to validate path"},
		{name: "too many threads", options: RunOptionsScan{Provider: "jira", Threads: 1000}, wantErr: "threads must be"},
		{name: "branch on jira", options: RunOptionsScan{Provider: "jira", Branch: "main"}, wantErr: "'branch' flag"},
		{name: "bad since", options: RunOptionsScan{Provider: "jira", Since: "yesterday"}, wantErr: "invalid 'since'"},
		{name: "since date", options: RunOptionsScan{Provider: "jira", Since: "2024-03-01"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateScanArgs(&tc.options, tc.args)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestPrepareScanTargets(t *testing.T) {
	dir := t.TempDir()
	listFile := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(listFile, []byte("# exported by sweeper list\nbackend\n\nfrontend\n"), 0o644))
	emptyFile := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(emptyFile, []byte("# nothing\n"), 0o644))

	testCases := []struct {
		name    string
		options RunOptionsScan
		args    []string
		want    []string
		wantErr bool
	}{
		{name: "arguments", args: []string{"SEC", "OPS"}, want: []string{"SEC", "OPS"}},
		{name: "no arguments", want: nil},
		{name: "input file", options: RunOptionsScan{InputFile: listFile}, want: []string{"backend", "frontend"}},
		{name: "empty input file", options: RunOptionsScan{InputFile: emptyFile}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := prepareScanTargets(&tc.options, tc.args)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveSince(t *testing.T) {
	lastRun := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	incremental := &config.Config{Jira: config.Jira{Incremental: true}}

	testCases := []struct {
		name    string
		cfg     *config.Config
		options RunOptionsScan
		want    time.Time
	}{
		{name: "flag wins", cfg: incremental, options: RunOptionsScan{Provider: "jira", Since: "2024-03-01"}, want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "incremental jira", cfg: incremental, options: RunOptionsScan{Provider: "jira"}, want: lastRun},
		{name: "full jira scan", cfg: &config.Config{}, options: RunOptionsScan{Provider: "jira"}},
		{name: "bitbucket ignores incremental", cfg: incremental, options: RunOptionsScan{Provider: "bitbucket"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveSince(tc.cfg, &tc.options, lastRun)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %v, want %v", got, tc.want)
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitInvalidInput, exitCodeFor(sherrors.NewConfigError("jira.base_url", fmt.Errorf("missing"))))
	assert.Equal(t, ExitRunFailed, exitCodeFor(sherrors.NewSourceError("SEC", "list", fmt.Errorf("boom"))))
}

func testConfig(t *testing.T) *config.Config {
	home := t.TempDir()
	return &config.Config{
		Sweeper: config.Sweeper{
			HomeFolder: home,
			TempFolder: filepath.Join(home, "tmp"),
			SarifFile:  "found_issues.sarif",
		},
		Jira: config.Jira{BaseURL: "http://127.0.0.1:1", Email: "bot@example.com", Token: "api-token"},
	}
}

func TestNewRunnerRequiresPatterns(t *testing.T) {
	cfg := testConfig(t)
	_, err := newRunner(cfg, &RunOptionsScan{Provider: "jira"}, "run-1", hclog.NewNullLogger())
	require.Error(t, err)
	assert.True(t, sherrors.IsConfig(err))
	assert.Equal(t, ExitInvalidInput, exitCodeFor(err))
}

func TestRunnerWithoutSources(t *testing.T) {
	cfg := testConfig(t)
	home := cfg.Sweeper.HomeFolder
	require.NoError(t, os.WriteFile(filepath.Join(home, config.DefaultPatternsFile),
		[]byte("Rule Name,Regular Expression\nOpenAI key,sk-[A-Za-z0-9]{40}\n"), 0o644))

	r, err := newRunner(cfg, &RunOptionsScan{Provider: "jira"}, "run-1", hclog.NewNullLogger())
	require.NoError(t, err)
	defer r.close()

	assert.Equal(t, filepath.Join(home, config.DefaultFindingsFile), r.findingsPath)
	assert.Equal(t, filepath.Join(home, "found_issues.sarif"), r.sarifPath)
	assert.FileExists(t, filepath.Join(home, config.DefaultFalsePositivesFile))

	summary, err := r.run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Zero(t, summary.Sources.Total)
	assert.False(t, r.journal.LastRun().IsZero())

	data, err := os.ReadFile(r.findingsPath)
	require.NoError(t, err)
	assert.Equal(t, "location,rule_name,source_reference,sub_item_kind\n", string(data))
	assert.FileExists(t, r.sarifPath)
}

func TestRunnerUsesProviderJournal(t *testing.T) {
	cfg := testConfig(t)
	home := cfg.Sweeper.HomeFolder
	require.NoError(t, os.WriteFile(filepath.Join(home, config.DefaultPatternsFile),
		[]byte("Rule Name,Regular Expression\nOpenAI key,sk-[A-Za-z0-9]{40}\n"), 0o644))

	// A bitbucket run killed while scanning a repository.
	repos, err := state.Open(config.StatePath(cfg, "bitbucket"), "run-0", hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, repos.MarkInProgress("backend"))
	require.NoError(t, repos.Close())

	r, err := newRunner(cfg, &RunOptionsScan{Provider: "jira"}, "run-1", hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Empty(t, r.journal.Orphans())
	_, err = r.run(context.Background(), nil)
	require.NoError(t, err)
	r.close()

	repos, err = state.Load(config.StatePath(cfg, "bitbucket"), hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"backend"}, repos.InProgress())
	assert.False(t, repos.IsCompleted("backend"))
	assert.True(t, repos.LastRun().IsZero(), "a jira run must not move the bitbucket cutoff")
}
