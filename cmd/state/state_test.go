package state

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/state"
)

type fakeJournal struct {
	completed  []state.Entry
	failed     []string
	inProgress []string
	lastRun    time.Time
}

func (f fakeJournal) Completed() []state.Entry { return f.completed }
func (f fakeJournal) Failed() []string         { return f.failed }
func (f fakeJournal) InProgress() []string     { return f.inProgress }
func (f fakeJournal) LastRun() time.Time       { return f.lastRun }

func TestRenderJournal(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		journal  fakeJournal
		provider string
		want     []string
		wantNot  []string
	}{
		{
			name: "repositories",
			journal: fakeJournal{
				completed:  []state.Entry{{Key: "backend@main", ID: "backend", Branch: "main", CompletedAt: at}},
				inProgress: []string{"frontend"},
				failed:     []string{"legacy@develop"},
				lastRun:    at,
			},
			provider: "bitbucket",
			want:     []string{"backend", "main", "completed", "frontend", "interrupted", "legacy", "develop", "failed", "repository", "2024-05-01T08:00:00Z"},
		},
		{
			name:     "empty journal",
			journal:  fakeJournal{},
			provider: "jira",
			want:     []string{"NEVER"},
			wantNot:  []string{"interrupted", "failed"},
		},
		{
			name:    "without provider",
			journal: fakeJournal{completed: []state.Entry{{Key: "SEC", ID: "SEC", CompletedAt: at}}},
			want:    []string{"SEC", "completed"},
			wantNot: []string{"tracker-project", "repository"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, renderJournal(&buf, tc.journal, tc.provider))
			out := buf.String()
			for _, want := range tc.want {
				assert.True(t, strings.Contains(out, want) || strings.Contains(strings.ToUpper(out), strings.ToUpper(want)), "missing %q in\n%s", want, out)
			}
			for _, unwanted := range tc.wantNot {
				assert.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestDash(t *testing.T) {
	assert.Equal(t, "-", dash(""))
	assert.Equal(t, "main", dash("main"))
}

func TestJournalPath(t *testing.T) {
	home := t.TempDir()
	AppConfig = &config.Config{Sweeper: config.Sweeper{HomeFolder: home}}
	t.Cleanup(func() { AppConfig, providerName = nil, "" })

	testCases := []struct {
		name     string
		provider string
		want     string
		wantErr  bool
	}{
		{name: "bitbucket", provider: "bitbucket", want: filepath.Join(home, "state_bitbucket.jsonl")},
		{name: "jira", provider: "jira", want: filepath.Join(home, "state_jira.jsonl")},
		{name: "missing provider", wantErr: true},
		{name: "unknown provider", provider: "gitlab", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			providerName = tc.provider
			got, err := journalPath()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
