package sweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/sweeper/internal/falsepositive"
	"github.com/scan-io-git/sweeper/internal/findings"
	"github.com/scan-io-git/sweeper/internal/normalize"
	"github.com/scan-io-git/sweeper/internal/patterns"
	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/internal/state"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
)

var openAIKey = "sk-" + strings.Repeat("A", 40)

type fakeItem struct {
	item    provider.SubItem
	content provider.Content
	err     error
}

// fakeProvider serves canned sub-items and records the order sources are walked in.
type fakeProvider struct {
	name    string
	items   map[string][]fakeItem
	listErr map[string]error
	panics  map[string]bool
	onList  func(src provider.Source)

	mu      sync.Mutex
	walked  []string
	fetched []string
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:    name,
		items:   map[string][]fakeItem{},
		listErr: map[string]error{},
		panics:  map[string]bool{},
	}
}

func (p *fakeProvider) add(sourceID string, kind provider.ItemKind, location, name, body string) {
	p.items[sourceID] = append(p.items[sourceID], fakeItem{
		item: provider.SubItem{
			SourceID:  sourceID,
			Kind:      kind,
			Location:  location,
			Reference: "https://example.com/" + sourceID + "/" + location,
			Name:      name,
			Ref:       sourceID + "/" + location,
		},
		content: provider.Content{Data: []byte(body), Format: normalize.Raw},
	})
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) ListSources(context.Context, provider.Filter) ([]provider.Source, error) {
	return nil, nil
}

func (p *fakeProvider) ListSubItems(ctx context.Context, src provider.Source, visit provider.Visitor) error {
	p.mu.Lock()
	p.walked = append(p.walked, src.Key())
	p.mu.Unlock()

	if p.onList != nil {
		p.onList(src)
	}
	if p.panics[src.ID] {
		panic("provider exploded")
	}
	for _, fi := range p.items[src.ID] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visit(fi.item); err != nil {
			return err
		}
	}
	return p.listErr[src.ID]
}

func (p *fakeProvider) Fetch(_ context.Context, item provider.SubItem) (provider.Content, error) {
	p.mu.Lock()
	p.fetched = append(p.fetched, item.Ref)
	p.mu.Unlock()
	for _, fi := range p.items[item.SourceID] {
		if fi.item.Ref == item.Ref {
			if fi.err != nil {
				return provider.Content{}, fi.err
			}
			return fi.content, nil
		}
	}
	return provider.Content{}, errors.New("unknown item")
}

type harness struct {
	dir      string
	provider *fakeProvider
	sink     *findings.MemorySink
	journal  *state.Journal
	fp       *falsepositive.Filter
}

func newHarness(t *testing.T, p *fakeProvider, falsePositives ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	fpPath := filepath.Join(dir, "false_positive.txt")
	require.NoError(t, os.WriteFile(fpPath, []byte(strings.Join(falsePositives, "\n")), 0o600))
	fp, err := falsepositive.New(fpPath, 0, hclog.NewNullLogger())
	require.NoError(t, err)

	h := &harness{dir: dir, provider: p, sink: findings.NewMemorySink(), fp: fp}
	h.reopen(t)
	return h
}

func (h *harness) statePath() string { return filepath.Join(h.dir, "state.jsonl") }

func (h *harness) reopen(t *testing.T) {
	t.Helper()
	if h.journal != nil {
		require.NoError(t, h.journal.Close())
	}
	j, err := state.Open(h.statePath(), "test-run", hclog.NewNullLogger())
	require.NoError(t, err)
	h.journal = j
	t.Cleanup(func() { _ = j.Close() })
}

func (h *harness) engine(t *testing.T, opts Options) *Engine {
	t.Helper()
	registry, err := patterns.New(map[string]string{
		"OpenAI API Key": `sk-[a-zA-Z0-9]{40}`,
		"Password":       `password\s*=\s*\S+`,
	})
	require.NoError(t, err)
	if opts.AllowedExtensions == nil {
		opts.AllowedExtensions = []string{".txt", ".env", ".go", "yaml"}
	}
	e, err := New(opts, Deps{
		Provider:   h.provider,
		Matcher:    registry,
		Exemptions: h.fp,
		State:      h.journal,
		Sink:       h.sink,
		Logger:     hclog.NewNullLogger(),
	})
	require.NoError(t, err)
	return e
}

func sources(kind provider.SourceKind, ids ...string) []provider.Source {
	out := make([]provider.Source, 0, len(ids))
	for _, id := range ids {
		out = append(out, provider.Source{ID: id, Kind: kind})
	}
	return out
}

func TestRunTwoSources(t *testing.T) {
	p := newFakeProvider(provider.Bitbucket)
	p.add("alpha", provider.ItemFile, "config/.env", "config/.env", "OPENAI="+openAIKey)
	p.add("alpha", provider.ItemFile, "docs/known.txt", "docs/known.txt", "example "+openAIKey)
	p.add("alpha", provider.ItemFile, "logo.png", "logo.png", "\x89PNG")
	p.add("alpha", provider.ItemFile, "Makefile", "Makefile", "password = x")
	p.add("alpha", provider.ItemFile, "vendor/lib/a.go", "vendor/lib/a.go", "password = vendored")
	p.add("alpha", provider.ItemFile, "blob.txt", "blob.txt", "bin\x00ary "+openAIKey)
	p.add("beta", provider.ItemFile, "main.go", "main.go", "password = hunter2")
	p.items["beta"] = append(p.items["beta"], fakeItem{
		item: provider.SubItem{SourceID: "beta", Kind: provider.ItemFile, Location: "broken.txt", Name: "broken.txt", Ref: "beta/broken.txt"},
		err:  sherrors.NewItemError("beta", "broken.txt", "file", errors.New("blob too large")),
	})

	h := newHarness(t, p, "docs/known.txt")
	skippedPath := filepath.Join(h.dir, "skipped_extensions.txt")
	e := h.engine(t, Options{
		Threads:               2,
		ExcludePaths:          []string{"vendor/**"},
		SkippedExtensionsFile: skippedPath,
	})

	summary, err := e.Run(context.Background(), sources(provider.KindRepository, "alpha", "beta"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []findings.Finding{
		{Location: "config/.env", RuleName: "OpenAI API Key", Reference: "https://example.com/alpha/config/.env", ItemKind: "file", SourceID: "alpha"},
		{Location: "main.go", RuleName: "Password", Reference: "https://example.com/beta/main.go", ItemKind: "file", SourceID: "beta"},
	}, h.sink.Findings())

	assert.Equal(t, SourceCounts{Total: 2, Processed: 2}, summary.Sources)
	assert.Equal(t, ItemCounts{Scanned: 3, Skipped: 2, Excluded: 1, NotText: 1, Failed: 1}, summary.Items)
	assert.Equal(t, 2, summary.Findings)
	assert.Equal(t, 1, summary.Suppressed)
	assert.Equal(t, map[string]int{".png": 1, noExtension: 1}, summary.SkippedExtensions)
	assert.False(t, summary.Interrupted)

	assert.NotContains(t, p.fetched, "alpha/logo.png")
	assert.NotContains(t, p.fetched, "alpha/vendor/lib/a.go")

	data, err := os.ReadFile(skippedPath)
	require.NoError(t, err)
	assert.Equal(t, noExtension+"\n.png\n", string(data))

	// A clean run clears progress and records its start time.
	assert.Empty(t, h.journal.Completed())
	assert.WithinDuration(t, summary.Started, h.journal.LastRun(), time.Millisecond)
}

func TestRunIsIdempotentWithKeptState(t *testing.T) {
	p := newFakeProvider(provider.Jira)
	p.add("SEC", provider.ItemDescription, "SEC-1", "", "password = one")
	p.add("OPS", provider.ItemComment, "OPS-1", "", "nothing here")
	h := newHarness(t, p)

	first, err := h.engine(t, Options{KeepState: true}).Run(context.Background(), sources(provider.KindTrackerProject, "SEC", "OPS"))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Sources.Processed)
	assert.Len(t, h.journal.Completed(), 2)

	second, err := h.engine(t, Options{KeepState: true}).Run(context.Background(), sources(provider.KindTrackerProject, "SEC", "OPS", "SEC"))
	require.NoError(t, err)
	assert.Equal(t, SourceCounts{Total: 2, Skipped: 2}, second.Sources)
	assert.Len(t, h.sink.Findings(), 1)
	assert.Equal(t, []string{"SEC", "OPS"}, p.walked)
}

func TestRunResumesOrphansFirst(t *testing.T) {
	p := newFakeProvider(provider.Bitbucket)
	p.add("gamma", provider.ItemFile, "a.txt", "a.txt", "password = gamma")
	h := newHarness(t, p)

	// An earlier run finished alpha and died while scanning gamma@dev.
	require.NoError(t, h.journal.MarkInProgress("alpha"))
	require.NoError(t, h.journal.MarkCompleted("alpha"))
	require.NoError(t, h.journal.MarkInProgress("gamma@dev"))
	h.reopen(t)
	require.Equal(t, []string{"gamma@dev"}, h.journal.Orphans())

	summary, err := h.engine(t, Options{KeepState: true}).Run(context.Background(), sources(provider.KindRepository, "alpha", "beta"))
	require.NoError(t, err)

	assert.Equal(t, []string{"gamma@dev", "beta"}, p.walked)
	assert.Equal(t, SourceCounts{Total: 3, Processed: 2, Skipped: 1}, summary.Sources)
	assert.Len(t, h.sink.Findings(), 1)
	assert.True(t, h.journal.IsCompleted("gamma@dev"))
}

func TestRunSourceFailures(t *testing.T) {
	testCases := []struct {
		name       string
		setup      func(p *fakeProvider)
		wantFailed []string
		wantItems  ItemCounts
	}{
		{
			name:       "listing error",
			setup:      func(p *fakeProvider) { p.listErr["beta"] = errors.New("clone failed") },
			wantFailed: []string{"beta"},
			wantItems:  ItemCounts{Scanned: 2},
		},
		{
			name:       "panic",
			setup:      func(p *fakeProvider) { p.panics["beta"] = true },
			wantFailed: []string{"beta"},
			wantItems:  ItemCounts{Scanned: 1},
		},
		{
			name: "item errors only",
			setup: func(p *fakeProvider) {
				p.listErr["beta"] = errors.Join(
					sherrors.NewItemError("beta", "B-1", "comment", errors.New("forbidden")),
					sherrors.NewItemError("beta", "B-2", "history", errors.New("forbidden")),
				)
			},
			wantItems: ItemCounts{Scanned: 2, Failed: 2},
		},
		{
			name: "item and source errors",
			setup: func(p *fakeProvider) {
				p.listErr["beta"] = errors.Join(
					sherrors.NewItemError("beta", "B-1", "comment", errors.New("forbidden")),
					errors.New("search failed"),
				)
			},
			wantFailed: []string{"beta"},
			wantItems:  ItemCounts{Scanned: 2},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakeProvider(provider.Jira)
			p.add("alpha", provider.ItemDescription, "A-1", "", "password = a")
			p.add("beta", provider.ItemDescription, "B-1", "", "clean")
			tc.setup(p)
			h := newHarness(t, p)

			summary, err := h.engine(t, Options{}).Run(context.Background(), sources(provider.KindTrackerProject, "alpha", "beta"))
			require.NoError(t, err)

			assert.Equal(t, len(tc.wantFailed), summary.Sources.Failed)
			assert.Equal(t, tc.wantFailed, nilIfEmpty(summary.FailedSources))
			assert.Equal(t, tc.wantItems, summary.Items)
			assert.True(t, h.journal.IsCompleted("alpha") || len(tc.wantFailed) == 0)

			if len(tc.wantFailed) > 0 {
				assert.Equal(t, tc.wantFailed, h.journal.Failed())
				assert.True(t, h.journal.LastRun().IsZero(), "an incomplete run must not advance the last run")
			} else {
				assert.False(t, h.journal.LastRun().IsZero())
			}
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestRunCancellationFinishesInFlightSource(t *testing.T) {
	p := newFakeProvider(provider.Bitbucket)
	p.add("alpha", provider.ItemFile, "a.txt", "a.txt", "password = a")
	p.add("alpha", provider.ItemFile, "b.txt", "b.txt", "password = b")
	p.add("beta", provider.ItemFile, "c.txt", "c.txt", "password = c")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.onList = func(src provider.Source) {
		if src.ID == "alpha" {
			cancel()
		}
	}
	h := newHarness(t, p)

	summary, err := h.engine(t, Options{Threads: 1}).Run(ctx, sources(provider.KindRepository, "alpha", "beta"))
	require.NoError(t, err)

	assert.True(t, summary.Interrupted)
	assert.Equal(t, []string{"alpha"}, p.walked)
	assert.Equal(t, 1, summary.Sources.Processed)
	assert.Len(t, h.sink.Findings(), 2)
	assert.True(t, h.journal.IsCompleted("alpha"))
	assert.False(t, h.journal.IsCompleted("beta"))
	assert.True(t, h.journal.LastRun().IsZero())
}

type failingSink struct{}

func (failingSink) Write(findings.Finding) error { return errors.New("disk full") }
func (failingSink) Close() error                 { return nil }

func TestRunSinkFailureFailsSource(t *testing.T) {
	p := newFakeProvider(provider.Jira)
	p.add("SEC", provider.ItemDescription, "SEC-1", "", "password = one")
	h := newHarness(t, p)

	registry, err := patterns.New(map[string]string{"Password": `password\s*=\s*\S+`})
	require.NoError(t, err)
	e, err := New(Options{}, Deps{Provider: p, Matcher: registry, State: h.journal, Sink: failingSink{}})
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), sources(provider.KindTrackerProject, "SEC"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SEC"}, summary.FailedSources)
	assert.Equal(t, []string{"SEC"}, h.journal.Failed())
}

func TestNewValidation(t *testing.T) {
	h := newHarness(t, newFakeProvider(provider.Jira))
	registry, err := patterns.New(map[string]string{"Password": `password`})
	require.NoError(t, err)

	_, err = New(Options{}, Deps{})
	assert.Error(t, err)

	_, err = New(Options{ExcludePaths: []string{"[unclosed"}}, Deps{
		Provider: h.provider, Matcher: registry, State: h.journal, Sink: h.sink,
	})
	require.Error(t, err)
	assert.True(t, sherrors.IsConfig(err))

	e, err := New(Options{}, Deps{Provider: h.provider, Matcher: registry, State: h.journal, Sink: h.sink})
	require.NoError(t, err)
	assert.Len(t, e.RunID(), 36)
}
