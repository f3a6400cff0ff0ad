package sweep

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scan-io-git/sweeper/internal/provider"
)

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		name string
		d    time.Duration
		want string
	}{
		{name: "seconds only", d: 59 * time.Second, want: "59.000 seconds"},
		{name: "zero", d: 0, want: "0.000 seconds"},
		{name: "milliseconds", d: 1500 * time.Millisecond, want: "1.500 seconds"},
		{name: "minutes", d: time.Minute + time.Second, want: "1 minutes and 1.000 seconds"},
		{name: "hours", d: time.Hour + time.Minute + time.Second, want: "1 hours, 1 minutes, and 1.000 seconds"},
		{name: "hours without minutes", d: 2*time.Hour + 250*time.Millisecond, want: "2 hours, 0 minutes, and 0.250 seconds"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatDuration(tc.d))
		})
	}
}

func TestSummaryRender(t *testing.T) {
	s := &Summary{
		RunID:             "run-1",
		Started:           time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Elapsed:           61 * time.Second,
		Sources:           SourceCounts{Total: 3, Processed: 2, Failed: 1},
		Items:             ItemCounts{Scanned: 10, Skipped: 4},
		Findings:          2,
		SkippedExtensions: map[string]int{".png": 3, ".exe": 1},
		FailedSources:     []string{"legacy"},
		Interrupted:       true,
	}

	var buf bytes.Buffer
	require.NoError(t, s.Render(&buf))
	out := buf.String()

	for _, want := range []string{"run-1", "1 minutes and 1.000 seconds", "legacy", "Skipped .png", "Skipped .exe", "Interrupted"} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, bytes.Index(buf.Bytes(), []byte(".exe")), bytes.Index(buf.Bytes(), []byte(".png")))
	assert.Equal(t, []string{".exe", ".png"}, s.Extensions())
}

func TestGate(t *testing.T) {
	g, err := newGate([]string{".TXT", "env", " .go ", ""}, []string{"**/testdata/**", "*.lock"})
	require.NoError(t, err)

	testCases := []struct {
		name         string
		item         provider.SubItem
		wantExcluded bool
		wantAllowed  bool
		wantExt      string
	}{
		{name: "text body", item: provider.SubItem{Kind: provider.ItemComment, Location: "SEC-1"}, wantAllowed: true},
		{name: "upper case extension", item: provider.SubItem{Kind: provider.ItemFile, Location: "README.TXT", Name: "README.TXT"}, wantAllowed: true, wantExt: ".txt"},
		{name: "dotfile", item: provider.SubItem{Kind: provider.ItemFile, Location: "app/.env", Name: "app/.env"}, wantAllowed: true, wantExt: ".env"},
		{name: "binary extension", item: provider.SubItem{Kind: provider.ItemAttachment, Location: "SEC-1", Name: "shot.png"}, wantExt: ".png"},
		{name: "no extension", item: provider.SubItem{Kind: provider.ItemFile, Location: "Dockerfile", Name: "Dockerfile"}, wantExt: noExtension},
		{name: "excluded directory", item: provider.SubItem{Kind: provider.ItemFile, Location: "pkg/testdata/key.go", Name: "pkg/testdata/key.go"}, wantExcluded: true, wantAllowed: true, wantExt: ".go"},
		{name: "excluded root file", item: provider.SubItem{Kind: provider.ItemFile, Location: "go.lock", Name: "go.lock"}, wantExcluded: true, wantExt: ".lock"},
		{name: "excludes ignore tracker items", item: provider.SubItem{Kind: provider.ItemAttachment, Location: "x.lock", Name: "x.lock"}, wantExt: ".lock"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantExcluded, g.excluded(tc.item))
			allowed, ext := g.allow(tc.item)
			assert.Equal(t, tc.wantAllowed, allowed)
			if !allowed || tc.wantExt != "" {
				assert.Equal(t, tc.wantExt, ext)
			}
		})
	}
}
