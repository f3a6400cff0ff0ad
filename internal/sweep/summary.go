package sweep

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
)

// SourceCounts tallies top-level sources.
type SourceCounts struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ItemCounts tallies sub-items.
type ItemCounts struct {
	Scanned  int `json:"scanned"`
	Skipped  int `json:"skipped"`
	Excluded int `json:"excluded"`
	NotText  int `json:"not_text"`
	Failed   int `json:"failed"`
}

// Summary describes a finished run.
type Summary struct {
	RunID             string         `json:"run_id"`
	Started           time.Time      `json:"started"`
	Elapsed           time.Duration  `json:"elapsed_ns"`
	Sources           SourceCounts   `json:"sources"`
	Items             ItemCounts     `json:"items"`
	Findings          int            `json:"findings"`
	Suppressed        int            `json:"suppressed"`
	SkippedExtensions map[string]int `json:"skipped_extensions,omitempty"`
	FailedSources     []string       `json:"failed_sources,omitempty"`
	Interrupted       bool           `json:"interrupted"`
}

// tally is the concurrent-safe accumulator behind a Summary.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func (t *tally) update(fn func(s *Summary)) {
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

func (t *tally) skipExtension(ext string) {
	t.update(func(s *Summary) {
		s.Items.Skipped++
		s.SkippedExtensions[ext]++
	})
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.s
	out.SkippedExtensions = make(map[string]int, len(t.s.SkippedExtensions))
	for k, v := range t.s.SkippedExtensions {
		out.SkippedExtensions[k] = v
	}
	out.FailedSources = append([]string(nil), t.s.FailedSources...)
	sort.Strings(out.FailedSources)
	return out
}

// Extensions returns the skipped extensions in lexical order.
func (s *Summary) Extensions() []string {
	exts := make([]string, 0, len(s.SkippedExtensions))
	for ext := range s.SkippedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Render prints the summary as a table.
func (s *Summary) Render(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")

	rows := [][]string{
		{"Run ID", s.RunID},
		{"Started", s.Started.Format(time.RFC3339)},
		{"Elapsed", FormatDuration(s.Elapsed)},
		{"Sources total", strconv.Itoa(s.Sources.Total)},
		{"Sources processed", strconv.Itoa(s.Sources.Processed)},
		{"Sources skipped", strconv.Itoa(s.Sources.Skipped)},
		{"Sources failed", strconv.Itoa(s.Sources.Failed)},
		{"Items scanned", strconv.Itoa(s.Items.Scanned)},
		{"Items skipped by extension", strconv.Itoa(s.Items.Skipped)},
		{"Items excluded", strconv.Itoa(s.Items.Excluded)},
		{"Items not text", strconv.Itoa(s.Items.NotText)},
		{"Items failed", strconv.Itoa(s.Items.Failed)},
		{"Findings", strconv.Itoa(s.Findings)},
		{"Suppressed", strconv.Itoa(s.Suppressed)},
	}
	for _, src := range s.FailedSources {
		rows = append(rows, []string{"Failed source", src})
	}
	for _, ext := range s.Extensions() {
		rows = append(rows, []string{"Skipped " + ext, strconv.Itoa(s.SkippedExtensions[ext])})
	}
	if s.Interrupted {
		rows = append(rows, []string{"Interrupted", "yes"})
	}

	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

// FormatDuration renders d as hours, minutes and seconds with millisecond precision,
// omitting leading zero units.
func FormatDuration(d time.Duration) string {
	total := d.Seconds()
	hours := int(total / 3600)
	minutes := int((total - float64(hours)*3600) / 60)
	seconds := total - float64(hours)*3600 - float64(minutes)*60

	switch {
	case hours > 0:
		return fmt.Sprintf("%d hours, %d minutes, and %.3f seconds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%d minutes and %.3f seconds", minutes, seconds)
	}
	return fmt.Sprintf("%.3f seconds", seconds)
}
