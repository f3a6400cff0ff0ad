package state

import (
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/scan-io-git/sweeper/internal/integration"
	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/internal/state"
)

// journalView is the read side of the journal shown by the show command.
type journalView interface {
	Completed() []state.Entry
	Failed() []string
	InProgress() []string
	LastRun() time.Time
}

// renderJournal prints one row per known source followed by the last run time.
func renderJournal(w io.Writer, j journalView, providerName string) error {
	kind := "-"
	if providerName != "" {
		kind = string(integration.SourceKind(providerName))
	}

	table := tablewriter.NewWriter(w)
	table.Header("Source", "Kind", "Branch", "Status", "Completed At")

	var rows [][]string
	for _, e := range j.Completed() {
		rows = append(rows, []string{e.ID, kind, dash(e.Branch), "completed", e.CompletedAt.UTC().Format(time.RFC3339)})
	}
	for _, key := range j.InProgress() {
		id, branch := provider.ParseKey(key)
		rows = append(rows, []string{id, kind, dash(branch), "interrupted", "-"})
	}
	for _, key := range j.Failed() {
		id, branch := provider.ParseKey(key)
		rows = append(rows, []string{id, kind, dash(branch), "failed", "-"})
	}

	lastRun := "never"
	if t := j.LastRun(); !t.IsZero() {
		lastRun = t.UTC().Format(time.RFC3339)
	}
	table.Footer("Last run", "", "", "", lastRun)

	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
