package state

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state", "state.jsonl")
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	return n
}

func TestJournalTransitions(t *testing.T) {
	path := journalPath(t)
	j, err := Open(path, "run-1", nil)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.MarkInProgress("repo-a"))
	assert.True(t, j.IsInProgress("repo-a"))
	assert.False(t, j.IsCompleted("repo-a"))

	require.NoError(t, j.MarkCompleted("repo-a"))
	assert.False(t, j.IsInProgress("repo-a"))
	assert.True(t, j.IsCompleted("repo-a"))

	require.NoError(t, j.MarkInProgress("repo-b@develop"))
	require.NoError(t, j.MarkFailed("repo-b@develop"))
	assert.False(t, j.IsCompleted("repo-b@develop"))
	assert.False(t, j.IsInProgress("repo-b@develop"))
	assert.Equal(t, []string{"repo-b@develop"}, j.Failed())

	completed := j.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, "repo-a", completed[0].ID)
	assert.Equal(t, "", completed[0].Branch)
	assert.False(t, completed[0].CompletedAt.IsZero())

	assert.Equal(t, 4, countLines(t, path))
}

func TestJournalResume(t *testing.T) {
	path := journalPath(t)
	j, err := Open(path, "run-1", nil)
	require.NoError(t, err)
	require.NoError(t, j.MarkInProgress("a"))
	require.NoError(t, j.MarkCompleted("a"))
	require.NoError(t, j.MarkInProgress("b"))
	require.NoError(t, j.Close())

	reopened, err := Open(path, "run-2", nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.IsCompleted("a"))
	assert.False(t, reopened.IsInProgress("b"), "orphan must be released")
	assert.Equal(t, []string{"b"}, reopened.Orphans())

	// The release is persisted, so a third open sees no orphans.
	require.NoError(t, reopened.Close())
	third, err := Open(path, "run-3", nil)
	require.NoError(t, err)
	defer third.Close()
	assert.Empty(t, third.Orphans())
}

func TestJournalTornLine(t *testing.T) {
	path := journalPath(t)
	j, err := Open(path, "run-1", nil)
	require.NoError(t, err)
	require.NoError(t, j.MarkInProgress("a"))
	require.NoError(t, j.MarkCompleted("a"))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"complete","key":"b","ts":"2024-`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(path, "run-2", nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.IsCompleted("a"))
	assert.False(t, reopened.IsCompleted("b"))

	require.NoError(t, reopened.MarkInProgress("c"))
	require.NoError(t, reopened.MarkCompleted("c"))
	require.NoError(t, reopened.Close())

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.True(t, loaded.IsCompleted("c"), "append after a torn line must start on a new line")
}

func TestJournalFinish(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	testCases := []struct {
		name          string
		clear         bool
		wantCompleted bool
	}{
		{name: "keep state", clear: false, wantCompleted: true},
		{name: "clear after successful run", clear: true, wantCompleted: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := journalPath(t)
			j, err := Open(path, "run-1", nil)
			require.NoError(t, err)
			require.NoError(t, j.MarkInProgress("a"))
			require.NoError(t, j.MarkCompleted("a"))
			require.NoError(t, j.Finish(start, tc.clear))
			require.NoError(t, j.Close())

			loaded, err := Load(path, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.wantCompleted, loaded.IsCompleted("a"))
			assert.True(t, start.Equal(loaded.LastRun()), "LastRun() = %v, want %v", loaded.LastRun(), start)
		})
	}
}

func TestJournalClearCompacts(t *testing.T) {
	path := journalPath(t)
	j, err := Open(path, "run-1", nil)
	require.NoError(t, err)
	defer j.Close()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, j.MarkInProgress(key))
		require.NoError(t, j.MarkCompleted(key))
	}
	require.NoError(t, j.Clear())

	assert.Empty(t, j.Completed())
	assert.Equal(t, 1, countLines(t, path))

	require.NoError(t, j.MarkInProgress("d"))
	assert.True(t, j.IsInProgress("d"))
}

func TestLoadMissingAndReadOnly(t *testing.T) {
	j, err := Load(filepath.Join(t.TempDir(), "absent.jsonl"), nil)
	require.NoError(t, err)
	assert.Empty(t, j.Completed())
	assert.True(t, j.LastRun().IsZero())
	assert.True(t, errors.Is(j.MarkInProgress("a"), ErrClosed))
}

func TestLoadShowsInterruptedWork(t *testing.T) {
	path := journalPath(t)
	j, err := Open(path, "run-1", nil)
	require.NoError(t, err)
	require.NoError(t, j.MarkInProgress("b"))
	require.NoError(t, j.MarkInProgress("a"))
	require.NoError(t, j.MarkCompleted("a"))
	require.NoError(t, j.MarkInProgress("c"))
	require.NoError(t, j.Close())

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, loaded.InProgress())
	assert.Empty(t, loaded.Orphans(), "only Open releases orphans")
	require.Len(t, loaded.Completed(), 1)
}

func TestClosedJournal(t *testing.T) {
	j, err := Open(journalPath(t), "run-1", nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.True(t, errors.Is(j.MarkCompleted("a"), ErrClosed))
	assert.NoError(t, j.Close())
}
