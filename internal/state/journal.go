// Package state persists which sources have been scanned so an interrupted
// run can resume without repeating completed work.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// Journal operations.
const (
	opStart    = "start"
	opComplete = "complete"
	opFail     = "fail"
	opRelease  = "release"
	opClear    = "clear"
	opLastRun  = "last_run"
)

var (
	// ErrClosed is returned by mutating calls on a closed or read-only journal.
	ErrClosed = errors.New("state journal is closed")
)

// Store records per-source progress.
type Store interface {
	MarkInProgress(key string) error
	MarkCompleted(key string) error
	MarkFailed(key string) error
	IsCompleted(key string) bool
	IsInProgress(key string) bool
	Orphans() []string
	Completed() []Entry
	LastRun() time.Time
	Finish(runStart time.Time, clear bool) error
	Clear() error
	Close() error
}

// Entry is a completed source.
type Entry struct {
	Key         string
	ID          string
	Branch      string
	CompletedAt time.Time
}

type record struct {
	Op  string    `json:"op"`
	Key string    `json:"key,omitempty"`
	Run string    `json:"run,omitempty"`
	TS  time.Time `json:"ts"`
}

// Journal is an append-only JSON-lines Store. Every transition is written and
// synced before the call returns, so a hard kill loses at most a torn last line.
type Journal struct {
	path   string
	run    string
	logger hclog.Logger

	mu         sync.Mutex
	f          *os.File
	completed  map[string]time.Time
	inProgress map[string]struct{}
	failed     map[string]struct{}
	orphans    []string
	lastRun    time.Time
}

var _ Store = (*Journal)(nil)

// Open replays the journal at path, creating it when missing, and opens it for
// appending. Sources left in progress by a previous run are released and
// reported by Orphans.
func Open(path, runID string, logger hclog.Logger) (*Journal, error) {
	j, err := Load(path, logger)
	if err != nil {
		return nil, err
	}
	j.run = runID

	if err := files.CreateFolderIfNotExists(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open state journal %q: %w", path, err)
	}
	if err := terminateTornLine(f); err != nil {
		f.Close()
		return nil, err
	}
	j.f = f

	for key := range j.inProgress {
		j.orphans = append(j.orphans, key)
	}
	sort.Strings(j.orphans)
	for _, key := range j.orphans {
		j.logger.Warn("releasing source left in progress by an interrupted run", "source", key)
		if err := j.append(record{Op: opRelease, Key: key}); err != nil {
			f.Close()
			return nil, err
		}
		delete(j.inProgress, key)
	}
	return j, nil
}

// Load replays the journal at path without opening it for writing. A missing
// file yields an empty journal. Mutating calls on the result return ErrClosed.
func Load(path string, logger hclog.Logger) (*Journal, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	j := &Journal{
		path:       path,
		logger:     logger,
		completed:  make(map[string]time.Time),
		inProgress: make(map[string]struct{}),
		failed:     make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state journal %q: %w", path, err)
	}
	defer f.Close()

	if err := j.replay(f); err != nil {
		return nil, fmt.Errorf("failed to replay state journal %q: %w", path, err)
	}
	return j, nil
}

func (j *Journal) replay(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			j.logger.Warn("skipping unreadable state record", "path", j.path, "line", line, "error", err)
			continue
		}
		j.apply(rec)
	}
	return scanner.Err()
}

func (j *Journal) apply(rec record) {
	switch rec.Op {
	case opStart:
		j.inProgress[rec.Key] = struct{}{}
		delete(j.failed, rec.Key)
	case opComplete:
		delete(j.inProgress, rec.Key)
		delete(j.failed, rec.Key)
		j.completed[rec.Key] = rec.TS
	case opFail:
		delete(j.inProgress, rec.Key)
		j.failed[rec.Key] = struct{}{}
	case opRelease:
		delete(j.inProgress, rec.Key)
	case opClear:
		j.completed = make(map[string]time.Time)
		j.inProgress = make(map[string]struct{})
		j.failed = make(map[string]struct{})
	case opLastRun:
		j.lastRun = rec.TS
	default:
		j.logger.Warn("skipping unknown state record", "path", j.path, "op", rec.Op)
	}
}

// terminateTornLine makes sure the next append starts on a fresh line when the
// previous process died in the middle of a write.
func terminateTornLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat state journal: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("failed to read state journal tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to terminate torn state record: %w", err)
	}
	return f.Sync()
}

// append writes rec and applies it. The caller holds j.mu.
func (j *Journal) append(rec record) error {
	if j.f == nil {
		return ErrClosed
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	rec.Run = j.run

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode state record: %w", err)
	}
	if _, err := j.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write state record: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync state journal: %w", err)
	}
	j.apply(rec)
	return nil
}

func (j *Journal) mark(op, key string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(record{Op: op, Key: key})
}

// MarkInProgress records that key is being scanned.
func (j *Journal) MarkInProgress(key string) error { return j.mark(opStart, key) }

// MarkCompleted records that every sub-item of key was processed.
func (j *Journal) MarkCompleted(key string) error { return j.mark(opComplete, key) }

// MarkFailed records that key could not be completed. It will be retried by the next run.
func (j *Journal) MarkFailed(key string) error { return j.mark(opFail, key) }

// IsCompleted reports whether key finished in this or a previous run.
func (j *Journal) IsCompleted(key string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.completed[key]
	return ok
}

// IsInProgress reports whether key is currently being scanned.
func (j *Journal) IsInProgress(key string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.inProgress[key]
	return ok
}

// InProgress returns the keys started but not finished, sorted. After Open this
// is only the work of the current run; Load shows what an interrupted run left.
func (j *Journal) InProgress() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.inProgress))
	for key := range j.inProgress {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Orphans returns the keys released at Open because an earlier run never finished them.
func (j *Journal) Orphans() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.orphans))
	copy(out, j.orphans)
	return out
}

// Failed returns the keys whose last attempt failed, sorted.
func (j *Journal) Failed() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.failed))
	for key := range j.failed {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Completed returns the completed sources sorted by key.
func (j *Journal) Completed() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.completed))
	for key, at := range j.completed {
		id, branch := provider.ParseKey(key)
		out = append(out, Entry{Key: key, ID: id, Branch: branch, CompletedAt: at})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out
}

// LastRun returns the start time of the last finished run, or the zero time.
func (j *Journal) LastRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

// Finish records runStart as the last run and, when clear is set, drops the
// completed sources so the next run starts from scratch.
func (j *Journal) Finish(runStart time.Time, clear bool) error {
	j.mu.Lock()
	if err := j.append(record{Op: opLastRun, TS: runStart.UTC()}); err != nil {
		j.mu.Unlock()
		return err
	}
	j.mu.Unlock()

	if clear {
		return j.Clear()
	}
	return nil
}

// Clear forgets all source progress, keeping only the last-run time. The
// journal is rewritten through a temporary file and a rename.
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.path), filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create compacted state journal: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, rec := range []record{{Op: opClear}, {Op: opLastRun, TS: j.lastRun}} {
		if rec.Op == opLastRun && j.lastRun.IsZero() {
			continue
		}
		if rec.TS.IsZero() {
			rec.TS = time.Now().UTC()
		}
		rec.Run = j.run
		data, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode state record: %w", err)
		}
		w.Write(append(data, '\n'))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write compacted state journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync compacted state journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close compacted state journal: %w", err)
	}

	if err := j.f.Close(); err != nil {
		j.logger.Warn("failed to close state journal before compaction", "error", err)
	}
	j.f = nil
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return fmt.Errorf("failed to replace state journal: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen state journal: %w", err)
	}
	j.f = f

	j.completed = make(map[string]time.Time)
	j.inProgress = make(map[string]struct{})
	j.failed = make(map[string]struct{})
	j.orphans = nil
	j.logger.Debug("state journal cleared", "path", j.path)
	return nil
}

// Close releases the journal file. Further mutations return ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
