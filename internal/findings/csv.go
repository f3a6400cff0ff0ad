package findings

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// Header is the column layout of the findings CSV.
var Header = []string{"location", "rule_name", "source_reference", "sub_item_kind"}

// CSVSink appends findings to a CSV file. Each row is flushed as soon as it is
// written so an interrupted run keeps every finding reported so far.
type CSVSink struct {
	path string

	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVSink opens path for appending. The header is written only when the
// file is new or empty.
func NewCSVSink(path string) (*CSVSink, error) {
	if err := files.CreateFolderIfNotExists(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat findings file %q: %w", path, err)
	}

	s := &CSVSink{path: path, f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.writeRow(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path returns the file the sink writes to.
func (s *CSVSink) Path() string { return s.path }

// Write implements Sink.
func (s *CSVSink) Write(f Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("findings file %q is closed", s.path)
	}
	return s.writeRow([]string{f.Location, f.RuleName, f.Reference, f.ItemKind})
}

func (s *CSVSink) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write finding: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush finding: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := s.w.Error()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}
