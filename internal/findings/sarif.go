package findings

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

const (
	toolName           = "sweeper"
	toolInformationURI = "https://github.com/scan-io-git/sweeper"
	fingerprintKey     = "sweeperFindingHash/v1"
)

// SARIFSink writes a SARIF 2.1.0 report on Close. Findings are also appended
// to a companion JSON-lines log as they arrive, and the report is rendered from
// that log, so like the CSV it covers earlier and interrupted runs as well.
type SARIFSink struct {
	path    string
	logPath string

	mu  sync.Mutex
	log *os.File
}

// LogPath returns the companion log of the SARIF report at path.
func LogPath(path string) string { return path + ".jsonl" }

// NewSARIFSink opens the companion log of the report at path for appending.
func NewSARIFSink(path string) (*SARIFSink, error) {
	if err := files.CreateFolderIfNotExists(filepath.Dir(path)); err != nil {
		return nil, err
	}
	logPath := LogPath(path)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings log %q: %w", logPath, err)
	}
	if err := endLine(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to repair findings log %q: %w", logPath, err)
	}
	return &SARIFSink{path: path, logPath: logPath, log: f}, nil
}

// endLine terminates a line torn by a process that died mid-write.
func endLine(f *os.File) error {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// Path returns the report destination.
func (s *SARIFSink) Path() string { return s.path }

// Write implements Sink.
func (s *SARIFSink) Write(f Finding) error {
	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode finding: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return fmt.Errorf("SARIF report %q is closed", s.path)
	}
	if _, err := s.log.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to log finding: %w", err)
	}
	return nil
}

// Close renders the report from the companion log. A second call is a no-op.
func (s *SARIFSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	if err != nil {
		return fmt.Errorf("failed to close findings log %q: %w", s.logPath, err)
	}

	findings, err := ReadLog(s.logPath)
	if err != nil {
		return err
	}
	out, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create SARIF report %q: %w", s.path, err)
	}
	if err := WriteSARIF(out, findings); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ReadLog returns the findings of a companion log in write order, skipping
// lines that cannot be decoded.
func ReadLog(path string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open findings log %q: %w", path, err)
	}
	defer f.Close()

	var out []Finding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var finding Finding
		if err := json.Unmarshal(scanner.Bytes(), &finding); err != nil {
			continue
		}
		out = append(out, finding)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read findings log %q: %w", path, err)
	}
	return out, nil
}

// WriteSARIF renders findings as a SARIF 2.1.0 report with one rule per rule name.
func WriteSARIF(w io.Writer, findings []Finding) error {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return fmt.Errorf("failed to create SARIF report: %w", err)
	}
	run := sarif.NewRunWithInformationURI(toolName, toolInformationURI)

	rules := make(map[string]struct{})
	for _, f := range findings {
		rules[f.RuleName] = struct{}{}
	}
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		run.AddRule(name).
			WithName(name).
			WithDescription(fmt.Sprintf("Secret detector %q", name))
	}

	for _, f := range findings {
		result := run.CreateResultForRule(f.RuleName).
			WithLevel("error").
			WithMessage(sarif.NewTextMessage(fmt.Sprintf("%s matched in %s %s", f.RuleName, f.ItemKind, f.Location)))
		result.AddLocation(sarif.NewLocationWithPhysicalLocation(
			sarif.NewPhysicalLocation().WithArtifactLocation(sarif.NewSimpleArtifactLocation(f.Reference)),
		))
		result.SetPartialFingerPrint(fingerprintKey, Fingerprint(f))
	}

	report.AddRun(run)
	if err := report.PrettyWrite(w); err != nil {
		return fmt.Errorf("failed to write SARIF report: %w", err)
	}
	return nil
}

// Fingerprint is a stable hash of the identifying fields of f.
func Fingerprint(f Finding) string {
	d := xxhash.New()
	for _, part := range []string{f.SourceID, f.Location, f.RuleName, f.Reference, f.ItemKind} {
		d.WriteString(part)
		d.Write([]byte{0})
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
