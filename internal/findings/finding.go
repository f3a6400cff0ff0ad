package findings

import (
	"errors"
	"sync"
)

// Finding is one detector hit on one sub-item.
type Finding struct {
	Location  string `json:"location"`
	RuleName  string `json:"rule_name"`
	Reference string `json:"source_reference"`
	ItemKind  string `json:"sub_item_kind"`
	SourceID  string `json:"source_id"`
}

// Sink receives findings as they are produced. Implementations are safe for concurrent use.
type Sink interface {
	Write(f Finding) error
	Close() error
}

// MemorySink keeps findings in memory.
type MemorySink struct {
	mu       sync.Mutex
	findings []Finding
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Write implements Sink.
func (s *MemorySink) Write(f Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, f)
	return nil
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }

// Findings returns a copy of the recorded findings in write order.
func (s *MemorySink) Findings() []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// MultiSink writes every finding to each of its sinks.
type MultiSink []Sink

// Write implements Sink. All sinks are written even when one fails.
func (m MultiSink) Write(f Finding) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
