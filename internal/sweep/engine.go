// Package sweep drives a scan: it feeds sources to a pool of workers, walks
// their sub-items and records what the detectors find.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/scan-io-git/sweeper/internal/findings"
	"github.com/scan-io-git/sweeper/internal/normalize"
	"github.com/scan-io-git/sweeper/internal/patterns"
	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/internal/state"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// Matcher runs the detectors over a text body.
type Matcher interface {
	Match(text string) []patterns.Match
}

// Exemptions tells whether findings under an identifier are known false positives.
type Exemptions interface {
	IsExempt(ids ...string) bool
}

// Options tunes a run.
type Options struct {
	RunID                 string
	Threads               int
	AllowedExtensions     []string
	ExcludePaths          []string
	SkippedExtensionsFile string
	KeepState             bool
}

// Deps are the collaborators of a run.
type Deps struct {
	Provider   provider.Provider
	Matcher    Matcher
	Exemptions Exemptions
	State      state.Store
	Sink       findings.Sink
	Logger     hclog.Logger
}

// Engine runs one scan.
type Engine struct {
	opts   Options
	deps   Deps
	gate   *gate
	logger hclog.Logger
}

// New validates the options and creates an Engine.
func New(opts Options, deps Deps) (*Engine, error) {
	if deps.Provider == nil || deps.Matcher == nil || deps.State == nil || deps.Sink == nil {
		return nil, fmt.Errorf("provider, matcher, state and sink are required")
	}
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	g, err := newGate(opts.AllowedExtensions, opts.ExcludePaths)
	if err != nil {
		return nil, sherrors.NewConfigError("exclude_paths", err)
	}
	return &Engine{opts: opts, deps: deps, gate: g, logger: deps.Logger}, nil
}

// RunID identifies the run in logs and uploaded artifacts.
func (e *Engine) RunID() string { return e.opts.RunID }

// plan orders the work: sources left in progress by an earlier run come first,
// then the given sources, each key once.
func (e *Engine) plan(sources []provider.Source) []provider.Source {
	byKey := make(map[string]provider.Source, len(sources))
	for _, src := range sources {
		if _, ok := byKey[src.Key()]; !ok {
			byKey[src.Key()] = src
		}
	}

	kind := provider.KindTrackerProject
	if e.deps.Provider.Name() == provider.Bitbucket {
		kind = provider.KindRepository
	}

	seen := make(map[string]struct{})
	var queue []provider.Source
	for _, key := range e.deps.State.Orphans() {
		src, ok := byKey[key]
		if !ok {
			id, branch := provider.ParseKey(key)
			src = provider.Source{ID: id, Kind: kind, Branch: branch}
		}
		seen[key] = struct{}{}
		queue = append(queue, src)
	}
	for _, src := range sources {
		if _, ok := seen[src.Key()]; ok {
			continue
		}
		seen[src.Key()] = struct{}{}
		queue = append(queue, src)
	}
	return queue
}

// Run scans the sources and returns the run summary. Canceling ctx stops new
// sources from starting; sources already being scanned are finished. The
// returned error is only set when the state store cannot record progress.
func (e *Engine) Run(ctx context.Context, sources []provider.Source) (*Summary, error) {
	started := time.Now()
	t := &tally{s: Summary{
		RunID:             e.opts.RunID,
		Started:           started,
		SkippedExtensions: make(map[string]int),
	}}

	queue := e.plan(sources)
	t.s.Sources.Total = len(queue)
	e.logger.Info("scan starting", "runID", e.opts.RunID, "provider", e.deps.Provider.Name(),
		"sources", len(queue), "orphans", len(e.deps.State.Orphans()), "goroutines", e.opts.Threads)

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan provider.Source)

	g.Go(func() error {
		defer close(work)
		for _, src := range queue {
			if gctx.Err() != nil {
				return nil
			}
			select {
			case <-gctx.Done():
				return nil
			case work <- src:
			}
		}
		return nil
	})

	// In-flight sources run on a context that outlives the cancellation.
	sourceCtx := context.WithoutCancel(ctx)
	for i := 0; i < e.opts.Threads; i++ {
		worker := i + 1
		g.Go(func() error {
			for src := range work {
				if gctx.Err() != nil {
					return nil
				}
				if err := e.scanSource(sourceCtx, worker, src, t); err != nil {
					return err
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	summary := t.snapshot()
	summary.Elapsed = time.Since(started)
	summary.Interrupted = ctx.Err() != nil

	if e.opts.SkippedExtensionsFile != "" {
		if err := files.WriteLines(e.opts.SkippedExtensionsFile, summary.Extensions()); err != nil {
			e.logger.Error("failed to write skipped extensions", "path", e.opts.SkippedExtensionsFile, "error", err)
		}
	}

	switch {
	case runErr != nil:
		e.logger.Error("scan aborted", "error", runErr)
	case summary.Interrupted:
		e.logger.Warn("scan interrupted, progress is kept for the next run")
	case summary.Sources.Failed > 0:
		e.logger.Warn("scan finished with failed sources, they will be retried by the next run", "failed", summary.Sources.Failed)
	default:
		if err := e.deps.State.Finish(started, !e.opts.KeepState); err != nil {
			runErr = fmt.Errorf("failed to finish state journal: %w", err)
		}
	}

	e.logger.Info("scan finished", "elapsed", FormatDuration(summary.Elapsed),
		"processed", summary.Sources.Processed, "skipped", summary.Sources.Skipped,
		"failed", summary.Sources.Failed, "findings", summary.Findings)
	return &summary, runErr
}

// scanSource processes one source. Only a failure to record progress is
// returned; everything else is logged and counted.
func (e *Engine) scanSource(ctx context.Context, worker int, src provider.Source, t *tally) error {
	key := src.Key()
	logger := e.logger.With("source", key, "worker", worker)

	if e.deps.State.IsCompleted(key) || e.deps.State.IsInProgress(key) {
		logger.Info("skipping already processed source")
		t.update(func(s *Summary) { s.Sources.Skipped++ })
		return nil
	}
	if err := e.deps.State.MarkInProgress(key); err != nil {
		return fmt.Errorf("failed to record start of %q: %w", key, err)
	}

	logger.Info("scanning source")
	start := time.Now()
	err := e.walk(ctx, src, logger, t)

	itemErrs, onlyItems := itemErrors(err)
	if err != nil && !onlyItems {
		srcErr := sherrors.NewSourceError(key, "scan", err)
		logger.Error("source failed", "error", srcErr)
		t.update(func(s *Summary) {
			s.Sources.Failed++
			s.FailedSources = append(s.FailedSources, key)
		})
		if err := e.deps.State.MarkFailed(key); err != nil {
			return fmt.Errorf("failed to record failure of %q: %w", key, err)
		}
		return nil
	}

	if len(itemErrs) > 0 {
		t.update(func(s *Summary) { s.Items.Failed += len(itemErrs) })
	}
	if err := e.deps.State.MarkCompleted(key); err != nil {
		return fmt.Errorf("failed to record completion of %q: %w", key, err)
	}
	t.update(func(s *Summary) { s.Sources.Processed++ })
	logger.Info("source completed", "elapsed", FormatDuration(time.Since(start)))
	return nil
}

// walk enumerates the source and handles each item, turning a panic into an error.
func (e *Engine) walk(ctx context.Context, src provider.Source, logger hclog.Logger, t *tally) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while scanning source", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return e.deps.Provider.ListSubItems(ctx, src, func(item provider.SubItem) error {
		return e.scanItem(ctx, item, logger, t)
	})
}

// scanItem gates, fetches, normalizes and matches one item. Item problems are
// counted and logged; a sink failure fails the source.
func (e *Engine) scanItem(ctx context.Context, item provider.SubItem, logger hclog.Logger, t *tally) error {
	if e.gate.excluded(item) {
		t.update(func(s *Summary) { s.Items.Excluded++ })
		return nil
	}
	if ok, ext := e.gate.allow(item); !ok {
		logger.Debug("skipping item by extension", "location", item.Location, "name", item.Name, "extension", ext)
		t.skipExtension(ext)
		return nil
	}

	content, err := e.deps.Provider.Fetch(ctx, item)
	if err != nil {
		logger.Warn("failed to fetch item", "kind", item.Kind, "location", item.Location, "error", err)
		t.update(func(s *Summary) { s.Items.Failed++ })
		return nil
	}

	text, err := normalize.Normalize(content.Data, content.Format)
	if err != nil {
		if errors.Is(err, normalize.ErrNotText) {
			logger.Debug("skipping non-text item", "kind", item.Kind, "location", item.Location, "reason", err)
			t.update(func(s *Summary) { s.Items.NotText++ })
			return nil
		}
		logger.Warn("failed to decode item", "kind", item.Kind, "location", item.Location, "error", err)
		t.update(func(s *Summary) { s.Items.Failed++ })
		return nil
	}
	t.update(func(s *Summary) { s.Items.Scanned++ })

	for _, m := range e.deps.Matcher.Match(text) {
		if e.deps.Exemptions != nil && e.deps.Exemptions.IsExempt(provider.Exemptions(item)...) {
			logger.Debug("suppressed known false positive", "rule", m.Rule, "location", item.Location)
			t.update(func(s *Summary) { s.Suppressed++ })
			continue
		}

		f := findings.Finding{
			Location:  item.Location,
			RuleName:  m.Rule,
			Reference: item.Reference,
			ItemKind:  string(item.Kind),
			SourceID:  item.SourceID,
		}
		if err := e.deps.Sink.Write(f); err != nil {
			return fmt.Errorf("failed to record finding: %w", err)
		}
		logger.Info("found pattern", "rule", m.Rule, "kind", item.Kind, "location", item.Location)
		t.update(func(s *Summary) { s.Findings++ })
	}
	return nil
}

// itemErrors flattens err and reports whether every leaf is an ItemError.
func itemErrors(err error) ([]error, bool) {
	if err == nil {
		return nil, true
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			leaves, ok := itemErrors(e)
			if !ok {
				return nil, false
			}
			out = append(out, leaves...)
		}
		return out, true
	}
	if sherrors.IsItem(err) {
		return []error{err}, true
	}
	return nil, false
}
