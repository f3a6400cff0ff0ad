package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/falsepositive"
	"github.com/scan-io-git/sweeper/internal/findings"
	"github.com/scan-io-git/sweeper/internal/integration"
	"github.com/scan-io-git/sweeper/internal/patterns"
	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/internal/state"
	"github.com/scan-io-git/sweeper/internal/sweep"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// runner holds everything one scan needs.
type runner struct {
	runID  string
	cfg    *config.Config
	opts   *RunOptionsScan
	logger hclog.Logger

	provider   provider.Provider
	registry   *patterns.Registry
	exemptions *falsepositive.Filter
	journal    *state.Journal
	sink       findings.Sink

	findingsPath string
	sarifPath    string
}

// newRunner loads the detectors, the exemption list and the state journal,
// creates the provider and opens the findings sinks.
func newRunner(cfg *config.Config, opts *RunOptionsScan, runID string, logger hclog.Logger) (*runner, error) {
	r := &runner{runID: runID, cfg: cfg, opts: opts, logger: logger}

	var err error
	r.provider, err = integration.NewProvider(cfg, opts.Provider, logger)
	if err != nil {
		return nil, err
	}

	r.registry, err = patterns.Load(config.ResolvePath(cfg, config.SetThen(cfg.Sweeper.PatternsFile, config.DefaultPatternsFile)))
	if err != nil {
		return nil, err
	}
	logger.Info("detectors loaded", "count", r.registry.Len())

	r.exemptions, err = falsepositive.New(
		config.ResolvePath(cfg, config.SetThen(cfg.Sweeper.FalsePositivesFile, config.DefaultFalsePositivesFile)),
		cfg.Sweeper.FalsePositivesRefresh,
		logger.Named("falsepositive"),
	)
	if err != nil {
		return nil, sherrors.NewConfigError("sweeper.false_positives_file", err)
	}

	r.journal, err = state.Open(config.StatePath(cfg, opts.Provider), runID, logger.Named("state"))
	if err != nil {
		return nil, err
	}

	r.findingsPath = config.ResolvePath(cfg, config.SetThen(cfg.Sweeper.FindingsFile, config.DefaultFindingsFile))
	csvSink, err := findings.NewCSVSink(r.findingsPath)
	if err != nil {
		r.journal.Close()
		return nil, err
	}
	r.sink = csvSink
	if cfg.Sweeper.SarifFile != "" {
		r.sarifPath = config.ResolvePath(cfg, cfg.Sweeper.SarifFile)
		sarifSink, err := findings.NewSARIFSink(r.sarifPath)
		if err != nil {
			csvSink.Close()
			r.journal.Close()
			return nil, err
		}
		r.sink = findings.MultiSink{csvSink, sarifSink}
	}
	return r, nil
}

// run scans the sources and closes the sinks so reports are complete before upload.
func (r *runner) run(ctx context.Context, sources []provider.Source) (*sweep.Summary, error) {
	threads := config.SetThen(r.opts.Threads, config.SetThen(r.cfg.Sweeper.Threads, config.DefaultThreads))
	engine, err := sweep.New(sweep.Options{
		RunID:                 r.runID,
		Threads:               threads,
		AllowedExtensions:     config.AllowedExtensions(r.cfg),
		ExcludePaths:          r.cfg.Sweeper.ExcludePaths,
		SkippedExtensionsFile: config.ResolvePath(r.cfg, config.SetThen(r.cfg.Sweeper.SkippedExtensionsFile, config.DefaultSkippedExtensionsFile)),
		KeepState:             r.opts.KeepState || r.cfg.Sweeper.KeepState,
	}, sweep.Deps{
		Provider:   r.provider,
		Matcher:    r.registry,
		Exemptions: r.exemptions,
		State:      r.journal,
		Sink:       r.sink,
		Logger:     r.logger.Named("sweep"),
	})
	if err != nil {
		return nil, err
	}

	summary, err := engine.Run(ctx, sources)
	if closeErr := r.closeSink(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return summary, err
}

func (r *runner) closeSink() error {
	if r.sink == nil {
		return nil
	}
	err := r.sink.Close()
	r.sink = nil
	if err != nil {
		return fmt.Errorf("failed to close findings sinks: %w", err)
	}
	return nil
}

func (r *runner) close() {
	if err := r.closeSink(); err != nil {
		r.logger.Error("failed to close findings sinks", "error", err)
	}
	if err := r.journal.Close(); err != nil {
		r.logger.Error("failed to close state journal", "error", err)
	}
}

// prepareScanTargets returns the source keys named on the command line or in the input file.
func prepareScanTargets(options *RunOptionsScan, args []string) ([]string, error) {
	if options.InputFile == "" {
		return args, nil
	}
	path, err := files.ExpandPath(options.InputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to expand path %q: %w", options.InputFile, err)
	}
	keys, err := files.ReadLines(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file %q: %w", path, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("input file %q lists no sources", path)
	}
	return keys, nil
}

// resolveSince picks the modification cutoff: the --since flag, otherwise the
// previous run time for incremental Jira scans.
func resolveSince(cfg *config.Config, options *RunOptionsScan, lastRun time.Time) (time.Time, error) {
	if options.Since != "" {
		since, err := config.ParseDate(options.Since)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --since value: %w", err)
		}
		return since, nil
	}
	if options.Provider == provider.Jira && cfg.Jira.Incremental {
		return lastRun, nil
	}
	return time.Time{}, nil
}

// exitCodeFor maps configuration problems to invalid input and everything else to a failed run.
func exitCodeFor(err error) int {
	if sherrors.IsConfig(err) {
		return ExitInvalidInput
	}
	return ExitRunFailed
}
