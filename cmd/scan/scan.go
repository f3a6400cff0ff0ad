package scan

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/findings"
	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/internal/sweep"
	"github.com/scan-io-git/sweeper/pkg/shared/artifacts"
	"github.com/scan-io-git/sweeper/pkg/shared/errors"
)

// Exit codes of the scan command.
const (
	ExitInvalidInput = 1
	ExitRunFailed    = 2
	ExitInterrupted  = 130
)

// RunOptionsScan holds the arguments for the scan command.
type RunOptionsScan struct {
	Provider  string
	Threads   int
	InputFile string
	Branch    string
	Since     string
	KeepState bool
}

// Global variables for configuration and command arguments
var (
	AppConfig   *config.Config
	logger      hclog.Logger
	scanOptions RunOptionsScan

	exampleScanUsage = `  # Scan every repository of the configured Bitbucket workspace with 8 workers
  sweeper scan --provider bitbucket -j 8

  # Scan two repositories, only their main branch
  sweeper scan --provider bitbucket -b main backend frontend

  # Scan repositories listed in a file, modified since the first of March
  sweeper scan --provider bitbucket --input-file /path/to/list_output.file --since 2024-03-01

  # Scan every Jira project, limited to issues updated since the previous run when jira.incremental is set
  sweeper scan --provider jira

  # Scan two Jira projects and keep the state journal for a later re-run
  sweeper scan --provider jira --keep-state SEC OPS`
)

// ScanCmd represents the command for the secret scan.
var ScanCmd = &cobra.Command{
	Use:                   "scan --provider/-p PROVIDER [-j THREADS_NUMBER, default=1] [--since DATE] [--keep-state] {--input-file/-i PATH | [-b BRANCH] [SOURCE...]}",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleScanUsage,
	Short:                 "Scan repositories or tracker projects for secrets",
	Long: `Scan repositories or tracker projects for secrets.

Sources completed by an earlier, unfinished run are skipped and sources left in progress are
scanned first. The first interrupt lets the workers finish the sources they are scanning; a
second one terminates the process.`,
	RunE: runScanCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config, l hclog.Logger) {
	AppConfig = cfg
	logger = l
}

func runScanCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && scanOptions.Provider == "" {
		return cmd.Help()
	}

	if err := validateScanArgs(&scanOptions, args); err != nil {
		logger.Error("invalid scan arguments", "error", err)
		return errors.NewCommandError(fmt.Errorf("invalid scan arguments: %w", err), ExitInvalidInput)
	}

	keys, err := prepareScanTargets(&scanOptions, args)
	if err != nil {
		logger.Error("failed to prepare scan targets", "error", err)
		return errors.NewCommandError(fmt.Errorf("failed to prepare scan targets: %w", err), ExitInvalidInput)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn("interrupt received, finishing in-flight sources; interrupt again to terminate")
			// Restore default signal handling so the next interrupt kills the process.
			stop()
		case <-done:
		}
	}()

	runID := uuid.NewString()
	runLogger := logger.With("runID", runID)

	r, err := newRunner(AppConfig, &scanOptions, runID, runLogger)
	if err != nil {
		runLogger.Error("failed to prepare scan", "error", err)
		return errors.NewCommandError(fmt.Errorf("failed to prepare scan: %w", err), ExitInvalidInput)
	}
	defer r.close()

	since, err := resolveSince(AppConfig, &scanOptions, r.journal.LastRun())
	if err != nil {
		return errors.NewCommandError(err, ExitInvalidInput)
	}
	if !since.IsZero() {
		runLogger.Info("applying modification cutoff", "since", since)
	}

	sources, err := r.provider.ListSources(ctx, provider.Filter{Keys: keys, Since: since, Branch: scanOptions.Branch})
	if err != nil {
		runLogger.Error("failed to list sources", "error", err)
		return errors.NewCommandError(fmt.Errorf("failed to list sources: %w", err), exitCodeFor(err))
	}

	summary, runErr := r.run(ctx, sources)
	if summary != nil {
		if err := summary.Render(os.Stdout); err != nil {
			runLogger.Error("failed to render summary", "error", err)
		}
		if len(summary.FailedSources) > 0 {
			runLogger.Warn("some sources failed and will be retried by the next run", "sources", summary.FailedSources)
		}
		if _, err := artifacts.SaveArtifactJSON(config.GetArtifactsHome(AppConfig), runLogger, "scan", scanOptions.Provider, summary.Started, summary); err != nil {
			runLogger.Error("failed to write artifact", "error", err)
		}
	}

	uploadArtifacts(context.WithoutCancel(ctx), r, runLogger)

	if runErr != nil {
		runLogger.Error("scan command failed", "error", runErr)
		return errors.NewCommandError(fmt.Errorf("scan command failed: %w", runErr), ExitRunFailed)
	}
	if summary.Interrupted {
		return errors.NewCommandError(fmt.Errorf("scan interrupted after %s", sweep.FormatDuration(summary.Elapsed)), ExitInterrupted)
	}

	runLogger.Info("scan command completed successfully", "findings", summary.Findings, "path", r.findingsPath)
	return nil
}

// uploadArtifacts copies the findings reports to S3 when a bucket is configured.
func uploadArtifacts(ctx context.Context, r *runner, logger hclog.Logger) {
	uploader, err := findings.NewUploader(AppConfig, logger.Named("upload"))
	if err != nil {
		logger.Error("failed to create uploader", "error", err)
		return
	}
	if uploader == nil {
		return
	}
	locations, err := uploader.Upload(ctx, r.runID, r.findingsPath, r.sarifPath)
	if err != nil {
		logger.Error("failed to upload findings", "error", err)
	}
	for _, loc := range locations {
		logger.Info("findings uploaded", "location", loc)
	}
}

func init() {
	ScanCmd.Flags().StringVarP(&scanOptions.Provider, "provider", "p", "", "Name of the content provider to scan (bitbucket or jira).")
	ScanCmd.Flags().IntVarP(&scanOptions.Threads, "threads", "j", 0, "Number of concurrent workers (default is sweeper.threads or 1).")
	ScanCmd.Flags().StringVarP(&scanOptions.InputFile, "input-file", "i", "", "Path to a file with one source per line, e.g. the output of the list command.")
	ScanCmd.Flags().StringVarP(&scanOptions.Branch, "branch", "b", "", "Scan only this branch of each repository.")
	ScanCmd.Flags().StringVar(&scanOptions.Since, "since", "", "Skip sources (or issues) not modified since this date (YYYY-MM-DD or RFC 3339).")
	ScanCmd.Flags().BoolVar(&scanOptions.KeepState, "keep-state", false, "Keep the state journal after a successful run.")
	ScanCmd.Flags().BoolP("help", "h", false, "Show help for the scan command.")
}
