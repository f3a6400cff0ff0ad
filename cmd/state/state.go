package state

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/internal/state"
	"github.com/scan-io-git/sweeper/pkg/shared/errors"
)

// Global variables for configuration and command arguments
var (
	AppConfig    *config.Config
	logger       hclog.Logger
	providerName string

	exampleStateUsage = `  # Show which sources the next scan will skip or resume
  sweeper state show --provider bitbucket

  # Show the progress of jira scans
  sweeper state show -p jira

  # Forget all jira progress so the next jira scan starts from scratch
  sweeper state clear --provider jira`
)

// StateCmd groups the commands that inspect and reset the scan journal.
// Every provider keeps its own journal.
var StateCmd = &cobra.Command{
	Use:                   "state {show|clear} --provider/-p PROVIDER",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleStateUsage,
	Short:                 "Inspect or reset the scan progress journal",
}

var showCmd = &cobra.Command{
	Use:                   "show --provider/-p PROVIDER",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Short:                 "Print completed, failed and interrupted sources and the last run time",
	Args:                  cobra.NoArgs,
	RunE:                  runShowCommand,
}

var clearCmd = &cobra.Command{
	Use:                   "clear --provider/-p PROVIDER",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Short:                 "Forget all source progress, keeping the last run time",
	Args:                  cobra.NoArgs,
	RunE:                  runClearCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config, l hclog.Logger) {
	AppConfig = cfg
	logger = l
}

// journalPath returns the journal of the selected provider.
func journalPath() (string, error) {
	if err := provider.ValidateName(providerName); err != nil {
		return "", errors.NewCommandError(fmt.Errorf("invalid 'provider' flag: %w", err), 1)
	}
	return config.StatePath(AppConfig, providerName), nil
}

func runShowCommand(cmd *cobra.Command, args []string) error {
	path, err := journalPath()
	if err != nil {
		return err
	}
	j, err := state.Load(path, logger)
	if err != nil {
		logger.Error("failed to load state journal", "path", path, "error", err)
		return errors.NewCommandError(fmt.Errorf("failed to load state journal: %w", err), 2)
	}
	if err := renderJournal(os.Stdout, j, providerName); err != nil {
		return errors.NewCommandError(fmt.Errorf("failed to render state: %w", err), 2)
	}
	return nil
}

func runClearCommand(cmd *cobra.Command, args []string) error {
	path, err := journalPath()
	if err != nil {
		return err
	}
	j, err := state.Open(path, "", logger)
	if err != nil {
		logger.Error("failed to open state journal", "path", path, "error", err)
		return errors.NewCommandError(fmt.Errorf("failed to open state journal: %w", err), 2)
	}
	defer j.Close()

	if err := j.Clear(); err != nil {
		logger.Error("failed to clear state journal", "path", path, "error", err)
		return errors.NewCommandError(fmt.Errorf("failed to clear state journal: %w", err), 2)
	}
	logger.Info("state journal cleared", "path", path)
	return nil
}

func init() {
	StateCmd.PersistentFlags().StringVarP(&providerName, "provider", "p", "", "Provider whose journal to use (bitbucket or jira).")
	_ = StateCmd.MarkPersistentFlagRequired("provider")
	StateCmd.AddCommand(showCmd)
	StateCmd.AddCommand(clearCmd)
}
