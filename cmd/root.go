package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/sweeper/cmd/list"
	"github.com/scan-io-git/sweeper/cmd/scan"
	"github.com/scan-io-git/sweeper/cmd/state"
	"github.com/scan-io-git/sweeper/cmd/version"
	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/logger"
	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
)

var (
	cfgFile   string
	AppConfig *config.Config
	Logger    hclog.Logger
	rootCmd   = &cobra.Command{
		Use:                   "sweeper [command]",
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Short:                 "Sweeper searches code repositories and issue trackers for leaked secrets.",
		Long: `Sweeper enumerates Bitbucket repositories or Jira projects, fetches every file, issue description,
	comment, attachment and description revision, and reports the secrets that the configured detectors match.
	Progress is journaled so an interrupted scan resumes where it stopped.
	`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the config file (default is $SWEEPER_CONFIG or config.yml).")

	rootCmd.AddCommand(scan.ScanCmd)
	rootCmd.AddCommand(list.ListCmd)
	rootCmd.AddCommand(state.StateCmd)
	rootCmd.AddCommand(version.NewVersionCmd())
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		return sherrors.ExitCode(err)
	}
	return 0
}

func initConfig() {
	var err error

	if cfgFile == "" {
		cfgFile = config.SetThen(os.Getenv("SWEEPER_CONFIG"), "config.yml")
	}
	AppConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize config: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(AppConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	Logger = logger.NewLogger(AppConfig, "core")

	scan.Init(AppConfig, Logger.Named("scan"))
	list.Init(AppConfig, Logger.Named("list"))
	state.Init(AppConfig, Logger.Named("state"))
	version.Init(AppConfig)
}
