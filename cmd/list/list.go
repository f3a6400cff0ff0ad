package list

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/integration"
	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/pkg/shared/errors"
	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

// RunOptionsList holds the arguments for the list command.
type RunOptionsList struct {
	Provider   string
	Since      string
	Branch     string
	OutputPath string
}

// Global variables for configuration and command arguments
var (
	AppConfig   *config.Config
	logger      hclog.Logger
	listOptions RunOptionsList

	exampleListUsage = `  # List every repository of the configured Bitbucket workspace
  sweeper list --provider bitbucket

  # List repositories modified since the first of March into a file usable as scan input
  sweeper list --provider bitbucket --since 2024-03-01 -o /path/to/list_output.file

  # List Jira projects into a folder, the file is named jira_sources.txt
  sweeper list --provider jira -o /path/to/folder`
)

// ListCmd represents the command for list command.
var ListCmd = &cobra.Command{
	Use:                   "list --provider/-p PROVIDER [--since DATE] [-b BRANCH] [--output/-o PATH]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleListUsage,
	Short:                 "List the sources a scan would cover",
	Long: `List the sources a scan would cover, one per line.

The output can be edited and passed back to the scan command with --input-file.`,
	RunE: runListCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config, l hclog.Logger) {
	AppConfig = cfg
	logger = l
}

func runListCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && listOptions.Provider == "" {
		return cmd.Help()
	}

	if err := validateListArgs(&listOptions, args); err != nil {
		logger.Error("invalid list arguments", "error", err)
		return errors.NewCommandError(fmt.Errorf("invalid list arguments: %w", err), 1)
	}

	p, err := integration.NewProvider(AppConfig, listOptions.Provider, logger)
	if err != nil {
		logger.Error("failed to create provider", "error", err)
		return errors.NewCommandError(fmt.Errorf("failed to create provider: %w", err), 1)
	}

	filter := provider.Filter{Branch: listOptions.Branch}
	if listOptions.Since != "" {
		// Validated above.
		filter.Since, _ = config.ParseDate(listOptions.Since)
	}

	sources, err := p.ListSources(cmd.Context(), filter)
	if err != nil {
		logger.Error("list command failed", "error", err)
		return errors.NewCommandError(fmt.Errorf("list command failed: %w", err), 2)
	}

	keys := sourceKeys(sources)
	if listOptions.OutputPath == "" {
		for _, key := range keys {
			fmt.Fprintln(os.Stdout, key)
		}
		logger.Info("list command completed successfully", "sources", len(keys))
		return nil
	}

	path, _, err := files.DetermineFileFullPath(listOptions.OutputPath, fmt.Sprintf("%s_sources.txt", listOptions.Provider))
	if err != nil {
		return errors.NewCommandError(err, 1)
	}
	if err := files.WriteLines(path, keys); err != nil {
		logger.Error("failed to write result", "error", err)
		return errors.NewCommandError(err, 2)
	}

	logger.Info("list command completed successfully")
	logger.Info("results saved to file", "path", path, "sources", len(keys))
	return nil
}

// sourceKeys returns the resumable key of each source.
func sourceKeys(sources []provider.Source) []string {
	keys := make([]string, 0, len(sources))
	for _, src := range sources {
		keys = append(keys, src.Key())
	}
	return keys
}

func init() {
	ListCmd.Flags().StringVarP(&listOptions.Provider, "provider", "p", "", "Name of the content provider to list (bitbucket or jira).")
	ListCmd.Flags().StringVar(&listOptions.Since, "since", "", "Skip sources not modified since this date (YYYY-MM-DD or RFC 3339).")
	ListCmd.Flags().StringVarP(&listOptions.Branch, "branch", "b", "", "Suffix every repository with this branch.")
	ListCmd.Flags().StringVarP(&listOptions.OutputPath, "output", "o", "", "Path to the output file or directory where the list result will be saved.")
	ListCmd.Flags().BoolP("help", "h", false, "Show help for the list command.")
}
