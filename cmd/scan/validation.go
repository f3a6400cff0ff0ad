package scan

import (
	"fmt"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/provider"
	"github.com/scan-io-git/sweeper/pkg/shared/files"
)

const maxThreads = 256

// validateScanArgs validates the arguments provided to the scan command.
func validateScanArgs(options *RunOptionsScan, args []string) error {
	if options.Provider == "" {
		return fmt.Errorf("the 'provider' flag must be specified")
	}
	if err := provider.ValidateName(options.Provider); err != nil {
		return err
	}

	if options.InputFile != "" && len(args) > 0 {
		return fmt.Errorf("you cannot use an input file together with source arguments")
	}
	if options.InputFile != "" {
		expandedPath, err := files.ExpandPath(options.InputFile)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", options.InputFile, err)
		}
		if err := files.ValidatePath(expandedPath); err != nil {
			return fmt.Errorf("failed to validate path %q: %w", expandedPath, err)
		}
	}

	if options.Threads < 0 || options.Threads > maxThreads {
		return fmt.Errorf("threads must be between 1 and %d: %d", maxThreads, options.Threads)
	}

	if options.Branch != "" && options.Provider != provider.Bitbucket {
		return fmt.Errorf("the 'branch' flag is supported only by the %s provider", provider.Bitbucket)
	}

	if options.Since != "" {
		if _, err := config.ParseDate(options.Since); err != nil {
			return fmt.Errorf("invalid 'since' value: %w", err)
		}
	}
	return nil
}
