package list

import (
	"fmt"

	"github.com/scan-io-git/sweeper/internal/config"
	"github.com/scan-io-git/sweeper/internal/provider"
)

// validateListArgs validates the arguments provided to the list command.
func validateListArgs(options *RunOptionsList, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("invalid argument(s) received, the list command takes no positional arguments")
	}

	if options.Provider == "" {
		return fmt.Errorf("the 'provider' flag must be specified")
	}
	if err := provider.ValidateName(options.Provider); err != nil {
		return err
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
