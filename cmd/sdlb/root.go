package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sdlb",
		Short:         "Smart Data Lake Builder orchestrates declarative data pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// exitCode maps a run's terminal error to the process exit status: 1 for
// configuration errors detected before Exec, 2 for anything that failed
// during or after Exec, 0 (unreached here, since a nil error never
// reaches exitCode) for success, including "no data to process".
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *sdlberrors.ConfigurationError
	if errors.As(err, &cfgErr) {
		return 1
	}
	return 2
}
