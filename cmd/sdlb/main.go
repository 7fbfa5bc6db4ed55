// Command sdlb is the driver loop: it parses the feed selector and
// partition-value flags, loads the resolved action graph, invokes the
// scheduler, and surfaces the run's outcome through the process exit
// code.
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := newRootCmd()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
