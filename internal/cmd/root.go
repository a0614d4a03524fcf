// Package cmd implements foreman's command-line surface: one
// subcommand per verb, each a thin shell around the runtime/scaling
// packages.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oddlot-labs/foreman/internal/cliutil"
)

const (
	GroupLifecycle = "lifecycle"
	GroupScaling   = "scaling"
)

var rootCmd = &cobra.Command{
	Use:           "fm",
	Short:         "Local multi-worker agent orchestrator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupLifecycle, Title: "Team lifecycle:"},
		&cobra.Group{ID: GroupScaling, Title: "Scaling:"},
	)
}

// Execute runs the root command and returns the process exit code.
// Exit codes: 0 success, 1 expected failure, 2 usage error.
func Execute() int {
	err := rootCmd.Execute()
	code := cliutil.ExitCode(err)
	if err != nil {
		if _, silent := err.(*cliutil.SilentExit); !silent {
			fmt.Fprintf(os.Stderr, "fm: %v\n", err)
		}
	}
	return code
}

// NewSilentExit re-exports cliutil.NewSilentExit for brevity inside this
// package's command files.
func NewSilentExit(code int) error { return cliutil.NewSilentExit(code) }

// usageExit prints a usage message to stderr and returns the exit-code-2
// sentinel usage error class.
func usageExit(format string, args ...interface{}) error {
	fmt.Fprintf(os.Stderr, "fm: "+format+"\n", args...)
	return NewSilentExit(2)
}
