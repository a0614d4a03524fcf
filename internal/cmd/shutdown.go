package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/runtime"
	"github.com/oddlot-labs/foreman/internal/style"
)

var shutdownForce bool

var shutdownCmd = &cobra.Command{
	Use:     "shutdown <team> [--force]",
	GroupID: GroupLifecycle,
	Short:   "Tear a team down, gracefully or by force",
	Args:    cobra.ExactArgs(1),
	RunE:    runShutdown,
}

func init() {
	shutdownCmd.Flags().BoolVar(&shutdownForce, "force", false, "Skip the termination gate and ack wait; kill everything immediately")
	rootCmd.AddCommand(shutdownCmd)
}

func runShutdown(cmd *cobra.Command, args []string) error {
	team := args[0]
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root := cliutil.TeamRoot(cwd, team)
	env, err := cliutil.LoadEnv(root)
	if err != nil {
		return err
	}
	tr := cliutil.NewTransport(env)
	rt := runtime.New(root, tr, env)

	mode := runtime.ShutdownGraceful
	if shutdownForce {
		mode = runtime.ShutdownForced
	}

	err = rt.ShutdownTeam(runtime.ShutdownInput{
		Mode:        mode,
		RequestedBy: "fm-cli",
	})
	if err != nil {
		if errors.Is(err, errkind.ErrShutdownGateBlocked) {
			fmt.Fprintf(os.Stderr, "%s team %s: %v (use --force to override)\n", style.Warn.Render("blocked"), team, err)
			return NewSilentExit(1)
		}
		fmt.Fprintf(os.Stderr, "shutting down team %s: %v\n", team, err)
		return NewSilentExit(1)
	}

	fmt.Printf("%s team %q shut down\n", style.Good.Render("✓"), team)
	return nil
}
