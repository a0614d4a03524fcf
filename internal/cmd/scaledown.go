package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/scaling"
	"github.com/oddlot-labs/foreman/internal/style"
)

var scaleDownCmd = &cobra.Command{
	Use:     "scale-down <team> [<k>|<worker-name>]",
	GroupID: GroupScaling,
	Short:   "Drain k workers (LIFO idle-first) or a named worker",
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runScaleDown,
}

func init() {
	rootCmd.AddCommand(scaleDownCmd)
}

func runScaleDown(cmd *cobra.Command, args []string) error {
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

	m, err := manifest.Load(root)
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Fprintf(os.Stderr, "scale-down %s: team not found\n", team)
		return NewSilentExit(1)
	}

	in := scaling.ScaleDownInput{Count: 1, Trigger: config.TriggerManual}
	if len(args) == 2 {
		if count, err := parseCount(args[1]); err == nil {
			in.Count = count
		} else {
			in.Worker = args[1]
		}
	}

	stopped, err := scaling.ScaleDown(root, tr, m.TransportHandle, "fm-cli", in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scale-down %s: %v\n", team, err)
		return NewSilentExit(1)
	}
	if len(stopped) == 0 {
		fmt.Fprintf(os.Stderr, "scale-down %s: no eligible workers\n", team)
		return NewSilentExit(1)
	}

	fmt.Printf("%s drained %d worker(s) from %q: %s\n", style.Good.Render("✓"), len(stopped), team, strings.Join(stopped, ", "))
	return nil
}
