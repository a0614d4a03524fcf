package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/style"
)

var scaleAutoCmd = &cobra.Command{
	Use:     "scale-auto <team> on|off",
	GroupID: GroupScaling,
	Short:   "Set the team's auto-apply scaling flag (monitor ticks report recommendations but do not apply them)",
	Args:    cobra.ExactArgs(2),
	RunE:    runScaleAuto,
}

func init() {
	rootCmd.AddCommand(scaleAutoCmd)
}

func runScaleAuto(cmd *cobra.Command, args []string) error {
	team := args[0]
	var on bool
	switch args[1] {
	case "on":
		on = true
	case "off":
		on = false
	default:
		return usageExit("scale-auto %s: expected on|off, got %q", team, args[1])
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root := cliutil.TeamRoot(cwd, team)

	m, err := manifest.Load(root)
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Fprintf(os.Stderr, "scale-auto %s: team not found\n", team)
		return NewSilentExit(1)
	}

	m.Scaling.AutoApply = on
	if err := manifest.Save(root, m); err != nil {
		return err
	}

	state := "off"
	if on {
		state = "on"
	}
	fmt.Printf("%s auto-apply scaling for %q is now %s\n", style.Good.Render("✓"), team, state)
	return nil
}
