package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/scaling"
	"github.com/oddlot-labs/foreman/internal/style"
)

var scaleUpCmd = &cobra.Command{
	Use:     "scale-up <team> [<k>[:<agent-type>]]",
	GroupID: GroupScaling,
	Short:   "Add k workers to a running team",
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runScaleUp,
}

func init() {
	rootCmd.AddCommand(scaleUpCmd)
}

func runScaleUp(cmd *cobra.Command, args []string) error {
	team := args[0]
	count, agentType := 1, "claude"
	if len(args) == 2 {
		var err error
		count, agentType, err = parseWorkerDescriptor(args[1])
		if err != nil {
			return usageExit("%v", err)
		}
	}

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
		fmt.Fprintf(os.Stderr, "scale-up %s: team not found\n", team)
		return NewSilentExit(1)
	}

	cpuLoad, freeMem := cliutil.SampleSystemLoad()
	snap := config.ResourceSnapshot{
		CPULoad1m:     cpuLoad,
		FreeMemMB:     freeMem,
		ActiveWorkers: m.ActiveWorkerCount,
	}

	results, err := scaling.ScaleUp(root, tr, m.TransportHandle, snap, scaling.ScaleUpInput{
		Count:     count,
		AgentType: agentType,
		WorkDir:   cwd,
		Trigger:   config.TriggerManual,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scale-up %s: %v\n", team, err)
		return NewSilentExit(1)
	}

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	fmt.Printf("%s added %d worker(s) to %q: %s\n", style.Good.Render("✓"), len(names), team, strings.Join(names, ", "))
	return nil
}

// parseCount is a small shared helper for commands that accept a bare
// integer count argument (scale-down's <k> form).
func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return n, nil
}
