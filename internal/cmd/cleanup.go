package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/errkind"
	"github.com/oddlot-labs/foreman/internal/manifest"
	"github.com/oddlot-labs/foreman/internal/runtime"
	"github.com/oddlot-labs/foreman/internal/style"
)

var cleanupCmd = &cobra.Command{
	Use:     "cleanup <team>",
	GroupID: GroupLifecycle,
	Short:   "Forced cleanup of a team's state root, safe to run after a crash",
	Args:    cobra.ExactArgs(1),
	RunE:    runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	team := args[0]
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	root := cliutil.TeamRoot(cwd, team)

	m, err := manifest.Load(root)
	if err != nil || m == nil {
		// No readable manifest: nothing to gracefully tear down. Remove
		// whatever is left of the state root and report success, per
		// "safe after crash" contract for cleanup.
		_ = os.RemoveAll(root)
		fmt.Printf("%s cleaned up %q (no manifest found)\n", style.Good.Render("✓"), team)
		printCleanupJSON(team, true, 0, false)
		return nil
	}

	env, err := cliutil.LoadEnv(root)
	if err != nil {
		return err
	}
	tr := cliutil.NewTransport(env)
	rt := runtime.New(root, tr, env)

	if m.Policy.CleanupRequiresAllInactive {
		if blocked, reason := rt.TerminationGateBlocked(m); blocked {
			return fmt.Errorf("%w: %s", errkind.ErrShutdownGateBlocked, reason)
		}
	}

	targets, _ := tr.ListSlots(m.TransportHandle)
	dedupedTotal := len(dedupeAddrs(targets))

	// The session's leader/HUD pane is never registered as a worker address,
	// so any live slot outside workers[] is the leader pane being correctly
	// excluded from the kill set.
	workerAddrs := map[string]bool{}
	for _, w := range m.Workers {
		workerAddrs[w.Address] = true
	}
	excludedLeader := false
	for _, addr := range targets {
		if !workerAddrs[addr] {
			excludedLeader = true
			break
		}
	}

	if err := rt.ShutdownTeam(runtime.ShutdownInput{Mode: runtime.ShutdownForced, RequestedBy: "fm-cli-cleanup"}); err != nil {
		fmt.Fprintf(os.Stderr, "cleanup %s: forced shutdown reported %v; removing state root anyway\n", team, err)
	}
	_ = os.RemoveAll(root)

	fmt.Printf("%s cleaned up %q\n", style.Good.Render("✓"), team)
	printCleanupJSON(team, true, dedupedTotal, excludedLeader)
	return nil
}

func dedupeAddrs(addrs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range addrs {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func printCleanupJSON(team string, removed bool, dedupedTotal int, excludedLeader bool) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]interface{}{
		"team":    team,
		"removed": removed,
		"targets": map[string]interface{}{"deduped_total": dedupedTotal},
		"excluded": map[string]interface{}{"leader": excludedLeader},
	})
}
