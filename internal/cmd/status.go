package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/runtime"
	"github.com/oddlot-labs/foreman/internal/style"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:     "status <team>",
	GroupID: GroupLifecycle,
	Short:   "Print task counts, worker states, phase, and active recommendations",
	Args:    cobra.ExactArgs(1),
	RunE:    runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Only emit the JSON snapshot, skip the table")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	snapshot, err := rt.Tick()
	if err != nil {
		fmt.Fprintf(os.Stderr, "status %s: %v\n", team, err)
		return NewSilentExit(1)
	}

	// Tooling that greps for task counters expects a line starting with
	// "tasks:" listing the five counters in this exact token order.
	fmt.Printf("tasks: pending=%d blocked=%d in_progress=%d completed=%d failed=%d\n",
		snapshot.Counts.Pending, snapshot.Counts.Blocked, snapshot.Counts.InProgress,
		snapshot.Counts.Completed, snapshot.Counts.Failed)

	if !statusJSON {
		fmt.Printf("phase: %s\n", style.Bold.Render(string(snapshot.Phase)))
		if len(snapshot.DeadWorkers) > 0 {
			fmt.Printf("dead workers: %s\n", style.Bad.Render(fmt.Sprint(snapshot.DeadWorkers)))
		}
		printWorkerTable(snapshot)
		for _, rec := range snapshot.Recommendations {
			if rec.Action == config.RecommendationAction {
				continue
			}
			conf := ""
			if rec.HighConfidence {
				conf = " (high confidence)"
			}
			fmt.Printf("recommendation: %s x%d — %s%s\n", rec.Action, rec.Count, rec.Reason, conf)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}

func printWorkerTable(snapshot *config.MonitorSnapshot) {
	if len(snapshot.WorkerStates) == 0 {
		return
	}
	names := make([]string, 0, len(snapshot.WorkerStates))
	for name := range snapshot.WorkerStates {
		names = append(names, name)
	}
	sort.Strings(names)

	nameWidth := 14
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		if w := width - 10 - 4; w > nameWidth {
			nameWidth = w
		}
	}

	t := style.NewTable(
		style.Column{Name: "WORKER", Width: nameWidth},
		style.Column{Name: "STATE", Width: 10},
	)
	for _, name := range names {
		t.AddRow(name, string(snapshot.WorkerStates[name]))
	}
	fmt.Print(t.Render())
}
