package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/runtime"
)

var monitorPollMs int

var monitorCmd = &cobra.Command{
	Use:     "monitor <team> [--poll <ms>]",
	GroupID: GroupLifecycle,
	Short:   "Run monitor ticks, emitting a structured line per tick",
	Args:    cobra.ExactArgs(1),
	RunE:    runMonitor,
}

func init() {
	monitorCmd.Flags().IntVar(&monitorPollMs, "poll", 3000, "Milliseconds between ticks")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
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

	poll := time.Duration(monitorPollMs) * time.Millisecond
	if poll <= 0 {
		poll = 3 * time.Second
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Watch the policy overlay so edits (thresholds, resource limits) take
	// effect on the next tick instead of requiring a restart. Non-fatal if
	// the watcher can't be set up; monitor still works, just without live
	// reload.
	ow, err := cliutil.WatchOverlay(layout.ConfigOverlay(root))
	if err == nil {
		defer ow.Close()
	}

	started := time.Now()
	enc := json.NewEncoder(os.Stdout)
	for {
		snapshot, err := rt.Tick()
		if err != nil {
			fmt.Fprintf(os.Stderr, "monitor %s: tick failed: %v\n", team, err)
			return NewSilentExit(1)
		}
		if err := enc.Encode(snapshot); err != nil {
			return err
		}

		// A nil channel blocks forever, so without a watcher this case is
		// never taken.
		var waitCh <-chan struct{}
		if ow != nil {
			waitCh = ow.Changed
		}
		select {
		case <-stop:
			fmt.Fprintf(os.Stderr, "monitor %s: stopped, ran since %s\n", team, humanize.Time(started))
			return nil
		case <-waitCh:
			if env, err = cliutil.LoadEnv(root); err == nil {
				tr = cliutil.NewTransport(env)
				rt = runtime.New(root, tr, env)
				fmt.Fprintf(os.Stderr, "monitor %s: policy overlay changed, reloaded\n", team)
			}
		case <-time.After(poll):
		}
	}
}
