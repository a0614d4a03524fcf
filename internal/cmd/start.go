package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oddlot-labs/foreman/internal/cliutil"
	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/runtime"
	"github.com/oddlot-labs/foreman/internal/style"
	"github.com/oddlot-labs/foreman/internal/task"
)

var (
	startStdin bool
	startPollMs int
)

var startCmd = &cobra.Command{
	Use:     "start <team> N:<agent-type> \"<task>\" [\"<task>\"...]",
	GroupID: GroupLifecycle,
	Short:   "Create a team with N workers and an initial task list",
	Long: `Creates a new team with N workers of the given agent type, and an
initial set of tasks for them to claim. With --stdin, the team
descriptor and task list are read as a single JSON blob on standard
input instead of from arguments, and start blocks until the team
reaches a terminal phase, printing a JSON summary on completion
.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startStdin, "stdin", false, "Read the start descriptor as JSON from stdin and run to completion")
	startCmd.Flags().IntVar(&startPollMs, "poll", 2000, "Poll interval in milliseconds while waiting for completion (--stdin mode only)")
	rootCmd.AddCommand(startCmd)
}

// stdinStart mirrors inter-process input contract.
type stdinStart struct {
	TeamName       string   `json:"teamName"`
	WorkerCount    int      `json:"workerCount"`
	AgentTypes     []string `json:"agentTypes"`
	Tasks          []struct {
		Subject     string `json:"subject"`
		Description string `json:"description"`
	} `json:"tasks"`
	CWD            string `json:"cwd"`
	PollIntervalMs int    `json:"pollIntervalMs"`
}

type taskResult struct {
	TaskID  string `json:"taskId"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

type stdoutCompletion struct {
	Status      string       `json:"status"`
	TeamName    string       `json:"teamName"`
	TaskResults []taskResult `json:"taskResults"`
	DurationMs  int64        `json:"duration"`
	WorkerCount int          `json:"workerCount"`
}

func runStart(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	if startStdin {
		return runStartStdin(cwd)
	}
	return runStartArgs(cwd, args)
}

func runStartArgs(cwd string, args []string) error {
	if len(args) < 3 {
		return usageExit("start <team> N:<agent-type> \"<task>\" [\"<task>\"...]")
	}
	team := args[0]
	count, agentType, err := parseWorkerDescriptor(args[1])
	if err != nil {
		return usageExit("%v", err)
	}

	var tasks []runtime.TaskInput
	for _, subject := range args[2:] {
		tasks = append(tasks, runtime.TaskInput{Subject: subject})
	}

	root := cliutil.TeamRoot(cwd, team)
	env, err := cliutil.LoadEnv(root)
	if err != nil {
		return err
	}
	tr := cliutil.NewTransport(env)

	agentTypes := make([]string, count)
	for i := range agentTypes {
		agentTypes[i] = agentType
	}

	rt, err := runtime.StartTeam(root, tr, env, runtime.StartInput{
		TeamName:    team,
		WorkerCount: count,
		AgentTypes:  agentTypes,
		Tasks:       tasks,
		CWD:         cwd,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting team %s: %v\n", team, err)
		return NewSilentExit(1)
	}

	snapshot, err := rt.Tick()
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting team %s: initial tick failed: %v\n", team, err)
		return NewSilentExit(1)
	}

	fmt.Printf("%s started team %q with %d worker(s)\n", style.Good.Render("✓"), team, count)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}

func runStartStdin(cwd string) error {
	var in stdinStart
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		return usageExit("decoding stdin descriptor: %v", err)
	}
	if in.TeamName == "" {
		return usageExit("stdin descriptor missing teamName")
	}
	if in.CWD != "" {
		cwd = in.CWD
	}
	pollMs := in.PollIntervalMs
	if pollMs <= 0 {
		pollMs = startPollMs
	}
	if pollMs <= 0 {
		pollMs = 2000
	}

	root := cliutil.TeamRoot(cwd, in.TeamName)
	env, err := cliutil.LoadEnv(root)
	if err != nil {
		return err
	}
	tr := cliutil.NewTransport(env)

	var tasks []runtime.TaskInput
	for _, t := range in.Tasks {
		tasks = append(tasks, runtime.TaskInput{Subject: t.Subject, Description: t.Description})
	}

	workerCount := in.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}

	start := time.Now()
	fmt.Fprintf(os.Stderr, "starting team %s with %d worker(s)\n", in.TeamName, workerCount)

	rt, err := runtime.StartTeam(root, tr, env, runtime.StartInput{
		TeamName:    in.TeamName,
		WorkerCount: workerCount,
		AgentTypes:  in.AgentTypes,
		Tasks:       tasks,
		CWD:         cwd,
	})
	if err != nil {
		return writeCompletion(stdoutCompletion{Status: "failed", TeamName: in.TeamName, DurationMs: time.Since(start).Milliseconds(), WorkerCount: workerCount})
	}

	poll := time.Duration(pollMs) * time.Millisecond
	var snapshot *config.MonitorSnapshot
	for {
		snapshot, err = rt.Tick()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tick failed: %v\n", err)
			break
		}
		fmt.Fprintf(os.Stderr, "tick: phase=%s tasks: pending=%d blocked=%d in_progress=%d completed=%d failed=%d\n",
			snapshot.Phase, snapshot.Counts.Pending, snapshot.Counts.Blocked, snapshot.Counts.InProgress, snapshot.Counts.Completed, snapshot.Counts.Failed)
		if snapshot.Phase == config.PhaseComplete || snapshot.Phase == config.PhaseTeamFix {
			break
		}
		time.Sleep(poll)
	}

	status := "completed"
	if snapshot == nil || snapshot.Phase != config.PhaseComplete {
		status = "failed"
	}

	store := task.New(root)
	allTasks, _ := store.List()
	results := make([]taskResult, 0, len(allTasks))
	for _, t := range allTasks {
		results = append(results, taskResult{TaskID: t.ID, Status: string(t.Status), Summary: t.Result})
	}

	return writeCompletion(stdoutCompletion{
		Status:      status,
		TeamName:    in.TeamName,
		TaskResults: results,
		DurationMs:  time.Since(start).Milliseconds(),
		WorkerCount: workerCount,
	})
}

func writeCompletion(c stdoutCompletion) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return err
	}
	if c.Status == "failed" {
		return NewSilentExit(1)
	}
	return nil
}

// parseWorkerDescriptor parses the "N:<agent-type>" worker-count argument
// syntax shared by start and scale-up.
func parseWorkerDescriptor(s string) (int, string, error) {
	parts := strings.SplitN(s, ":", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("invalid worker descriptor %q: expected N:<agent-type>", s)
	}
	if n > config.AbsoluteMaxWorkers {
		return 0, "", fmt.Errorf("worker count %d exceeds absolute ceiling %d", n, config.AbsoluteMaxWorkers)
	}
	agentType := "claude"
	if len(parts) == 2 && parts[1] != "" {
		agentType = parts[1]
	}
	return n, agentType, nil
}
