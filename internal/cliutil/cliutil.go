// Package cliutil holds the small pieces of plumbing every command in
// internal/cmd shares: resolving a team's state root, assembling its
// environment/transport, and the silent-exit convention for carrying an
// exit code back through cobra without an extra printed error line.
package cliutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oddlot-labs/foreman/internal/config"
	"github.com/oddlot-labs/foreman/internal/layout"
	"github.com/oddlot-labs/foreman/internal/transport"
)

// SilentExit carries an exit code through cobra's RunE without cobra
// printing an additional "Error:" line — the command has already printed
// whatever message it wants. Exit code convention: 0 success, 1 expected
// failure, 2 usage error.
type SilentExit struct {
	Code int
}

func (e *SilentExit) Error() string { return fmt.Sprintf("silent exit %d", e.Code) }

// NewSilentExit returns an error that only carries an exit code.
func NewSilentExit(code int) error { return &SilentExit{Code: code} }

// ExitCode inspects err and returns the code a caller should exit with: 0
// for nil, the carried code for a SilentExit (commands report the usage
// errors they detect themselves as a SilentExit with code 2), 1 for
// anything else. cobra's own errors (unknown flag or command, wrong
// argument count) are not told apart and also map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if se, ok := err.(*SilentExit); ok {
		return se.Code
	}
	return 1
}

// StateBase returns the project-local state directory a team's root lives
// under, given the current working directory ("<project>/state").
func StateBase(cwd string) string {
	return filepath.Join(cwd, "state")
}

// TeamRoot resolves a team name to its state root under cwd.
func TeamRoot(cwd, team string) string {
	return layout.Root(StateBase(cwd), team)
}

// LoadEnv assembles the effective Env for a team root: built-in defaults,
// then the optional foreman.toml overlay, then real environment variables —
// each layer overriding the one before it, per config.Overlay's documented
// precedence.
func LoadEnv(root string) (config.Env, error) {
	overlay, err := config.LoadOverlay(layout.ConfigOverlay(root))
	if err != nil {
		return config.Env{}, fmt.Errorf("loading config overlay: %w", err)
	}
	env := overlay.Apply(config.DefaultEnv())
	return applyEnvOnTop(env), nil
}

// applyEnvOnTop re-applies LoadEnv's environment-variable pass on top of
// an overlay-merged Env, so that a real environment variable always wins
// over the TOML overlay, which always wins over the compiled-in default.
func applyEnvOnTop(base config.Env) config.Env {
	fromEnv := config.LoadEnv()
	merged := base
	if v, ok := os.LookupEnv("FORCE_TRANSPORT"); ok {
		_ = v
		merged.ForceTransport = fromEnv.ForceTransport
	}
	if _, ok := os.LookupEnv("READY_TIMEOUT_MS"); ok {
		merged.ReadyTimeout = fromEnv.ReadyTimeout
	}
	if _, ok := os.LookupEnv("LEADER_NUDGE_MS"); ok {
		merged.LeaderNudge = fromEnv.LeaderNudge
	}
	if _, ok := os.LookupEnv("CLAIM_LEASE_MS"); ok {
		merged.ClaimLease = fromEnv.ClaimLease
	}
	if _, ok := os.LookupEnv("SHUTDOWN_GRACE_MS"); ok {
		merged.ShutdownGrace = fromEnv.ShutdownGrace
	}
	if _, ok := os.LookupEnv("AUTO_SCALE"); ok {
		merged.AutoScale = fromEnv.AutoScale
	}
	if _, ok := os.LookupEnv("SCALE_MAX_CPU_PERCENT"); ok {
		merged.ScaleMaxCPU = fromEnv.ScaleMaxCPU
	}
	if _, ok := os.LookupEnv("SCALE_MIN_FREE_MEM_MB"); ok {
		merged.ScaleMinFreeMem = fromEnv.ScaleMinFreeMem
	}
	if _, ok := os.LookupEnv("SCALE_COOLDOWN_MS"); ok {
		merged.ScaleCooldown = fromEnv.ScaleCooldown
	}
	if _, ok := os.LookupEnv("SCALE_UP_THRESHOLD"); ok {
		merged.ScaleUpThresh = fromEnv.ScaleUpThresh
	}
	if _, ok := os.LookupEnv("SCALE_DOWN_THRESHOLD"); ok {
		merged.ScaleDownThresh = fromEnv.ScaleDownThresh
	}
	if _, ok := os.LookupEnv("SCALE_IDLE_TIMEOUT_MS"); ok {
		merged.ScaleIdleTO = fromEnv.ScaleIdleTO
	}
	if _, ok := os.LookupEnv("SCALE_MIN_WORKERS"); ok {
		merged.ScaleMinWorkers = fromEnv.ScaleMinWorkers
	}
	if _, ok := os.LookupEnv("SCALE_PER_WORKER_MEM_MB"); ok {
		merged.ScalePerWorker = fromEnv.ScalePerWorker
	}
	if _, ok := os.LookupEnv("DRAIN_TIMEOUT_MS"); ok {
		merged.DrainTimeout = fromEnv.DrainTimeout
	}
	return merged
}

// NewTransport resolves and constructs the transport variant for a team
// via the capability probe.
func NewTransport(env config.Env) transport.Transport {
	kind := transport.Resolve(env.ForceTransport, transport.ProbeAvailable)
	return transport.New(kind)
}

// SampleSystemLoad fills the system-wide fields of a ResourceSnapshot (1m
// load average and free memory) by reading /proc directly. No third-party
// system-sampling library appears anywhere in the example corpus, so this
// is hand-rolled against the two /proc files every Linux host exposes; on
// any read/parse failure it returns the zero value, which disables
// resource-based scale-up gating rather than denying it outright.
func SampleSystemLoad() (cpuLoad1m float64, freeMemMB int) {
	if data, err := os.ReadFile("/proc/loadavg"); err == nil {
		var one float64
		if _, err := fmt.Sscanf(string(data), "%f", &one); err == nil {
			cpuLoad1m = one * 100
		}
	}
	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		freeMemMB = parseMemAvailableMB(string(data))
	}
	return cpuLoad1m, freeMemMB
}

func parseMemAvailableMB(meminfo string) int {
	for _, line := range splitLines(meminfo) {
		var label string
		var kb int
		if _, err := fmt.Sscanf(line, "%s %d", &label, &kb); err == nil && label == "MemAvailable:" {
			return kb / 1024
		}
	}
	return 0
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
