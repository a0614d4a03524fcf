// Package spawner builds CLI-specific worker launch commands and detects
// readiness from captured pane output. Two
// implementations ship: codex and claude, selected by agent-type.
package spawner

import (
	"fmt"
	"strings"
)

// Config parameterizes one worker's command construction.
type Config struct {
	Team         string
	WorkerIndex  int
	AgentType    string
	ShellRC      string            // optional rc file to source, e.g. "~/.bashrc"
	ModelEnv     string            // explicit env override for the model flag, highest precedence
	LeaderFlags  []string          // flags inherited from the leader's own invocation
	EnvOverlay   map[string]string // additional key=value pairs to export
}

// Spawner is CLI-specific.
type Spawner interface {
	// BuildCommand returns a shell-quoted command string that sources an
	// optional rc file, sets TEAM_WORKER in the environment, and execs the
	// target CLI with the resolved argument list.
	BuildCommand(cfg Config) (string, error)
	// IsReady parses the tail of captured pane output and returns true iff
	// the CLI is at an interactive prompt.
	IsReady(capture string) bool
	// BuildEnv returns the environment overlay for the worker process.
	BuildEnv(cfg Config) map[string]string
}

// For resolves the Spawner implementation for an agent-type slug.
func For(agentType string) (Spawner, error) {
	switch agentType {
	case "codex":
		return CodexSpawner{}, nil
	case "claude":
		return ClaudeSpawner{}, nil
	default:
		return nil, fmt.Errorf("spawner: unknown agent type %q", agentType)
	}
}

// teamWorkerEnv renders the TEAM_WORKER environment binding common to both
// spawners ("sets TEAM_WORKER=<team>/worker-<i>").
func teamWorkerEnv(cfg Config) string {
	return fmt.Sprintf("TEAM_WORKER=%s/worker-%d", cfg.Team, cfg.WorkerIndex)
}

// resolveModelFlag implements the argument-resolution precedence:
// explicit environment override > inherited leader flags > fallback per
// agent-type. Exactly one canonical model flag is emitted.
func resolveModelFlag(flagName string, cfg Config, fallback string) string {
	if cfg.ModelEnv != "" {
		return fmt.Sprintf("--%s=%s", flagName, cfg.ModelEnv)
	}
	if v := findFlagValue(cfg.LeaderFlags, flagName); v != "" {
		return fmt.Sprintf("--%s=%s", flagName, v)
	}
	return fmt.Sprintf("--%s=%s", flagName, fallback)
}

// findFlagValue scans leader flags of the form "--name=value" or "--name
// value" for a matching flag, returning its value. Orphan flag tokens (the
// flag with no following value) and empty `--flag=` forms are dropped.
func findFlagValue(flags []string, name string) string {
	prefix := "--" + name
	for i := 0; i < len(flags); i++ {
		f := flags[i]
		if strings.HasPrefix(f, prefix+"=") {
			v := strings.TrimPrefix(f, prefix+"=")
			if v == "" {
				continue // empty --flag= form, dropped
			}
			return v
		}
		if f == prefix {
			if i+1 < len(flags) && !strings.HasPrefix(flags[i+1], "--") {
				return flags[i+1]
			}
			continue // orphan flag token, dropped
		}
	}
	return ""
}

// reasoningEffort infers a reasoning-effort level from a model name token:
// small/fast names map to low, deep-thinking names map to high, otherwise
// medium. Injected only when not already explicit.
func reasoningEffort(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "mini"), strings.Contains(lower, "fast"), strings.Contains(lower, "haiku"), strings.Contains(lower, "flash"):
		return "low"
	case strings.Contains(lower, "opus"), strings.Contains(lower, "deep"), strings.Contains(lower, "think"), strings.Contains(lower, "pro-max"):
		return "high"
	default:
		return "medium"
	}
}

// hasExplicitFlag reports whether leader flags already set the given flag
// name explicitly, so auto-injection never overrides an explicit choice.
func hasExplicitFlag(flags []string, name string) bool {
	prefix := "--" + name
	for _, f := range flags {
		if f == prefix || strings.HasPrefix(f, prefix+"=") {
			return true
		}
	}
	return false
}

// isReadyByHeuristic implements the shared readiness heuristic: a prompt
// glyph on the last non-empty line, and the absence of
// loading/starting/initializing/connecting markers in the last ~10 lines.
func isReadyByHeuristic(capture string, promptGlyphs []string) bool {
	lines := strings.Split(strings.TrimRight(capture, "\n"), "\n")
	if len(lines) == 0 {
		return false
	}

	tail := lines
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	for _, l := range tail {
		low := strings.ToLower(l)
		if strings.Contains(low, "loading") || strings.Contains(low, "starting") ||
			strings.Contains(low, "initializing") || strings.Contains(low, "connecting") {
			return false
		}
	}

	var lastNonEmpty string
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			lastNonEmpty = lines[i]
			break
		}
	}
	if lastNonEmpty == "" {
		return false
	}
	for _, glyph := range promptGlyphs {
		if strings.Contains(lastNonEmpty, glyph) {
			return true
		}
	}
	return false
}
