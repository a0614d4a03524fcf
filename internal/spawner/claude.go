package spawner

import (
	"fmt"
	"strings"
)

// ClaudeSpawner launches the claude CLI.
type ClaudeSpawner struct{}

const claudeFallbackModel = "sonnet"

// BuildCommand implements Spawner.
func (ClaudeSpawner) BuildCommand(cfg Config) (string, error) {
	var sb strings.Builder
	if cfg.ShellRC != "" {
		fmt.Fprintf(&sb, "source %s 2>/dev/null; ", shellQuote(cfg.ShellRC))
	}
	fmt.Fprintf(&sb, "export %s; ", teamWorkerEnv(cfg))
	for k, v := range cfg.EnvOverlay {
		fmt.Fprintf(&sb, "export %s=%s; ", k, shellQuote(v))
	}

	args := []string{"--dangerously-skip-permissions"}
	args = append(args, resolveModelFlag("model", cfg, claudeFallbackModel))

	if v := findFlagValue(cfg.LeaderFlags, "reasoning-effort"); v != "" {
		args = append(args, fmt.Sprintf("--reasoning-effort=%s", v))
	} else if !hasExplicitFlag(cfg.LeaderFlags, "reasoning-effort") && cfg.ModelEnv == "" {
		model := findFlagValue(cfg.LeaderFlags, "model")
		if model == "" {
			model = claudeFallbackModel
		}
		args = append(args, fmt.Sprintf("--reasoning-effort=%s", reasoningEffort(model)))
	}

	fmt.Fprintf(&sb, "exec claude %s", strings.Join(args, " "))
	return sb.String(), nil
}

// IsReady implements Spawner: claude's prompt shows a ">" glyph on the
// input line once settled.
func (ClaudeSpawner) IsReady(capture string) bool {
	return isReadyByHeuristic(capture, []string{">", "Human:"})
}

// BuildEnv implements Spawner.
func (ClaudeSpawner) BuildEnv(cfg Config) map[string]string {
	env := map[string]string{
		"TEAM_WORKER": fmt.Sprintf("%s/worker-%d", cfg.Team, cfg.WorkerIndex),
	}
	for k, v := range cfg.EnvOverlay {
		env[k] = v
	}
	return env
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
