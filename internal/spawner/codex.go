package spawner

import (
	"fmt"
	"strings"
)

// CodexSpawner launches the codex CLI.
type CodexSpawner struct{}

const codexFallbackModel = "o4-mini"

// BuildCommand implements Spawner.
func (CodexSpawner) BuildCommand(cfg Config) (string, error) {
	var sb strings.Builder
	if cfg.ShellRC != "" {
		fmt.Fprintf(&sb, "source %s 2>/dev/null; ", shellQuote(cfg.ShellRC))
	}
	fmt.Fprintf(&sb, "export %s; ", teamWorkerEnv(cfg))
	for k, v := range cfg.EnvOverlay {
		fmt.Fprintf(&sb, "export %s=%s; ", k, shellQuote(v))
	}

	args := []string{"--full-auto"}
	args = append(args, resolveModelFlag("model", cfg, codexFallbackModel))

	if v := findFlagValue(cfg.LeaderFlags, "reasoning-effort"); v != "" {
		args = append(args, fmt.Sprintf("--reasoning-effort=%s", v))
	} else if !hasExplicitFlag(cfg.LeaderFlags, "reasoning-effort") {
		model := findFlagValue(cfg.LeaderFlags, "model")
		if model == "" {
			model = cfg.ModelEnv
		}
		if model == "" {
			model = codexFallbackModel
		}
		args = append(args, fmt.Sprintf("--reasoning-effort=%s", reasoningEffort(model)))
	}

	fmt.Fprintf(&sb, "exec codex %s", strings.Join(args, " "))
	return sb.String(), nil
}

// IsReady implements Spawner: codex settles on a "›" or "codex>" prompt.
func (CodexSpawner) IsReady(capture string) bool {
	return isReadyByHeuristic(capture, []string{"›", "codex>"})
}

// BuildEnv implements Spawner.
func (CodexSpawner) BuildEnv(cfg Config) map[string]string {
	env := map[string]string{
		"TEAM_WORKER": fmt.Sprintf("%s/worker-%d", cfg.Team, cfg.WorkerIndex),
	}
	for k, v := range cfg.EnvOverlay {
		env[k] = v
	}
	return env
}
