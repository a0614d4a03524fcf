package spawner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForResolvesKnownAgentTypes(t *testing.T) {
	_, err := For("codex")
	require.NoError(t, err)
	_, err = For("claude")
	require.NoError(t, err)
	_, err = For("unknown")
	require.Error(t, err)
}

func TestResolveModelFlagPrecedence(t *testing.T) {
	cfg := Config{ModelEnv: "opus", LeaderFlags: []string{"--model=sonnet"}}
	require.Equal(t, "--model=opus", resolveModelFlag("model", cfg, "haiku"))

	cfg = Config{LeaderFlags: []string{"--model=sonnet"}}
	require.Equal(t, "--model=sonnet", resolveModelFlag("model", cfg, "haiku"))

	cfg = Config{}
	require.Equal(t, "--model=haiku", resolveModelFlag("model", cfg, "haiku"))
}

func TestFindFlagValueDropsOrphanAndEmptyForms(t *testing.T) {
	require.Equal(t, "", findFlagValue([]string{"--model"}, "model"))
	require.Equal(t, "", findFlagValue([]string{"--model="}, "model"))
	require.Equal(t, "sonnet", findFlagValue([]string{"--model", "sonnet"}, "model"))
	require.Equal(t, "sonnet", findFlagValue([]string{"--model=sonnet"}, "model"))
}

func TestReasoningEffortHeuristic(t *testing.T) {
	require.Equal(t, "low", reasoningEffort("claude-haiku"))
	require.Equal(t, "high", reasoningEffort("claude-opus"))
	require.Equal(t, "medium", reasoningEffort("claude-sonnet"))
}

func TestClaudeBuildCommandIncludesTeamWorkerAndModel(t *testing.T) {
	cmd, err := ClaudeSpawner{}.BuildCommand(Config{Team: "t1", WorkerIndex: 0})
	require.NoError(t, err)
	require.Contains(t, cmd, "TEAM_WORKER=t1/worker-0")
	require.Contains(t, cmd, "exec claude")
	require.Contains(t, cmd, "--model=sonnet")
	require.Contains(t, cmd, "--reasoning-effort=medium")
}

func TestClaudeBuildCommandSkipsEffortInjectionWhenExplicit(t *testing.T) {
	cmd, err := ClaudeSpawner{}.BuildCommand(Config{
		Team: "t1", WorkerIndex: 0,
		LeaderFlags: []string{"--reasoning-effort=high"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, countOccurrences(cmd, "--reasoning-effort"))
}

func TestCodexBuildCommandFallsBackToDefaultModel(t *testing.T) {
	cmd, err := CodexSpawner{}.BuildCommand(Config{Team: "t1", WorkerIndex: 2})
	require.NoError(t, err)
	require.Contains(t, cmd, "TEAM_WORKER=t1/worker-2")
	require.Contains(t, cmd, "--model=o4-mini")
}

func TestIsReadyHeuristicRejectsLoadingLines(t *testing.T) {
	s := ClaudeSpawner{}
	require.False(t, s.IsReady("loading model...\n"))
	require.True(t, s.IsReady("some prior output\n> "))
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
