package cliutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oddlot-labs/foreman/internal/config"
)

func TestTeamRootJoinsStateBaseAndName(t *testing.T) {
	root := TeamRoot("/project", "alpha")
	require.Equal(t, filepath.Join("/project", "state", "team", "alpha"), root)
}

func TestLoadEnvWithNoOverlayReturnsDefaults(t *testing.T) {
	root := t.TempDir()
	env, err := LoadEnv(root)
	require.NoError(t, err)
	require.Equal(t, config.DefaultEnv().ScaleMaxWorkers, env.ScaleMaxWorkers)
}

func TestLoadEnvAppliesOverlayOverDefault(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(root, 0o755))
	contents := `
[scaling]
min_workers = 3
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "foreman.toml"), []byte(contents), 0o644))

	env, err := LoadEnv(root)
	require.NoError(t, err)
	require.Equal(t, 3, env.ScaleMinWorkers)
}

func TestLoadEnvRealEnvVarWinsOverOverlay(t *testing.T) {
	root := t.TempDir()
	contents := `
[scaling]
min_workers = 3
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "foreman.toml"), []byte(contents), 0o644))

	t.Setenv("SCALE_MIN_WORKERS", "7")

	env, err := LoadEnv(root)
	require.NoError(t, err)
	require.Equal(t, 7, env.ScaleMinWorkers)
}

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(os.ErrNotExist))
	require.Equal(t, 3, ExitCode(NewSilentExit(3)))
}

func TestSampleSystemLoadDoesNotError(t *testing.T) {
	// /proc may be absent on non-Linux test runners; either way this must
	// not panic and must return zero values on failure.
	cpu, mem := SampleSystemLoad()
	require.GreaterOrEqual(t, cpu, 0.0)
	require.GreaterOrEqual(t, mem, 0)
}
