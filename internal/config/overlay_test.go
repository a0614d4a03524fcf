package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverlayMissingFileIsZeroValue(t *testing.T) {
	o, err := LoadOverlay(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Nil(t, o.ResourceLimits)
}

func TestLoadOverlayAppliesOverThresholdDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreman.toml")
	contents := `
[resource_limits]
max_cpu_percent = 55.0
min_free_mem_mb = 1024

[scaling]
min_workers = 2
scale_up_threshold = 2.5

[role_agents]
executor = "claude"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	o, err := LoadOverlay(path)
	require.NoError(t, err)
	require.Equal(t, 1024, o.ResourceLimits.MinFreeMemMB)
	require.Equal(t, "claude", o.RoleAgents["executor"])

	merged := o.Apply(DefaultEnv())
	require.Equal(t, 55.0, merged.ScaleMaxCPU)
	require.Equal(t, 2, merged.ScaleMinWorkers)
	require.Equal(t, 2.5, merged.ScaleUpThresh)
	// Untouched default preserved.
	require.Equal(t, DefaultEnv().ScaleDownThresh, merged.ScaleDownThresh)
}
