package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Overlay is the optional <state-root>/foreman.toml policy overlay,
// expressed in TOML. Environment variables always take precedence over an
// overlay value; an overlay value always takes precedence over the
// built-in default.
type Overlay struct {
	ResourceLimits *ResourceLimits   `toml:"resource_limits"`
	Scaling        *ScalingOverlay   `toml:"scaling"`
	RoleAgents     map[string]string `toml:"role_agents"`
}

// ScalingOverlay mirrors the subset of ScalingPolicy that an operator may
// want to tune without recompiling or exporting every SCALE_* variable.
type ScalingOverlay struct {
	MaxWorkers         *int     `toml:"max_workers"`
	MinWorkers         *int     `toml:"min_workers"`
	ScaleUpThreshold   *float64 `toml:"scale_up_threshold"`
	ScaleDownThreshold *float64 `toml:"scale_down_threshold"`
}

// LoadOverlay parses the TOML file at path. A missing file is not an error:
// it returns a zero-value Overlay, matching an additive, optional design.
func LoadOverlay(path string) (Overlay, error) {
	var o Overlay
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, err
	}
	if err := toml.Unmarshal(data, &o); err != nil {
		return o, err
	}
	return o, nil
}

// Apply layers the overlay's set fields onto env, returning the merged
// result. It overwrites those fields whatever their current source, so
// callers apply it to the defaults first and then re-apply real
// environment variables on top, so that they always win, per the
// precedence rule above.
func (o Overlay) Apply(e Env) Env {
	if o.ResourceLimits != nil {
		if o.ResourceLimits.MaxCPUPercent != 0 {
			e.ScaleMaxCPU = o.ResourceLimits.MaxCPUPercent
		}
		if o.ResourceLimits.MinFreeMemMB != 0 {
			e.ScaleMinFreeMem = o.ResourceLimits.MinFreeMemMB
		}
	}
	if o.Scaling != nil {
		if o.Scaling.MaxWorkers != nil {
			e.ScaleMaxWorkers = *o.Scaling.MaxWorkers
		}
		if o.Scaling.MinWorkers != nil {
			e.ScaleMinWorkers = *o.Scaling.MinWorkers
		}
		if o.Scaling.ScaleUpThreshold != nil {
			e.ScaleUpThresh = *o.Scaling.ScaleUpThreshold
		}
		if o.Scaling.ScaleDownThreshold != nil {
			e.ScaleDownThresh = *o.Scaling.ScaleDownThreshold
		}
	}
	return e
}
