// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control over the control package:
// runtime configuration with reload hooks, prometheus metrics and debug probes.

package adapters

import (
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

var _ api.Control = (*ControlAdapter)(nil)

type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.Metrics
	debug   *control.DebugProbes
}

// NewControlAdapter wraps metrics, which may be nil when metrics are disabled.
func NewControlAdapter(metrics *control.Metrics) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: metrics,
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

// Duration reads a runtime duration setting, falling back to def.
func (c *ControlAdapter) Duration(key string, def time.Duration) time.Duration {
	return c.config.GetDuration(key, def)
}

// Stats merges the metric snapshot with probe output under "debug.".
func (c *ControlAdapter) Stats() map[string]any {
	combined := c.metrics.GetSnapshot()
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Metrics returns the wrapped collectors.
func (c *ControlAdapter) Metrics() *control.Metrics {
	return c.metrics
}
