// Package api
// Author: momentics
//
// Live debug support: named probes evaluated on demand.

package api

// Debug exposes runtime introspection.
type Debug interface {
	// DumpState evaluates every probe.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a named probe.
	RegisterProbe(name string, fn func() any)
}
