// Package control
// Author: momentics <momentics@gmail.com>
//
// Hot-reload, runtime metrics, configuration control, and debug introspection layer.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads and reload listeners (poll interval/timeout hot reload)
//   - Prometheus metrics for scheduler cycles, notifications, errors and devices
//   - State export, debug hooks, and probe registration
package control
