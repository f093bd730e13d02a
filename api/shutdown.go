// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that own loops, contexts
// or reactors.
type GracefulShutdown interface {
	// Shutdown closes every socket, waits for the engine context to
	// terminate and releases loops and reactors.
	Shutdown() error
}
