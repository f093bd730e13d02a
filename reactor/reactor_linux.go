//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor factory.

package reactor

// NewReactor constructs the platform-specific Reactor for Linux.
func NewReactor() (Reactor, error) {
	return newEpollReactor()
}
