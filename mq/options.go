// File: mq/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Functional options for contexts and sockets.

package mq

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

const (
	// DefaultPollInterval is the delay between two polling cycles.
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultPollTimeout keeps the engine wait non-blocking.
	DefaultPollTimeout = 0
	// DefaultIOThreads is the engine I/O thread count.
	DefaultIOThreads = 1
)

type contextOptions struct {
	ioThreads    int
	interval     time.Duration
	timeout      time.Duration
	log          *logrus.Entry
	metrics      *control.Metrics
	errorHandler ErrorHandler
}

func defaultContextOptions() contextOptions {
	return contextOptions{
		ioThreads: DefaultIOThreads,
		interval:  DefaultPollInterval,
		timeout:   DefaultPollTimeout,
	}
}

// ContextOption configures a context at construction.
type ContextOption func(*contextOptions)

// WithIOThreads sets the engine I/O thread count.
func WithIOThreads(n int) ContextOption {
	return func(o *contextOptions) {
		if n > 0 {
			o.ioThreads = n
		}
	}
}

// WithPollInterval sets the polling cycle interval. Zero busy-polls.
func WithPollInterval(d time.Duration) ContextOption {
	return func(o *contextOptions) {
		if d >= 0 {
			o.interval = d
		}
	}
}

// WithPollTimeout sets how long each polling cycle may wait in the engine.
func WithPollTimeout(d time.Duration) ContextOption {
	return func(o *contextOptions) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

// WithLogger replaces the default tagged logger.
func WithLogger(log *logrus.Entry) ContextOption {
	return func(o *contextOptions) {
		o.log = log
	}
}

// WithMetrics records scheduler and socket activity into m.
func WithMetrics(m *control.Metrics) ContextOption {
	return func(o *contextOptions) {
		o.metrics = m
	}
}

// WithErrorHandler registers h before the context starts.
func WithErrorHandler(h ErrorHandler) ContextOption {
	return func(o *contextOptions) {
		o.errorHandler = h
	}
}

type socketOptions struct {
	owner    api.Loop
	identity string
	linger   *time.Duration
}

// SocketOption configures a socket at creation.
type SocketOption func(*socketOptions)

// WithOwner binds the socket to loop. Every notification and the
// context-initiated close run there. Defaults to the context's loop.
func WithOwner(loop api.Loop) SocketOption {
	return func(o *socketOptions) {
		o.owner = loop
	}
}

// WithIdentity sets the routing identity before the socket is registered.
func WithIdentity(id string) SocketOption {
	return func(o *socketOptions) {
		o.identity = id
	}
}

// WithLinger sets the linger period before the socket is registered.
func WithLinger(d time.Duration) SocketOption {
	return func(o *socketOptions) {
		o.linger = &d
	}
}
