// File: mq/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Device relays messages between a frontend and a backend socket. It pumps
// through socket handlers, so it moves data whenever the context strategy
// notifies either side.

package mq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/logging"
)

// DeviceKind selects the relay direction.
type DeviceKind int

const (
	// DeviceQueue relays in both directions (ROUTER/DEALER brokers).
	DeviceQueue DeviceKind = iota
	// DeviceForwarder relays frontend to backend (SUB/PUB fan-out).
	DeviceForwarder
	// DeviceStreamer relays frontend to backend (PULL/PUSH pipelines).
	DeviceStreamer
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceQueue:
		return "queue"
	case DeviceForwarder:
		return "forwarder"
	case DeviceStreamer:
		return "streamer"
	}
	return "unknown"
}

// DeviceStats counts relayed and dropped messages.
type DeviceStats struct {
	Forwarded int64
	Dropped   int64
}

// Device is a frontend/backend relay. Both sockets must share an owner loop.
type Device struct {
	kind     DeviceKind
	frontend *Socket
	backend  *Socket

	mu      sync.Mutex
	cancels []func()

	forwarded atomic.Int64
	dropped   atomic.Int64

	metrics *control.Metrics
	log     *logrus.Entry
}

// NewDevice creates a stopped device.
func NewDevice(kind DeviceKind, frontend, backend *Socket) (*Device, error) {
	if frontend == nil || backend == nil || frontend == backend {
		return nil, api.ErrInvalidArgument
	}
	if kind < DeviceQueue || kind > DeviceStreamer {
		return nil, fmt.Errorf("device kind %d: %w", kind, api.ErrInvalidArgument)
	}
	if frontend.owner != backend.owner {
		return nil, fmt.Errorf("device sockets live on different loops: %w", api.ErrInvalidArgument)
	}
	d := &Device{
		kind:     kind,
		frontend: frontend,
		backend:  backend,
		log:      logging.NewLogger("device").WithField("kind", kind.String()),
	}
	if c := frontend.Context(); c != nil {
		d.metrics = c.metrics
	}
	return d, nil
}

// Start installs the relay handlers. It is idempotent.
func (d *Device) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancels != nil {
		return
	}
	d.cancels = append(d.cancels, d.frontend.Handle(func(_ *Socket, frames [][]byte) {
		d.relay(d.backend, "frontend", frames)
	}))
	if d.kind == DeviceQueue {
		d.cancels = append(d.cancels, d.backend.Handle(func(_ *Socket, frames [][]byte) {
			d.relay(d.frontend, "backend", frames)
		}))
	}
	d.log.Debug("device started")
}

// Stop removes the relay handlers. Messages read afterwards are not relayed.
func (d *Device) Stop() {
	d.mu.Lock()
	cancels := d.cancels
	d.cancels = nil
	d.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Stats returns the relay counters.
func (d *Device) Stats() DeviceStats {
	return DeviceStats{Forwarded: d.forwarded.Load(), Dropped: d.dropped.Load()}
}

func (d *Device) relay(dst *Socket, direction string, frames [][]byte) {
	ok, err := dst.SendMultipart(frames, api.FlagDontWait)
	if err != nil || !ok {
		d.dropped.Add(1)
		d.metrics.DeviceFrame(direction, "dropped")
		entry := d.log.WithField("direction", direction)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Debug("message dropped")
		return
	}
	d.forwarded.Add(1)
	d.metrics.DeviceFrame(direction, "sent")
}
