// File: mq/polling.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PollingContext watches its sockets by periodically asking the engine
// which of them are readable. Each cycle runs on the context loop and then
// schedules the next one after Interval.

package mq

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-mq/api"
)

const pollingStrategy = "polling"

// maxPollRounds bounds the zero-timeout rounds of one Poll call. A socket
// that never runs dry is picked up again by the next cycle, after the loop
// has run what was queued meanwhile.
const maxPollRounds = 64

// PollingContext is a Context driven by the engine's multiplexed wait.
type PollingContext struct {
	*Context

	interval atomic.Int64
	timeout  atomic.Int64
	stopped  atomic.Bool

	// running is only touched on the context loop.
	running bool
}

var _ strategy = (*PollingContext)(nil)

// NewPollingContext creates a stopped polling context whose cycles run on
// loop. Call Start to begin polling.
func NewPollingContext(engine api.Engine, loop api.Loop, opts ...ContextOption) (*PollingContext, error) {
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}
	p := &PollingContext{}
	p.interval.Store(int64(o.interval))
	p.timeout.Store(int64(o.timeout))
	p.stopped.Store(true)
	c, err := newContext(engine, loop, p, o)
	if err != nil {
		return nil, err
	}
	p.Context = c
	return p, nil
}

// Interval returns the delay between cycles.
func (p *PollingContext) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetInterval changes the delay between cycles from the next cycle on.
// Zero polls as fast as the loop reschedules.
func (p *PollingContext) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	p.interval.Store(int64(d))
}

// Timeout returns how long each cycle may wait in the engine.
func (p *PollingContext) Timeout() time.Duration {
	return time.Duration(p.timeout.Load())
}

// SetTimeout changes the engine wait of subsequent cycles.
func (p *PollingContext) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	p.timeout.Store(int64(d))
}

func (p *PollingContext) name() string { return pollingStrategy }

func (p *PollingContext) attach(e *entry) error {
	e.watched = api.EventReadable
	return nil
}

func (p *PollingContext) detach(*entry) {}

func (p *PollingContext) start() error {
	p.stopped.Store(false)
	return p.loop.Submit(func() {
		if p.running {
			return
		}
		p.running = true
		p.run()
	})
}

func (p *PollingContext) stop() { p.stopped.Store(true) }

func (p *PollingContext) isStopped() bool { return p.stopped.Load() }

func (p *PollingContext) run() {
	if p.stopped.Load() {
		p.running = false
		return
	}
	if err := p.cycle(); err != nil {
		p.reportError(err)
	}
	p.metrics.PollCycle()
	if p.stopped.Load() {
		p.running = false
		return
	}
	if _, err := p.loop.Schedule(p.Interval(), p.run); err != nil {
		p.running = false
		p.log.WithError(err).Warn("polling halted, loop rejected next cycle")
	}
}

func (p *PollingContext) cycle() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
	}()
	_, err = p.poll(p.Timeout(), p.stopped.Load)
	return err
}

// Poll waits up to timeout for any registered socket to become readable
// and delivers one message per readable socket, in registration order. It
// repeats with a zero timeout while the engine keeps reporting readiness,
// so it only drains what was already signaled, for at most maxPollRounds
// rounds. Sockets owned by another loop get their messages drained there
// and are skipped for the rest of the call. Poll must run on the context
// loop. It returns the number of sockets notified.
func (p *PollingContext) Poll(timeout time.Duration) (int, error) {
	return p.poll(timeout, nil)
}

// poll ends early when halt reports true before a zero-timeout round.
func (p *PollingContext) poll(timeout time.Duration, halt func() bool) (int, error) {
	notified := 0
	var skip map[*Socket]bool
	for round := 0; ; round++ {
		if round == maxPollRounds || (round > 0 && halt != nil && halt()) {
			return notified, nil
		}
		entries := p.snapshot()
		if len(skip) > 0 {
			kept := entries[:0]
			for _, e := range entries {
				if !skip[e.sock] {
					kept = append(kept, e)
				}
			}
			entries = kept
		}
		if len(entries) == 0 {
			return notified, nil
		}

		items := pollTable(entries)
		ready, err := p.native.Poll(items, timeout)
		if err != nil {
			return notified, fmt.Errorf("poll %d sockets: %w", len(items), err)
		}
		if ready < 0 {
			return notified, api.NewError(api.ErrCodeEngine, "poll returned a negative count").WithContext("count", ready)
		}
		p.observe(entries, items)
		if ready == 0 {
			return notified, nil
		}

		satisfied := 0
		for i := 0; i < len(items) && satisfied < ready; i++ {
			rev := items[i].Revents
			if rev == 0 {
				continue
			}
			satisfied++
			s := entries[i].sock
			if rev&api.EventReadable == 0 || !p.registered(s) {
				continue
			}
			if skip == nil {
				skip = make(map[*Socket]bool)
			}
			delivered, err := p.notify(s, skip)
			if err != nil {
				return notified, err
			}
			if delivered {
				notified++
			}
		}
		timeout = 0
	}
}

// Readable returns how many sockets were readable in the latest engine poll
// that covered them.
func (p *PollingContext) Readable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.observed&api.EventReadable != 0 {
			n++
		}
	}
	return n
}

func pollTable(entries []*entry) []api.PollItem {
	items := make([]api.PollItem, len(entries))
	for i, e := range entries {
		items[i] = api.PollItem{Socket: e.sock.native, Events: e.watched}
	}
	return items
}

func (p *PollingContext) observe(entries []*entry, items []api.PollItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range entries {
		e.observed = items[i].Revents
	}
}

// notify delivers to s. A socket that yielded nothing despite being
// signaled is skipped so the round cannot spin on it.
func (p *PollingContext) notify(s *Socket, skip map[*Socket]bool) (bool, error) {
	if s.owner != p.loop {
		skip[s] = true
		err := s.owner.Submit(func() {
			n, err := s.drain()
			for i := 0; i < n; i++ {
				p.metrics.Notification(pollingStrategy)
			}
			if err != nil {
				p.reportError(err)
			}
		})
		if err != nil {
			return false, fmt.Errorf("notify %s: %w", s, err)
		}
		return true, nil
	}
	frames, err := s.ReceiveMultipart(api.FlagDontWait)
	if err != nil {
		return false, err
	}
	if len(frames) == 0 {
		skip[s] = true
		return false, nil
	}
	p.metrics.Notification(pollingStrategy)
	s.deliver(frames)
	return true, nil
}
