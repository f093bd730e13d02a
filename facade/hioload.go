// File: facade/hioload.go
// Unified facade layer for hioload-mq.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HioloadMQ wires a group of event loops, an engine context with the configured
// readiness strategy, and the control plane (runtime config, metrics and
// debug probes) behind one value. Runtime changes to poll.interval and
// poll.timeout pushed through Control are applied to a polling context.

package facade

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-mq/adapters"
	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/internal/concurrency"
	"github.com/momentics/hioload-mq/internal/logging"
	"github.com/momentics/hioload-mq/mq"
	"github.com/momentics/hioload-mq/reactor"
)

// Strategy names accepted in Config.Strategy.
const (
	StrategyPolling  = "polling"
	StrategyNotifier = "notifier"
)

// ErrShutdownTimeout is returned when the engine context did not terminate
// within Config.ShutdownTimeout.
var ErrShutdownTimeout = errors.New("facade: engine context did not terminate in time")

// Config holds parameters immutable per run. Poll interval and timeout can
// later be changed through Control.
type Config struct {
	Strategy         string        // "polling" or "notifier"
	PollInterval     time.Duration // delay between polling cycles
	PollTimeout      time.Duration // per-cycle engine wait
	IOThreads        int           // engine I/O threads
	Loops            int           // event loops available as socket owners
	Linger           time.Duration // default socket linger; negative keeps the engine default
	LoopBatch        int           // tasks per loop iteration
	ShutdownTimeout  time.Duration // wait for engine termination in Shutdown
	MetricsNamespace string
	EnableMetrics    bool
	EnableDebug      bool

	// Watcher drives a notifier context. Nil builds the platform reactor.
	Watcher api.Watcher
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Strategy:         StrategyPolling,
		PollInterval:     mq.DefaultPollInterval,
		PollTimeout:      mq.DefaultPollTimeout,
		IOThreads:        mq.DefaultIOThreads,
		Loops:            1,
		Linger:           0,
		LoopBatch:        64,
		ShutdownTimeout:  5 * time.Second,
		MetricsNamespace: control.DefaultNamespace,
		EnableMetrics:    true,
		EnableDebug:      true,
	}
}

// HioloadMQ is the main facade type.
type HioloadMQ struct {
	config   *Config
	engine   api.Engine
	group    *concurrency.LoopGroup
	loop     *concurrency.EventLoop
	watcher  *reactor.Watcher // owned, nil unless built here
	ctx      *mq.Context
	polling  *mq.PollingContext
	notifier *mq.NotifierContext
	control  *adapters.ControlAdapter
	log      *logrus.Entry

	mu      sync.Mutex
	started bool
	closed  bool
}

var _ api.GracefulShutdown = (*HioloadMQ)(nil)

// New builds the loops, context and control plane over engine. The loops
// are running on return; the context is stopped until Start.
func New(engine api.Engine, cfg *Config) (*HioloadMQ, error) {
	if engine == nil {
		return nil, api.ErrInvalidArgument
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	h := &HioloadMQ{
		config: cfg,
		engine: engine,
		log:    logging.NewLogger("facade").WithField("strategy", cfg.Strategy),
	}

	var metrics *control.Metrics
	if cfg.EnableMetrics {
		metrics = control.NewMetrics(cfg.MetricsNamespace, nil)
	}
	h.control = adapters.NewControlAdapter(metrics)

	h.group = concurrency.NewLoopGroup("mq", cfg.Loops, cfg.LoopBatch)
	h.loop = h.group.Primary()

	opts := []mq.ContextOption{
		mq.WithIOThreads(cfg.IOThreads),
		mq.WithPollInterval(cfg.PollInterval),
		mq.WithPollTimeout(cfg.PollTimeout),
		mq.WithMetrics(metrics),
		mq.WithErrorHandler(func(code int, msg string) {
			h.log.WithField("code", code).Error(msg)
		}),
	}

	var err error
	switch cfg.Strategy {
	case StrategyPolling, "":
		h.polling, err = mq.NewPollingContext(engine, h.loop, opts...)
		if err == nil {
			h.ctx = h.polling.Context
		}
	case StrategyNotifier:
		w := cfg.Watcher
		if w == nil {
			h.watcher, err = reactor.NewDefaultWatcher()
			if err != nil {
				h.group.Stop()
				return nil, fmt.Errorf("reactor init failure: %w", err)
			}
			w = h.watcher
		}
		h.notifier, err = mq.NewNotifierContext(engine, h.loop, w, opts...)
		if err == nil {
			h.ctx = h.notifier.Context
		}
	default:
		err = fmt.Errorf("unknown strategy %q: %w", cfg.Strategy, api.ErrInvalidArgument)
	}
	if err != nil {
		h.release()
		return nil, err
	}

	h.control.SetConfig(map[string]any{
		"strategy":              cfg.Strategy,
		"io_threads":            cfg.IOThreads,
		control.KeyPollInterval: cfg.PollInterval,
		control.KeyPollTimeout:  cfg.PollTimeout,
	})
	h.control.OnReload(h.reload)
	if cfg.EnableDebug {
		h.registerProbes()
	}
	return h, nil
}

func (h *HioloadMQ) registerProbes() {
	h.control.RegisterDebugProbe("mq.sockets", func() any { return h.ctx.Len() })
	h.control.RegisterDebugProbe("mq.stopped", func() any { return h.ctx.IsStopped() })
	if h.polling != nil {
		h.control.RegisterDebugProbe("mq.readable", func() any { return h.polling.Readable() })
	}
	h.control.RegisterDebugProbe("loop.count", func() any { return h.group.Size() })
	h.control.RegisterDebugProbe("loop.pending", func() any { return h.group.Pending() })
	h.control.RegisterDebugProbe("loop.executed", func() any { return h.loop.Executed() })
	h.control.RegisterDebugProbe("engine.version", func() any {
		major, minor, patch := h.engine.Version()
		return fmt.Sprintf("%d.%d.%d", major, minor, patch)
	})
}

// reload applies runtime poll settings. Notifier contexts have none.
func (h *HioloadMQ) reload() {
	if h.polling == nil {
		return
	}
	interval := h.control.Duration(control.KeyPollInterval, h.polling.Interval())
	timeout := h.control.Duration(control.KeyPollTimeout, h.polling.Timeout())
	h.polling.SetInterval(interval)
	h.polling.SetTimeout(timeout)
	h.log.WithFields(logrus.Fields{"interval": interval, "timeout": timeout}).Info("poll settings reloaded")
}

// Start begins dispatching readiness notifications. Subsequent calls have
// no effect.
func (h *HioloadMQ) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return api.ErrContextClosed
	}
	if h.started {
		return nil
	}
	if err := h.ctx.Start(); err != nil {
		return err
	}
	h.started = true
	h.log.Info("started")
	return nil
}

// Stop halts polling without closing sockets. Start may be called again.
func (h *HioloadMQ) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return
	}
	h.ctx.Stop()
	h.started = false
}

// Shutdown closes every socket on its owner loop, waits for the engine
// context to terminate, then stops the loops and the reactor.
func (h *HioloadMQ) Shutdown() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.started = false
	h.mu.Unlock()

	err := h.ctx.Close()
	select {
	case <-h.ctx.Done():
	case <-time.After(h.config.ShutdownTimeout):
		err = errors.Join(err, ErrShutdownTimeout)
	}
	h.release()
	h.log.Info("shut down")
	return err
}

func (h *HioloadMQ) release() {
	h.group.Stop()
	if h.watcher != nil {
		if err := h.watcher.Close(); err != nil {
			h.log.WithError(err).Warn("reactor close failed")
		}
	}
}

// CreateSocket creates a socket owned by the facade loop, applying the
// configured default linger before opts.
func (h *HioloadMQ) CreateSocket(t api.SocketType, opts ...mq.SocketOption) (*mq.Socket, error) {
	if h.config.Linger >= 0 {
		opts = append([]mq.SocketOption{mq.WithLinger(h.config.Linger)}, opts...)
	}
	return h.ctx.CreateSocket(t, opts...)
}

// Context returns the underlying context.
func (h *HioloadMQ) Context() *mq.Context { return h.ctx }

// Polling returns the polling context, or nil for the notifier strategy.
func (h *HioloadMQ) Polling() *mq.PollingContext { return h.polling }

// Loop returns the loop that owns sockets created through the facade.
func (h *HioloadMQ) Loop() api.Loop { return h.loop }

// NextLoop hands out the configured loops round-robin, for use with
// mq.WithOwner. Sockets joined by a device must share one loop.
func (h *HioloadMQ) NextLoop() api.Loop { return h.group.Next() }

// Submit runs task on the facade loop.
func (h *HioloadMQ) Submit(task func()) error { return h.loop.Submit(task) }

// GetControl returns the Control interface for dynamic config and metrics.
func (h *HioloadMQ) GetControl() api.Control { return h.control }

// Metrics returns the prometheus collectors, nil when disabled.
func (h *HioloadMQ) Metrics() *control.Metrics { return h.control.Metrics() }
