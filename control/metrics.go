// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus metrics for schedulers, sockets and devices. A nil *Metrics is
// valid and records nothing.

package control

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace is used when NewMetrics gets an empty namespace.
const DefaultNamespace = "hioload_mq"

// Metrics holds the Prometheus collectors of one hioload-mq instance.
type Metrics struct {
	gatherer prometheus.Gatherer

	pollCycles    prometheus.Counter
	notifications *prometheus.CounterVec
	errors        *prometheus.CounterVec
	sockets       prometheus.Gauge
	deviceFrames  *prometheus.CounterVec
}

// NewMetrics registers collectors on reg. A nil reg gets a private registry,
// which keeps independent instances (and tests) from colliding.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	factory := promauto.With(reg)

	m.pollCycles = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_cycles_total",
		Help:      "Number of polling scheduler cycles run",
	})
	m.notifications = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Messages delivered to socket handlers",
	}, []string{"strategy"})
	m.errors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Poll or notification cycle failures",
	}, []string{"strategy"})
	m.sockets = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sockets",
		Help:      "Sockets currently registered with a context",
	})
	m.deviceFrames = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_frames_total",
		Help:      "Messages relayed by devices",
	}, []string{"direction", "result"})
	return m
}

// PollCycle counts one polling scheduler cycle.
func (m *Metrics) PollCycle() {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
}

// Notification counts one delivered message.
func (m *Metrics) Notification(strategy string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(strategy).Inc()
}

// Error counts one failed cycle.
func (m *Metrics) Error(strategy string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(strategy).Inc()
}

// SocketOpened increments the registered socket gauge.
func (m *Metrics) SocketOpened() {
	if m == nil {
		return
	}
	m.sockets.Inc()
}

// SocketClosed decrements the registered socket gauge.
func (m *Metrics) SocketClosed() {
	if m == nil {
		return
	}
	m.sockets.Dec()
}

// DeviceFrame counts a relayed (or dropped) device message.
func (m *Metrics) DeviceFrame(direction, result string) {
	if m == nil {
		return
	}
	m.deviceFrames.WithLabelValues(direction, result).Inc()
}

// Gatherer exposes the underlying registry for HTTP export, if available.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

// GetSnapshot flattens counters and gauges into "name{k=v,...}" keys.
func (m *Metrics) GetSnapshot() map[string]any {
	out := make(map[string]any)
	if m == nil || m.gatherer == nil {
		return out
	}
	families, err := m.gatherer.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			key := mf.GetName()
			if len(labels) > 0 {
				key += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[key] = metric.GetGauge().GetValue()
			}
		}
	}
	return out
}
