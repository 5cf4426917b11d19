package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/dothq/systray"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager exports watcher and proxy measurements as Prometheus metrics. It
// implements [systray.Recorder].
type Manager struct {
	registry *prometheus.Registry

	registrations   prometheus.Counter
	unregistrations prometheus.Counter
	registrySize    prometheus.Gauge
	calls           *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
}

var _ systray.Recorder = (*Manager)(nil)

// NewManager creates a new metrics manager with its own registry.
func NewManager() *Manager {
	m := &Manager{
		registry: prometheus.NewRegistry(),
	}

	m.initMetrics()
	m.registerMetrics()

	return m
}

func (m *Manager) initMetrics() {
	m.registrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "systray_watcher_registrations_total",
		Help: "Total number of items added to the watcher registry",
	})

	m.unregistrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "systray_watcher_unregistrations_total",
		Help: "Total number of items removed from the watcher registry",
	})

	m.registrySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "systray_watcher_registered_items",
		Help: "Number of items in the watcher registry",
	})

	m.calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "systray_calls_total",
			Help: "Total number of remote calls made by hosts and items",
		},
		[]string{"member", "result"},
	)

	// Calls are bounded by a timeout in the tens of milliseconds.
	m.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "systray_call_duration_seconds",
			Help:    "Remote call duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"member", "result"},
	)
}

func (m *Manager) registerMetrics() {
	m.registry.MustRegister(
		m.registrations,
		m.unregistrations,
		m.registrySize,
		m.calls,
		m.callDuration,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) ItemRegistered(systray.RegisteredItem) {
	m.registrations.Inc()
}

func (m *Manager) ItemUnregistered(systray.RegisteredItem) {
	m.unregistrations.Inc()
}

func (m *Manager) RegistrySize(n int) {
	m.registrySize.Set(float64(n))
}

func (m *Manager) ObserveCall(member string, start time.Time, err error) {
	result := Result(err)

	m.calls.WithLabelValues(member, result).Inc()
	m.callDuration.WithLabelValues(member, result).Observe(time.Since(start).Seconds())
}

// Result returns the metric label of a call outcome.
func Result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, systray.ErrTimeout):
		return "timeout"
	case errors.Is(err, systray.ErrObjectAbsent):
		return "object_absent"
	case errors.Is(err, systray.ErrPropertyAbsent):
		return "property_absent"
	case errors.Is(err, systray.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, systray.ErrMalformedReply):
		return "malformed_reply"
	case errors.Is(err, systray.ErrTransport):
		return "transport"
	default:
		return "remote"
	}
}
