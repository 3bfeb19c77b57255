// Package obsmetrics wires bunctl's lifecycle and log-pipeline counters into
// Prometheus: the same CounterVec/GaugeVec/HistogramVec shapes, a
// Register-is-idempotent guard, and a promhttp.Handler exposure, under the
// "bunctl" namespace plus log-pipeline gauges for rotation and backpressure.
package obsmetrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bunctl/bunctl/internal/logpipeline"
	"github.com/bunctl/bunctl/internal/registry"
)

// Metrics owns every Prometheus collector bunctl exposes. The zero value is
// not usable; construct with New.
type Metrics struct {
	registered atomic.Bool

	starts           *prometheus.CounterVec
	restarts         *prometheus.CounterVec
	stops            *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	backoffExhausted *prometheus.CounterVec
	currentState     *prometheus.GaugeVec

	logBytesWritten    *prometheus.GaugeVec
	logLinesWritten    *prometheus.GaugeVec
	logWriteErrors     *prometheus.GaugeVec
	logRotationCount   *prometheus.GaugeVec
	logBufferOverflows *prometheus.GaugeVec
	logDroppedMessages *prometheus.GaugeVec

	resourceMemoryBytes *prometheus.GaugeVec
	resourceCPUPercent  *prometheus.GaugeVec
}

// New builds an unregistered Metrics set.
func New() *Metrics {
	ns := "bunctl"
	return &Metrics{
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "app", Name: "starts_total",
			Help: "Number of successful app spawns.",
		}, []string{"app"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "app", Name: "restarts_total",
			Help: "Number of transitions into the starting state, first start included.",
		}, []string{"app"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "app", Name: "stops_total",
			Help: "Number of user-requested stops.",
		}, []string{"app"}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "app", Name: "state_transitions_total",
			Help: "Number of AppState transitions observed.",
		}, []string{"app", "state"}),
		backoffExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "app", Name: "backoff_exhausted_total",
			Help: "Number of times an app's backoff policy was exhausted.",
		}, []string{"app"}),
		currentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "app", Name: "current_state",
			Help: "1 for the app's current AppState, 0 otherwise.",
		}, []string{"app", "state"}),

		logBytesWritten: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "log", Name: "bytes_written",
			Help: "Bytes written by the log pipeline, per app and stream.",
		}, []string{"app", "stream"}),
		logLinesWritten: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "log", Name: "lines_written",
			Help: "Lines written by the log pipeline, per app and stream.",
		}, []string{"app", "stream"}),
		logWriteErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "log", Name: "write_errors",
			Help: "Write/rotation failures observed by the log pipeline.",
		}, []string{"app", "stream"}),
		logRotationCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "log", Name: "rotation_count",
			Help: "Rotations performed by the log pipeline.",
		}, []string{"app", "stream"}),
		logBufferOverflows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "log", Name: "buffer_overflows",
			Help: "LineBuffer overflow force-flushes observed.",
		}, []string{"app", "stream"}),
		logDroppedMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "log", Name: "dropped_messages",
			Help: "Writes dropped under backpressure.",
		}, []string{"app", "stream"}),

		resourceMemoryBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "resource", Name: "memory_rss_bytes",
			Help: "Best-effort resident memory of a supervised app.",
		}, []string{"app"}),
		resourceCPUPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "resource", Name: "cpu_percent",
			Help: "Best-effort CPU percent of a supervised app.",
		}, []string{"app"}),
	}
}

// MustRegister registers every collector with r. Safe to call more than
// once; subsequent calls are no-ops.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	if !m.registered.CompareAndSwap(false, true) {
		return
	}
	for _, c := range []prometheus.Collector{
		m.starts, m.restarts, m.stops, m.stateTransitions, m.backoffExhausted, m.currentState,
		m.logBytesWritten, m.logLinesWritten, m.logWriteErrors, m.logRotationCount,
		m.logBufferOverflows, m.logDroppedMessages,
		m.resourceMemoryBytes, m.resourceCPUPercent,
	} {
		r.MustRegister(c)
	}
}

// Handler returns the promhttp handler bunctl's HTTP surface mounts at
// /metrics.
func (m *Metrics) Handler() http.Handler { return promhttp.Handler() }

// ObserveEvent updates lifecycle counters/gauges from one registry.Event.
// The daemon feeds every bus event through this.
func (m *Metrics) ObserveEvent(e registry.Event) {
	appName := string(e.App)
	switch e.Kind {
	case registry.EventProcessStarted:
		m.starts.WithLabelValues(appName).Inc()
	case registry.EventProcessExited:
		// restarts_total is incremented by the EventStateChanged case below
		// (transitions into starting), not here, since a clean exit that
		// doesn't restart isn't a restart.
	case registry.EventBackoffExhausted:
		m.backoffExhausted.WithLabelValues(appName).Inc()
	case registry.EventStateChanged:
		m.stateTransitions.WithLabelValues(appName, string(e.State)).Inc()
		for _, s := range []string{"stopped", "starting", "running", "stopping", "crashed", "backoff"} {
			v := 0.0
			if s == string(e.State) {
				v = 1.0
			}
			m.currentState.WithLabelValues(appName, s).Set(v)
		}
		if e.State == "starting" {
			// Every transition into starting is counted, the app's first
			// start included; it is the one state every spawn path (first
			// start, backoff fire, restart command) passes through.
			m.restarts.WithLabelValues(appName).Inc()
		}
	}
}

// ObserveStop records a user-requested stop (called by the daemon's Stop
// dispatch path, not derivable from bus events alone since a Stop and a
// policy-driven non-restart both end in StateStopped).
func (m *Metrics) ObserveStop(appName string) {
	m.stops.WithLabelValues(appName).Inc()
}

// ObserveLogSnapshot updates the log-pipeline gauges for one app/stream
// pair from a logpipeline.Snapshot.
func (m *Metrics) ObserveLogSnapshot(appName, stream string, snap logpipeline.Snapshot) {
	m.logBytesWritten.WithLabelValues(appName, stream).Set(float64(snap.BytesWritten))
	m.logLinesWritten.WithLabelValues(appName, stream).Set(float64(snap.LinesWritten))
	m.logWriteErrors.WithLabelValues(appName, stream).Set(float64(snap.WriteErrors))
	m.logRotationCount.WithLabelValues(appName, stream).Set(float64(snap.RotationCount))
	m.logBufferOverflows.WithLabelValues(appName, stream).Set(float64(snap.BufferOverflows))
	m.logDroppedMessages.WithLabelValues(appName, stream).Set(float64(snap.DroppedMessages))
}

// ObserveResourceUsage updates the best-effort resource gauges for appName
// from a supervisor.ProcessInfo-shaped sample.
func (m *Metrics) ObserveResourceUsage(appName string, memoryRSS uint64, cpuPercent float64) {
	m.resourceMemoryBytes.WithLabelValues(appName).Set(float64(memoryRSS))
	m.resourceCPUPercent.WithLabelValues(appName).Set(cpuPercent)
}
