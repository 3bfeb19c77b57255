package obsmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/bunctl/bunctl/internal/logpipeline"
	"github.com/bunctl/bunctl/internal/registry"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

func TestMustRegister_IsIdempotent(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)
	require.NotPanics(t, func() { m.MustRegister(reg) })
}

func TestObserveEvent_IncrementsStartsOnProcessStarted(t *testing.T) {
	m := New()
	m.ObserveEvent(registry.Event{Kind: registry.EventProcessStarted, App: "web", At: time.Now()})
	require.Equal(t, float64(1), counterValue(t, m.starts.WithLabelValues("web")))
}

func TestObserveEvent_StateChangeIntoStartingCountsRestart(t *testing.T) {
	m := New()
	m.ObserveEvent(registry.Event{Kind: registry.EventStateChanged, App: "web", State: "starting", At: time.Now()})
	require.Equal(t, float64(1), counterValue(t, m.restarts.WithLabelValues("web")))
	require.Equal(t, float64(1), counterValue(t, m.currentState.WithLabelValues("web", "starting")))
	require.Equal(t, float64(0), counterValue(t, m.currentState.WithLabelValues("web", "running")))
}

func TestObserveLogSnapshot_SetsGauges(t *testing.T) {
	m := New()
	m.ObserveLogSnapshot("web", "stdout", logpipeline.Snapshot{
		BytesWritten: 10, LinesWritten: 2, WriteErrors: 0, RotationCount: 1, BufferOverflows: 0, DroppedMessages: 0,
	})
	require.Equal(t, float64(10), counterValue(t, m.logBytesWritten.WithLabelValues("web", "stdout")))
	require.Equal(t, float64(1), counterValue(t, m.logRotationCount.WithLabelValues("web", "stdout")))
}

func TestObserveStop_IncrementsStops(t *testing.T) {
	m := New()
	m.ObserveStop("web")
	m.ObserveStop("web")
	require.Equal(t, float64(2), counterValue(t, m.stops.WithLabelValues("web")))
}
