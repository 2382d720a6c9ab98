// Package telemetry holds the Prometheus instrumentation for the monitor.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the full gatewatch metric set. Components receive it from the
// composition root; a nil *Metrics is valid and records nothing, so tests
// can leave it out.
type Metrics struct {
	// Ingest pipeline
	FramesTotal        prometheus.Counter
	FrameSeconds       prometheus.Histogram
	FrameQueueDepth    prometheus.Gauge
	TracksActive       prometheus.Gauge
	FeedConnections    prometheus.Counter
	FeedDropped        *prometheus.CounterVec
	EventsTotal        *prometheus.CounterVec
	EventsSpilled      prometheus.Counter
	StoreWriteFailures prometheus.Counter

	// Occupancy
	MorningBaseline prometheus.Gauge
	PresentPeople   prometheus.Gauge
	MissingPeople   prometheus.Gauge

	// Outputs
	AlertsTotal  *prometheus.CounterVec
	ExportsTotal *prometheus.CounterVec
}

// NewMetrics builds the metric set and registers it on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatewatch_frames_total",
			Help: "Tracker frames accepted by the ingest pipeline",
		}),

		FrameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatewatch_frame_process_seconds",
			Help:    "Time spent running one frame through the gate and store",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		FrameQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewatch_frame_queue_depth",
			Help: "Frames waiting in the bounded ingest queue",
		}),

		TracksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewatch_tracks_active",
			Help: "Tracks currently holding gate state",
		}),

		FeedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatewatch_feed_connections_total",
			Help: "WebSocket feed connections accepted",
		}),

		FeedDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewatch_feed_dropped_total",
			Help: "Feed messages dropped before processing",
		}, []string{"reason"}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewatch_events_total",
			Help: "Validated gate crossings written to the store",
		}, []string{"direction"}),

		EventsSpilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatewatch_events_spilled_total",
			Help: "Crossings diverted to the spill file after store write failures",
		}),

		StoreWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatewatch_store_write_failures_total",
			Help: "Store write attempts that returned an error",
		}),

		MorningBaseline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewatch_morning_baseline",
			Help: "Expected headcount for the current date",
		}),

		PresentPeople: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewatch_present_people",
			Help: "Baseline plus the day's realtime net",
		}),

		MissingPeople: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatewatch_missing_people",
			Help: "Current shortfall against the morning baseline",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewatch_alerts_total",
			Help: "Alert evaluations by outcome",
		}, []string{"status"}),

		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewatch_exports_total",
			Help: "Workbook export runs by kind and result",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(
		m.FramesTotal,
		m.FrameSeconds,
		m.FrameQueueDepth,
		m.TracksActive,
		m.FeedConnections,
		m.FeedDropped,
		m.EventsTotal,
		m.EventsSpilled,
		m.StoreWriteFailures,
		m.MorningBaseline,
		m.PresentPeople,
		m.MissingPeople,
		m.AlertsTotal,
		m.ExportsTotal,
	)
	return m
}

// ObserveFrame records one processed frame and its latency.
func (m *Metrics) ObserveFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.FramesTotal.Inc()
	m.FrameSeconds.Observe(d.Seconds())
}

// SetQueueDepth publishes the current ingest queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.FrameQueueDepth.Set(float64(n))
}

// SetActiveTracks publishes how many tracks hold gate state.
func (m *Metrics) SetActiveTracks(n int) {
	if m == nil {
		return
	}
	m.TracksActive.Set(float64(n))
}

// RecordFeedConnection counts an accepted feed connection.
func (m *Metrics) RecordFeedConnection() {
	if m == nil {
		return
	}
	m.FeedConnections.Inc()
}

// RecordFeedDrop counts a discarded feed message.
func (m *Metrics) RecordFeedDrop(reason string) {
	if m == nil {
		return
	}
	m.FeedDropped.WithLabelValues(reason).Inc()
}

// RecordEvent counts a crossing written to the store.
func (m *Metrics) RecordEvent(direction string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(direction).Inc()
}

// RecordSpill counts a crossing diverted to the spill file.
func (m *Metrics) RecordSpill() {
	if m == nil {
		return
	}
	m.EventsSpilled.Inc()
}

// RecordStoreFailure counts one failed store write attempt.
func (m *Metrics) RecordStoreFailure() {
	if m == nil {
		return
	}
	m.StoreWriteFailures.Inc()
}

// SetOccupancy publishes the occupancy snapshot gauges.
func (m *Metrics) SetOccupancy(baseline, present, missing int) {
	if m == nil {
		return
	}
	m.MorningBaseline.Set(float64(baseline))
	m.PresentPeople.Set(float64(present))
	m.MissingPeople.Set(float64(missing))
}

// RecordAlert counts an alert evaluation outcome.
func (m *Metrics) RecordAlert(status string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(status).Inc()
}

// RecordExport counts an export run result.
func (m *Metrics) RecordExport(kind, result string) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(kind, result).Inc()
}
