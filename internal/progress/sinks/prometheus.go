package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsemetrics/localpulse/internal/progress"
)

// PrometheusSink exports sync progress metrics via Prometheus. It owns the
// collectors for runs started/completed/running and per-kind row counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	fetchRows     *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localpulse_sync_progress_runs_started_total",
			Help: "Total sync runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localpulse_sync_progress_runs_completed_total",
			Help: "Total sync runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "localpulse_sync_progress_runs_running",
			Help: "Current number of running sync runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "localpulse_sync_progress_run_runtime_seconds",
			Help:    "Wall time per completed sync run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		fetchRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "localpulse_sync_progress_fetch_rows_total",
			Help: "Rows fetched from the Business Profile API per kind.",
		}, []string{"kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "localpulse_sync_progress_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by kind.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.fetchRows,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageFetch:
		s.handleFetchEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	kind := evt.Kind
	if kind == "" {
		kind = "unknown"
	}
	if evt.Rows > 0 {
		s.fetchRows.WithLabelValues(kind).Add(float64(evt.Rows))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(kind).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
