package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/uwyo-soundings/internal/progress"
)

// PrometheusSink exports download progress via Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsRunning   prometheus.Gauge
	runDuration   prometheus.Histogram
	fetches       *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, falling back to the
// default registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundings_runs_started_total",
			Help: "Total download runs that have started.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soundings_runs_running",
			Help: "Current number of in-flight download runs.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "soundings_run_duration_seconds",
			Help:    "Wall time per completed download run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soundings_fetches_total",
			Help: "Sounding fetches partitioned by result.",
		}, []string{"result"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soundings_fetch_bytes_total",
			Help: "Raw page bytes downloaded.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soundings_fetch_duration_seconds",
			Help:    "Fetch latency partitioned by result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.runDuration,
		s.fetches,
		s.fetchBytes,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone:
			if evt.Dur > 0 {
				s.runDuration.Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.RunID) {
				s.runsRunning.Dec()
			}
		case progress.StageFetchDone:
			s.observeFetch(evt, "success")
			if evt.Bytes > 0 {
				s.fetchBytes.Add(float64(evt.Bytes))
			}
		case progress.StageFetchError:
			s.observeFetch(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) observeFetch(evt progress.Event, result string) {
	s.fetches.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
