package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pingmesh"

// Store owns a private Prometheus registry and the collectors behind every
// recorder it hands out.
type Store struct {
	registry *prometheus.Registry

	probesSent    *prometheus.CounterVec
	probesArrived *prometheus.CounterVec
	rtt           *prometheus.HistogramVec

	queuePackets *prometheus.GaugeVec
	queueBytes   *prometheus.GaugeVec
	queueDrops   *prometheus.CounterVec

	runs       *prometheus.CounterVec
	simulated  prometheus.Gauge
	wall       prometheus.Histogram
	spoolBytes prometheus.Gauge

	ready            prometheus.Gauge
	readyCategories  *prometheus.GaugeVec
	readyTransitions *prometheus.CounterVec
	readyState       atomic.Int64
}

// NewStore constructs a Store with all collectors registered.
func NewStore() *Store {
	s := &Store{
		registry: prometheus.NewRegistry(),
		probesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_sent_total",
			Help:      "Echo probes sent per directed pair.",
		}, []string{"pair"}),
		probesArrived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_arrived_total",
			Help:      "Echo replies matched per directed pair.",
		}, []string{"pair"}),
		rtt: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_rtt_seconds",
			Help:      "Simulated round trip time of matched probes.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"pair"}),
		queuePackets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_queue_packets",
			Help:      "Most recent output queue occupancy in packets.",
		}, []string{"link"}),
		queueBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_queue_bytes",
			Help:      "Most recent output queue occupancy in bytes.",
		}, []string{"link"}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_queue_dropped_total",
			Help:      "Packets tail dropped at a full output queue.",
		}, []string{"link"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Simulation runs by outcome.",
		}, []string{"status"}),
		simulated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_simulated_seconds",
			Help:      "Simulated duration of the most recent run.",
		}),
		wall: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_wall_seconds",
			Help:      "Wall clock time spent executing runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		spoolBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spool_bytes",
			Help:      "Bytes written to interval spool segments.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 when the most recent readiness evaluation passed.",
		}),
		readyCategories: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_categories_info",
			Help:      "Categories associated with the most recent readiness evaluation.",
		}, []string{"category", "severity"}),
		readyTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ready_transitions_total",
			Help:      "Readiness state transitions by resulting state.",
		}, []string{"state"}),
	}
	s.readyState.Store(-1)
	s.registry.MustRegister(
		s.probesSent, s.probesArrived, s.rtt,
		s.queuePackets, s.queueBytes, s.queueDrops,
		s.runs, s.simulated, s.wall, s.spoolBytes,
		s.ready, s.readyCategories, s.readyTransitions,
	)
	return s
}

// Registry exposes the underlying registry for gathering in tests.
func (s *Store) Registry() *prometheus.Registry { return s.registry }

func (s *Store) ProbeRecorder() ProbeRecorder { return probeRecorder{store: s} }

func (s *Store) ReadinessRecorder() ReadinessRecorder { return readinessRecorder{store: s} }

func (s *Store) LinkRecorder() LinkRecorder { return linkRecorder{store: s} }

func (s *Store) RunRecorder() RunRecorder { return runRecorder{store: s} }

type probeRecorder struct {
	store *Store
}

func (r probeRecorder) IncProbesSent(pair string) {
	r.store.probesSent.WithLabelValues(pair).Inc()
}

func (r probeRecorder) IncProbesArrived(pair string) {
	r.store.probesArrived.WithLabelValues(pair).Inc()
}

func (r probeRecorder) ObserveRTT(pair string, rttNs int64) {
	if rttNs < 0 {
		return
	}
	r.store.rtt.WithLabelValues(pair).Observe(float64(rttNs) / 1e9)
}

type linkRecorder struct {
	store *Store
}

func (r linkRecorder) ObserveQueueDepth(link string, packets, bytes int64) {
	r.store.queuePackets.WithLabelValues(link).Set(float64(packets))
	r.store.queueBytes.WithLabelValues(link).Set(float64(bytes))
}

func (r linkRecorder) IncQueueDrops(link string) {
	r.store.queueDrops.WithLabelValues(link).Inc()
}

type runRecorder struct {
	store *Store
}

func (r runRecorder) ObserveRun(status string, simulatedNs int64, wallSeconds float64) {
	r.store.runs.WithLabelValues(status).Inc()
	r.store.simulated.Set(float64(simulatedNs) / 1e9)
	if wallSeconds >= 0 {
		r.store.wall.Observe(wallSeconds)
	}
}

func (r runRecorder) ObserveSpoolBytes(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}
	r.store.spoolBytes.Set(float64(bytes))
}

// NewHTTPHandler serves the store's registry in the Prometheus text format.
func NewHTTPHandler(store *Store) http.Handler {
	inner := promhttp.HandlerFor(store.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

type readinessRecorder struct {
	store *Store
}

// ObserveReadiness counts a transition only when the state flips; the first
// evaluation sets the baseline.
func (r readinessRecorder) ObserveReadiness(ready bool, categories []ReadinessCategory) {
	var state int64
	if ready {
		state = 1
	}
	if prev := r.store.readyState.Swap(state); prev != -1 && prev != state {
		label := "not_ready"
		if ready {
			label = "ready"
		}
		r.store.readyTransitions.WithLabelValues(label).Inc()
	}
	r.store.ready.Set(float64(state))
	r.store.readyCategories.Reset()
	for _, c := range categories {
		r.store.readyCategories.WithLabelValues(c.Name, c.Severity).Set(1)
	}
}
