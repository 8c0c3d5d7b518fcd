package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts cache behaviour. A nil *Metrics records nothing.
type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	StaleServes   prometheus.Counter
	DedupWaits    prometheus.Counter
	FetchErrors   *prometheus.CounterVec
	Invalidations prometheus.Counter
	Mutations     *prometheus.CounterVec
}

// NewMetrics creates the cache metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "hits_total",
			Help:      "Reads served from fresh cache entries",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "misses_total",
			Help:      "Reads that had to wait for a remote fetch",
		}),
		StaleServes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "stale_serves_total",
			Help:      "Reads served from stale entries while revalidating",
		}),
		DedupWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "dedup_waits_total",
			Help:      "Reads attached to an already pending fetch",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "fetch_errors_total",
			Help:      "Failed remote fetches by query name",
		}, []string{"query"}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "invalidations_total",
			Help:      "Entries marked stale by invalidation",
		}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query_cache",
			Name:      "mutations_total",
			Help:      "Mutations by name and outcome",
		}, []string{"mutation", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.StaleServes, m.DedupWaits, m.FetchErrors, m.Invalidations, m.Mutations)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) staleServe() {
	if m != nil {
		m.StaleServes.Inc()
	}
}

func (m *Metrics) dedupWait() {
	if m != nil {
		m.DedupWaits.Inc()
	}
}

func (m *Metrics) fetchError(name string) {
	if m != nil {
		m.FetchErrors.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) invalidated(n int) {
	if m != nil && n > 0 {
		m.Invalidations.Add(float64(n))
	}
}

func (m *Metrics) mutation(name, outcome string) {
	if m != nil {
		m.Mutations.WithLabelValues(name, outcome).Inc()
	}
}
