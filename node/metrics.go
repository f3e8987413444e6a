package node

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's optional Prometheus instrumentation
// (SPEC_FULL.md §4.5 [ADDED]). A nil *Metrics is valid everywhere and
// every method on it is a no-op, so wiring metrics is opt-in.
type Metrics struct {
	LookupsTotal    *prometheus.CounterVec
	StoresTotal     prometheus.Counter
	RetrievesTotal  prometheus.Counter
	ConflictsTotal  prometheus.Counter
	BucketOccupancy prometheus.Gauge
}

// NewMetrics registers the engine's counters/gauges on reg and returns the
// handle to pass to NewWithConfigurationAndMetrics or NewWithTransport.
// Pass a dedicated *prometheus.Registry (or
// prometheus.DefaultRegisterer) per process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subotai",
			Name:      "lookups_total",
			Help:      "Number of lookup waves issued, by strategy.",
		}, []string{"strategy"}),
		StoresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subotai",
			Name:      "stores_total",
			Help:      "Number of Store/MassStore RPCs handled.",
		}),
		RetrievesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subotai",
			Name:      "retrieves_total",
			Help:      "Number of Retrieve RPCs handled.",
		}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subotai",
			Name:      "conflicts_total",
			Help:      "Number of eviction conflicts enqueued.",
		}),
		BucketOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "subotai",
			Name:      "bucket_occupancy",
			Help:      "Total peers held across all routing table buckets.",
		}),
	}
	reg.MustRegister(m.LookupsTotal, m.StoresTotal, m.RetrievesTotal, m.ConflictsTotal, m.BucketOccupancy)
	return m
}

func (m *Metrics) lookup(strategy string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(strategy).Inc()
}

func (m *Metrics) store() {
	if m == nil {
		return
	}
	m.StoresTotal.Inc()
}

func (m *Metrics) retrieve() {
	if m == nil {
		return
	}
	m.RetrievesTotal.Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.ConflictsTotal.Inc()
}

func (m *Metrics) occupancy(n int) {
	if m == nil {
		return
	}
	m.BucketOccupancy.Set(float64(n))
}
