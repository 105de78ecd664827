package swarm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes scheduler counters to Prometheus. All scheduler
// methods accept a nil Metrics, so instrumentation only runs when the
// server wires a registry in.
type Metrics struct {
	SessionsLaunched  *prometheus.CounterVec
	SessionsFinished  *prometheus.CounterVec
	SessionsAbandoned *prometheus.CounterVec
	SlotsInUse        *prometheus.GaugeVec
	BatchDuration     prometheus.Histogram
}

// NewMetrics registers the swarm metric set on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsLaunched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocw",
			Subsystem: "swarm",
			Name:      "sessions_launched_total",
			Help:      "Agent sessions launched, by provider.",
		}, []string{"provider"}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocw",
			Subsystem: "swarm",
			Name:      "sessions_finished_total",
			Help:      "Agent sessions finished, by provider and terminal status.",
		}, []string{"provider", "status"}),
		SessionsAbandoned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocw",
			Subsystem: "swarm",
			Name:      "sessions_abandoned_total",
			Help:      "Sessions abandoned after staleness classification, by class.",
		}, []string{"class"}),
		SlotsInUse: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ocw",
			Subsystem: "swarm",
			Name:      "slots_in_use",
			Help:      "Concurrency slots currently held, by provider.",
		}, []string{"provider"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ocw",
			Subsystem: "swarm",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of swarm batches.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Metrics) launched(provider string, active int) {
	if m == nil {
		return
	}
	m.SessionsLaunched.WithLabelValues(provider).Inc()
	m.SlotsInUse.WithLabelValues(provider).Set(float64(active))
}

func (m *Metrics) finished(provider, status string, active int) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(provider, status).Inc()
	m.SlotsInUse.WithLabelValues(provider).Set(float64(active))
}

func (m *Metrics) abandoned(class Staleness) {
	if m == nil {
		return
	}
	m.SessionsAbandoned.WithLabelValues(string(class)).Inc()
}

func (m *Metrics) batchDone(seconds float64) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(seconds)
}
