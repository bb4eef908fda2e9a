package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autoliker"

// Metrics records dispatch activity. A nil *Metrics is a no-op.
type Metrics struct {
	cyclesTotal      *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	accountsTotal    *prometheus.CounterVec
	itemsTotal       *prometheus.CounterVec
	deactivations    prometheus.Counter
	cachedTargets    prometheus.Gauge
	lastCycleSuccess prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Dispatch cycles by result.",
		}, []string{"result"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Dispatch cycle duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		accountsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_processed_total",
			Help:      "Per-account pipeline runs by outcome.",
		}, []string{"outcome"}),
		itemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_items_total",
			Help:      "Content items examined by result.",
		}, []string{"result"}),
		deactivations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_deactivations_total",
			Help:      "Accounts deactivated after consecutive failures.",
		}),
		cachedTargets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_cache_targets",
			Help:      "Targets held by the cycle cache when the last cycle finished.",
		}),
		lastCycleSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that completed without a fatal error.",
		}),
	}
}

func (m *Metrics) ObserveCycle(d time.Duration, err error, cachedTargets int, finishedAt time.Time) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	} else {
		m.lastCycleSuccess.Set(float64(finishedAt.Unix()))
	}

	m.cyclesTotal.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.cachedTargets.Set(float64(cachedTargets))
}

func (m *Metrics) ObserveAccount(outcome string, liked, skipped, errCount int) {
	if m == nil {
		return
	}

	m.accountsTotal.WithLabelValues(outcome).Inc()
	m.itemsTotal.WithLabelValues("liked").Add(float64(liked))
	m.itemsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.itemsTotal.WithLabelValues("error").Add(float64(errCount))
}

func (m *Metrics) IncDeactivations() {
	if m == nil {
		return
	}

	m.deactivations.Inc()
}
