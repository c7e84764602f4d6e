// Package metrics exports authentication counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/keksclan/goFwdAuth/internal/verify"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fwdauth"

// Collector implements the metrics hooks of the key set cache, the token
// validator and the gateway.
type Collector struct {
	checksTotal        *prometheus.CounterVec
	checkLatency       prometheus.Histogram
	validationsTotal   *prometheus.CounterVec
	keySetFetchTotal   *prometheus.CounterVec
	keySetFetchLatency prometheus.Histogram
	keySetKeys         prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of gateway auth checks, labeled by response status.",
			},
			[]string{"status"},
		),
		checkLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Latency of gateway auth checks (seconds).",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
			},
		),
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_validations_total",
				Help:      "Total number of token validations, labeled by outcome and origin or failure kind.",
			},
			[]string{"outcome", "reason"},
		),
		keySetFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keyset_fetches_total",
				Help:      "Total number of key set fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		keySetFetchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "keyset_fetch_duration_seconds",
				Help:      "Latency of key set fetches (seconds).",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		keySetKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "keyset_keys",
				Help:      "Number of signing keys in the current snapshot.",
			},
		),
	}
	reg.MustRegister(
		c.checksTotal,
		c.checkLatency,
		c.validationsTotal,
		c.keySetFetchTotal,
		c.keySetFetchLatency,
		c.keySetKeys,
	)
	return c
}

func (c *Collector) CheckCompleted(status int, elapsed time.Duration) {
	c.checksTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	c.checkLatency.Observe(elapsed.Seconds())
}

func (c *Collector) ValidationSucceeded(origin verify.Origin) {
	c.validationsTotal.WithLabelValues("accepted", string(origin)).Inc()
}

func (c *Collector) ValidationFailed(reason string) {
	c.validationsTotal.WithLabelValues("rejected", reason).Inc()
}

func (c *Collector) KeySetFetched(elapsed time.Duration, keys int, err error) {
	c.keySetFetchLatency.Observe(elapsed.Seconds())
	if err != nil {
		c.keySetFetchTotal.WithLabelValues("error").Inc()
		return
	}
	c.keySetFetchTotal.WithLabelValues("ok").Inc()
	c.keySetKeys.Set(float64(keys))
}
