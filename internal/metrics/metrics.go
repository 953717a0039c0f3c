// Package metrics exposes controller state as Prometheus series.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
)

// Collector holds the controller's series. A nil *Collector is a no-op.
type Collector struct {
	pFail         *prometheus.GaugeVec
	pFailUCB      *prometheus.GaugeVec
	mutualInfo    *prometheus.GaugeVec
	capacity      *prometheus.GaugeVec
	level         *prometheus.GaugeVec
	observations  *prometheus.GaugeVec
	switches      *prometheus.CounterVec
	triggers      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cycleErrors   prometheus.Counter
	dropped       prometheus.Gauge
}

// New registers the controller's series on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		pFail: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partition_channel_p_fail",
			Help: "Point estimate of the governing goal's failure rate",
		}, []string{"channel"}),
		pFailUCB: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partition_channel_p_fail_ucb",
			Help: "Upper confidence bound of the governing goal's failure rate",
		}, []string{"channel"}),
		mutualInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partition_channel_mutual_information_bits",
			Help: "Empirical mutual information between input and output symbols",
		}, []string{"channel"}),
		capacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partition_channel_capacity_bits",
			Help: "Blahut-Arimoto channel capacity",
		}, []string{"channel"}),
		level: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partition_channel_level",
			Help: "Active configuration level (0 nominal, 1 degraded, 2 critical)",
		}, []string{"channel"}),
		observations: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partition_channel_observations",
			Help: "Observations in the evaluation window",
		}, []string{"channel"}),
		switches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "partition_switch_events_total",
			Help: "Configuration switches by direction",
		}, []string{"channel", "direction"}),
		triggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "partition_cascade_triggers_total",
			Help: "Epsilon-trigger cascade recommendations by tier",
		}, []string{"channel", "tier"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "partition_cycle_duration_seconds",
			Help:    "Evaluation cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		cycleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "partition_cycle_errors_total",
			Help: "Evaluation cycles that returned an error",
		}),
		dropped: f.NewGauge(prometheus.GaugeOpts{
			Name: "partition_observations_dropped",
			Help: "Observations dropped by the instrumentation buffer since start",
		}),
	}
}

// ObserveChannel records one channel's cycle metrics. Infinite values are
// skipped; the UCB series is removed when no bound applies.
func (c *Collector) ObserveChannel(channelID string, level int, m channel.Metrics) {
	if c == nil {
		return
	}
	setFinite(c.pFail.WithLabelValues(channelID), m.PFail)
	if m.PFailUCB != nil {
		setFinite(c.pFailUCB.WithLabelValues(channelID), *m.PFailUCB)
	} else {
		c.pFailUCB.DeleteLabelValues(channelID)
	}
	setFinite(c.mutualInfo.WithLabelValues(channelID), m.MutualInformationBits)
	setFinite(c.capacity.WithLabelValues(channelID), m.CapacityBits)
	c.level.WithLabelValues(channelID).Set(float64(level))
	c.observations.WithLabelValues(channelID).Set(float64(m.NObservations))
}

// CountSwitch increments the switch counter.
func (c *Collector) CountSwitch(channelID, direction string) {
	if c == nil {
		return
	}
	c.switches.WithLabelValues(channelID, direction).Inc()
}

// CountTrigger increments the cascade trigger counter.
func (c *Collector) CountTrigger(channelID, tier string) {
	if c == nil {
		return
	}
	c.triggers.WithLabelValues(channelID, tier).Inc()
}

// ObserveCycle records a cycle's duration and outcome.
func (c *Collector) ObserveCycle(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.cycleDuration.Observe(d.Seconds())
	if err != nil {
		c.cycleErrors.Inc()
	}
}

// SetDropped publishes the instrumentation drop count.
func (c *Collector) SetDropped(n uint64) {
	if c == nil {
		return
	}
	c.dropped.Set(float64(n))
}

func setFinite(g prometheus.Gauge, v float64) {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return
	}
	g.Set(v)
}
