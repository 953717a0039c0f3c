package metrics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
)

func TestObserveChannel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	ucb := 0.41
	c.ObserveChannel("extract", 2, channel.Metrics{
		PFail:                 0.3,
		PFailUCB:              &ucb,
		MutualInformationBits: 0.5,
		CapacityBits:          1.2,
		EfficiencyPerCost:     math.Inf(1),
		NObservations:         100,
	})

	assert.InDelta(t, 0.3, testutil.ToFloat64(c.pFail.WithLabelValues("extract")), 1e-12)
	assert.InDelta(t, 0.41, testutil.ToFloat64(c.pFailUCB.WithLabelValues("extract")), 1e-12)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.level.WithLabelValues("extract")))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.observations.WithLabelValues("extract")))

	c.ObserveChannel("extract", 2, channel.Metrics{PFail: 0})
	assert.Equal(t, 0, testutil.CollectAndCount(c.pFailUCB), "UCB series removed when nil")
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.CountSwitch("extract", "escalated")
	c.CountSwitch("extract", "escalated")
	c.CountSwitch("extract", "cache_hit")
	c.CountTrigger("extract", "reconfiguration")
	c.ObserveCycle(20*time.Millisecond, nil)
	c.ObserveCycle(20*time.Millisecond, errors.New("source down"))
	c.SetDropped(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.switches.WithLabelValues("extract", "escalated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.switches.WithLabelValues("extract", "cache_hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.triggers.WithLabelValues("extract", "reconfiguration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycleErrors))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.dropped))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveChannel("x", 0, channel.Metrics{})
	c.CountSwitch("x", "escalated")
	c.CountTrigger("x", "parameter_tuning")
	c.ObserveCycle(time.Second, nil)
	c.SetDropped(1)
}
