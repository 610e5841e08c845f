package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveRun("payout-settlement", 250*time.Millisecond, nil)
	m.ObserveRun("payout-settlement", time.Second, errors.New("stripe down"))
	m.ObserveRun("", time.Millisecond, nil)
	m.IncLockLost()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("payout-settlement", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("payout-settlement", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("unknown", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockLost))

	assert.Equal(t, 2, testutil.CollectAndCount(m.lastSuccess))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
	assert.Greater(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("payout-settlement")), 0.0)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "inspectbid_cron_job_duration_seconds" {
			continue
		}
		for _, series := range mf.GetMetric() {
			if series.GetLabel()[0].GetValue() == "payout-settlement" {
				assert.InDelta(t, 1.25, series.GetHistogram().GetSampleSum(), 0.001)
				assert.EqualValues(t, 2, series.GetHistogram().GetSampleCount())
			}
		}
	}
}

func TestNilCronMetricsAreNoops(t *testing.T) {
	var m *CronJobMetrics
	assert.NotPanics(t, func() {
		m.ObserveRun("x", time.Second, nil)
		m.IncLockLost()
		NewCronJobMetrics(nil).ObserveRun("x", time.Second, errors.New("x"))
	})
}
