package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())
	assert.Less(t, time.Since(timer.start), time.Second)
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	d1 := timer.Duration()
	assert.GreaterOrEqual(t, d1, 20*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, timer.Duration(), d1)
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration histogram",
		Buckets: prometheus.DefBuckets,
	})

	NewTimer().ObserveDuration(histogram)
	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_duration_vec_seconds",
			Help:    "Test duration histogram vec",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(histogramVec, "rs1")
	timer.ObserveDurationVec(histogramVec, "rs2")
	assert.Equal(t, 2, testutil.CollectAndCount(histogramVec))
}

func TestForgetNode(t *testing.T) {
	CompactionsCompleted.WithLabelValues("forget-me").Inc()
	AdmissionGated.WithLabelValues("forget-me", "pool_full").Inc()
	CompactionsCompleted.WithLabelValues("keep-me").Inc()

	ForgetNode("forget-me")

	assert.Equal(t, 0.0, testutil.ToFloat64(CompactionsCompleted.WithLabelValues("forget-me")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CompactionsCompleted.WithLabelValues("keep-me")))
}
