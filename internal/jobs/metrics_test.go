package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerAndCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("purge").End(nil))
	err := m.Track("purge").End(errors.New("boom"))
	require.EqualError(t, err, "boom")
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("purge", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("purge")))

	m.RecordHandlerFailure("audit", "user.created")
	m.RecordHandlerFailure("audit", "user.created")
	require.Equal(t, 2.0, testutil.ToFloat64(m.handlerFailures.WithLabelValues("audit", "user.created")))

	m.AddPurged(3)
	m.AddPurged(0)
	require.Equal(t, 3.0, testutil.ToFloat64(m.purged))

	var nilMetrics *Metrics
	nilMetrics.RecordHandlerFailure("x", "y")
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
