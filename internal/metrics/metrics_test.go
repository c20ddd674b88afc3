package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Summary(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordUpdate("ONLINE")
	m.RecordUpdate("AWAY")
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SetUsersTracked(3)

	assert.Equal(t, Summary{
		TotalUpdates:      2,
		ActiveUsers:       3,
		TotalConnections:  2,
		ActiveConnections: 1,
	}, m.Summary())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UpdatesTotal.WithLabelValues("AWAY")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectionsActive))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordUpdate("ONLINE")
		m.RecordBroadcast("USER_ONLINE", "global")
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.RecordStoreRetry("get")
	})
	assert.Equal(t, Summary{}, m.Summary())
}
