package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the presence series. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UpdatesTotal      *prometheus.CounterVec
	BroadcastsTotal   *prometheus.CounterVec
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	UsersTracked      prometheus.Gauge
	SweepDuration     prometheus.Histogram
	SweepTransitions  *prometheus.CounterVec
	StoreRetries      *prometheus.CounterVec
	StoreFailures     *prometheus.CounterVec

	totalUpdates      atomic.Int64
	totalConnections  atomic.Int64
	activeConnections atomic.Int64
	usersTracked      atomic.Int64
}

// Summary is the JSON health view of the counters.
type Summary struct {
	TotalUpdates      int64 `json:"totalUpdates"`
	ActiveUsers       int64 `json:"activeUsers"`
	TotalConnections  int64 `json:"totalConnections"`
	ActiveConnections int64 `json:"activeConnections"`
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_updates_total",
			Help: "Total presence record writes by resulting status",
		}, []string{"status"}),
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_broadcasts_total",
			Help: "Total presence events published",
		}, []string{"kind", "scope"}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "presence_connections_total",
			Help: "Total connections attached on this instance",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_connections_active",
			Help: "Connections currently attached on this instance",
		}),
		UsersTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_users_tracked",
			Help: "Presence records mirrored in the local cache",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "presence_sweep_duration_seconds",
			Help:    "Duration of decay sweep passes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		SweepTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_sweep_transitions_total",
			Help: "Transitions applied by the decay sweeper",
		}, []string{"transition"}),
		StoreRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_store_retries_total",
			Help: "Presence store operations retried after a transient failure",
		}, []string{"op"}),
		StoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_store_failures_total",
			Help: "Presence store operations that exhausted their retries",
		}, []string{"op"}),
	}
}

func (m *Metrics) RecordUpdate(status string) {
	if m == nil {
		return
	}
	m.totalUpdates.Add(1)
	m.UpdatesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordBroadcast(kind, scope string) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(kind, scope).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.totalConnections.Add(1)
	m.activeConnections.Add(1)
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Add(-1)
	m.ConnectionsActive.Dec()
}

func (m *Metrics) SetUsersTracked(n int) {
	if m == nil {
		return
	}
	m.usersTracked.Store(int64(n))
	m.UsersTracked.Set(float64(n))
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordTransition(transition string) {
	if m == nil {
		return
	}
	m.SweepTransitions.WithLabelValues(transition).Inc()
}

func (m *Metrics) RecordStoreRetry(op string) {
	if m == nil {
		return
	}
	m.StoreRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordStoreFailure(op string) {
	if m == nil {
		return
	}
	m.StoreFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) Summary() Summary {
	if m == nil {
		return Summary{}
	}
	return Summary{
		TotalUpdates:      m.totalUpdates.Load(),
		ActiveUsers:       m.usersTracked.Load(),
		TotalConnections:  m.totalConnections.Load(),
		ActiveConnections: m.activeConnections.Load(),
	}
}
