package ws

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons for lanrelay_messages_dropped_total.
const (
	dropInvalid      = "invalid"
	dropSlowConsumer = "slow_consumer"
	dropClosed       = "closed"
)

// metrics is nil when the server runs without a registry; every method is
// safe on a nil receiver.
type metrics struct {
	connected  prometheus.Gauge
	relayed    prometheus.Counter
	dropped    *prometheus.CounterVec
	authFailed prometheus.Counter
	rejected   prometheus.Counter
}

func newMetrics(reg *prometheus.Registry) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lanrelay_sessions_connected",
			Help: "Sessions currently admitted to the relay.",
		}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_messages_relayed_total",
			Help: "Frames queued for delivery to a session.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_messages_dropped_total",
			Help: "Frames not delivered, by reason.",
		}, []string{"reason"}),
		authFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_auth_failures_total",
			Help: "Upgrade requests refused by the authenticator.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_client_rejections_total",
			Help: "Upgraded sessions closed by the client validator.",
		}),
	}
	reg.MustRegister(m.connected, m.relayed, m.dropped, m.authFailed, m.rejected)
	return m
}

func (m *metrics) setConnected(n int) {
	if m != nil {
		m.connected.Set(float64(n))
	}
}

func (m *metrics) relay() {
	if m != nil {
		m.relayed.Inc()
	}
}

func (m *metrics) drop(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *metrics) authFailure() {
	if m != nil {
		m.authFailed.Inc()
	}
}

func (m *metrics) rejection() {
	if m != nil {
		m.rejected.Inc()
	}
}
