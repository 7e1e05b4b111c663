package rpc

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments a Client. A nil *Metrics records nothing.
type Metrics struct {
	Requests      *prometheus.CounterVec
	Responses     *prometheus.CounterVec
	Dropped       prometheus.Counter
	Malformed     prometheus.Counter
	InFlight      prometheus.Gauge
	Subscriptions prometheus.Gauge
}

// NewMetrics creates the client collectors and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fedwallet", Subsystem: "rpc", Name: "requests_total",
			Help: "Requests sent to the engine by type.",
		}, []string{"type"}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fedwallet", Subsystem: "rpc", Name: "responses_total",
			Help: "Responses received from the engine by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fedwallet", Subsystem: "rpc", Name: "dropped_total",
			Help: "Responses dropped because no request was waiting for them.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fedwallet", Subsystem: "rpc", Name: "malformed_total",
			Help: "Engine messages that could not be decoded.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fedwallet", Subsystem: "rpc", Name: "in_flight",
			Help: "Requests awaiting a terminal response.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fedwallet", Subsystem: "rpc", Name: "subscriptions",
			Help: "Live subscriptions, single-shot calls included.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Responses, m.Dropped, m.Malformed,
			m.InFlight, m.Subscriptions)
	}
	return m
}

func (m *Metrics) request(kind string) {
	if m != nil {
		m.Requests.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) response(kind string) {
	if m != nil {
		m.Responses.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) malformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}

func (m *Metrics) inFlight(n int) {
	if m != nil {
		m.InFlight.Set(float64(n))
	}
}

func (m *Metrics) subscriptions(n int) {
	if m != nil {
		m.Subscriptions.Set(float64(n))
	}
}
