package pbench

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pbench"

// Metrics counts server side activity per model. A nil *Metrics records nothing.
type Metrics struct {
	ConnectionsAccepted *prometheus.CounterVec
	ConnectionsActive   *prometheus.GaugeVec
	ConnectionErrors    *prometheus.CounterVec
	Exchanges           *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the server",
		}, []string{"model"}),
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently being serviced",
		}, []string{"model"}),
		ConnectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_errors_total",
			Help:      "Connections terminated by an I/O error instead of a clean close",
		}, []string{"model"}),
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Request/response exchanges served",
		}, []string{"model"}),
	}
	reg.MustRegister(m.ConnectionsAccepted, m.ConnectionsActive, m.ConnectionErrors, m.Exchanges)
	return m
}

// modelMetrics holds the children for one model so the exchange path does not
// look labels up.
type modelMetrics struct {
	accepted  prometheus.Counter
	active    prometheus.Gauge
	errors    prometheus.Counter
	exchanges prometheus.Counter
}

func (m *Metrics) forModel(model Model) *modelMetrics {
	if m == nil {
		return nil
	}
	l := model.String()
	return &modelMetrics{
		accepted:  m.ConnectionsAccepted.WithLabelValues(l),
		active:    m.ConnectionsActive.WithLabelValues(l),
		errors:    m.ConnectionErrors.WithLabelValues(l),
		exchanges: m.Exchanges.WithLabelValues(l),
	}
}

func (mm *modelMetrics) opened() {
	if mm == nil {
		return
	}
	mm.accepted.Inc()
	mm.active.Inc()
}

func (mm *modelMetrics) closed(err error) {
	if mm == nil {
		return
	}
	mm.active.Dec()
	if err != nil {
		mm.errors.Inc()
	}
}

func (mm *modelMetrics) exchange() {
	if mm != nil {
		mm.exchanges.Inc()
	}
}

// onExchange returns the per exchange hook handed to Serve.
func (mm *modelMetrics) onExchange() func() {
	if mm == nil {
		return nil
	}
	return mm.exchanges.Inc
}
