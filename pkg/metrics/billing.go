package metrics

import "github.com/prometheus/client_golang/prometheus"

// BillingMetrics counts ledger mutations, settlements and provider callbacks.
type BillingMetrics struct {
	ledger      *prometheus.CounterVec
	settlements *prometheus.CounterVec
	callbacks   *prometheus.CounterVec
}

// NewBillingMetrics registers the billing counters on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	ledger := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_operations_total",
		Help:      "Credit ledger mutations by transaction type and outcome.",
	}, []string{"type", "outcome"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Payment settlements by payment kind and outcome.",
	}, []string{"kind", "outcome"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_callbacks_total",
		Help:      "Gateway callbacks by provider and outcome.",
	}, []string{"gateway", "outcome"})
	reg.MustRegister(ledger, settlements, callbacks)
	return &BillingMetrics{ledger: ledger, settlements: settlements, callbacks: callbacks}
}

// LedgerOperation records one ledger mutation attempt.
func (m *BillingMetrics) LedgerOperation(txType, outcome string) {
	if m == nil || m.ledger == nil {
		return
	}
	m.ledger.WithLabelValues(normalizeLabel(txType), normalizeLabel(outcome)).Inc()
}

// Settlement records one settlement attempt.
func (m *BillingMetrics) Settlement(kind, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// Callback records one provider callback.
func (m *BillingMetrics) Callback(gateway, outcome string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(gateway), normalizeLabel(outcome)).Inc()
}
