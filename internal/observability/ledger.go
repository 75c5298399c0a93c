package observability

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts budget movements, voucher transitions and closes.
// It satisfies the metrics ports of the budget, journal and closing
// services. A nil receiver is a no-op.
type LedgerMetrics struct {
	movements *prometheus.CounterVec
	vouchers  *prometheus.CounterVec
	closings  *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armonia_budget_movements_total",
			Help: "Budget movements by moment and outcome.",
		}, []string{"moment", "result"}),
		vouchers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armonia_vouchers_total",
			Help: "Voucher state transitions.",
		}, []string{"transition"}),
		closings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armonia_closings_total",
			Help: "Period and fiscal year closes by outcome.",
		}, []string{"kind", "result"}),
	}
	registerer.MustRegister(m.movements, m.vouchers, m.closings)
	return m
}

// ObserveMovement counts a budget movement outcome.
func (m *LedgerMetrics) ObserveMovement(moment, result string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(moment, result).Inc()
}

// ObserveVoucher counts a voucher transition.
func (m *LedgerMetrics) ObserveVoucher(transition string) {
	if m == nil {
		return
	}
	m.vouchers.WithLabelValues(transition).Inc()
}

// ObserveClosing counts a close outcome.
func (m *LedgerMetrics) ObserveClosing(kind, result string) {
	if m == nil {
		return
	}
	m.closings.WithLabelValues(kind, result).Inc()
}
