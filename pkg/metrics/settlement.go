package metrics

import "github.com/prometheus/client_golang/prometheus"

// SettlementMetrics counts payout outcomes and the cents actually transferred.
type SettlementMetrics struct {
	payouts *prometheus.CounterVec
	cents   *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement collectors on reg. A nil
// registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payouts_total",
		Help: "Payout attempts by payee kind and outcome.",
	}, []string{"kind", "outcome"})
	cents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payout_cents_total",
		Help: "Cents transferred to payees.",
	}, []string{"kind"})
	reg.MustRegister(payouts, cents)
	return &SettlementMetrics{payouts: payouts, cents: cents}
}

// RecordOutcome increments the outcome counter for a payee kind.
func (m *SettlementMetrics) RecordOutcome(kind, outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// AddPaid adds transferred cents for a payee kind.
func (m *SettlementMetrics) AddPaid(kind string, cents int64) {
	if m == nil || m.cents == nil || cents <= 0 {
		return
	}
	m.cents.WithLabelValues(normalizeLabel(kind)).Add(float64(cents))
}
