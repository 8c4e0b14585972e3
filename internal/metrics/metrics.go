// Package metrics exposes record, settlement and ledger counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	RecordsSubmitted *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	Settlements      *prometheus.CounterVec
	LedgerCalls      *prometheus.CounterVec
	SettlementQueue  prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RecordsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "decentcredit_records_submitted_total",
			Help: "Records persisted by submit, by initial status",
		}, []string{"status"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "decentcredit_record_verifications_total",
			Help: "verify_and_commit outcomes",
		}, []string{"outcome"}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "decentcredit_settlements_total",
			Help: "Settlement jobs by final status",
		}, []string{"status"}),
		LedgerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "decentcredit_ledger_calls_total",
			Help: "Ledger RPC calls by operation and result",
		}, []string{"op", "result"}),
		SettlementQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "decentcredit_settlement_queue_depth",
			Help: "Jobs waiting in the settlement queue",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSubmitted(status string) {
	m.RecordsSubmitted.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordVerified(outcome string) {
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SettlementOutcome(status string) {
	m.Settlements.WithLabelValues(status).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	m.SettlementQueue.Set(float64(n))
}

func (m *Metrics) LedgerCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LedgerCalls.WithLabelValues(op, result).Inc()
}
