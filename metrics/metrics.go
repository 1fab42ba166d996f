package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pre              = "datanova_"
	reconcileBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}
)

// Measures groups all exchange metrics.
var Measures = struct {
	DatasetsRegistered   prometheus.Counter
	DatasetsQuarantined  prometheus.Counter
	AgreementTransitions *prometheus.CounterVec
	LedgerSubmissions    *prometheus.CounterVec
	LedgerConfirmations  *prometheus.CounterVec
	AccrualsRecorded     prometheus.Counter
	AccruedTokens        prometheus.Counter
	GateDecisions        *prometheus.CounterVec
	ReconcileSeconds     prometheus.Histogram
}{
	DatasetsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "datasets_registered_total",
		Help: "Number of datasets registered.",
	}),
	DatasetsQuarantined: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "datasets_quarantined_total",
		Help: "Number of datasets quarantined after a failed integrity check.",
	}),
	AgreementTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "agreement_transitions_total",
		Help: "Agreement state transitions by target state.",
	}, []string{"state"}),
	LedgerSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "ledger_submissions_total",
		Help: "Ledger submissions by result.",
	}, []string{"result"}),
	LedgerConfirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "ledger_confirmations_total",
		Help: "Ledger confirmation polls by reported status.",
	}, []string{"status"}),
	AccrualsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "accruals_recorded_total",
		Help: "Number of accrual entries recorded.",
	}),
	AccruedTokens: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "accrued_tokens_total",
		Help: "Token units accrued to providers.",
	}),
	GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "gate_decisions_total",
		Help: "Access gate decisions by outcome.",
	}, []string{"outcome"}),
	ReconcileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    pre + "reconcile_seconds",
		Buckets: reconcileBuckets,
		Help:    "Duration of a single agreement reconciliation.",
	}),
}

func init() {
	for _, c := range []prometheus.Collector{
		Measures.DatasetsRegistered,
		Measures.DatasetsQuarantined,
		Measures.AgreementTransitions,
		Measures.LedgerSubmissions,
		Measures.LedgerConfirmations,
		Measures.AccrualsRecorded,
		Measures.AccruedTokens,
		Measures.GateDecisions,
		Measures.ReconcileSeconds,
	} {
		if err := prometheus.Register(c); err != nil {
			panic(err)
		}
	}
}
