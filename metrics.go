package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/henryk/byro/pkg/accrual"
	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
	"github.com/henryk/byro/pkg/reconcile"
)

// Metrics contains all Prometheus metrics for the application
type Metrics struct {
	// Accrual metrics
	AccrualRuns         *prometheus.CounterVec
	AccrualTransactions *prometheus.CounterVec

	// Reconciliation metrics
	ReconcileRuns        *prometheus.CounterVec
	ReconcileRawOutcomes *prometheus.CounterVec

	// Ledger state
	ImportSources          *prometheus.GaugeVec
	UnbalancedTransactions prometheus.Gauge
}

// NewMetrics initializes and registers Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		AccrualRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "byro_accrual_runs_total",
				Help: "The total number of accrual runs by status",
			},
			[]string{"status"},
		),
		AccrualTransactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "byro_accrual_transactions_total",
				Help: "The total number of due transactions touched by accrual, by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "byro_reconcile_runs_total",
				Help: "The total number of import source processing runs by status",
			},
			[]string{"status"},
		),
		ReconcileRawOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "byro_reconcile_raw_transactions_total",
				Help: "The total number of raw transactions handled by reconciliation, by outcome",
			},
			[]string{"outcome"},
		),
		ImportSources: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "byro_import_sources",
				Help: "The number of import sources by state",
			},
			[]string{"state"},
		),
		UnbalancedTransactions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "byro_unbalanced_transactions",
			Help: "The number of transactions whose debits and credits differ",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) ObserveAccrual(res accrual.Result, err error) {
	if m == nil {
		return
	}
	m.AccrualRuns.WithLabelValues(status(err)).Inc()
	m.AccrualTransactions.WithLabelValues("created").Add(float64(res.Created))
	m.AccrualTransactions.WithLabelValues("updated").Add(float64(res.Updated))
	m.AccrualTransactions.WithLabelValues("unchanged").Add(float64(res.Unchanged))
}

func (m *Metrics) ObserveReconcile(report reconcile.Report, err error) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(status(err)).Inc()
	m.ReconcileRawOutcomes.WithLabelValues("matched").Add(float64(report.Matched))
	m.ReconcileRawOutcomes.WithLabelValues("failed").Add(float64(report.Failed))
	m.ReconcileRawOutcomes.WithLabelValues("skipped").Add(float64(report.Skipped))
}

func (m *Metrics) RecordMetricsPeriodically(ctx context.Context, store *ledger.Store, interval time.Duration, logger log.Logger) {
	logger = log.OrNoop(logger).WithName("metrics")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.UpdateImportSourceMetrics(ctx, store); err != nil {
				logger.Warn("failed to update import source metrics", "error", err)
			}
			if err := m.UpdateLedgerMetrics(ctx, store); err != nil {
				logger.Warn("failed to update ledger metrics", "error", err)
			}
		}
	}
}

// UpdateImportSourceMetrics updates the import source gauges from the database
func (m *Metrics) UpdateImportSourceMetrics(ctx context.Context, store *ledger.Store) error {
	counts, err := store.CountImportSources(ctx)
	if err != nil {
		return err
	}

	m.ImportSources.Reset()
	for _, state := range []ledger.ImportSourceState{
		ledger.ImportSourceNew, ledger.ImportSourceProcessing, ledger.ImportSourceProcessed, ledger.ImportSourceFailed,
	} {
		m.ImportSources.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	return nil
}

func (m *Metrics) UpdateLedgerMetrics(ctx context.Context, store *ledger.Store) error {
	unbalanced, err := store.UnbalancedTransactions(ctx)
	if err != nil {
		return err
	}
	m.UnbalancedTransactions.Set(float64(len(unbalanced)))
	return nil
}
