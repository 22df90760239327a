package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
	"github.com/henryk/byro/pkg/reconcile"
)

func TestAccrualWorker_RunOnce(t *testing.T) {
	ctx := context.Background()
	app := setupTestApp(t)
	alice := addMember(t, app, "M-001")
	addMember(t, app, "M-002")

	metrics := NewMetricsWithRegistry(prometheus.NewRegistry())
	worker := NewAccrualWorker(app.accrual, time.Hour, metrics, log.NewNoopLogger())

	res := worker.runOnce(ctx)
	assert.Equal(t, 6, res.Created)

	res = worker.runOnce(ctx)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 6, res.Unchanged)

	balance, err := app.accrual.MemberBalance(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "-30.00", balance.StringFixed(2))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AccrualRuns.WithLabelValues("success")))
	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.AccrualTransactions.WithLabelValues("created")))
}

func TestAccrualWorker_StopsOnCancel(t *testing.T) {
	app := setupTestApp(t)
	worker := NewAccrualWorker(app.accrual, time.Hour, nil, log.NewNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("accrual worker did not stop")
	}
}

func importStatement(t *testing.T, app *App, lines ...string) *ledger.ImportSource {
	t.Helper()
	statement := strings.Join(append([]string{"value_date,amount,counterparty,reference"}, lines...), "\n")
	source, _, err := reconcile.ImportStatement(context.Background(), app.store, "statement.csv", strings.NewReader(statement))
	require.NoError(t, err)
	return source
}

func TestImportWorker_ProcessPending(t *testing.T) {
	ctx := context.Background()
	app := setupTestApp(t)
	alice := addMember(t, app, "M-001")
	_, err := app.accrual.AccrueLiabilities(ctx, alice.ID)
	require.NoError(t, err)

	good := importStatement(t, app, "2024-03-01,30.00,Alice,Fees M-001")
	bad := importStatement(t, app, "2024-03-02,12.00,Unknown,no reference")

	metrics := NewMetricsWithRegistry(prometheus.NewRegistry())
	worker := NewImportWorker(app.store, app.processor, time.Minute, metrics, log.NewNoopLogger())

	assert.Equal(t, 1, worker.processPending(ctx))

	source, err := app.store.GetImportSource(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ImportSourceProcessed, source.State)

	source, err = app.store.GetImportSource(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ImportSourceFailed, source.State)
	assert.Contains(t, source.LastError, "1 of 1 raw transactions failed")

	balance, err := app.accrual.MemberBalance(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "balance %s", balance)

	// Failed sources are left for an operator; nothing is New any more.
	assert.Equal(t, 0, worker.processPending(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReconcileRuns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReconcileRuns.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ReconcileRawOutcomes.WithLabelValues("matched")))
}
