package main

import (
	"context"
	"time"

	"github.com/henryk/byro/pkg/accrual"
	"github.com/henryk/byro/pkg/log"
)

// AccrualWorker periodically accrues the dues of every member.
type AccrualWorker struct {
	engine   *accrual.Engine
	interval time.Duration
	metrics  *Metrics
	logger   log.Logger
}

func NewAccrualWorker(engine *accrual.Engine, interval time.Duration, metrics *Metrics, logger log.Logger) *AccrualWorker {
	return &AccrualWorker{
		engine:   engine,
		interval: interval,
		metrics:  metrics,
		logger:   log.OrNoop(logger).WithName("accrual-worker"),
	}
}

// Start runs one accrual immediately and then one per interval until ctx is
// done.
func (w *AccrualWorker) Start(ctx context.Context) {
	w.logger.Info("accrual worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("accrual worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *AccrualWorker) runOnce(ctx context.Context) accrual.Result {
	res, err := w.engine.AccrueAll(ctx)
	w.metrics.ObserveAccrual(res, err)
	if err != nil {
		if ctx.Err() != nil {
			return res
		}
		w.logger.Error("accrual run failed", "error", err)
	}
	if res.Created > 0 || res.Updated > 0 {
		w.logger.Info("accrual run finished", "created", res.Created, "updated", res.Updated, "unchanged", res.Unchanged)
	}
	return res
}
