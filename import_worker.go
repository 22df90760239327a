package main

import (
	"context"
	"time"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
	"github.com/henryk/byro/pkg/reconcile"
)

// ImportWorker picks up New import sources and reconciles them. Failed
// sources wait for an operator to retry them with the reconcile command.
type ImportWorker struct {
	store     *ledger.Store
	processor *reconcile.Processor
	interval  time.Duration
	metrics   *Metrics
	logger    log.Logger
}

func NewImportWorker(store *ledger.Store, processor *reconcile.Processor, interval time.Duration, metrics *Metrics, logger log.Logger) *ImportWorker {
	return &ImportWorker{
		store:     store,
		processor: processor,
		interval:  interval,
		metrics:   metrics,
		logger:    log.OrNoop(logger).WithName("import-worker"),
	}
}

func (w *ImportWorker) Start(ctx context.Context) {
	w.logger.Info("import worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.processPending(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("import worker stopped")
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// processPending reconciles every New source and returns how many of them
// ended up Processed.
func (w *ImportWorker) processPending(ctx context.Context) int {
	state := ledger.ImportSourceNew
	sources, err := w.store.ListImportSources(ctx, &state)
	if err != nil {
		w.logger.Error("failed to list pending import sources", "error", err)
		return 0
	}

	var processed int
	for _, source := range sources {
		if ctx.Err() != nil {
			w.logger.Info("context cancelled, stopping import processing")
			return processed
		}

		report, err := w.processor.ProcessSource(ctx, source.ID, reconcile.ProcessOptions{})
		w.metrics.ObserveReconcile(report, err)
		if err != nil {
			w.logger.Warn("import source needs attention", "source", source.ID, "reference", source.Reference, "error", err)
			continue
		}
		processed++
	}
	return processed
}
