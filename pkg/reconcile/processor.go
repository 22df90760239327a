package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
)

// Processor drives an import source through dispatching and committing all
// of its raw transactions.
type Processor struct {
	store      *ledger.Store
	dispatcher *Dispatcher
	logger     log.Logger
}

func NewProcessor(store *ledger.Store, dispatcher *Dispatcher, logger log.Logger) *Processor {
	return &Processor{
		store:      store,
		dispatcher: dispatcher,
		logger:     log.OrNoop(logger).WithName("reconcile.processor"),
	}
}

type ProcessOptions struct {
	// Force reprocesses a source that is already Processed. Raw transactions
	// that were matched before are never dispatched again.
	Force bool
}

// Report summarises one ProcessSource run.
type Report struct {
	SourceID     uint
	Matched      int
	Failed       int
	Skipped      int
	Transactions int
}

// ProcessSource claims the source, dispatches each raw transaction that is
// not yet matched and commits the resulting ledger transactions, one raw
// transaction per database transaction. The source ends up Processed when
// every raw transaction matched and Failed otherwise; the returned error
// then joins the per-line failures.
//
// A cancelled ctx stops the run; the raw transaction in flight is not
// committed and the source is marked Failed.
func (p *Processor) ProcessSource(ctx context.Context, sourceID uint, opts ProcessOptions) (Report, error) {
	report := Report{SourceID: sourceID}

	source, err := p.store.MarkProcessing(ctx, sourceID, opts.Force)
	if err != nil {
		return report, err
	}
	logger := p.logger.WithKV("source", source.ID)
	logger.Info("processing import source", "reference", source.Reference, "force", opts.Force)
	ctx = log.SetContextLogger(ctx, logger)

	raws, err := RawTransactions(ctx, p.store, sourceID)
	if err != nil {
		p.fail(ctx, sourceID, err.Error())
		return report, err
	}

	var errs []error
	for i := range raws {
		raw := &raws[i]
		if raw.Status == RawStatusMatched {
			report.Skipped++
			continue
		}

		n, err := p.processRaw(ctx, raw)
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.fail(ctx, sourceID, ctxErr.Error())
			return report, ctxErr
		}
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("raw transaction %d: %w", raw.ID, err))
			p.markRaw(ctx, raw.ID, RawStatusFailed, err.Error())
			continue
		}
		report.Matched++
		report.Transactions += n
	}

	if len(errs) > 0 {
		reason := fmt.Sprintf("%d of %d raw transactions failed", report.Failed, len(raws))
		p.fail(ctx, sourceID, reason)
		logger.Warn("import source failed", "matched", report.Matched, "failed", report.Failed)
		return report, errors.Join(errs...)
	}

	if err := p.store.MarkProcessed(ctx, sourceID); err != nil {
		return report, err
	}
	logger.Info("import source processed", "matched", report.Matched, "skipped", report.Skipped, "transactions", report.Transactions)
	return report, nil
}

// processRaw dispatches one raw transaction and commits its result
// atomically. It returns the number of committed ledger transactions.
func (p *Processor) processRaw(ctx context.Context, raw *RawTransaction) (int, error) {
	txs, err := p.dispatcher.Process(ctx, raw)
	if err != nil {
		return 0, err
	}

	err = p.store.WithTx(ctx, func(tx *ledger.Store) error {
		for _, t := range txs {
			if !t.IsBalanced() {
				return fmt.Errorf("%w: matched transaction %q debits %s and credits %s",
					ledger.ErrUnbalanced, t.FindMemo(), t.TotalDebit().StringFixed(2), t.TotalCredit().StringFixed(2))
			}
			for i := range t.Bookings {
				if t.Bookings[i].SourceID == nil {
					t.Bookings[i].SourceID = &raw.SourceID
				}
			}
			if err := tx.RecordTransaction(ctx, t); err != nil {
				return err
			}
		}
		return setRawStatus(ctx, tx.DB(), raw.ID, RawStatusMatched, "")
	})
	if err != nil {
		return 0, err
	}
	return len(txs), nil
}

func (p *Processor) markRaw(ctx context.Context, id uint, status RawStatus, reason string) {
	if err := setRawStatus(context.WithoutCancel(ctx), p.store.DB(), id, status, reason); err != nil {
		p.logger.Error("failed to update raw transaction", "raw", id, "status", status, "error", err)
	}
}

// fail marks the source Failed even when ctx is already cancelled.
func (p *Processor) fail(ctx context.Context, sourceID uint, reason string) {
	if err := p.store.MarkFailed(context.WithoutCancel(ctx), sourceID, reason); err != nil {
		p.logger.Error("failed to mark import source failed", "source", sourceID, "error", err)
	}
}
