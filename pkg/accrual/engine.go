package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
	"github.com/henryk/byro/pkg/members"
)

// DueMemo is the memo of accrued due transactions.
const DueMemo = "Membership due"

// MemberDirectory is the read access the engine needs to members.
type MemberDirectory interface {
	MemberIDs(ctx context.Context) ([]uint, error)
	Memberships(ctx context.Context, memberID uint) ([]members.Membership, error)
}

// Result counts what one accrual run did.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
}

func (r Result) add(o Result) Result {
	return Result{
		Created:   r.Created + o.Created,
		Updated:   r.Updated + o.Updated,
		Unchanged: r.Unchanged + o.Unchanged,
	}
}

// Engine accrues membership fees into the ledger.
type Engine struct {
	store    *ledger.Store
	members  MemberDirectory
	settings ledger.Settings
	logger   log.Logger
	now      func() time.Time
	locks    *keyLock
}

type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store *ledger.Store, directory MemberDirectory, settings ledger.Settings, logger log.Logger, opts ...Option) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:    store,
		members:  directory,
		settings: settings,
		logger:   log.OrNoop(logger).WithName("accrual"),
		now:      time.Now,
		locks:    newKeyLock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// cutoff is the oldest billing date still accrued. Zero disables the bound.
func (e *Engine) cutoff() time.Time {
	if e.settings.LiabilityIntervalMonths == 0 {
		return time.Time{}
	}
	return addMonths(members.Day(e.now()), -e.settings.LiabilityIntervalMonths)
}

// AccrueLiabilities makes sure every billing period of the member's
// memberships between the cutoff and today has exactly one due transaction
// for the current membership amount. Running it again changes nothing.
func (e *Engine) AccrueLiabilities(ctx context.Context, memberID uint) (Result, error) {
	memberships, err := e.members.Memberships(ctx, memberID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load memberships of member %d: %w", memberID, err)
	}
	for _, ms := range memberships {
		if err := ms.Validate(); err != nil {
			return Result{}, fmt.Errorf("membership %d of member %d: %w", ms.ID, memberID, err)
		}
	}

	var res Result
	for _, due := range dueDates(memberships, e.cutoff(), e.now()) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		outcome, err := e.accrue(ctx, memberID, due)
		if err != nil {
			return res, fmt.Errorf("failed to accrue %s for member %d: %w", due.Date.Format(time.DateOnly), memberID, err)
		}
		res = res.add(outcome)
	}

	if res.Created > 0 || res.Updated > 0 {
		e.logger.Info("liabilities accrued", "member", memberID, "created", res.Created, "updated", res.Updated)
	}
	return res, nil
}

// AccrueAll runs AccrueLiabilities for every member. A failing member does
// not stop the others; all failures are returned joined.
func (e *Engine) AccrueAll(ctx context.Context) (Result, error) {
	ids, err := e.members.MemberIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list members: %w", err)
	}

	var (
		total Result
		errs  []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := e.AccrueLiabilities(ctx, id)
		total = total.add(res)
		if err != nil {
			e.logger.Error("accrual failed", "member", id, "error", err)
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func idempotencyKey(memberID uint, date time.Time) string {
	return fmt.Sprintf("accrual:%d:%s", memberID, date.Format(time.DateOnly))
}

// accrue finds or creates the due transaction of one billing date. The
// (member, date) lock serialises runs inside this process; the unique
// idempotency key catches runs in other processes, in which case the lookup
// is repeated once and finds their transaction.
func (e *Engine) accrue(ctx context.Context, memberID uint, due dueDate) (Result, error) {
	key := idempotencyKey(memberID, due.Date)
	unlock := e.locks.Lock(key)
	defer unlock()

	res, err := e.upsertDue(ctx, memberID, due, key)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		e.logger.Warn("concurrent accrual detected, retrying lookup", "member", memberID, "date", due.Date.Format(time.DateOnly))
		res, err = e.upsertDue(ctx, memberID, due, key)
	}
	return res, err
}

func (e *Engine) upsertDue(ctx context.Context, memberID uint, due dueDate, key string) (Result, error) {
	var res Result
	err := e.store.WithTx(ctx, func(tx *ledger.Store) error {
		existing, err := tx.FindTransactionOn(ctx, due.Date, ledger.BookingFilter{
			AccountID:   e.settings.FeesReceivableAccountID,
			MemberID:    memberID,
			BookingType: ledger.BookingTypeDebit,
		})
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			if err := tx.RecordTransaction(ctx, e.dueTransaction(memberID, due, key)); err != nil {
				return err
			}
			res.Created = 1
			return nil
		case err != nil:
			return err
		}

		if existing.TotalCredit().Equal(due.Amount) {
			res.Unchanged = 1
			return nil
		}
		if err := rewriteAmounts(ctx, tx, existing, memberID, due.Amount); err != nil {
			return err
		}
		e.logger.Info("due amount corrected", "member", memberID, "transaction", existing.ID,
			"date", due.Date.Format(time.DateOnly), "from", existing.TotalCredit(), "to", due.Amount)
		res.Updated = 1
		return nil
	})
	return res, err
}

func (e *Engine) dueTransaction(memberID uint, due dueDate, key string) *ledger.Transaction {
	t := ledger.NewTransaction(DueMemo, due.Date)
	t.IdempotencyKey = &key

	opts := []ledger.BookingOption{
		ledger.ForMember(memberID),
		ledger.ImportedBy(ledger.ImporterMembershipAccrual),
		ledger.WithMemo(DueMemo),
	}
	t.Debit(e.settings.FeesReceivableAccountID, due.Amount, opts...)
	t.Credit(e.settings.FeesAccountID, due.Amount, opts...)
	return t
}

// rewriteAmounts sets every booking of the member on t to amount and
// refuses to leave t unbalanced.
func rewriteAmounts(ctx context.Context, tx *ledger.Store, t *ledger.Transaction, memberID uint, amount decimal.Decimal) error {
	for _, b := range t.Bookings {
		if b.MemberID == nil || *b.MemberID != memberID {
			continue
		}
		if err := tx.SetBookingAmount(ctx, b.ID, amount); err != nil {
			return err
		}
	}

	balanced, err := tx.IsBalanced(ctx, t.ID)
	if err != nil {
		return err
	}
	if !balanced {
		return fmt.Errorf("%w: rewriting transaction %d to %s", ledger.ErrUnbalanced, t.ID, amount.StringFixed(2))
	}
	return nil
}

// RemoveFutureLiabilitiesOnLeave deletes the accrued dues of a departing
// member that fall after the end of all of their memberships. A membership
// without an end date protects every due. It returns the number of deleted
// bookings.
func (e *Engine) RemoveFutureLiabilitiesOnLeave(ctx context.Context, memberID uint) (int, error) {
	memberships, err := e.members.Memberships(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("failed to load memberships of member %d: %w", memberID, err)
	}
	if len(memberships) == 0 {
		return 0, nil
	}

	var latest time.Time
	for _, ms := range memberships {
		if ms.End == nil {
			e.logger.Debug("open membership protects all dues", "member", memberID, "membership", ms.ID)
			return 0, nil
		}
		if ms.End.After(latest) {
			latest = *ms.End
		}
	}

	deleted, err := e.store.DeleteMemberBookingsAfter(ctx, memberID, ledger.ImporterMembershipAccrual, members.Day(latest))
	if err != nil {
		return 0, fmt.Errorf("failed to remove dues of member %d after %s: %w", memberID, latest.Format(time.DateOnly), err)
	}
	return deleted, nil
}

// MemberBalance is what the member has paid minus what fell due, up to now.
// Negative means the member owes money.
func (e *Engine) MemberBalance(ctx context.Context, memberID uint) (decimal.Decimal, error) {
	debit, credit, err := e.store.MemberTotals(ctx, e.settings.FeesReceivableAccountID, memberID, e.untilNow())
	if err != nil {
		return decimal.Zero, err
	}
	return credit.Sub(debit), nil
}

// DonationBalance sums the member's donations up to now.
func (e *Engine) DonationBalance(ctx context.Context, memberID uint) (decimal.Decimal, error) {
	_, credit, err := e.store.MemberTotals(ctx, e.settings.DonationsAccountID, memberID, e.untilNow())
	if err != nil {
		return decimal.Zero, err
	}
	return credit, nil
}

func (e *Engine) untilNow() ledger.Window {
	now := e.now().UTC()
	return ledger.Window{End: &now}
}

func (e *Engine) Settings() ledger.Settings {
	return e.settings
}
