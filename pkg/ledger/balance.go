package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Window bounds a balance query by transaction value date. Both bounds are
// inclusive; a nil bound is unbounded. The engine never substitutes "now"
// for a missing bound, callers that want it use UntilNow.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// Unbounded covers every transaction.
func Unbounded() Window {
	return Window{}
}

// UntilNow covers every transaction valued up to the current time.
func UntilNow() Window {
	now := time.Now().UTC()
	return Window{End: &now}
}

func Between(start, end time.Time) Window {
	start, end = start.UTC(), end.UTC()
	return Window{Start: &start, End: &end}
}

func (w Window) apply(q *gorm.DB) *gorm.DB {
	if w.Start != nil {
		q = q.Where("transactions.value_datetime >= ?", w.Start.UTC())
	}
	if w.End != nil {
		q = q.Where("transactions.value_datetime <= ?", w.End.UTC())
	}
	return q
}

type bookingTotals struct {
	Debit  decimal.Decimal `gorm:"column:debit"`
	Credit decimal.Decimal `gorm:"column:credit"`
}

// sumBookings totals the debit and credit amounts of the bookings selected
// by q, which must be a query on the bookings table.
func (s *Store) sumBookings(q *gorm.DB) (bookingTotals, error) {
	switch s.db.Dialector.Name() {
	case "postgres":
		var totals bookingTotals
		err := q.Select(
			"COALESCE(SUM(CASE WHEN bookings.booking_type = ? THEN bookings.amount ELSE 0 END), 0) AS debit, "+
				"COALESCE(SUM(CASE WHEN bookings.booking_type = ? THEN bookings.amount ELSE 0 END), 0) AS credit",
			BookingTypeDebit, BookingTypeCredit,
		).Scan(&totals).Error
		return totals, err

	case "sqlite":
		// Sum in Go: SQLite would aggregate the amounts as floats.
		var rows []struct {
			BookingType BookingType     `gorm:"column:booking_type"`
			Amount      decimal.Decimal `gorm:"column:amount"`
		}
		if err := q.Select("bookings.booking_type, bookings.amount").Scan(&rows).Error; err != nil {
			return bookingTotals{}, err
		}

		totals := bookingTotals{Debit: decimal.Zero, Credit: decimal.Zero}
		for _, r := range rows {
			switch r.BookingType {
			case BookingTypeDebit:
				totals.Debit = totals.Debit.Add(r.Amount)
			case BookingTypeCredit:
				totals.Credit = totals.Credit.Add(r.Amount)
			}
		}
		return totals, nil

	default:
		return bookingTotals{}, fmt.Errorf("unsupported database driver: %s", s.db.Dialector.Name())
	}
}

func (s *Store) accountBookings(ctx context.Context, accountID uint, w Window) *gorm.DB {
	q := s.db.WithContext(ctx).
		Model(&Booking{}).
		Joins("JOIN transactions ON transactions.id = bookings.transaction_id").
		Where("bookings.account_id = ?", accountID)
	return w.apply(q)
}

// AccountTotals sums the debits and credits booked on an account within w.
func (s *Store) AccountTotals(ctx context.Context, accountID uint, w Window) (debit, credit decimal.Decimal, err error) {
	totals, err := s.sumBookings(s.accountBookings(ctx, accountID, w))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to total account %d: %w", accountID, err)
	}
	return totals.Debit, totals.Credit, nil
}

// Balance returns the balance of an account within w, signed by the
// account's category: debit-normal accounts report debits minus credits,
// the others credits minus debits.
func (s *Store) Balance(ctx context.Context, accountID uint, w Window) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	debit, credit, err := s.AccountTotals(ctx, accountID, w)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Category.Balance(debit, credit), nil
}

// MemberTotals sums the debits and credits booked on an account for one member.
func (s *Store) MemberTotals(ctx context.Context, accountID, memberID uint, w Window) (debit, credit decimal.Decimal, err error) {
	q := s.accountBookings(ctx, accountID, w).Where("bookings.member_id = ?", memberID)
	totals, err := s.sumBookings(q)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to total account %d for member %d: %w", accountID, memberID, err)
	}
	return totals.Debit, totals.Credit, nil
}

// UnbalancedTransactions returns every transaction whose bookings do not
// balance, ordered by ID. A transaction without bookings sums to zero and is
// not listed, matching IsBalanced.
func (s *Store) UnbalancedTransactions(ctx context.Context) ([]Transaction, error) {
	return s.unbalanced(ctx, nil)
}

// AccountUnbalancedTransactions restricts UnbalancedTransactions to
// transactions with at least one booking on the account.
func (s *Store) AccountUnbalancedTransactions(ctx context.Context, accountID uint) ([]Transaction, error) {
	return s.unbalanced(ctx, &accountID)
}

func (s *Store) unbalanced(ctx context.Context, accountID *uint) ([]Transaction, error) {
	db := s.db.WithContext(ctx)
	bookings := db.Model(&Booking{})
	if accountID != nil {
		bookings = bookings.Where("transaction_id IN (?)",
			db.Model(&Booking{}).Select("transaction_id").Where("account_id = ?", *accountID))
	}

	var ids []uint
	switch s.db.Dialector.Name() {
	case "postgres":
		err := bookings.
			Select("transaction_id").
			Group("transaction_id").
			Having("SUM(CASE WHEN booking_type = ? THEN amount ELSE -amount END) <> 0", BookingTypeDebit).
			Pluck("transaction_id", &ids).Error
		if err != nil {
			return nil, err
		}

	case "sqlite":
		var rows []struct {
			TransactionID uint            `gorm:"column:transaction_id"`
			BookingType   BookingType     `gorm:"column:booking_type"`
			Amount        decimal.Decimal `gorm:"column:amount"`
		}
		if err := bookings.Select("transaction_id, booking_type, amount").Order("transaction_id").Scan(&rows).Error; err != nil {
			return nil, err
		}

		signed := make(map[uint]decimal.Decimal)
		var order []uint
		for _, r := range rows {
			sum, ok := signed[r.TransactionID]
			if !ok {
				order = append(order, r.TransactionID)
			}
			if r.BookingType == BookingTypeDebit {
				signed[r.TransactionID] = sum.Add(r.Amount)
			} else {
				signed[r.TransactionID] = sum.Sub(r.Amount)
			}
		}
		for _, id := range order {
			if !signed[id].IsZero() {
				ids = append(ids, id)
			}
		}

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", s.db.Dialector.Name())
	}

	if len(ids) == 0 {
		return []Transaction{}, nil
	}

	var txs []Transaction
	err := db.
		Preload("Bookings", func(db *gorm.DB) *gorm.DB { return db.Order("bookings.id") }).
		Where("id IN ?", ids).
		Order("id").
		Find(&txs).Error
	return txs, err
}

// AccountBookings lists the bookings of an account within w, newest value
// date first. With unbalancedOnly set, only bookings of unbalanced
// transactions are returned.
func (s *Store) AccountBookings(ctx context.Context, accountID uint, w Window, unbalancedOnly bool, options *ListOptions) ([]Booking, error) {
	q := s.accountBookings(ctx, accountID, w)
	if unbalancedOnly {
		unbalanced, err := s.AccountUnbalancedTransactions(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if len(unbalanced) == 0 {
			return []Booking{}, nil
		}
		ids := make([]uint, len(unbalanced))
		for i, t := range unbalanced {
			ids[i] = t.ID
		}
		q = q.Where("bookings.transaction_id IN ?", ids)
	}

	q = applyListOptions(q, "transactions.value_datetime", SortTypeDescending, options)

	var bookings []Booking
	if err := q.Select("bookings.*").Order("bookings.id DESC").Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}
