package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/henryk/byro/pkg/log"
)

// Store is the ledger's gateway to the database. A Store returned by WithTx
// is bound to that database transaction.
type Store struct {
	db     *gorm.DB
	logger log.Logger
	now    func() time.Time
}

func NewStore(db *gorm.DB, logger log.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.OrNoop(logger).WithName("ledger"),
		now:    time.Now,
	}
}

// Models lists the ledger's persistent types in dependency order.
func Models() []any {
	return []any{&Account{}, &ImportSource{}, &Transaction{}, &Booking{}}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn inside one database transaction. Everything fn writes
// through the Store it receives commits together or not at all; a cancelled
// ctx rolls it back. Nested calls use savepoints.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Store{db: db, logger: s.logger, now: s.now})
	})
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
	}
	return err
}

// TransactionParams describes a new transaction shell.
type TransactionParams struct {
	Memo      string
	ValueDate time.Time
	// BookingDate defaults to the current time.
	BookingDate *time.Time
	Reverses    *uint
	Data        datatypes.JSON
}

// CreateTransaction stores an empty transaction. The caller adds bookings
// with AddBooking and checks IsBalanced before treating it as final.
func (s *Store) CreateTransaction(ctx context.Context, params TransactionParams) (*Transaction, error) {
	t := &Transaction{
		Memo:          params.Memo,
		ValueDatetime: params.ValueDate.UTC(),
		ReversesID:    params.Reverses,
		Data:          params.Data,
	}
	if params.BookingDate != nil {
		t.BookingDatetime = params.BookingDate.UTC()
	}

	err := s.WithTx(ctx, func(tx *Store) error {
		return tx.insertTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// BookingParams describes a booking to append to a stored transaction.
type BookingParams struct {
	AccountID uint
	Type      BookingType
	Amount    decimal.Decimal
	MemberID  *uint
	Memo      string
	Importer  string
	SourceID  *uint
	Data      datatypes.JSON
}

// AddBooking appends a booking to a stored transaction. Non-positive amounts
// fail with ErrInvalidAmount before anything is written.
func (s *Store) AddBooking(ctx context.Context, transactionID uint, params BookingParams) (*Booking, error) {
	b := &Booking{
		TransactionID: transactionID,
		AccountID:     params.AccountID,
		BookingType:   params.Type,
		Amount:        params.Amount,
		MemberID:      params.MemberID,
		Memo:          params.Memo,
		Importer:      params.Importer,
		SourceID:      params.SourceID,
		Data:          params.Data,
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	err := s.WithTx(ctx, func(tx *Store) error {
		var count int64
		if err := tx.db.WithContext(ctx).Model(&Transaction{}).Where("id = ?", transactionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: transaction %d", ErrNotFound, transactionID)
		}
		return tx.insertBookings(ctx, []*Booking{b})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RecordTransaction persists t together with all of its bookings. t must
// have at least one booking and be balanced.
func (s *Store) RecordTransaction(ctx context.Context, t *Transaction) error {
	if len(t.Bookings) == 0 {
		return ErrEmptyTransaction
	}
	for i := range t.Bookings {
		if err := t.Bookings[i].validate(); err != nil {
			return fmt.Errorf("booking %d: %w", i, err)
		}
	}
	if !t.IsBalanced() {
		return fmt.Errorf("%w: debit %s, credit %s", ErrUnbalanced, t.TotalDebit().StringFixed(2), t.TotalCredit().StringFixed(2))
	}

	return s.WithTx(ctx, func(tx *Store) error {
		if err := tx.insertTransaction(ctx, t); err != nil {
			return err
		}

		bookings := make([]*Booking, len(t.Bookings))
		for i := range t.Bookings {
			t.Bookings[i].TransactionID = t.ID
			bookings[i] = &t.Bookings[i]
		}
		if err := tx.insertBookings(ctx, bookings); err != nil {
			return err
		}

		s.logger.Debug("transaction recorded", "transaction", t.ID, "bookings", len(bookings), "amount", t.TotalDebit())
		return nil
	})
}

func (s *Store) insertTransaction(ctx context.Context, t *Transaction) error {
	if t.BookingDatetime.IsZero() {
		t.BookingDatetime = s.now().UTC()
	}
	t.ValueDatetime = t.ValueDatetime.UTC()

	if t.ReversesID != nil {
		if err := s.checkReversal(ctx, *t.ReversesID, 0); err != nil {
			return err
		}
	}

	return s.db.WithContext(ctx).Omit(clause.Associations).Create(t).Error
}

func (s *Store) insertBookings(ctx context.Context, bookings []*Booking) error {
	for _, b := range bookings {
		if _, err := s.GetAccount(ctx, b.AccountID); err != nil {
			return err
		}
		if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(b).Error; err != nil {
			return err
		}
	}
	return nil
}

// checkReversal walks the reversal chain starting at target and fails if it
// loops or reaches self. self is zero for transactions not yet stored.
func (s *Store) checkReversal(ctx context.Context, target, self uint) error {
	seen := make(map[uint]struct{})
	for cur := &target; cur != nil; {
		if *cur == self {
			return fmt.Errorf("%w: transaction %d would reverse itself through %d", ErrReversalCycle, self, target)
		}
		if _, ok := seen[*cur]; ok {
			return fmt.Errorf("%w: transaction %d is reached twice from %d", ErrReversalCycle, *cur, target)
		}
		seen[*cur] = struct{}{}

		var t Transaction
		if err := s.db.WithContext(ctx).Select("id", "reverses_id").First(&t, *cur).Error; err != nil {
			return notFound(err, "reversed transaction %d", *cur)
		}
		cur = t.ReversesID
	}
	return nil
}

// SetReverses marks an existing transaction as the reversal of target.
func (s *Store) SetReverses(ctx context.Context, id, target uint) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.GetTransaction(ctx, id); err != nil {
			return err
		}
		if err := tx.checkReversal(ctx, target, id); err != nil {
			return err
		}
		return tx.db.WithContext(ctx).Model(&Transaction{}).Where("id = ?", id).Update("reverses_id", target).Error
	})
}

// GetTransaction loads a transaction with its bookings.
func (s *Store) GetTransaction(ctx context.Context, id uint) (*Transaction, error) {
	var t Transaction
	err := s.db.WithContext(ctx).
		Preload("Bookings", func(db *gorm.DB) *gorm.DB { return db.Order("bookings.id") }).
		First(&t, id).Error
	if err != nil {
		return nil, notFound(err, "transaction %d", id)
	}
	return &t, nil
}

// TransactionTotals sums the stored debits and credits of a transaction.
func (s *Store) TransactionTotals(ctx context.Context, id uint) (debit, credit decimal.Decimal, err error) {
	q := s.db.WithContext(ctx).Model(&Booking{}).Where("bookings.transaction_id = ?", id)
	totals, err := s.sumBookings(q)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return totals.Debit, totals.Credit, nil
}

// IsBalanced reports whether the stored bookings of a transaction balance.
func (s *Store) IsBalanced(ctx context.Context, id uint) (bool, error) {
	debit, credit, err := s.TransactionTotals(ctx, id)
	if err != nil {
		return false, err
	}
	return debit.Equal(credit), nil
}

// CounterBookings loads the bookings that offset the given booking.
func (s *Store) CounterBookings(ctx context.Context, bookingID uint) ([]Booking, error) {
	var b Booking
	if err := s.db.WithContext(ctx).First(&b, bookingID).Error; err != nil {
		return nil, notFound(err, "booking %d", bookingID)
	}

	var out []Booking
	err := s.db.WithContext(ctx).
		Where("transaction_id = ? AND booking_type = ?", b.TransactionID, b.BookingType.Opposite()).
		Order("id").
		Find(&out).Error
	return out, err
}

// DeleteTransaction removes a transaction and its bookings. A transaction
// that another transaction reverses is kept and yields ErrTransactionInUse.
func (s *Store) DeleteTransaction(ctx context.Context, id uint) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.GetTransaction(ctx, id); err != nil {
			return err
		}

		var reversals int64
		if err := tx.db.WithContext(ctx).Model(&Transaction{}).Where("reverses_id = ?", id).Count(&reversals).Error; err != nil {
			return err
		}
		if reversals > 0 {
			return fmt.Errorf("%w: transaction %d", ErrTransactionInUse, id)
		}

		if err := tx.db.WithContext(ctx).Where("transaction_id = ?", id).Delete(&Booking{}).Error; err != nil {
			return err
		}
		return tx.db.WithContext(ctx).Delete(&Transaction{}, id).Error
	})
}

// ReverseTransaction records a correcting transaction that mirrors every
// booking of the original on the opposite side.
func (s *Store) ReverseTransaction(ctx context.Context, id uint, memo string, valueDate time.Time) (*Transaction, error) {
	var reversal *Transaction
	err := s.WithTx(ctx, func(tx *Store) error {
		original, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}

		reversal = NewTransaction(memo, valueDate)
		reversal.ReversesID = &original.ID
		for _, b := range original.Bookings {
			reversal.add(b.BookingType.Opposite(), b.AccountID, b.Amount, []BookingOption{
				func(m *Booking) { m.MemberID = b.MemberID },
				WithMemo(b.Memo),
				ImportedBy(ImporterManualEntry),
			})
		}
		return tx.RecordTransaction(ctx, reversal)
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}
