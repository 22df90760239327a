package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BookingFilter selects bookings for one member on one account.
type BookingFilter struct {
	AccountID   uint
	MemberID    uint
	BookingType BookingType
}

// FindTransactionOn returns the first transaction valued exactly at
// valueDate that carries a booking matching f, or ErrNotFound.
func (s *Store) FindTransactionOn(ctx context.Context, valueDate time.Time, f BookingFilter) (*Transaction, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&Booking{}).
		Joins("JOIN transactions ON transactions.id = bookings.transaction_id").
		Where("transactions.value_datetime = ?", valueDate.UTC()).
		Where("bookings.account_id = ? AND bookings.member_id = ? AND bookings.booking_type = ?", f.AccountID, f.MemberID, f.BookingType).
		Order("transactions.id").
		Limit(1).
		Pluck("transactions.id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: transaction on %s for member %d", ErrNotFound, valueDate.Format(time.DateOnly), f.MemberID)
	}
	return s.GetTransaction(ctx, ids[0])
}

// SetBookingAmount overwrites the amount of one stored booking. It does not
// check the balance of the owning transaction; callers rewriting several
// bookings do so inside WithTx and check IsBalanced at the end.
func (s *Store) SetBookingAmount(ctx context.Context, bookingID uint, amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&Booking{}).Where("id = ?", bookingID).Update("amount", amount)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: booking %d", ErrNotFound, bookingID)
	}
	return nil
}

// DeleteMemberBookingsAfter deletes the bookings of a member created by
// importer whose transaction is valued strictly after `after`. Transactions
// left without bookings are deleted too, unless another transaction reverses
// them; such kept transactions lose their idempotency key. It returns the
// number of deleted bookings.
func (s *Store) DeleteMemberBookingsAfter(ctx context.Context, memberID uint, importer string, after time.Time) (int, error) {
	var deleted int
	err := s.WithTx(ctx, func(tx *Store) error {
		var doomed []Booking
		err := tx.db.WithContext(ctx).
			Model(&Booking{}).
			Joins("JOIN transactions ON transactions.id = bookings.transaction_id").
			Where("bookings.member_id = ? AND bookings.importer = ?", memberID, importer).
			Where("transactions.value_datetime > ?", after.UTC()).
			Select("bookings.id, bookings.transaction_id").
			Find(&doomed).Error
		if err != nil {
			return err
		}
		if len(doomed) == 0 {
			return nil
		}

		bookingIDs := make([]uint, len(doomed))
		touched := make(map[uint]struct{})
		for i, b := range doomed {
			bookingIDs[i] = b.ID
			touched[b.TransactionID] = struct{}{}
		}
		if err := tx.db.WithContext(ctx).Where("id IN ?", bookingIDs).Delete(&Booking{}).Error; err != nil {
			return err
		}
		deleted = len(bookingIDs)

		for id := range touched {
			if err := tx.deleteIfEmpty(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("member bookings deleted", "member", memberID, "importer", importer, "after", after.Format(time.DateOnly), "bookings", deleted)
	}
	return deleted, nil
}

func (s *Store) deleteIfEmpty(ctx context.Context, id uint) error {
	var remaining, reversals int64
	db := s.db.WithContext(ctx)
	if err := db.Model(&Booking{}).Where("transaction_id = ?", id).Count(&remaining).Error; err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	if err := db.Model(&Transaction{}).Where("reverses_id = ?", id).Count(&reversals).Error; err != nil {
		return err
	}
	if reversals > 0 {
		// The shell stays for its reversal but must not block a fresh
		// booking under the same idempotency key.
		s.logger.Warn("keeping empty transaction that is reversed by another", "transaction", id)
		return db.Model(&Transaction{}).Where("id = ?", id).Update("idempotency_key", nil).Error
	}
	return db.Delete(&Transaction{}, id).Error
}
