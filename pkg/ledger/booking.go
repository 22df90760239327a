package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BookingType is the side of a booking.
type BookingType string

const (
	BookingTypeDebit  BookingType = "debit"
	BookingTypeCredit BookingType = "credit"
)

func (t BookingType) Valid() bool {
	return t == BookingTypeDebit || t == BookingTypeCredit
}

// Opposite returns the other side.
func (t BookingType) Opposite() BookingType {
	if t == BookingTypeDebit {
		return BookingTypeCredit
	}
	return BookingTypeDebit
}

// Importer tags for bookings created by the engine itself.
const (
	ImporterManualEntry       = "_manual_entry"
	ImporterMembershipAccrual = "_membership_accrual"
)

// Booking is one debit or credit line of a transaction against one account.
type Booking struct {
	ID            uint            `gorm:"primaryKey"`
	TransactionID uint            `gorm:"column:transaction_id;not null;index"`
	AccountID     uint            `gorm:"column:account_id;not null;index"`
	Account       *Account        `gorm:"foreignKey:AccountID;constraint:OnDelete:RESTRICT"`
	MemberID      *uint           `gorm:"column:member_id;index"`
	BookingType   BookingType     `gorm:"column:booking_type;type:varchar(10);not null"`
	Memo          string          `gorm:"column:memo;type:varchar(1000)"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(12,2);not null"`
	Data          datatypes.JSON  `gorm:"column:data"`
	Importer      string          `gorm:"column:importer;type:varchar(500)"`
	SourceID      *uint           `gorm:"column:source_id;index"`
	Source        *ImportSource   `gorm:"foreignKey:SourceID;constraint:OnDelete:RESTRICT"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Booking) TableName() string {
	return "bookings"
}

func (b Booking) String() string {
	return fmt.Sprintf("%s %s account #%d", b.Amount.StringFixed(2), b.BookingType, b.AccountID)
}

// FindMemo returns the booking's own memo, else the display memo of t.
func (b Booking) FindMemo(t *Transaction) string {
	if b.Memo != "" {
		return b.Memo
	}
	if t == nil {
		return ""
	}
	return t.FindMemo()
}

// ValidateAmount checks that amount is positive with at most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, amount)
	}
	return nil
}

func (b *Booking) validate() error {
	if !b.BookingType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidBookingType, b.BookingType)
	}
	if b.AccountID == 0 {
		return fmt.Errorf("%w: booking without account", ErrNotFound)
	}
	return ValidateAmount(b.Amount)
}
