package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Transaction groups bookings that move money together. It is balanced when
// its debits and credits sum to the same amount.
type Transaction struct {
	ID              uint           `gorm:"primaryKey"`
	BookingDatetime time.Time      `gorm:"column:booking_datetime;not null"`
	ValueDatetime   time.Time      `gorm:"column:value_datetime;not null;index"`
	Memo            string         `gorm:"column:memo;type:varchar(1000)"`
	Data            datatypes.JSON `gorm:"column:data"`
	ReversesID      *uint          `gorm:"column:reverses_id;index"`
	Reverses        *Transaction   `gorm:"foreignKey:ReversesID;constraint:OnDelete:RESTRICT"`
	// IdempotencyKey lets producers such as the accrual engine rely on the
	// database to reject a second transaction for the same logical event.
	IdempotencyKey *string   `gorm:"column:idempotency_key;type:varchar(120);uniqueIndex"`
	Bookings       []Booking `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Transaction) TableName() string {
	return "transactions"
}

// NewTransaction returns an unsaved transaction shell. Add bookings with
// Debit and Credit and persist it with Store.RecordTransaction.
func NewTransaction(memo string, valueDate time.Time) *Transaction {
	return &Transaction{Memo: memo, ValueDatetime: valueDate.UTC()}
}

// BookingOption sets an optional field of a booking built with Debit or
// Credit.
type BookingOption func(*Booking)

func ForMember(memberID uint) BookingOption {
	return func(b *Booking) { b.MemberID = &memberID }
}

func WithMemo(memo string) BookingOption {
	return func(b *Booking) { b.Memo = memo }
}

func ImportedBy(importer string) BookingOption {
	return func(b *Booking) { b.Importer = importer }
}

// Debit appends an unsaved debit booking.
func (t *Transaction) Debit(accountID uint, amount decimal.Decimal, opts ...BookingOption) {
	t.add(BookingTypeDebit, accountID, amount, opts)
}

// Credit appends an unsaved credit booking.
func (t *Transaction) Credit(accountID uint, amount decimal.Decimal, opts ...BookingOption) {
	t.add(BookingTypeCredit, accountID, amount, opts)
}

// add builds the booking completely before appending it; pointers into
// t.Bookings do not survive the next append.
func (t *Transaction) add(bt BookingType, accountID uint, amount decimal.Decimal, opts []BookingOption) {
	b := Booking{
		TransactionID: t.ID,
		AccountID:     accountID,
		BookingType:   bt,
		Amount:        amount,
	}
	for _, opt := range opts {
		opt(&b)
	}
	t.Bookings = append(t.Bookings, b)
}

func (t *Transaction) total(bt BookingType) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range t.Bookings {
		if b.BookingType == bt {
			sum = sum.Add(b.Amount)
		}
	}
	return sum
}

func (t *Transaction) TotalDebit() decimal.Decimal {
	return t.total(BookingTypeDebit)
}

func (t *Transaction) TotalCredit() decimal.Decimal {
	return t.total(BookingTypeCredit)
}

func (t *Transaction) IsBalanced() bool {
	return t.TotalDebit().Equal(t.TotalCredit())
}

// OpenBalance is debits minus credits; zero for a balanced transaction.
func (t *Transaction) OpenBalance() decimal.Decimal {
	return t.TotalDebit().Sub(t.TotalCredit())
}

// BalancingBooking returns the side and amount of the booking that would
// balance t. ok is false when t is already balanced.
func (t *Transaction) BalancingBooking() (bt BookingType, amount decimal.Decimal, ok bool) {
	open := t.OpenBalance()
	switch {
	case open.IsZero():
		return "", decimal.Zero, false
	case open.IsNegative():
		return BookingTypeDebit, open.Neg(), true
	default:
		return BookingTypeCredit, open, true
	}
}

// FindMemo returns the transaction memo, or the first booking memo when the
// transaction has none.
func (t *Transaction) FindMemo() string {
	if t.Memo != "" {
		return t.Memo
	}
	for _, b := range t.Bookings {
		if b.Memo != "" {
			return b.Memo
		}
	}
	return ""
}

// CounterBookings returns the bookings of t on the opposite side of b.
func (t *Transaction) CounterBookings(b Booking) []Booking {
	var out []Booking
	for _, other := range t.Bookings {
		if other.BookingType == b.BookingType.Opposite() {
			out = append(out, other)
		}
	}
	return out
}
