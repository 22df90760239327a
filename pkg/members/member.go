package members

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("member not found")
	ErrInvalidMembership = errors.New("invalid membership")
	ErrDuplicateNumber   = errors.New("member number already taken")
)

// Member is a person or organisation the association keeps accounts for.
type Member struct {
	ID        uint    `gorm:"primaryKey"`
	Number    *string `gorm:"column:number;type:varchar(100);uniqueIndex"`
	Name      string  `gorm:"column:name;type:varchar(100)"`
	Email     string  `gorm:"column:email;type:varchar(200)"`
	Address   string  `gorm:"column:address;type:varchar(300)"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Memberships []Membership `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE"`
}

func (Member) TableName() string {
	return "members"
}

func (m Member) String() string {
	if m.Number != nil && *m.Number != "" {
		return fmt.Sprintf("%s (%s)", m.Name, *m.Number)
	}
	return fmt.Sprintf("%s (#%d)", m.Name, m.ID)
}

// Membership is one period of membership with a recurring fee of Amount due
// every Interval months starting at Start. A nil End means ongoing.
type Membership struct {
	ID        uint            `gorm:"primaryKey"`
	MemberID  uint            `gorm:"column:member_id;not null;index" validate:"required"`
	Start     time.Time       `gorm:"column:start_date;not null" validate:"required"`
	End       *time.Time      `gorm:"column:end_date"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(8,2);not null"`
	Interval  int             `gorm:"column:interval_months;not null" validate:"oneof=1 3 6 12"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Membership) TableName() string {
	return "memberships"
}

var membershipValidator = validator.New()

func (m Membership) Validate() error {
	if err := membershipValidator.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMembership, err)
	}
	if !m.Amount.IsPositive() {
		return fmt.Errorf("%w: amount %s must be positive", ErrInvalidMembership, m.Amount)
	}
	if !m.Amount.Equal(m.Amount.Round(2)) {
		return fmt.Errorf("%w: amount %s has more than two decimal places", ErrInvalidMembership, m.Amount)
	}
	if m.End != nil && m.End.Before(m.Start) {
		return fmt.Errorf("%w: ends %s before it starts %s", ErrInvalidMembership,
			m.End.Format(time.DateOnly), m.Start.Format(time.DateOnly))
	}
	return nil
}

// ActiveAt reports whether the membership covers day t. Start and End are
// both inclusive.
func (m Membership) ActiveAt(t time.Time) bool {
	if t.Before(m.Start) {
		return false
	}
	return m.End == nil || !t.After(*m.End)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
