package members

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/henryk/byro/pkg/log"
)

// Models lists the directory's persistent types in dependency order.
func Models() []any {
	return []any{&Member{}, &Membership{}}
}

// Directory reads and maintains members and their memberships.
type Directory struct {
	db     *gorm.DB
	logger log.Logger
}

func NewDirectory(db *gorm.DB, logger log.Logger) *Directory {
	return &Directory{db: db, logger: log.OrNoop(logger).WithName("members")}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
	}
	return err
}

// CreateMember adds a member. An empty number stores none.
func (d *Directory) CreateMember(ctx context.Context, number, name string) (*Member, error) {
	m := &Member{Name: name}
	if number != "" {
		m.Number = &number
	}

	err := d.db.WithContext(ctx).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
	}
	if err != nil {
		return nil, err
	}

	d.logger.Info("member created", "member", m.ID, "number", number)
	return m, nil
}

func (d *Directory) GetMember(ctx context.Context, id uint) (*Member, error) {
	var m Member
	if err := d.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err, "member %d", id)
	}
	return &m, nil
}

func (d *Directory) FindByNumber(ctx context.Context, number string) (*Member, error) {
	var m Member
	if err := d.db.WithContext(ctx).Where("number = ?", number).First(&m).Error; err != nil {
		return nil, notFound(err, "member number %q", number)
	}
	return &m, nil
}

// MemberIDs returns the IDs of all members, ascending.
func (d *Directory) MemberIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := d.db.WithContext(ctx).Model(&Member{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// MemberNumbers maps every assigned member number to its member ID.
func (d *Directory) MemberNumbers(ctx context.Context) (map[string]uint, error) {
	var rows []struct {
		ID     uint
		Number string
	}
	err := d.db.WithContext(ctx).
		Model(&Member{}).
		Select("id, number").
		Where("number IS NOT NULL AND number <> ''").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	numbers := make(map[string]uint, len(rows))
	for _, r := range rows {
		numbers[r.Number] = r.ID
	}
	return numbers, nil
}

// MembershipParams describes a new membership.
type MembershipParams struct {
	Start    time.Time
	End      *time.Time
	Amount   decimal.Decimal
	Interval int
}

// AddMembership validates and stores a membership for a member. Dates are
// truncated to their calendar day.
func (d *Directory) AddMembership(ctx context.Context, memberID uint, params MembershipParams) (*Membership, error) {
	ms := &Membership{
		MemberID: memberID,
		Start:    Day(params.Start),
		Amount:   params.Amount,
		Interval: params.Interval,
	}
	if params.End != nil {
		end := Day(*params.End)
		ms.End = &end
	}
	if err := ms.Validate(); err != nil {
		return nil, err
	}

	if _, err := d.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Create(ms).Error; err != nil {
		return nil, err
	}

	d.logger.Info("membership added", "member", memberID, "membership", ms.ID, "amount", ms.Amount, "interval", ms.Interval)
	return ms, nil
}

// Memberships returns all memberships of a member ordered by start date.
func (d *Directory) Memberships(ctx context.Context, memberID uint) ([]Membership, error) {
	var out []Membership
	err := d.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("start_date, id").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Start = out[i].Start.UTC()
		if out[i].End != nil {
			end := out[i].End.UTC()
			out[i].End = &end
		}
	}
	return out, nil
}

// SetAmount changes the recurring fee of a membership.
func (d *Directory) SetAmount(ctx context.Context, membershipID uint, amount decimal.Decimal) error {
	var ms Membership
	if err := d.db.WithContext(ctx).First(&ms, membershipID).Error; err != nil {
		return notFound(err, "membership %d", membershipID)
	}
	ms.Amount = amount
	if err := ms.Validate(); err != nil {
		return err
	}
	return d.db.WithContext(ctx).Model(&ms).Update("amount", amount).Error
}

// EndMembership sets the last day of a membership.
func (d *Directory) EndMembership(ctx context.Context, membershipID uint, end time.Time) (*Membership, error) {
	var ms Membership
	if err := d.db.WithContext(ctx).First(&ms, membershipID).Error; err != nil {
		return nil, notFound(err, "membership %d", membershipID)
	}

	end = Day(end)
	ms.Start = ms.Start.UTC()
	ms.End = &end
	if err := ms.Validate(); err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Model(&ms).Update("end_date", end).Error; err != nil {
		return nil, err
	}

	d.logger.Info("membership ended", "member", ms.MemberID, "membership", ms.ID, "end", end.Format(time.DateOnly))
	return &ms, nil
}
