package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/henryk/byro/pkg/ledger"
)

type RawStatus string

const (
	RawStatusPending RawStatus = "pending"
	RawStatusMatched RawStatus = "matched"
	RawStatusFailed  RawStatus = "failed"
)

// RawTransaction is one line of an imported statement. Amount is signed as
// seen from the bank account: money in is positive.
type RawTransaction struct {
	ID           uint                 `gorm:"primaryKey"`
	SourceID     uint                 `gorm:"column:source_id;not null;index"`
	Source       *ledger.ImportSource `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE"`
	ValueDate    time.Time            `gorm:"column:value_date;not null"`
	Amount       decimal.Decimal      `gorm:"column:amount;type:decimal(12,2);not null"`
	Counterparty string               `gorm:"column:counterparty;type:varchar(300)"`
	Reference    string               `gorm:"column:reference;type:varchar(1000)"`
	Data         datatypes.JSON       `gorm:"column:data"`
	Status       RawStatus            `gorm:"column:status;type:varchar(20);not null;default:pending;index"`
	LastError    string               `gorm:"column:last_error;type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (RawTransaction) TableName() string {
	return "raw_transactions"
}

// Models lists the package's persistent types. They reference
// ledger.ImportSource, so ledger.Models must be migrated first.
func Models() []any {
	return []any{&RawTransaction{}}
}

// RawParams describes one statement line.
type RawParams struct {
	ValueDate    time.Time
	Amount       decimal.Decimal
	Counterparty string
	Reference    string
	Data         datatypes.JSON
}

// AddRawTransaction attaches a pending raw transaction to a source.
func AddRawTransaction(ctx context.Context, store *ledger.Store, sourceID uint, params RawParams) (*RawTransaction, error) {
	if _, err := store.GetImportSource(ctx, sourceID); err != nil {
		return nil, err
	}

	raw := &RawTransaction{
		SourceID:     sourceID,
		ValueDate:    params.ValueDate.UTC(),
		Amount:       params.Amount,
		Counterparty: params.Counterparty,
		Reference:    params.Reference,
		Data:         params.Data,
		Status:       RawStatusPending,
	}
	if err := store.DB().WithContext(ctx).Create(raw).Error; err != nil {
		return nil, err
	}
	return raw, nil
}

// RawTransactions lists the raw transactions of a source in insertion order.
func RawTransactions(ctx context.Context, store *ledger.Store, sourceID uint) ([]RawTransaction, error) {
	var raws []RawTransaction
	if err := store.DB().WithContext(ctx).Where("source_id = ?", sourceID).Order("id").Find(&raws).Error; err != nil {
		return nil, err
	}
	return raws, nil
}

func setRawStatus(ctx context.Context, db *gorm.DB, id uint, status RawStatus, reason string) error {
	res := db.WithContext(ctx).
		Model(&RawTransaction{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "last_error": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: raw transaction %d", ledger.ErrNotFound, id)
	}
	return nil
}
