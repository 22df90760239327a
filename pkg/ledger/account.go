package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountCategory is the accounting class of an account.
type AccountCategory string

const (
	CategoryAsset     AccountCategory = "asset"
	CategoryLiability AccountCategory = "liability"
	CategoryIncome    AccountCategory = "income"
	CategoryExpense   AccountCategory = "expense"
	CategoryEquity    AccountCategory = "equity"
)

func (c AccountCategory) Valid() bool {
	switch c {
	case CategoryAsset, CategoryLiability, CategoryIncome, CategoryExpense, CategoryEquity:
		return true
	}
	return false
}

// DebitNormal reports whether accounts of this category grow with debits.
// Asset and expense accounts do; liability, income and equity accounts grow
// with credits.
func (c AccountCategory) DebitNormal() bool {
	switch c {
	case CategoryAsset, CategoryExpense:
		return true
	default:
		return false
	}
}

// Balance applies the category polarity to a pair of totals.
func (c AccountCategory) Balance(debit, credit decimal.Decimal) decimal.Decimal {
	switch c {
	case CategoryAsset, CategoryExpense:
		return debit.Sub(credit)
	case CategoryLiability, CategoryIncome, CategoryEquity:
		return credit.Sub(debit)
	default:
		return decimal.Zero
	}
}

func (c AccountCategory) label() string {
	switch c {
	case CategoryAsset:
		return "Asset account"
	case CategoryLiability:
		return "Liability account"
	case CategoryIncome:
		return "Income account"
	case CategoryExpense:
		return "Expense account"
	case CategoryEquity:
		return "Equity account"
	default:
		return string(c) + " account"
	}
}

// Account is a ledger account. The (category, name) pair is unique; accounts
// without a name are told apart by their ID.
type Account struct {
	ID        uint            `gorm:"primaryKey"`
	Category  AccountCategory `gorm:"column:category;type:varchar(20);not null;uniqueIndex:idx_account_category_name"`
	Name      *string         `gorm:"column:name;type:varchar(300);uniqueIndex:idx_account_category_name"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Account) TableName() string {
	return "accounts"
}

func (a Account) String() string {
	if a.Name != nil && *a.Name != "" {
		return *a.Name
	}
	return fmt.Sprintf("%s #%d", a.Category.label(), a.ID)
}

func optionalName(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

// CreateAccount adds an account. An empty name stores no name.
func (s *Store) CreateAccount(ctx context.Context, category AccountCategory, name string) (*Account, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	account := &Account{Category: category, Name: optionalName(name)}
	err := s.WithTx(ctx, func(tx *Store) error {
		if name != "" {
			if _, err := tx.FindAccount(ctx, category, name); err == nil {
				return fmt.Errorf("%w: %s %q", ErrDuplicateAccount, category, name)
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return tx.db.WithContext(ctx).Create(account).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: %s %q", ErrDuplicateAccount, category, name)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("account created", "account", account.ID, "category", category, "name", name)
	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, id uint) (*Account, error) {
	var account Account
	if err := s.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, notFound(err, "account %d", id)
	}
	return &account, nil
}

// FindAccount looks an account up by its unique (category, name) pair.
func (s *Store) FindAccount(ctx context.Context, category AccountCategory, name string) (*Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("category = ? AND name = ?", category, name).
		First(&account).Error
	if err != nil {
		return nil, notFound(err, "account %s %q", category, name)
	}
	return &account, nil
}

// FindOrCreateAccount returns the named account, creating it on first use.
func (s *Store) FindOrCreateAccount(ctx context.Context, category AccountCategory, name string) (*Account, error) {
	account, err := s.FindAccount(ctx, category, name)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	account, err = s.CreateAccount(ctx, category, name)
	if errors.Is(err, ErrDuplicateAccount) {
		// Lost a race with a concurrent creator.
		return s.FindAccount(ctx, category, name)
	}
	return account, err
}

// ListAccounts returns all accounts, or those of one category, ordered by ID.
func (s *Store) ListAccounts(ctx context.Context, category *AccountCategory) ([]Account, error) {
	q := s.db.WithContext(ctx).Order("id")
	if category != nil {
		q = q.Where("category = ?", *category)
	}

	var accounts []Account
	if err := q.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// RenameAccount changes the display name. The category of an account never
// changes once it has been created.
func (s *Store) RenameAccount(ctx context.Context, id uint, name string) (*Account, error) {
	var account *Account
	err := s.WithTx(ctx, func(tx *Store) error {
		var err error
		if account, err = tx.GetAccount(ctx, id); err != nil {
			return err
		}
		account.Name = optionalName(name)
		return tx.db.WithContext(ctx).Model(account).Update("name", account.Name).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: %s %q", ErrDuplicateAccount, account.Category, name)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// DeleteAccount removes an account that no booking references. Financial
// history is never cascaded away: an account with bookings yields
// ErrAccountInUse.
func (s *Store) DeleteAccount(ctx context.Context, id uint) error {
	return s.WithTx(ctx, func(tx *Store) error {
		account, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.db.WithContext(ctx).Model(&Booking{}).Where("account_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s has %d bookings", ErrAccountInUse, account, count)
		}

		if err := tx.db.WithContext(ctx).Delete(account).Error; err != nil {
			return err
		}
		s.logger.Info("account deleted", "account", id)
		return nil
	})
}
