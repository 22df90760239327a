package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountCategory_Balance(t *testing.T) {
	debit, credit := dec("30"), dec("10")

	tcs := []struct {
		category AccountCategory
		want     string
	}{
		{CategoryAsset, "20"},
		{CategoryExpense, "20"},
		{CategoryLiability, "-20"},
		{CategoryIncome, "-20"},
		{CategoryEquity, "-20"},
		{AccountCategory("member_fees"), "0"},
	}
	for _, tc := range tcs {
		t.Run(string(tc.category), func(t *testing.T) {
			assert.True(t, dec(tc.want).Equal(tc.category.Balance(debit, credit)))
		})
	}
}

func TestAccount_String(t *testing.T) {
	name := "Laser donations"
	assert.Equal(t, "Laser donations", Account{ID: 3, Category: CategoryIncome, Name: &name}.String())
	assert.Equal(t, "Asset account #4", Account{ID: 4, Category: CategoryAsset}.String())
}

func TestStore_CreateAccount(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	bank := mustAccount(t, s, CategoryAsset, "Bank")
	assert.NotZero(t, bank.ID)

	t.Run("Duplicate name in same category", func(t *testing.T) {
		_, err := s.CreateAccount(ctx, CategoryAsset, "Bank")
		assert.ErrorIs(t, err, ErrDuplicateAccount)
	})

	t.Run("Same name in another category", func(t *testing.T) {
		_, err := s.CreateAccount(ctx, CategoryLiability, "Bank")
		assert.NoError(t, err)
	})

	t.Run("Unnamed accounts do not collide", func(t *testing.T) {
		first := mustAccount(t, s, CategoryExpense, "")
		second := mustAccount(t, s, CategoryExpense, "")
		assert.NotEqual(t, first.ID, second.ID)
		assert.Nil(t, first.Name)
	})

	t.Run("Invalid category", func(t *testing.T) {
		_, err := s.CreateAccount(ctx, "member_fees", "Legacy")
		assert.ErrorIs(t, err, ErrInvalidCategory)
	})

	t.Run("FindOrCreate", func(t *testing.T) {
		found, err := s.FindOrCreateAccount(ctx, CategoryAsset, "Bank")
		require.NoError(t, err)
		assert.Equal(t, bank.ID, found.ID)

		created, err := s.FindOrCreateAccount(ctx, CategoryIncome, "Donations")
		require.NoError(t, err)
		assert.NotEqual(t, bank.ID, created.ID)
	})

	t.Run("List by category", func(t *testing.T) {
		assets := CategoryAsset
		accounts, err := s.ListAccounts(ctx, &assets)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		assert.Equal(t, bank.ID, accounts[0].ID)
	})

	t.Run("Rename", func(t *testing.T) {
		renamed, err := s.RenameAccount(ctx, bank.ID, "Girokonto")
		require.NoError(t, err)
		assert.Equal(t, "Girokonto", renamed.String())

		found, err := s.FindAccount(ctx, CategoryAsset, "Girokonto")
		require.NoError(t, err)
		assert.Equal(t, bank.ID, found.ID)
	})
}

func TestStore_DeleteAccount(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	bank := mustAccount(t, s, CategoryAsset, "Bank")
	fees := mustAccount(t, s, CategoryIncome, "Fees")
	unused := mustAccount(t, s, CategoryExpense, "Unused")

	mustRecord(t, s, date(2024, 1, 1), bank.ID, fees.ID, "10")

	err := s.DeleteAccount(ctx, bank.ID)
	require.ErrorIs(t, err, ErrAccountInUse)
	assert.Contains(t, err.Error(), fmt.Sprintf("%s has 1 bookings", bank))

	_, err = s.GetAccount(ctx, bank.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAccount(ctx, unused.ID))
	_, err = s.GetAccount(ctx, unused.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteAccount(ctx, unused.ID), ErrNotFound)
}
