package accrual

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henryk/byro/internal/testdb"
	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/members"
)

type fixture struct {
	store     *ledger.Store
	directory *members.Directory
	settings  ledger.Settings
	bank      *ledger.Account
	engine    *Engine
}

func setupFixture(t *testing.T, now time.Time, intervalMonths int) *fixture {
	t.Helper()
	ctx := context.Background()

	db, cleanup := testdb.Setup(t, append(ledger.Models(), members.Models()...)...)
	t.Cleanup(cleanup)

	store := ledger.NewStore(db, nil)
	fees, err := store.CreateAccount(ctx, ledger.CategoryIncome, "Membership fees")
	require.NoError(t, err)
	receivable, err := store.CreateAccount(ctx, ledger.CategoryAsset, "Fees receivable")
	require.NoError(t, err)
	donations, err := store.CreateAccount(ctx, ledger.CategoryIncome, "Donations")
	require.NoError(t, err)
	bank, err := store.CreateAccount(ctx, ledger.CategoryAsset, "Bank")
	require.NoError(t, err)

	settings := ledger.Settings{
		FeesAccountID:           fees.ID,
		FeesReceivableAccountID: receivable.ID,
		DonationsAccountID:      donations.ID,
		LiabilityIntervalMonths: intervalMonths,
	}
	directory := members.NewDirectory(db, nil)
	engine, err := NewEngine(store, directory, settings, nil, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	return &fixture{store: store, directory: directory, settings: settings, bank: bank, engine: engine}
}

func (f *fixture) member(t *testing.T, number string, memberships ...members.MembershipParams) *members.Member {
	t.Helper()
	ctx := context.Background()

	m, err := f.directory.CreateMember(ctx, number, "Member "+number)
	require.NoError(t, err)
	for _, p := range memberships {
		_, err := f.directory.AddMembership(ctx, m.ID, p)
		require.NoError(t, err)
	}
	return m
}

func (f *fixture) dues(t *testing.T, memberID uint) []ledger.Transaction {
	t.Helper()

	var txs []ledger.Transaction
	err := f.store.DB().
		Preload("Bookings").
		Where("id IN (?)", f.store.DB().Model(&ledger.Booking{}).Select("transaction_id").
			Where("member_id = ? AND importer = ?", memberID, ledger.ImporterMembershipAccrual)).
		Order("value_datetime").
		Find(&txs).Error
	require.NoError(t, err)
	return txs
}

func monthly(start time.Time, amount int64) members.MembershipParams {
	return members.MembershipParams{Start: start, Amount: decimal.NewFromInt(amount), Interval: 1}
}

func TestNewEngine_InvalidSettings(t *testing.T) {
	_, err := NewEngine(nil, nil, ledger.Settings{FeesAccountID: 1}, nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidSettings)
}

func TestEngine_AccrueLiabilities(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, day(2024, 3, 15), 36)
	m := f.member(t, "M-1", monthly(day(2024, 1, 1), 10))

	res, err := f.engine.AccrueLiabilities(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 3}, res)

	t.Run("Second run is a no-op", func(t *testing.T) {
		res, err := f.engine.AccrueLiabilities(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, Result{Unchanged: 3}, res)
	})

	dues := f.dues(t, m.ID)
	require.Len(t, dues, 3)
	for i, tx := range dues {
		assert.Equal(t, day(2024, time.Month(i+1), 1), tx.ValueDatetime.UTC())
		assert.Equal(t, DueMemo, tx.Memo)
		require.Len(t, tx.Bookings, 2)
		assert.True(t, tx.IsBalanced())
		assert.True(t, decimal.NewFromInt(10).Equal(tx.TotalDebit()))

		for _, b := range tx.Bookings {
			require.NotNil(t, b.MemberID)
			assert.Equal(t, m.ID, *b.MemberID)
			assert.Equal(t, ledger.ImporterMembershipAccrual, b.Importer)
			assert.Equal(t, DueMemo, b.Memo)
			switch b.BookingType {
			case ledger.BookingTypeDebit:
				assert.Equal(t, f.settings.FeesReceivableAccountID, b.AccountID)
			case ledger.BookingTypeCredit:
				assert.Equal(t, f.settings.FeesAccountID, b.AccountID)
			}
		}
	}

	balance, err := f.engine.MemberBalance(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(-30).Equal(balance), balance.String())
}

func TestEngine_AmountCorrection(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, day(2024, 3, 15), 36)
	m := f.member(t, "M-1", monthly(day(2024, 1, 1), 10))

	_, err := f.engine.AccrueLiabilities(ctx, m.ID)
	require.NoError(t, err)

	memberships, err := f.directory.Memberships(ctx, m.ID)
	require.NoError(t, err)
	require.NoError(t, f.directory.SetAmount(ctx, memberships[0].ID, decimal.NewFromInt(15)))

	res, err := f.engine.AccrueLiabilities(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 3}, res)

	dues := f.dues(t, m.ID)
	require.Len(t, dues, 3)
	for _, tx := range dues {
		require.Len(t, tx.Bookings, 2)
		for _, b := range tx.Bookings {
			assert.True(t, decimal.NewFromInt(15).Equal(b.Amount), b.Amount.String())
		}
	}

	unbalanced, err := f.store.UnbalancedTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, unbalanced)
}

func TestEngine_Cutoff(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, day(2024, 3, 15), 2)
	m := f.member(t, "M-1", monthly(day(2020, 1, 1), 10))

	res, err := f.engine.AccrueLiabilities(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	dues := f.dues(t, m.ID)
	require.Len(t, dues, 2)
	assert.Equal(t, day(2024, 2, 1), dues[0].ValueDatetime.UTC())
	assert.Equal(t, day(2024, 3, 1), dues[1].ValueDatetime.UTC())
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, day(2024, 3, 15), 36)
	m := f.member(t, "M-1", monthly(day(2024, 1, 1), 10))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.AccrueLiabilities(ctx, m.ID)
			assert.NoError(t, err)
			mu.Lock()
			created += res.Created
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, created)
	assert.Len(t, f.dues(t, m.ID), 3)
}

func TestEngine_AccrueAll(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, day(2024, 3, 15), 36)
	f.member(t, "M-1", monthly(day(2024, 1, 1), 10))
	f.member(t, "M-2", members.MembershipParams{Start: day(2023, 7, 1), Amount: decimal.NewFromInt(60), Interval: 6})
	f.member(t, "M-3")

	res, err := f.engine.AccrueAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 5}, res)
}

func TestEngine_RemoveFutureLiabilitiesOnLeave(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, day(2024, 6, 15), 36)

	leaving := f.member(t, "M-1", monthly(day(2024, 1, 1), 10))
	staying := f.member(t, "M-2", monthly(day(2024, 1, 1), 10), monthly(day(2024, 4, 1), 5))

	_, err := f.engine.AccrueAll(ctx)
	require.NoError(t, err)
	require.Len(t, f.dues(t, leaving.ID), 6)

	// A payment after the end date is not a due and stays.
	payment := ledger.NewTransaction("payment", day(2024, 5, 2))
	payment.Debit(f.bank.ID, decimal.NewFromInt(10))
	payment.Credit(f.settings.FeesReceivableAccountID, decimal.NewFromInt(10), ledger.ForMember(leaving.ID))
	require.NoError(t, f.store.RecordTransaction(ctx, payment))

	memberships, err := f.directory.Memberships(ctx, leaving.ID)
	require.NoError(t, err)
	_, err = f.directory.EndMembership(ctx, memberships[0].ID, day(2024, 3, 31))
	require.NoError(t, err)

	deleted, err := f.engine.RemoveFutureLiabilitiesOnLeave(ctx, leaving.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, deleted)

	dues := f.dues(t, leaving.ID)
	require.Len(t, dues, 3)
	assert.Equal(t, day(2024, 3, 1), dues[2].ValueDatetime.UTC())

	_, err = f.store.GetTransaction(ctx, payment.ID)
	assert.NoError(t, err)

	balance, err := f.engine.MemberBalance(ctx, leaving.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(-20).Equal(balance), balance.String())

	t.Run("Open membership protects all dues", func(t *testing.T) {
		memberships, err := f.directory.Memberships(ctx, staying.ID)
		require.NoError(t, err)
		_, err = f.directory.EndMembership(ctx, memberships[1].ID, day(2024, 4, 30))
		require.NoError(t, err)

		deleted, err := f.engine.RemoveFutureLiabilitiesOnLeave(ctx, staying.ID)
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("Re-accruing after leave stays within the end date", func(t *testing.T) {
		res, err := f.engine.AccrueLiabilities(ctx, leaving.ID)
		require.NoError(t, err)
		assert.Equal(t, Result{Unchanged: 3}, res)
	})
}

func TestEngine_ReaccrueAfterReversedDueRemoved(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, day(2024, 6, 15), 36)
	m := f.member(t, "M-1", monthly(day(2024, 1, 1), 10))

	_, err := f.engine.AccrueLiabilities(ctx, m.ID)
	require.NoError(t, err)
	dues := f.dues(t, m.ID)
	require.Len(t, dues, 6)
	june := dues[5]

	_, err = f.store.ReverseTransaction(ctx, june.ID, "storno", day(2024, 6, 10))
	require.NoError(t, err)

	memberships, err := f.directory.Memberships(ctx, m.ID)
	require.NoError(t, err)
	_, err = f.directory.EndMembership(ctx, memberships[0].ID, day(2024, 3, 31))
	require.NoError(t, err)

	deleted, err := f.engine.RemoveFutureLiabilitiesOnLeave(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, deleted)

	shell, err := f.store.GetTransaction(ctx, june.ID)
	require.NoError(t, err)
	assert.Empty(t, shell.Bookings)
	assert.Nil(t, shell.IdempotencyKey)

	_, err = f.directory.EndMembership(ctx, memberships[0].ID, day(2024, 6, 30))
	require.NoError(t, err)

	res, err := f.engine.AccrueLiabilities(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 3, Unchanged: 3}, res)

	dues = f.dues(t, m.ID)
	require.Len(t, dues, 6)
	assert.Equal(t, day(2024, 6, 1), dues[5].ValueDatetime.UTC())
	assert.NotEqual(t, june.ID, dues[5].ID)
}

func TestEngine_DonationBalance(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, day(2024, 3, 15), 36)
	m := f.member(t, "M-1")

	for _, when := range []time.Time{day(2024, 1, 10), day(2024, 2, 10), day(2024, 12, 24)} {
		tx := ledger.NewTransaction("donation", when)
		tx.Debit(f.bank.ID, decimal.NewFromInt(5))
		tx.Credit(f.settings.DonationsAccountID, decimal.NewFromInt(5), ledger.ForMember(m.ID))
		require.NoError(t, f.store.RecordTransaction(ctx, tx))
	}

	balance, err := f.engine.DonationBalance(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(balance), balance.String())
}
