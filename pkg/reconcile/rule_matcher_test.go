package reconcile

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henryk/byro/pkg/ledger"
)

func TestRuleMatcher_Match(t *testing.T) {
	ctx := context.Background()
	m := NewRuleMatcher(Rule{
		Name:         "bank_fees",
		Reference:    regexp.MustCompile(`(?i)account fee`),
		Counterparty: regexp.MustCompile(`^Sparkasse`),
		Direction:    DirectionOut,
		AccountID:    42,
		Memo:         "Bank fees",
	}, 99)
	assert.Equal(t, "rule:bank_fees", m.Name())

	request := func(amount, counterparty, reference string) Request {
		return Request{Raw: &RawTransaction{
			ValueDate:    time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			Amount:       decimal.RequireFromString(amount),
			Counterparty: counterparty,
			Reference:    reference,
		}}
	}

	t.Run("Outgoing fee", func(t *testing.T) {
		res, err := m.Match(ctx, request("-4.90", "Sparkasse Köln", "Account fee March"))
		require.NoError(t, err)
		require.NotNil(t, res)
		require.Len(t, res.Transactions, 1)

		tx := res.Transactions[0]
		assert.True(t, tx.IsBalanced())
		assert.Equal(t, "Bank fees", tx.Memo)
		require.Len(t, tx.Bookings, 2)
		assert.Equal(t, uint(42), tx.Bookings[0].AccountID)
		assert.Equal(t, ledger.BookingTypeDebit, tx.Bookings[0].BookingType)
		assert.Equal(t, "4.9", tx.Bookings[0].Amount.String())
		assert.Equal(t, "rule:bank_fees", tx.Bookings[0].Importer)
		assert.Equal(t, "Sparkasse Köln", tx.Bookings[0].Memo)
		assert.Equal(t, uint(99), tx.Bookings[1].AccountID)
		assert.Equal(t, ledger.BookingTypeCredit, tx.Bookings[1].BookingType)
		assert.Equal(t, "rule:bank_fees", tx.Bookings[1].Importer)
		assert.Empty(t, tx.Bookings[1].Memo)
	})

	t.Run("No opinion", func(t *testing.T) {
		for name, req := range map[string]Request{
			"wrong direction":    request("4.90", "Sparkasse Köln", "Account fee March"),
			"wrong counterparty": request("-4.90", "Volksbank", "Account fee March"),
			"wrong reference":    request("-4.90", "Sparkasse Köln", "Interest"),
			"zero amount":        request("0", "Sparkasse Köln", "Account fee"),
		} {
			res, err := m.Match(ctx, req)
			require.NoError(t, err, name)
			assert.Nil(t, res, name)
		}
	})

	t.Run("Incoming money credits the account", func(t *testing.T) {
		donations := NewRuleMatcher(Rule{
			Name:      "donations",
			Reference: regexp.MustCompile(`(?i)spende|donation`),
			AccountID: 7,
		}, 99)

		res, err := donations.Match(ctx, request("50", "Bob", "Spende"))
		require.NoError(t, err)
		require.NotNil(t, res)

		tx := res.Transactions[0]
		assert.Equal(t, "Spende", tx.Memo)
		assert.Equal(t, uint(99), tx.Bookings[0].AccountID)
		assert.Equal(t, ledger.BookingTypeDebit, tx.Bookings[0].BookingType)
		assert.Equal(t, "rule:donations", tx.Bookings[0].Importer)
		assert.Empty(t, tx.Bookings[0].Memo)
		assert.Equal(t, uint(7), tx.Bookings[1].AccountID)
		assert.Equal(t, "Bob", tx.Bookings[1].Memo)
		assert.Equal(t, "rule:donations", tx.Bookings[1].Importer)
	})
}
