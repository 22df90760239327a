package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henryk/byro/internal/testdb"
	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
	"github.com/henryk/byro/pkg/reconcile"
)

const testMatchersYAML = `
rules:
  - name: bank_fees
    counterparty: "^Sparkasse"
    reference: "(?i)account fee"
    direction: out
    memo: Bank fees
    account:
      category: expense
      name: Bank fees
  - name: donations
    reference: "(?i)spende|donation"
    direction: in
    account:
      category: income
      name: Donations
`

func writeMatchers(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, matchersFileName), []byte(content), 0o600))
	return dir
}

func TestLoadMatcherRules(t *testing.T) {
	rules, err := LoadMatcherRules(writeMatchers(t, testMatchersYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "bank_fees", rules[0].Name)
	assert.Equal(t, reconcile.DirectionOut, rules[0].Direction)
	assert.Equal(t, AccountRef{Category: ledger.CategoryExpense, Name: "Bank fees"}, rules[0].Account)
	assert.Equal(t, reconcile.DirectionIn, rules[1].Direction)
}

func TestLoadMatcherRules_MissingFile(t *testing.T) {
	rules, err := LoadMatcherRules(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadMatcherRules_Invalid(t *testing.T) {
	tcs := map[string]string{
		"bad name": `
rules:
  - name: Bank-Fees
    reference: fee
    account: {category: expense, name: Fees}`,
		"no pattern": `
rules:
  - name: fees
    account: {category: expense, name: Fees}`,
		"bad pattern": `
rules:
  - name: fees
    reference: "fee("
    account: {category: expense, name: Fees}`,
		"bad direction": `
rules:
  - name: fees
    reference: fee
    direction: sideways
    account: {category: expense, name: Fees}`,
		"bad category": `
rules:
  - name: fees
    reference: fee
    account: {category: costs, name: Fees}`,
		"duplicate": `
rules:
  - name: fees
    reference: fee
    account: {category: expense, name: Fees}
  - name: fees
    reference: charge
    account: {category: expense, name: Fees}`,
	}

	for name, content := range tcs {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMatcherRules(writeMatchers(t, content))
			assert.Error(t, err)
		})
	}
}

func TestApp_RuleMatchers(t *testing.T) {
	ctx := context.Background()
	rules, err := LoadMatcherRules(writeMatchers(t, testMatchersYAML))
	require.NoError(t, err)

	db, cleanup := testdb.Setup(t, allModels()...)
	t.Cleanup(cleanup)
	app, err := NewApp(ctx, db, testBookkeepingConfig(), rules, log.NewNoopLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"member_fee", "rule:bank_fees", "rule:donations"}, app.dispatcher.Matchers())

	source := importStatement(t, app,
		"2024-03-31,-4.90,Sparkasse Köln,Account fee March",
		"2024-04-02,50.00,Bob,Spende",
	)
	report, err := app.processor.ProcessSource(ctx, source.ID, reconcile.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Matched)

	fees, err := app.store.FindAccount(ctx, ledger.CategoryExpense, "Bank fees")
	require.NoError(t, err)
	balance, err := app.store.Balance(ctx, fees.ID, ledger.Unbounded())
	require.NoError(t, err)
	assert.Equal(t, "4.90", balance.StringFixed(2))

	// The donations rule shares the designated donations account.
	balance, err = app.store.Balance(ctx, app.settings.DonationsAccountID, ledger.Unbounded())
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance.StringFixed(2))

	balance, err = app.store.Balance(ctx, app.bankAccountID, ledger.Unbounded())
	require.NoError(t, err)
	assert.Equal(t, "45.10", balance.StringFixed(2))
}
