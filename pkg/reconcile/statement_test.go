package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henryk/byro/pkg/ledger"
)

func TestImportStatement(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	statement := strings.Join([]string{
		"Value_Date, Amount, Counterparty, Reference, IBAN",
		"2024-01-05, 12.50, Alice, M-001, DE02120300000000202051",
		"2024-01-06, -1.00, Bank, fees, ",
	}, "\n")

	source, raws, err := ImportStatement(ctx, f.store, "jan.csv", strings.NewReader(statement))
	require.NoError(t, err)
	assert.Equal(t, ledger.ImportSourceNew, source.State)
	assert.True(t, strings.HasPrefix(source.Reference, "statement/"))
	assert.True(t, strings.HasSuffix(source.Reference, "/jan.csv"))

	require.Len(t, raws, 2)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), raws[0].ValueDate)
	assert.True(t, decimal.RequireFromString("12.5").Equal(raws[0].Amount))
	assert.Equal(t, "Alice", raws[0].Counterparty)
	assert.Equal(t, "M-001", raws[0].Reference)
	assert.Equal(t, RawStatusPending, raws[0].Status)

	var extra map[string]string
	require.NoError(t, json.Unmarshal(raws[0].Data, &extra))
	assert.Equal(t, "DE02120300000000202051", extra["IBAN"])
	assert.True(t, raws[1].Amount.IsNegative())
}

func TestImportStatement_Invalid(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	tcs := map[string]string{
		"missing amount column": "value_date,reference\n2024-01-05,x",
		"bad date":              "value_date,amount\n05.01.2024,1",
		"bad amount":            "value_date,amount\n2024-01-05,1\n2024-01-06,one",
		"empty":                 "",
	}
	for name, statement := range tcs {
		t.Run(name, func(t *testing.T) {
			_, _, err := ImportStatement(ctx, f.store, "bad.csv", strings.NewReader(statement))
			assert.ErrorIs(t, err, ErrInvalidStatement)
		})
	}

	sources, err := f.store.ListImportSources(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, sources)
}
