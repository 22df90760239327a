package reconcile

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/henryk/byro/pkg/ledger"
)

// Statement columns. Further columns are kept in RawTransaction.Data.
const (
	ColumnValueDate    = "value_date"
	ColumnAmount       = "amount"
	ColumnCounterparty = "counterparty"
	ColumnReference    = "reference"
)

var ErrInvalidStatement = errors.New("invalid statement")

// ImportStatement reads a CSV bank statement with a header row and stores it
// as a new import source with one pending raw transaction per line. Nothing
// is stored if any line is malformed.
func ImportStatement(ctx context.Context, store *ledger.Store, name string, r io.Reader) (*ledger.ImportSource, []RawTransaction, error) {
	rows, err := parseStatement(r)
	if err != nil {
		return nil, nil, err
	}

	var (
		source *ledger.ImportSource
		raws   []RawTransaction
	)
	err = store.WithTx(ctx, func(tx *ledger.Store) error {
		var err error
		reference := fmt.Sprintf("statement/%s/%s", uuid.NewString(), name)
		if source, err = tx.CreateImportSource(ctx, reference); err != nil {
			return err
		}
		for _, row := range rows {
			raw, err := AddRawTransaction(ctx, tx, source.ID, row)
			if err != nil {
				return err
			}
			raws = append(raws, *raw)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return source, raws, nil
}

func parseStatement(r io.Reader) ([]RawParams, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrInvalidStatement, err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{ColumnValueDate, ColumnAmount} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidStatement, required)
		}
	}

	var rows []RawParams
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidStatement, line, err)
		}

		row, err := parseStatementRow(header, index, record)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidStatement, line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseStatementRow(header []string, index map[string]int, record []string) (RawParams, error) {
	field := func(name string) string {
		if i, ok := index[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	valueDate, err := time.Parse(time.DateOnly, field(ColumnValueDate))
	if err != nil {
		return RawParams{}, fmt.Errorf("value date: %v", err)
	}
	amount, err := decimal.NewFromString(field(ColumnAmount))
	if err != nil {
		return RawParams{}, fmt.Errorf("amount: %v", err)
	}

	extra := make(map[string]string)
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case ColumnValueDate, ColumnAmount, ColumnCounterparty, ColumnReference:
			continue
		}
		if i < len(record) {
			extra[col] = record[i]
		}
	}

	var data datatypes.JSON
	if len(extra) > 0 {
		raw, err := json.Marshal(extra)
		if err != nil {
			return RawParams{}, err
		}
		data = datatypes.JSON(raw)
	}

	return RawParams{
		ValueDate:    valueDate,
		Amount:       amount,
		Counterparty: field(ColumnCounterparty),
		Reference:    field(ColumnReference),
		Data:         data,
	}, nil
}
