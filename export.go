package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
)

// ExportOptions contains options for exporting bookings
type ExportOptions struct {
	AccountID uint
	Window    ledger.Window
	OutputDir string
}

// BookingExporter handles exporting the bookings of an account to CSV
type BookingExporter struct {
	store  *ledger.Store
	logger log.Logger
}

func NewBookingExporter(store *ledger.Store, logger log.Logger) *BookingExporter {
	return &BookingExporter{store: store, logger: log.OrNoop(logger).WithName("export")}
}

var exportHeader = []string{"BookingID", "TransactionID", "ValueDate", "Type", "Amount", "Balance", "MemberID", "Memo", "Importer", "SourceID"}

// ExportToCSV writes the bookings of an account within the window, oldest
// first, with the running account balance.
func (e *BookingExporter) ExportToCSV(ctx context.Context, writer io.Writer, options ExportOptions) error {
	account, err := e.store.GetAccount(ctx, options.AccountID)
	if err != nil {
		return err
	}

	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	if err := csvWriter.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}

	asc := ledger.SortTypeAscending
	page := ledger.ListOptions{Limit: ledger.MaxLimit, Sort: &asc}
	transactions := make(map[uint]*ledger.Transaction)
	debit, credit := decimal.Zero, decimal.Zero

	for {
		bookings, err := e.store.AccountBookings(ctx, account.ID, options.Window, false, &page)
		if err != nil {
			return fmt.Errorf("failed to get bookings: %w", err)
		}

		for _, b := range bookings {
			t, ok := transactions[b.TransactionID]
			if !ok {
				if t, err = e.store.GetTransaction(ctx, b.TransactionID); err != nil {
					return err
				}
				transactions[b.TransactionID] = t
			}

			if b.BookingType == ledger.BookingTypeDebit {
				debit = debit.Add(b.Amount)
			} else {
				credit = credit.Add(b.Amount)
			}

			row := []string{
				strconv.FormatUint(uint64(b.ID), 10),
				strconv.FormatUint(uint64(b.TransactionID), 10),
				t.ValueDatetime.UTC().Format(time.DateOnly),
				string(b.BookingType),
				b.Amount.StringFixed(2),
				account.Category.Balance(debit, credit).StringFixed(2),
				optionalID(b.MemberID),
				b.FindMemo(t),
				b.Importer,
				optionalID(b.SourceID),
			}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write row to CSV: %w", err)
			}
		}

		if len(bookings) < int(page.Limit) {
			return csvWriter.Error()
		}
		page.Offset += page.Limit
	}
}

// ExportToFile exports the bookings of an account to a CSV file
func (e *BookingExporter) ExportToFile(ctx context.Context, options ExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", options.OutputDir, err)
	}

	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("bookings_%d.csv", options.AccountID))
	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file %s: %w", fileName, err)
	}
	defer file.Close()

	if err := e.ExportToCSV(ctx, file, options); err != nil {
		return "", fmt.Errorf("failed to export to CSV: %w", err)
	}

	e.logger.Info("bookings exported", "account", options.AccountID, "file", fileName)
	return fileName, nil
}

func optionalID(id *uint) string {
	if id == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*id), 10)
}
