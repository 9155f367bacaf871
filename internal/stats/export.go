package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"keygate/internal/store"
)

// cardExportHeaders is the column order for both export formats.
var cardExportHeaders = []string{
	"card_key", "type", "duration_days", "application_id",
	"is_used", "used_by", "used_at", "expires_at", "created_at",
}

func cardExportRecord(c *store.Card) []string {
	return []string{
		c.CardKey,
		string(c.Type),
		strconv.Itoa(c.DurationDays),
		strconv.FormatInt(c.ApplicationID, 10),
		strconv.FormatBool(c.IsUsed),
		c.UsedBy,
		exportTime(c.UsedAt),
		exportTime(c.ExpiresAt),
		exportTime(c.CreatedAt),
	}
}

func exportTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ExportCardsCSV streams matching cards as CSV. A UTF-8 BOM is written
// first so Excel opens the file correctly.
func (s *Service) ExportCardsCSV(ctx context.Context, filter store.CardFilter, w io.Writer) error {
	cards, err := s.store.AllCards(ctx, filter)
	if err != nil {
		return fmt.Errorf("stats: export cards: %w", err)
	}

	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("stats: write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cardExportHeaders); err != nil {
		return fmt.Errorf("stats: write CSV header: %w", err)
	}
	for _, c := range cards {
		if err := cw.Write(cardExportRecord(c)); err != nil {
			return fmt.Errorf("stats: write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCardsXLSX streams matching cards as a single-sheet workbook.
func (s *Service) ExportCardsXLSX(ctx context.Context, filter store.CardFilter, w io.Writer) error {
	cards, err := s.store.AllCards(ctx, filter)
	if err != nil {
		return fmt.Errorf("stats: export cards: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Cards"
	f.SetSheetName(f.GetSheetName(0), sheet)

	for col, header := range cardExportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("stats: header cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("stats: set header cell: %w", err)
		}
	}
	for row, c := range cards {
		for col, value := range cardExportRecord(c) {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return fmt.Errorf("stats: data cell name: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("stats: set data cell: %w", err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("stats: write workbook: %w", err)
	}
	return nil
}
