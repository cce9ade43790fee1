package vocab

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet flashcards are exported to and imported from.
const SheetName = "Flashcards"

// MaxImportRows bounds the data rows read from one workbook.
const MaxImportRows = 5000

var exportHeader = []any{"Text", "Translation", "Source language", "Target language", "Created at"}

// ImportResult summarizes a workbook import.
type ImportResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// Export writes the user's cards as an XLSX workbook to w.
func (s *Service) Export(ctx context.Context, userID string, w io.Writer) error {
	cards, err := s.List(ctx, userID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, c := range cards {
		translation := ""
		if c.Translation != nil {
			translation = *c.Translation
		}
		row := []any{c.SourceText, translation, c.SourceLang, c.TargetLang, c.CreatedAt.UTC().Format("2006-01-02 15:04")}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(SheetName, "A", "B", 40)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Import reads cards from an XLSX workbook. It uses the Flashcards sheet when
// present, else the first sheet, and skips a header row whose first cell is
// "Text". Columns are text, translation, source language and target language.
func (s *Service) Import(ctx context.Context, userID string, r io.Reader) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: file is not a valid xlsx workbook", domain.ErrInvalidArgument)
	}
	defer func() { _ = f.Close() }()

	sheet := SheetName
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	result := &ImportResult{Errors: make([]string, 0)}
	dataRows := 0
	for i, row := range rows {
		if i == 0 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "text") {
			continue
		}
		if dataRows == s.maxImportRows {
			result.Errors = append(result.Errors, fmt.Sprintf("stopped after %d rows", s.maxImportRows))
			break
		}
		dataRows++
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			result.Skipped++
			continue
		}

		_, created, err := s.Save(ctx, userID, Input{
			Text:        cell(row, 0),
			Translation: cell(row, 1),
			SourceLang:  cell(row, 2),
			TargetLang:  cell(row, 3),
		})
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

