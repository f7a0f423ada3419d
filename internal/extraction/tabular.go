package extraction

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// TabularAdapter decodes CSV and spreadsheet files and serializes the first
// sheet as CSV
type TabularAdapter struct{}

// NewTabularAdapter creates a spreadsheet adapter
func NewTabularAdapter() *TabularAdapter {
	return &TabularAdapter{}
}

// Kind implements Adapter
func (a *TabularAdapter) Kind() Kind {
	return KindTabular
}

// Extract implements Adapter
func (a *TabularAdapter) Extract(ctx context.Context, src Source, progress ProgressFunc) (string, error) {
	var (
		data []byte
		rows [][]string
		text string
	)

	err := RunStages(ctx, progress,
		Stage{Name: "read workbook", Checkpoint: 20, Run: func(context.Context) error {
			data = src.Content
			return nil
		}},
		Stage{Name: "decode workbook", Checkpoint: 40, Run: func(context.Context) error {
			var err error
			rows, err = decodeFirstSheet(data)
			return err
		}},
		Stage{Name: "serialize sheet", Checkpoint: 60, Run: func(context.Context) error {
			var err error
			text, err = rowsToCSV(rows)
			return err
		}},
		Stage{Name: "sheet ready", Checkpoint: 80},
	)
	if err != nil {
		return "", err
	}

	return text, nil
}

// decodeFirstSheet sniffs the container format and returns the first sheet
func decodeFirstSheet(data []byte) ([][]string, error) {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return decodeXLSX(data)
	case bytes.HasPrefix(data, oleMagic):
		return decodeXLS(data)
	default:
		return decodeCSV(data)
	}
}

func decodeXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func decodeXLS(data []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open xls: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, ErrEmptyWorkbook
	}

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrEmptyWorkbook
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			cells = append(cells, row.Col(j))
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func decodeCSV(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	return rows, nil
}

// rowsToCSV writes rows as CSV without a trailing newline
func rowsToCSV(rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("failed to serialize sheet: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
