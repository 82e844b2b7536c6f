package sheets

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"
)

const bom = "\ufeff"

const (
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Records flattens the sheet into a header line followed by one line per row.
func (s *Sheet) Records() [][]string {
	out := make([][]string, 0, len(s.Rows)+1)
	out = append(out, append([]string(nil), s.Columns...))
	for _, row := range s.Rows {
		rec := make([]string, len(s.Columns))
		for i, col := range s.Columns {
			rec[i] = cellText(row[col])
		}
		out = append(out, rec)
	}
	return out
}

// WriteCSV writes the sheet as UTF-8 CSV with a byte order mark so that
// Excel detects the encoding.
func WriteCSV(w io.Writer, s *Sheet) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := gocsv.NewSafeCSVWriter(csv.NewWriter(w))
	for _, rec := range s.Records() {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteXLSX writes the sheet as a single-sheet workbook. Numeric cells are
// written as numbers.
func WriteXLSX(w io.Writer, s *Sheet) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	name := sheetName(s.Name)
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	header := make([]any, len(s.Columns))
	for i, col := range s.Columns {
		header[i] = col
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range s.Rows {
		values := make([]any, len(s.Columns))
		for j, col := range s.Columns {
			values[j] = xlsxValue(row[col])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func xlsxValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return cellText(val)
	}
}

// sheetName makes name acceptable to Excel: at most 31 characters and none
// of : \ / ? * [ ].
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}
