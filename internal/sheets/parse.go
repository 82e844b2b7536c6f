// Package sheets converts uploaded CSV and Excel workbooks into row objects
// keyed by header, and writes parsed sheets back out as CSV or XLSX.
package sheets

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned for file extensions that cannot be parsed.
	ErrUnsupportedFormat = errors.New("unsupported file type")
	// ErrEmptyWorkbook is returned when the first sheet has no non-blank rows.
	ErrEmptyWorkbook = errors.New("empty workbook")
	// ErrWorkbookTooLarge is returned when a workbook decompresses past the limit.
	ErrWorkbookTooLarge = errors.New("workbook too large")
)

const (
	// DefaultUnzipLimit caps the decompressed size of a workbook read by Parse.
	DefaultUnzipLimit = 100 << 20
	// UnzipRatio is how far a workbook may expand relative to the upload cap.
	UnzipRatio = 10

	maxXMLInMemory = 16 << 20
)

// Format selects the parse path.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatXLSX
)

var extensions = map[string]Format{
	".csv":  FormatCSV,
	".xlsx": FormatXLSX,
	".xlsm": FormatXLSX,
	".xltx": FormatXLSX,
	".xltm": FormatXLSX,
}

// DetectFormat picks a format from the file extension, case-insensitively.
func DetectFormat(filename string) Format {
	return extensions[strings.ToLower(filepath.Ext(filename))]
}

// Row is one data row keyed by column header. Empty cells are absent.
type Row map[string]any

// Sheet is the parsed first sheet of an upload.
type Sheet struct {
	Name    string
	Columns []string
	Rows    []Row
}

// Parse reads the first sheet of the named file with DefaultUnzipLimit.
func Parse(filename string, r io.Reader) (*Sheet, error) {
	return ParseLimited(filename, r, DefaultUnzipLimit)
}

// ParseLimited reads the first sheet of the named file. Workbooks whose
// decompressed parts exceed maxUnzipped bytes fail with ErrWorkbookTooLarge.
func ParseLimited(filename string, r io.Reader, maxUnzipped int64) (*Sheet, error) {
	switch DetectFormat(filename) {
	case FormatCSV:
		records, err := readCSV(r)
		if err != nil {
			return nil, err
		}
		return build(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)), records)
	case FormatXLSX:
		name, records, err := readWorkbook(r, maxUnzipped)
		if err != nil {
			return nil, err
		}
		return build(name, records)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], bom)
	}
	return records, nil
}

func readWorkbook(r io.Reader, maxUnzipped int64) (string, [][]string, error) {
	if maxUnzipped <= 0 {
		maxUnzipped = DefaultUnzipLimit
	}
	f, err := excelize.OpenReader(r, excelize.Options{
		UnzipSizeLimit:    maxUnzipped,
		UnzipXMLSizeLimit: min(maxUnzipped, maxXMLInMemory),
	})
	if err != nil {
		// excelize reports the exceeded limit without a sentinel error.
		if strings.Contains(err.Error(), "unzip size exceeds") {
			return "", nil, ErrWorkbookTooLarge
		}
		return "", nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, ErrEmptyWorkbook
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return sheets[0], rows, nil
}

func build(name string, records [][]string) (*Sheet, error) {
	start := -1
	width := 0
	for i, rec := range records {
		if start < 0 && !blank(rec) {
			start = i
		}
		if len(rec) > width {
			width = len(rec)
		}
	}
	if start < 0 {
		return nil, ErrEmptyWorkbook
	}

	columns := headers(records[start], width)
	rows := make([]Row, 0, len(records)-start-1)
	for _, rec := range records[start+1:] {
		if blank(rec) {
			continue
		}
		row := make(Row, len(rec))
		for i, cell := range rec {
			if cell == "" {
				continue
			}
			row[columns[i]] = coerce(cell)
		}
		rows = append(rows, row)
	}

	return &Sheet{Name: name, Columns: columns, Rows: rows}, nil
}

// headers names every column: blank headers become __EMPTY, __EMPTY_1, ...
// and repeated headers get _1, _2, ... suffixes.
func headers(rec []string, width int) []string {
	cols := make([]string, width)
	seen := make(map[string]int, width)
	empty := 0
	for i := range cols {
		var h string
		if i < len(rec) {
			h = strings.TrimSpace(rec[i])
		}
		if h == "" {
			h = "__EMPTY"
			if empty > 0 {
				h += "_" + strconv.Itoa(empty)
			}
			empty++
		}
		if n, ok := seen[h]; ok {
			base := h
			for {
				n++
				h = base + "_" + strconv.Itoa(n)
				if _, taken := seen[h]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[h] = 0
		cols[i] = h
	}
	return cols
}

func blank(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

var numeric = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][-+]?\d+)?$`)

// coerce turns decimal-looking cells into JSON numbers, keeping their text
// exactly. Values with leading zeros stay strings.
func coerce(cell string) any {
	s := strings.TrimSpace(cell)
	if numeric.MatchString(s) {
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return json.Number(s)
		}
	}
	return cell
}
