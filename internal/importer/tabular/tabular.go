// Package tabular reads uploaded spreadsheets into a header row and string
// cells.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

const (
	EncodingUTF8        = "utf-8"
	EncodingUTF16       = "utf-16"
	EncodingWindows1252 = "windows-1252"
)

var (
	ErrEmpty       = errors.New("file has no header row")
	ErrUnsupported = errors.New("unsupported file format")
)

// Malformed is a row that could not be read. Line is 1-based and counts the
// header.
type Malformed struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type Table struct {
	Format    Format      `json:"format"`
	Encoding  string      `json:"encoding"`
	Headers   []string    `json:"headers"`
	Rows      [][]string  `json:"-"`
	Lines     []int       `json:"-"`
	Malformed []Malformed `json:"malformed,omitempty"`
}

// TotalRows counts data rows including malformed ones.
func (t Table) TotalRows() int {
	return len(t.Rows) + len(t.Malformed)
}

// Sample returns at most n rows.
func (t Table) Sample(n int) [][]string {
	if n <= 0 || n >= len(t.Rows) {
		return t.Rows
	}
	return t.Rows[:n]
}

// Parse reads raw using the file name as a format hint.
func Parse(name string, raw []byte) (Table, error) {
	format := Sniff(name, raw)
	switch format {
	case FormatXLSX:
		return parseXLSX(raw)
	case FormatCSV, FormatTSV:
		text, enc := decodeText(raw)
		return parseDelimited(format, enc, text)
	default:
		return Table{}, ErrUnsupported
	}
}

// Sniff picks a format from the extension, falling back to content.
func Sniff(name string, raw []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".tsv", ".tab":
		return FormatTSV
	case ".csv":
		return FormatCSV
	case ".xls", ".ods", ".pdf", ".json":
		return ""
	}
	if bytes.HasPrefix(raw, []byte("PK\x03\x04")) {
		return FormatXLSX
	}
	first := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		first = raw[:i]
	}
	if bytes.Count(first, []byte("\t")) > bytes.Count(first, []byte(",")) {
		return FormatTSV
	}
	return FormatCSV
}

// decodeText converts raw to UTF-8. A byte order mark wins; valid UTF-8 is
// taken as is; anything else is read as Windows-1252.
func decodeText(raw []byte) ([]byte, string) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return raw[3:], EncodingUTF8
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}), bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
		if err == nil {
			return out, EncodingUTF16
		}
	}
	if utf8.Valid(raw) {
		return raw, EncodingUTF8
	}
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), raw)
	if err != nil {
		return raw, EncodingUTF8
	}
	return out, EncodingWindows1252
}

func parseDelimited(format Format, enc string, text []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(text))
	if format == FormatTSV {
		r.Comma = '\t'
		r.LazyQuotes = true
	} else {
		r.TrimLeadingSpace = true
	}
	r.FieldsPerRecord = -1

	t := Table{Format: format, Encoding: enc}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				if t.Headers == nil {
					return Table{}, fmt.Errorf("header: %w", err)
				}
				t.Malformed = append(t.Malformed, Malformed{Line: perr.StartLine, Reason: perr.Err.Error()})
				continue
			}
			return Table{}, err
		}
		if t.Headers == nil {
			t.Headers = normalizeHeaders(record)
			continue
		}
		line, _ := r.FieldPos(0)
		t.addRow(line, record)
	}
	if len(t.Headers) == 0 {
		return Table{}, ErrEmpty
	}
	return t, nil
}

func parseXLSX(raw []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return Table{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, err
	}

	t := Table{Format: FormatXLSX, Encoding: EncodingUTF8}
	for i, record := range rows {
		if t.Headers == nil {
			if blank(record) {
				continue
			}
			t.Headers = normalizeHeaders(record)
			continue
		}
		if blank(record) {
			continue
		}
		t.addRow(i+1, record)
	}
	if len(t.Headers) == 0 {
		return Table{}, ErrEmpty
	}
	return t, nil
}

// addRow pads short rows; spreadsheets drop trailing empty cells.
func (t *Table) addRow(line int, record []string) {
	if len(record) > len(t.Headers) {
		extra := record[len(t.Headers):]
		if !blank(extra) {
			t.Malformed = append(t.Malformed, Malformed{
				Line:   line,
				Reason: fmt.Sprintf("expected %d fields, got %d", len(t.Headers), len(record)),
			})
			return
		}
		record = record[:len(t.Headers)]
	}
	row := make([]string, len(t.Headers))
	for i, cell := range record {
		row[i] = strings.TrimSpace(cell)
	}
	t.Rows = append(t.Rows, row)
	t.Lines = append(t.Lines, line)
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeHeaders(record []string) []string {
	out := make([]string, len(record))
	seen := map[string]int{}
	for i, h := range record {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = h + "_" + strconv.Itoa(n)
		}
		out[i] = h
	}
	return out
}

// EncodeCSV writes headers and rows as UTF-8 CSV.
func EncodeCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
