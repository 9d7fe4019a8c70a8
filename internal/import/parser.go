// Package studentimport reads student spreadsheets for bulk certificate issuance.
package studentimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
)

// DefaultMaxBytes is the default upload size limit (5 MiB).
const DefaultMaxBytes int64 = 5 << 20

// Column names recognised in the header row.
const (
	ColumnName   = "name"
	ColumnEmail  = "email"
	ColumnCourse = "course"
)

// RequiredColumns lists the headers every import must carry.
var RequiredColumns = []string{ColumnName, ColumnCourse}

var (
	// ErrEmptyWorkbook is returned when the payload contains no worksheet.
	ErrEmptyWorkbook = errors.New("uploaded file contains no worksheets")
	// ErrMissingRequiredColumn is matched by every MissingColumnError.
	ErrMissingRequiredColumn = errors.New("missing required column")
	// ErrUnsupportedFormat is returned for payloads that are neither xlsx nor CSV.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrFileTooLarge is returned when the payload exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum upload size")
	// ErrMalformedFile is returned when a recognised format cannot be decoded.
	ErrMalformedFile = errors.New("malformed spreadsheet")
)

// MissingColumnError reports a required header absent from the first row.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return "Missing required column: " + e.Column
}

// Is lets errors.Is match ErrMissingRequiredColumn.
func (e *MissingColumnError) Is(target error) bool {
	return target == ErrMissingRequiredColumn
}

// Row is one data row of the sheet. Number is the 1-based sheet row.
type Row struct {
	Number int    `json:"row"`
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email,omitempty" validate:"omitempty,basic_email"`
	Course string `json:"course" validate:"required"`
}

// ParseOptions configures the parser.
type ParseOptions struct {
	MaxBytes int64
}

// DefaultParseOptions returns default parsing options.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{MaxBytes: DefaultMaxBytes}
}

// Parser turns uploaded spreadsheets into sheets of rows.
type Parser struct {
	options ParseOptions
}

// NewParser creates a new parser with the given options.
func NewParser(options ParseOptions) *Parser {
	if options.MaxBytes <= 0 {
		options.MaxBytes = DefaultMaxBytes
	}
	return &Parser{options: options}
}

// Parse reads the payload, resolves the header row and returns a sheet whose
// data rows are read lazily. The caller must Close the sheet.
func (p *Parser) Parse(reader io.Reader) (*Sheet, error) {
	data, err := io.ReadAll(io.LimitReader(reader, p.options.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > p.options.MaxBytes {
		return nil, ErrFileTooLarge
	}

	mtype := mimetype.Detect(data)
	var src rowSource
	switch {
	case mtype.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"), mtype.Is("application/zip"):
		src, err = openWorkbook(data)
	case isText(mtype):
		src, err = openCSV(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mtype.String())
	}
	if err != nil {
		return nil, err
	}

	header, _, ok, err := src.next()
	if err != nil {
		_ = src.close()
		return nil, fmt.Errorf("read header row: %w", err)
	}
	if !ok {
		header = nil
	}

	sheet := &Sheet{
		Name:   src.name(),
		Header: headerMap(header),
		src:    src,
		rowNum: 1,
	}

	for _, col := range RequiredColumns {
		if _, exists := sheet.Header[col]; !exists {
			_ = sheet.Close()
			return nil, &MissingColumnError{Column: col}
		}
	}

	return sheet, nil
}

// headerMap normalises header cells to trimmed lower-case text mapped to their
// 1-based column. A repeated header keeps its last column.
func headerMap(cells []string) map[string]int {
	m := make(map[string]int, len(cells))
	for i, cell := range cells {
		key := strings.ToLower(strings.TrimSpace(cell))
		if key == "" {
			continue
		}
		m[key] = i + 1
	}
	return m
}

// Sheet is a parsed worksheet whose data rows are yielded on demand.
type Sheet struct {
	Name   string
	Header map[string]int

	src    rowSource
	rowNum int
}

// Rows yields the data rows below the header in file order. Rows with no
// content are not yielded. The sequence can be consumed once.
func (s *Sheet) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for {
			cells, line, ok, err := s.src.next()
			if err != nil {
				yield(Row{}, fmt.Errorf("read row %d: %w", s.rowNum+1, err))
				return
			}
			if !ok {
				return
			}
			s.rowNum = line

			if isBlank(cells) {
				continue
			}

			row := Row{
				Number: s.rowNum,
				Name:   s.cell(cells, ColumnName),
				Email:  s.cell(cells, ColumnEmail),
				Course: s.cell(cells, ColumnCourse),
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Close releases the underlying workbook. Closing twice is a no-op.
func (s *Sheet) Close() error {
	if s.src == nil {
		return nil
	}
	src := s.src
	s.src = nil
	return src.close()
}

func (s *Sheet) cell(cells []string, column string) string {
	idx, ok := s.Header[column]
	if !ok || idx-1 >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx-1])
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func isText(m *mimetype.MIME) bool {
	for p := m; p != nil; p = p.Parent() {
		if p.Is("text/plain") || p.Is("text/csv") {
			return true
		}
	}
	return false
}

// rowSource abstracts the workbook format behind a row cursor. next reports
// the 1-based line of the record in the uploaded file.
type rowSource interface {
	name() string
	next() (cells []string, line int, ok bool, err error)
	close() error
}

type workbookSource struct {
	file  *excelize.File
	rows  *excelize.Rows
	sheet string
	row   int
}

func openWorkbook(data []byte) (*workbookSource, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, ErrEmptyWorkbook
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open worksheet %q: %w", sheets[0], err)
	}

	return &workbookSource{file: f, rows: rows, sheet: sheets[0]}, nil
}

func (w *workbookSource) name() string { return w.sheet }

func (w *workbookSource) next() ([]string, int, bool, error) {
	if !w.rows.Next() {
		if err := w.rows.Error(); err != nil {
			return nil, 0, false, fmt.Errorf("%w: %v", ErrMalformedFile, err)
		}
		return nil, 0, false, nil
	}
	w.row++
	cols, err := w.rows.Columns()
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	return cols, w.row, true, nil
}

func (w *workbookSource) close() error {
	rowsErr := w.rows.Close()
	if err := w.file.Close(); err != nil {
		return err
	}
	return rowsErr
}

type csvSource struct {
	reader *csv.Reader
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func openCSV(data []byte) (*csvSource, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyWorkbook
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return &csvSource{reader: r}, nil
}

func (c *csvSource) name() string { return "csv" }

// next skips blank lines like encoding/csv does, but reports the record's
// real line so row numbers match what the uploader sees.
func (c *csvSource) next() ([]string, int, bool, error) {
	record, err := c.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	line, _ := c.reader.FieldPos(0)
	return record, line, true, nil
}

func (c *csvSource) close() error { return nil }
