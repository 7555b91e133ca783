package core

// delimited.go turns raw delimited text into a header list and rows.
//
// The format is deliberately simple: one record per line, fields split on a
// single delimiter rune, no quoting. A delimiter inside a value splits it.
// Blank lines are ignored wherever they appear.

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrEmptyInput is returned when the content holds no data rows after blank
// lines are dropped. A header line alone counts as empty.
var ErrEmptyInput = errors.New("no data found in file")

// Row is one data line keyed by header name.
//
// Every row of a Table carries exactly the table's headers; fields missing
// from a short line read as "". Rows are never mutated after parsing.
type Row struct {
	line   int
	values []string
	index  map[string]int
}

// Get returns the value under header, or "" if the header is unknown.
func (r Row) Get(header string) string {
	i, ok := r.index[header]
	if !ok {
		return ""
	}
	return r.values[i]
}

// Has reports whether header is one of the row's keys.
func (r Row) Has(header string) bool {
	_, ok := r.index[header]
	return ok
}

// Values returns the row's fields in header order.
func (r Row) Values() []string {
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

// Line is the 1-based line number of the row in the original content.
func (r Row) Line() int {
	return r.line
}

// Table is the parsed form of a delimited file.
type Table struct {
	Headers []string
	Rows    []Row
}

// Parse splits content into a header list and rows.
//
// The first non-blank line is the header. Header names are trimmed of
// surrounding whitespace and of one layer of matching single or double
// quotes. Each following non-blank line is mapped positionally onto the
// headers: short lines are padded with "", extra fields are dropped.
// When a header name repeats, lookups by that name see the first column.
func Parse(content string, delimiter rune) (Table, error) {
	sep := string(delimiter)

	var (
		headers []string
		index   map[string]int
		rows    []Row
	)

	for n, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if headers == nil {
			headers = parseHeaderLine(line, sep)
			index = headerIndex(headers)
			continue
		}

		fields := strings.Split(line, sep)
		values := make([]string, len(headers))
		copy(values, fields)

		rows = append(rows, Row{line: n + 1, values: values, index: index})
	}

	if len(rows) == 0 {
		return Table{Headers: headers}, ErrEmptyInput
	}

	return Table{Headers: headers, Rows: rows}, nil
}

// DelimiterFor picks the field delimiter from a file name: tab for .tsv,
// comma for everything else.
func DelimiterFor(fileName string) rune {
	if strings.EqualFold(filepath.Ext(fileName), ".tsv") {
		return '\t'
	}
	return ','
}

func parseHeaderLine(line, sep string) []string {
	parts := strings.Split(line, sep)
	headers := make([]string, len(parts))
	for i, p := range parts {
		headers[i] = unquoteHeader(strings.TrimSpace(p))
	}
	return headers
}

// unquoteHeader removes one layer of enclosing ' or " quotes.
func unquoteHeader(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, dup := idx[h]; dup {
			continue
		}
		idx[h] = i
	}
	return idx
}

// NewRow builds a Row from parallel header and value slices. Values beyond
// the header count are dropped and missing ones read as "".
func NewRow(headers, values []string) Row {
	v := make([]string, len(headers))
	copy(v, values)
	return Row{values: v, index: headerIndex(headers)}
}
