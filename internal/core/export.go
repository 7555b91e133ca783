package core

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// ExportHeader is the first line of every export.
var ExportHeader = []string{"Query", "ISO Code", "Official Name", "Status", "Error"}

// ExportContentType is the media type of the export artifact.
const ExportContentType = "text/csv"

// ExportOptions controls how fields are quoted.
type ExportOptions struct {
	// LegacyQuoting wraps fields in quotes without escaping embedded quote
	// characters. Output produced this way does not re-parse when a value
	// contains '"'; it exists for consumers of the older console export.
	LegacyQuoting bool
}

// Export writes outcomes as comma-separated text. Every field is wrapped in
// double quotes. Rows follow outcome order and end with "\n".
func Export(w io.Writer, outcomes []Outcome, opts ExportOptions) error {
	bw := bufio.NewWriter(w)

	if err := writeRecord(bw, ExportHeader, opts); err != nil {
		return err
	}
	for _, o := range outcomes {
		if err := writeRecord(bw, exportRecord(o), opts); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ExportString is Export into a string.
func ExportString(outcomes []Outcome, opts ExportOptions) string {
	var buf bytes.Buffer
	_ = Export(&buf, outcomes, opts)
	return buf.String()
}

func exportRecord(o Outcome) []string {
	v := View(0, o)
	return []string{v.Query, v.Code, v.Name, string(v.Status), v.Error}
}

func writeRecord(w *bufio.Writer, fields []string, opts ExportOptions) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if !opts.LegacyQuoting {
			f = strings.ReplaceAll(f, `"`, `""`)
		}
		if _, err := w.WriteString(`"` + f + `"`); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}
