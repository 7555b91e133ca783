package core

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		delim       rune
		wantHeaders []string
		wantRows    [][]string
	}{
		{
			name:        "simple comma file",
			content:     "name,pop\nFrance,67\nAtlantis,0\n",
			delim:       ',',
			wantHeaders: []string{"name", "pop"},
			wantRows:    [][]string{{"France", "67"}, {"Atlantis", "0"}},
		},
		{
			name:        "quoted and padded headers",
			content:     ` "Country Name" , 'code'` + "\nPeru,PE",
			delim:       ',',
			wantHeaders: []string{"Country Name", "code"},
			wantRows:    [][]string{{"Peru", "PE"}},
		},
		{
			name:        "only one layer of quotes removed",
			content:     `""name""` + "\nx",
			delim:       ',',
			wantHeaders: []string{`"name"`},
			wantRows:    [][]string{{"x"}},
		},
		{
			name:        "short rows padded",
			content:     "a,b,c\n1\n1,2\n",
			delim:       ',',
			wantHeaders: []string{"a", "b", "c"},
			wantRows:    [][]string{{"1", "", ""}, {"1", "2", ""}},
		},
		{
			name:        "extra fields dropped",
			content:     "a,b\n1,2,3,4\n",
			delim:       ',',
			wantHeaders: []string{"a", "b"},
			wantRows:    [][]string{{"1", "2"}},
		},
		{
			name:        "blank lines anywhere are dropped",
			content:     "\n\na\n\n  \nx\n\t\ny\n\n",
			delim:       ',',
			wantHeaders: []string{"a"},
			wantRows:    [][]string{{"x"}, {"y"}},
		},
		{
			name:        "CRLF line endings",
			content:     "a,b\r\n1,2\r\n",
			delim:       ',',
			wantHeaders: []string{"a", "b"},
			wantRows:    [][]string{{"1", "2"}},
		},
		{
			name:        "tab delimited",
			content:     "country\tcode\nSouth Korea, Republic of\tKR\n",
			delim:       '\t',
			wantHeaders: []string{"country", "code"},
			wantRows:    [][]string{{"South Korea, Republic of", "KR"}},
		},
		{
			name:        "delimiter inside value splits it",
			content:     "name,code\n\"Korea, South\",KR\n",
			delim:       ',',
			wantHeaders: []string{"name", "code"},
			wantRows:    [][]string{{`"Korea`, ` South"`}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Parse(tt.content, tt.delim)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !reflect.DeepEqual(table.Headers, tt.wantHeaders) {
				t.Errorf("Headers = %q, want %q", table.Headers, tt.wantHeaders)
			}
			if len(table.Rows) != len(tt.wantRows) {
				t.Fatalf("got %d rows, want %d", len(table.Rows), len(tt.wantRows))
			}
			for i, row := range table.Rows {
				if got := row.Values(); !reflect.DeepEqual(got, tt.wantRows[i]) {
					t.Errorf("row %d = %q, want %q", i, got, tt.wantRows[i])
				}
			}
		})
	}
}

func TestParse_WidthNormalized(t *testing.T) {
	content := "a,b,c,d\n1\n1,2,3,4,5,6\n,,\n1,2\n"
	table, err := Parse(content, ',')
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for i, row := range table.Rows {
		if got := len(row.Values()); got != len(table.Headers) {
			t.Errorf("row %d has %d fields, want %d", i, got, len(table.Headers))
		}
		for _, h := range table.Headers {
			if !row.Has(h) {
				t.Errorf("row %d missing header %q", i, h)
			}
		}
	}
}

func TestParse_EmptyInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty string", ""},
		{"only whitespace", "  \n\n\t\n"},
		{"header only", "name,pop\n"},
		{"header and blank lines", "name,pop\n\n   \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content, ',')
			if !errors.Is(err, ErrEmptyInput) {
				t.Errorf("Parse() error = %v, want ErrEmptyInput", err)
			}
		})
	}
}

func TestParse_LineNumbers(t *testing.T) {
	table, err := Parse("h\n\nfirst\n\nsecond", ',')
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := table.Rows[0].Line(); got != 3 {
		t.Errorf("Rows[0].Line() = %d, want 3", got)
	}
	if got := table.Rows[1].Line(); got != 5 {
		t.Errorf("Rows[1].Line() = %d, want 5", got)
	}
}

func TestParse_DuplicateHeaderFirstWins(t *testing.T) {
	table, err := Parse("name,name\nfirst,second\n", ',')
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := table.Rows[0].Get("name"); got != "first" {
		t.Errorf("Get(name) = %q, want %q", got, "first")
	}
}

func TestRow_GetUnknownHeader(t *testing.T) {
	row := NewRow([]string{"a"}, []string{"1", "2"})
	if got := row.Get("zzz"); got != "" {
		t.Errorf("Get(unknown) = %q, want empty", got)
	}
	if got := row.Values(); len(got) != 1 {
		t.Errorf("Values() = %q, want one field", got)
	}
}

func TestDelimiterFor(t *testing.T) {
	tests := []struct {
		file string
		want rune
	}{
		{"countries.csv", ','},
		{"countries.tsv", '\t'},
		{"COUNTRIES.TSV", '\t'},
		{"export.txt", ','},
		{"noext", ','},
		{"archive.tsv.csv", ','},
	}
	for _, tt := range tests {
		if got := DelimiterFor(tt.file); got != tt.want {
			t.Errorf("DelimiterFor(%q) = %q, want %q", tt.file, got, tt.want)
		}
	}
}
