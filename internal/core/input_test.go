package core

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestReadInput_BOM(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    string
		wantBOM bool
	}{
		{
			name:    "file with BOM",
			input:   append([]byte{0xEF, 0xBB, 0xBF}, []byte("name\nFrance")...),
			want:    "name\nFrance",
			wantBOM: true,
		},
		{
			name:  "file without BOM",
			input: []byte("name\nFrance"),
			want:  "name\nFrance",
		},
		{
			name:  "empty file",
			input: []byte{},
			want:  "",
		},
		{
			name:    "only BOM",
			input:   []byte{0xEF, 0xBB, 0xBF},
			want:    "",
			wantBOM: true,
		},
		{
			name:  "partial BOM is invalid UTF-8",
			input: []byte{0xEF, 0xBB, 'a', 'b'},
			want:  "??ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ReadInput(bytes.NewReader(tt.input), 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if in.Content != tt.want {
				t.Errorf("got %q, want %q", in.Content, tt.want)
			}
			if in.HadBOM != tt.wantBOM {
				t.Errorf("HadBOM = %v, want %v", in.HadBOM, tt.wantBOM)
			}
		})
	}
}

func TestReadInput_Sanitize(t *testing.T) {
	tests := []struct {
		name         string
		input        []byte
		want         string
		wantReplaced int
	}{
		{"valid ASCII", []byte("Germany,DE"), "Germany,DE", 0},
		{"valid multibyte", []byte("Côte d’Ivoire"), "Côte d’Ivoire", 0},
		{"invalid single byte", []byte{'P', 'e', 0x80, 'u'}, "Pe?u", 1},
		{"truncated rune at end", []byte{'a', 0xE2, 0x80}, "a??", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ReadInput(bytes.NewReader(tt.input), 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if in.Content != tt.want {
				t.Errorf("got %q, want %q", in.Content, tt.want)
			}
			if in.Replaced != tt.wantReplaced {
				t.Errorf("Replaced = %d, want %d", in.Replaced, tt.wantReplaced)
			}
		})
	}
}

func TestReadInput_RuneSplitAcrossReads(t *testing.T) {
	// OneByteReader forces every multibyte rune to straddle reads.
	src := "name\nRéunion\nÅland Islands\n"
	in, err := ReadInput(iotest.OneByteReader(strings.NewReader(src)), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Content != src {
		t.Errorf("got %q, want %q", in.Content, src)
	}
	if in.Replaced != 0 {
		t.Errorf("Replaced = %d, want 0", in.Replaced)
	}
}

func TestReadInput_MaxSize(t *testing.T) {
	data := strings.Repeat("x", 100)

	if _, err := ReadInput(strings.NewReader(data), 100); err != nil {
		t.Fatalf("exact limit should pass, got %v", err)
	}

	_, err := ReadInput(strings.NewReader(data), 99)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("got %v, want ErrFileTooLarge", err)
	}
	if MapError(err).Code != "FILE001" {
		t.Errorf("code = %q, want FILE001", MapError(err).Code)
	}
}

func TestReadInput_ReaderError(t *testing.T) {
	boom := errors.New("disk gone")
	_, err := ReadInput(io.MultiReader(strings.NewReader("a,b\n"), iotest.ErrReader(boom)), 0)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped %v", err, boom)
	}
}

func TestReadInput_CountsRawBytes(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("a\nb")...)
	in, err := ReadInput(bytes.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Bytes != int64(len(raw)) {
		t.Errorf("Bytes = %d, want %d", in.Bytes, len(raw))
	}
}
