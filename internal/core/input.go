package core

// input.go reads an uploaded file into memory for parsing.
//
// Files arrive from spreadsheets exported on every platform, so two fixes
// are applied while reading:
//
//   - a leading UTF-8 byte order mark is dropped
//   - bytes that are not valid UTF-8 are replaced with '?'
//
// Size is enforced on the raw bytes, before either fix.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// ErrFileTooLarge is returned when an input exceeds the configured limit.
var ErrFileTooLarge = errors.New("file too large")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Input is a decoded upload.
type Input struct {
	Content  string
	Bytes    int64 // raw bytes read
	Replaced int   // invalid bytes replaced with '?'
	HadBOM   bool
}

// ReadInput reads r fully, rejecting anything over maxSize bytes. A
// non-positive maxSize disables the limit.
func ReadInput(r io.Reader, maxSize int64) (Input, error) {
	var src io.Reader = r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	counter := &countingReader{r: src}

	br := bufio.NewReader(counter)
	hadBOM, err := skipBOM(br)
	if err != nil {
		return Input{}, errors.Wrap(err, "read input")
	}

	san := newUTF8Sanitizer(br)
	data, err := io.ReadAll(san)
	if err != nil {
		return Input{}, errors.Wrap(err, "read input")
	}

	if maxSize > 0 && counter.n > maxSize {
		return Input{}, errors.WithHintf(ErrFileTooLarge, "maximum size is %d bytes", maxSize)
	}

	return Input{
		Content:  string(data),
		Bytes:    counter.n,
		Replaced: san.replaced,
		HadBOM:   hadBOM,
	}, nil
}

// skipBOM discards a leading byte order mark if present.
func skipBOM(br *bufio.Reader) (bool, error) {
	head, err := br.Peek(len(utf8BOM))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return false, err
	}
	if bytes.Equal(head, utf8BOM) {
		_, err := br.Discard(len(utf8BOM))
		return true, err
	}
	return false, nil
}

// utf8Sanitizer rewrites invalid UTF-8 to '?' one byte at a time, so the
// output is never longer than the input. Runes split across reads are held
// back until the rest arrives.
type utf8Sanitizer struct {
	r        io.Reader
	buf      []byte
	in       []byte
	out      []byte
	err      error
	replaced int
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, buf: make([]byte, 32*1024)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(s.out) == 0 && s.err == nil {
		n, err := s.r.Read(s.buf)
		s.in = append(s.in, s.buf[:n]...)
		s.err = err
		s.decode(err != nil)
	}

	if len(s.out) > 0 {
		n := copy(p, s.out)
		s.out = s.out[n:]
		return n, nil
	}
	return 0, s.err
}

func (s *utf8Sanitizer) decode(final bool) {
	for len(s.in) > 0 {
		if !final && !utf8.FullRune(s.in) {
			break
		}
		r, size := utf8.DecodeRune(s.in)
		if r == utf8.RuneError && size == 1 {
			s.out = append(s.out, '?')
			s.replaced++
		} else {
			s.out = append(s.out, s.in[:size]...)
		}
		s.in = s.in[size:]
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
