// Package assembler joins extracted fragments into the text of a result.
package assembler

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/brunobiangulo/goextract/parser"
)

// Separators between fragments.
const (
	LineSeparator    = "\n"
	SectionSeparator = "\n\n"
)

// Options controls assembly.
type Options struct {
	// StreamThreshold is the assembled size in bytes above which the output
	// is delivered as a Stream. Zero never streams.
	StreamThreshold int64
	// ChunkSize is the approximate size of stream chunks.
	ChunkSize int
}

const (
	defaultChunkSize = 64 << 10
	minChunkSize     = utf8.UTFMax
)

// Output holds the assembled text. Exactly one of Text and Stream is
// used: Stream is non-nil when the input exceeded the threshold.
type Output struct {
	Text   string
	Stream *Stream
}

// Assemble joins fragments in order. Fragments of the same part are
// separated by LineSeparator, a change of part by SectionSeparator.
func Assemble(frags []parser.Fragment, opts Options) Output {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	opts.ChunkSize = max(opts.ChunkSize, minChunkSize)

	if opts.StreamThreshold > 0 && rawSize(frags) > opts.StreamThreshold {
		return Output{Stream: newStream(frags, opts.ChunkSize)}
	}

	var b strings.Builder
	j := joiner{}
	for _, f := range frags {
		j.write(&b, f)
	}
	return Output{Text: b.String()}
}

// rawSize is the assembled size before normalization, which changes it by
// at most a few bytes per fragment.
func rawSize(frags []parser.Fragment) int64 {
	var n int64
	for i, f := range frags {
		n += int64(len(f.Text))
		if i > 0 {
			n += int64(len(SectionSeparator))
		}
	}
	return n
}

// joiner tracks the part of the previous fragment.
type joiner struct {
	started bool
	part    string
}

func (j *joiner) write(b *strings.Builder, f parser.Fragment) {
	text := Normalize(f.Text)
	if text == "" {
		return
	}
	if j.started {
		if f.Part == j.part {
			b.WriteString(LineSeparator)
		} else {
			b.WriteString(SectionSeparator)
		}
	}
	j.started = true
	j.part = f.Part
	b.WriteString(text)
}

// Normalize returns s as valid NFC text: each run of invalid UTF-8 becomes
// one U+FFFD, line endings become LF, and control characters other than
// TAB and LF are removed.
func Normalize(s string) string {
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n':
			return r
		case r == '\r':
			return '\n'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return norm.NFC.String(s)
}

// Stream delivers assembled text in chunks. Fragments are normalized as
// the stream is read; it can be consumed once.
type Stream struct {
	frags []parser.Fragment
	next  int
	size  int
	j     joiner
	buf   strings.Builder
	done  bool
}

func newStream(frags []parser.Fragment, size int) *Stream {
	return &Stream{frags: frags, size: size}
}

// Next returns the next chunk, or false when the stream is exhausted.
// Chunks never split a UTF-8 sequence.
func (s *Stream) Next() (string, bool) {
	if s.done {
		return "", false
	}
	for s.buf.Len() < s.size && s.next < len(s.frags) {
		s.j.write(&s.buf, s.frags[s.next])
		s.frags[s.next] = parser.Fragment{}
		s.next++
	}
	pending := s.buf.String()
	if pending == "" {
		s.done = true
		s.frags = nil
		return "", false
	}

	cut := len(pending)
	if cut > s.size {
		cut = s.size
		for cut > 0 && !utf8.RuneStart(pending[cut]) {
			cut--
		}
	}
	chunk := pending[:cut]
	s.buf.Reset()
	s.buf.WriteString(pending[cut:])
	return chunk, true
}

// All yields the remaining chunks.
func (s *Stream) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			chunk, ok := s.Next()
			if !ok || !yield(chunk) {
				return
			}
		}
	}
}

// String drains the stream into one string.
func (s *Stream) String() string {
	var b strings.Builder
	for chunk := range s.All() {
		b.WriteString(chunk)
	}
	return b.String()
}
