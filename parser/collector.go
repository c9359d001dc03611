package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FragmentKind tells the assembler where a fragment came from.
type FragmentKind int

const (
	FragmentText FragmentKind = iota
	// FragmentPlaceholder stands in for an embedded object that was not
	// descended into.
	FragmentPlaceholder
	// FragmentRecognized holds text returned by the OCR recognizer.
	FragmentRecognized
)

// Fragment is one ordered unit of extracted text. Seq increases strictly in
// emission order across the whole extraction.
type Fragment struct {
	Seq  int
	Part string
	Kind FragmentKind
	Text string
}

// Collector accumulates the output of one extraction: fragments, metadata
// and recoverable part failures. Fragments of a part are buffered in a
// PartWriter and only become visible when the part commits.
type Collector struct {
	limit int64
	used  int64
	seq   int

	frags []Fragment
	diags []PartError
	meta  *Metadata

	truncated bool
}

// NewCollector returns a collector that accepts at most limit bytes of
// fragment text. A limit of zero disables the check.
func NewCollector(limit int64) *Collector {
	return &Collector{limit: limit, meta: NewMetadata()}
}

func (c *Collector) Fragments() []Fragment { return c.frags }

func (c *Collector) Diagnostics() []PartError { return c.diags }

func (c *Collector) Meta() *Metadata { return c.meta }

// Truncated reports whether output was cut at the size limit.
func (c *Collector) Truncated() bool { return c.truncated }

// Partial reports whether any part failed or output was cut.
func (c *Collector) Partial() bool { return len(c.diags) > 0 || c.truncated }

// Fail records a recoverable failure of part.
func (c *Collector) Fail(part string, err error) {
	c.diags = append(c.diags, PartError{Part: part, Err: err})
}

// Placeholder emits a marker fragment for an object that is not extracted.
func (c *Collector) Placeholder(part, text string) error {
	return c.emit(part, FragmentPlaceholder, text)
}

// Begin starts buffering the fragments of part.
func (c *Collector) Begin(part string) *PartWriter {
	return &PartWriter{c: c, part: part}
}

func (c *Collector) emit(part string, kind FragmentKind, text string) error {
	if c.truncated {
		return ErrOutputLimit
	}
	if c.limit > 0 && c.used+int64(len(text)) > c.limit {
		text = cutRunes(text, int(c.limit-c.used))
		c.truncated = true
	}
	if text != "" {
		c.frags = append(c.frags, Fragment{Seq: c.seq, Part: part, Kind: kind, Text: text})
		c.seq++
		c.used += int64(len(text))
	}
	if c.truncated {
		return fmt.Errorf("%w: %d bytes", ErrOutputLimit, c.limit)
	}
	return nil
}

// cutRunes returns the longest prefix of s no longer than n bytes that
// does not split a rune.
func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// PartWriter buffers the fragments of one part.
type PartWriter struct {
	c    *Collector
	part string
	buf  []pending
	done bool
}

type pending struct {
	kind FragmentKind
	text string
}

// Part returns the identifier the fragments are attributed to.
func (w *PartWriter) Part() string { return w.part }

// Text adds a text fragment. Blank text is dropped.
func (w *PartWriter) Text(s string) { w.add(FragmentText, s) }

// Recognized adds text produced by OCR.
func (w *PartWriter) Recognized(s string) { w.add(FragmentRecognized, s) }

// Len returns the number of buffered fragments.
func (w *PartWriter) Len() int { return len(w.buf) }

func (w *PartWriter) add(kind FragmentKind, s string) {
	if w.done || strings.TrimSpace(s) == "" {
		return
	}
	w.buf = append(w.buf, pending{kind: kind, text: s})
}

// Commit publishes the buffered fragments. It returns ErrOutputLimit when
// the collector's size budget is exhausted; the fragments that fit are
// kept.
func (w *PartWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	for _, p := range w.buf {
		if err := w.c.emit(w.part, p.kind, p.text); err != nil {
			return err
		}
	}
	w.buf = nil
	return nil
}

// Discard drops the buffered fragments.
func (w *PartWriter) Discard() {
	w.done = true
	w.buf = nil
}
