package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/brunobiangulo/goextract/container"
)

// textParser reads plain text. A UTF-8 or UTF-16 byte order mark selects
// the encoding; without one the input is taken as UTF-8.
type textParser struct{}

func (textParser) Parse(ctx context.Context, in Leaf, c *Collector) error {
	part := in.Prefix + "text"
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := readLimited(transform.NewReader(io.NewSectionReader(in.R, 0, in.Size), dec), in.MaxPartSize, part)
	if errors.Is(err, container.ErrPartTooLarge) {
		return &PartError{Part: part, Err: err}
	}
	if err != nil {
		return &PartError{Part: part, Err: fmt.Errorf("reading text: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w := c.Begin(part)
	for _, para := range splitParagraphs(string(data)) {
		w.Text(para)
	}
	return w.Commit()
}

// splitParagraphs splits text on blank lines. Line breaks inside a
// paragraph are kept.
func splitParagraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var (
		out  []string
		para []string
	)
	flush := func() {
		if len(para) > 0 {
			out = append(out, strings.Join(para, "\n"))
			para = para[:0]
		}
	}
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			flush()
			continue
		}
		para = append(para, line)
	}
	flush()
	return out
}
