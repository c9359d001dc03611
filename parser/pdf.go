package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// pdfParser extracts the text layer of a PDF, one part per page. The pdf
// library panics on some malformed objects, so every call into it runs
// under recover.
type pdfParser struct{}

func (pdfParser) Parse(ctx context.Context, in Leaf, c *Collector) error {
	r, err := openPDF(in)
	if err != nil {
		return &PartError{Part: in.Prefix + "pdf", Err: err}
	}

	total := r.NumPage()
	if in.TopLevel {
		pdfInfo(r, c)
		c.Meta().Set(KeyPageCount, strconv.Itoa(total))
	}

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		part := in.Prefix + "page/" + strconv.Itoa(i)
		text, err := pageText(r, i)
		if err != nil {
			slog.Debug("pdf: page failed", "part", part, "error", err)
			c.Fail(part, err)
			continue
		}

		w := c.Begin(part)
		for _, para := range splitParagraphs(text) {
			w.Text(para)
		}
		if err := w.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func openPDF(in Leaf) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("%w: pdf: %v", ErrMalformed, p)
		}
	}()
	r, err = pdf.NewReader(in.R, in.Size)
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, fmt.Errorf("%w: encrypted pdf", ErrUnsupportedVariant)
		}
		return nil, malformed("pdf", err)
	}
	return r, nil
}

func pageText(r *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("%w: page %d: %v", ErrMalformed, i, p)
		}
	}()
	page := r.Page(i)
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", malformed(fmt.Sprintf("page %d", i), err)
	}
	return text, nil
}

// pdfInfo copies the document information dictionary into the metadata.
func pdfInfo(r *pdf.Reader, c *Collector) {
	defer func() {
		if p := recover(); p != nil {
			slog.Debug("pdf: unreadable info dictionary", "error", p)
		}
	}()
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	md := c.Meta()
	md.Set(KeyTitle, info.Key("Title").Text())
	md.Set(KeySubject, info.Key("Subject").Text())
	md.Set(KeyAuthor, info.Key("Author").Text())
	md.Add(KeyKeywords, splitKeywords(info.Key("Keywords").Text())...)
	md.Set(KeyApplication, info.Key("Creator").Text())
	md.Set(KeyProducer, info.Key("Producer").Text())
	md.Set(KeyCreated, pdfDate(info.Key("CreationDate").Text()))
	md.Set(KeyModified, pdfDate(info.Key("ModDate").Text()))
}

// pdfDate converts a PDF date string ("D:20240131120000+01'00'") to
// RFC 3339. Missing trailing fields default as the PDF format allows;
// anything unparseable is returned unchanged.
func pdfDate(s string) string {
	s = strings.TrimSpace(s)
	raw := s
	s = strings.TrimPrefix(s, "D:")
	if len(s) < 4 {
		return raw
	}

	digits := s
	zone := ""
	if i := strings.IndexAny(s, "Zz+-"); i >= 0 {
		digits, zone = s[:i], s[i:]
	}
	// YYYY MM DD HH mm SS, defaults for the omitted tail.
	full := "00000101000000"
	if len(digits) > len(full) || !isDigits(digits) {
		return raw
	}
	digits += full[len(digits):]

	loc := time.UTC
	if zone != "" && zone[0] != 'Z' && zone[0] != 'z' {
		z := strings.NewReplacer("'", "", " ", "").Replace(zone[1:])
		if len(z) == 2 {
			z += "00"
		}
		if len(z) != 4 || !isDigits(z) {
			return raw
		}
		h, _ := strconv.Atoi(z[:2])
		m, _ := strconv.Atoi(z[2:])
		off := h*3600 + m*60
		if zone[0] == '-' {
			off = -off
		}
		loc = time.FixedZone("", off)
	}
	t, err := time.ParseInLocation("20060102150405", digits, loc)
	if err != nil {
		return raw
	}
	return t.Format(time.RFC3339)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
