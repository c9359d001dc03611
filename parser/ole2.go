package parser

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/brunobiangulo/goextract/container"
)

// Stream names of the legacy binary formats.
const (
	streamWord       = "WordDocument"
	streamPowerPoint = "PowerPoint Document"
	streamWorkbook   = "Workbook"
	streamBook       = "Book"
	streamPackage    = "Package"
)

// oleHeaderSize is the size of the compound file header sector.
const oleHeaderSize = 512

// detectOLE2 names the legacy dialect of a compound file by its top-level
// streams. A compound file with none of them (encrypted OOXML, MSG, Visio)
// is the generic FormatOLE2.
func detectOLE2(ra io.ReaderAt, size int64) (f Format, err error) {
	if size < oleHeaderSize {
		return "", fmt.Errorf("%w: compound file header is %d bytes", ErrTruncated, size)
	}
	defer func() {
		if p := recover(); p != nil {
			f, err = "", fmt.Errorf("%w: compound file: %v", ErrMalformed, p)
		}
	}()
	doc, err := mscfb.New(ra)
	if err != nil {
		return "", malformed("compound file", err)
	}
	found := make(map[string]bool)
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if len(entry.Path) == 0 {
			found[entry.Name] = true
		}
	}
	switch {
	case found[streamWord]:
		return FormatDOC, nil
	case found[streamPowerPoint]:
		return FormatPPT, nil
	case found[streamWorkbook], found[streamBook]:
		return FormatXLS, nil
	}
	return FormatOLE2, nil
}

// oleEmbeddedPackage unwraps an OLE object whose payload is a zip package
// stored in a "Package" stream, as Office does for embedded workbooks and
// presentations.
func oleEmbeddedPackage(data []byte, limit int64) (out []byte, ok bool) {
	if !bytes.HasPrefix(data, sigOLE2) || len(data) < oleHeaderSize {
		return nil, false
	}
	defer func() {
		if recover() != nil {
			out, ok = nil, false
		}
	}()
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if len(entry.Path) != 0 || entry.Name != streamPackage {
			continue
		}
		b, err := readLimited(entry, limit, streamPackage)
		if err != nil || !bytes.HasPrefix(b, sigZip) {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

// ole2Parser reads legacy Office binaries. Document properties come from
// the SummaryInformation property sets; text is only extracted from
// PowerPoint, whose text atoms can be read without the format's layout
// tables.
type ole2Parser struct {
	text bool
}

func (p ole2Parser) Parse(ctx context.Context, in Leaf, c *Collector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PartError{Part: in.Prefix + "ole2", Err: fmt.Errorf("%w: compound file: %v", ErrMalformed, r)}
		}
	}()
	doc, err := mscfb.New(in.R)
	if err != nil {
		return &PartError{Part: in.Prefix + "ole2", Err: malformed("compound file", err)}
	}

	props := msoleps.New()
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(entry.Path) != 0 {
			continue
		}
		switch {
		case in.TopLevel && msoleps.IsMSOLEPS(entry.Initial):
			if err := props.Reset(entry); err != nil {
				c.Fail(in.Prefix+entry.Name, malformed(entry.Name, err))
				continue
			}
			oleProps(props, c)
		case p.text && entry.Name == streamPowerPoint:
			part := in.Prefix + streamPowerPoint
			data, err := readLimited(entry, in.MaxPartSize, part)
			if errors.Is(err, container.ErrPartTooLarge) {
				c.Fail(part, err)
				continue
			}
			if err != nil {
				c.Fail(part, malformed(part, err))
				continue
			}
			w := c.Begin(part)
			pptText(data, w)
			if err := w.Commit(); err != nil {
				return err
			}
		}
	}
	return nil
}

// olePropertyKeys maps SummaryInformation and DocumentSummaryInformation
// property names to metadata keys.
var olePropertyKeys = map[string]string{
	"title":        KeyTitle,
	"subject":      KeySubject,
	"author":       KeyAuthor,
	"comments":     KeyDescription,
	"lastauthor":   KeyLastModifiedBy,
	"revnumber":    KeyRevision,
	"appname":      KeyApplication,
	"createtime":   KeyCreated,
	"lastsavetime": KeyModified,
	"pagecount":    KeyPageCount,
	"slides":       KeyPageCount,
	"wordcount":    KeyWordCount,
	"charcount":    KeyCharacterCount,
	"category":     KeyCategory,
	"company":      KeyCompany,
}

func oleProps(props *msoleps.Reader, c *Collector) {
	md := c.Meta()
	for _, prop := range props.Property {
		name := strings.ToLower(strings.ReplaceAll(prop.Name, " ", ""))
		value := strings.TrimRight(prop.String(), "\x00")
		if name == "keywords" {
			md.Add(KeyKeywords, splitKeywords(value)...)
			continue
		}
		key, ok := olePropertyKeys[name]
		if !ok {
			continue
		}
		if key == KeyCreated || key == KeyModified {
			value = normalizeDate(value)
		}
		md.Set(key, value)
	}
}

// PowerPoint record types.
const (
	pptTextCharsAtom = 0x0FA0 // UTF-16LE
	pptTextBytesAtom = 0x0FA8 // Windows-1252
	pptContainer     = 0x0F   // recVer of container records
	pptHeaderLen     = 8
)

// pptMasterPlaceholders are the prompt texts of master slides.
var pptMasterPlaceholders = []string{
	"Click to edit Master title style",
	"Click to edit Master text styles",
	"Click to edit Master subtitle style",
	"Second level",
	"Third level",
	"Fourth level",
	"Fifth level",
}

// pptText scans the PowerPoint Document stream for text atoms. Container
// records are entered by continuing after their header, so the scan is a
// single forward pass with no recursion.
func pptText(data []byte, w *PartWriter) {
	pos := 0
	for pos+pptHeaderLen <= len(data) {
		verInstance := binary.LittleEndian.Uint16(data[pos:])
		recType := binary.LittleEndian.Uint16(data[pos+2:])
		recLen := int(binary.LittleEndian.Uint32(data[pos+4:]))
		pos += pptHeaderLen
		if recLen < 0 || recLen > len(data)-pos {
			slog.Debug("ppt: record overruns stream", "offset", pos-pptHeaderLen, "type", recType)
			return
		}

		switch {
		case recType == pptTextCharsAtom:
			pptParagraphs(decodeUTF16LE(data[pos:pos+recLen]), w)
		case recType == pptTextBytesAtom:
			s, err := charmap.Windows1252.NewDecoder().Bytes(data[pos : pos+recLen])
			if err == nil {
				pptParagraphs(string(s), w)
			}
		case verInstance&0x0F == pptContainer:
			continue
		}
		pos += recLen
	}
}

// pptParagraphs splits a text atom on its paragraph marks (CR) and line
// breaks (VT).
func pptParagraphs(s string, w *PartWriter) {
	s = strings.ReplaceAll(s, "\v", "\n")
	for para := range strings.SplitSeq(s, "\r") {
		para = strings.TrimSpace(para)
		if para == "" || isMasterPlaceholder(para) {
			continue
		}
		w.Text(para)
	}
}

func isMasterPlaceholder(s string) bool {
	for _, p := range pptMasterPlaceholders {
		if s == p {
			return true
		}
	}
	return false
}

var utf16LEEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeUTF16LE decodes a text atom. An odd trailing byte is dropped and
// unpaired surrogates become U+FFFD.
func decodeUTF16LE(b []byte) string {
	s, err := utf16LEEncoding.NewDecoder().Bytes(b[:len(b)&^1])
	if err != nil {
		return ""
	}
	return string(s)
}
