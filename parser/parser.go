package parser

import (
	"context"
	"fmt"
	"io"

	"github.com/brunobiangulo/goextract/container"
)

// Layout names the entry points of a package.
type Layout struct {
	// Main is the part whose failure is fatal. It may be absent from Roots
	// when it is consumed while computing them (a workbook, a presentation).
	Main string
	// Roots are visited in order; each is expanded breadth-first before
	// the next starts.
	Roots []string
}

// PackageDialect extracts one zip-based document type. A dialect value is
// created per package and may keep state between its calls (shared string
// tables, slide lists).
type PackageDialect interface {
	// Roots reads the main part and returns the traversal layout. An error
	// is fatal for the package.
	Roots(pkg *container.Package) (Layout, error)
	// Follow classifies the outgoing relationships of a visited part.
	Follow(rel container.Relationship) container.Step
	// Extract writes the fragments of one visited part to p.Out. An error
	// discards them and marks the part failed.
	Extract(ctx context.Context, p *Part) error
	// Metadata adds document properties. Failures are reported on c and
	// never stop the extraction.
	Metadata(pkg *container.Package, c *Collector)
	Close() error
}

// LeafParser extracts a format that is not a zip package (PDF, OLE2, plain
// text). It emits its own parts through the collector.
type LeafParser interface {
	Parse(ctx context.Context, in Leaf, c *Collector) error
}

// Leaf is the input of a LeafParser.
type Leaf struct {
	R    io.ReaderAt
	Size int64
	// Prefix is prepended to every part identifier the parser emits.
	Prefix string
	// TopLevel is set for the extraction's own input; embedded leaves do
	// not contribute metadata.
	TopLevel bool
	OCR      *Recognition
	// MaxPartSize caps any single stream or decoded body the parser
	// buffers. Zero disables the check.
	MaxPartSize int64
}

// Part is one visited package part handed to a dialect.
type Part struct {
	Name  string
	ID    string
	Data  []byte
	Pkg   *container.Package
	Visit container.Visit
	Out   *PartWriter

	c   *Collector
	ocr *Recognition
}

// ContentType returns the declared content type of the part.
func (p *Part) ContentType() string { return p.Pkg.ContentType(p.Name) }

// ReachedBy reports whether the part was reached through a relationship
// of the given kind.
func (p *Part) ReachedBy(kind string) bool {
	return p.Visit.Via != nil && p.Visit.Via.Is(kind)
}

// Report records a recoverable failure of another part, such as a shared
// resource the current part depends on.
func (p *Part) Report(part string, err error) {
	if p.c != nil {
		p.c.Fail(part, err)
	}
}

// Image hands the image referenced by relID to the OCR recognizer, if one
// is configured, and adds any recognized text to the part.
func (p *Part) Image(ctx context.Context, relID string) {
	if p.ocr == nil {
		return
	}
	rel, ok := p.Pkg.Rel(p.Name, relID)
	if !ok || rel.External {
		return
	}
	p.ocr.recognizePart(ctx, p.Pkg, rel.Target, p.Out)
}

// readLimited reads r to the end, failing with container.ErrPartTooLarge
// once more than limit bytes arrive. A zero limit reads everything.
func readLimited(r io.Reader, limit int64, part string) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", container.ErrPartTooLarge, part)
	}
	return data, nil
}
