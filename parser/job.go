package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/brunobiangulo/goextract/container"
)

// Options bounds one extraction.
type Options struct {
	// MaxDepth is the number of embedded-object levels descended into.
	MaxDepth int
	// MaxOutput caps the bytes of fragment text. Zero means no cap.
	MaxOutput int64
	// MaxPartSize caps the decompressed size of any single part.
	MaxPartSize int64
	// Recognizer enables OCR of embedded images when non-nil.
	Recognizer Recognizer
	Logger     *slog.Logger
}

// Run extracts the input described by det, which must come from Detect on
// the same ra. It returns the collector even when it fails with a resource
// limit, so callers can keep what was produced up to that point. Any other
// error is fatal and the collector is nil.
func Run(ctx context.Context, reg *Registry, ra io.ReaderAt, size int64, det Detection, opts Options) (*Collector, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	entry, err := reg.Lookup(det.Format)
	if err != nil {
		return nil, err
	}

	c := NewCollector(opts.MaxOutput)
	c.Meta().Set(KeyContentType, det.MIMEType)

	j := &job{reg: reg, opts: opts, c: c, ocr: NewRecognition(opts.Recognizer)}
	switch {
	case entry.Leaf != nil:
		err = entry.Leaf.Parse(ctx, Leaf{R: ra, Size: size, TopLevel: true, OCR: j.ocr, MaxPartSize: opts.MaxPartSize}, c)
	case entry.NewDialect != nil:
		err = j.runPackage(ctx, ra, size, det, entry)
	}
	if err != nil {
		if isLimit(err) {
			return c, err
		}
		return nil, err
	}
	return c, nil
}

// isLimit reports whether err ends the extraction with a partial result.
func isLimit(err error) bool {
	return errors.Is(err, ErrOutputLimit) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

type job struct {
	reg  *Registry
	opts Options
	c    *Collector
	ocr  *Recognition

	// dialects and mains are indexed like the traversal's package arena.
	dialects []PackageDialect
	mains    []string
}

func (j *job) runPackage(ctx context.Context, ra io.ReaderAt, size int64, det Detection, entry Entry) error {
	pkg, err := j.openPackage(ra, size, "", det)
	if err != nil {
		return err
	}
	defer j.closeDialects()

	d := entry.NewDialect()
	j.dialects = append(j.dialects, d)
	layout, err := d.Roots(pkg)
	if err != nil {
		return &PartError{Part: layout.Main, Err: err}
	}
	j.mains = append(j.mains, layout.Main)
	for _, p := range pkg.Problems() {
		j.c.Fail(pkg.ID(p.Part), p.Err)
	}
	if entry.Caps.Metadata {
		d.Metadata(pkg, j.c)
	}

	tr := container.NewTraversal(pkg, layout.Roots, d.Follow, j.opts.MaxDepth)
	for v := range tr.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.visit(ctx, tr, v); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// openPackage indexes a zip package for extraction. The index built by
// Detect is reused for the top-level input.
func (j *job) openPackage(ra io.ReaderAt, size int64, prefix string, det Detection) (*container.Package, error) {
	opts := container.Options{MaxPartSize: j.opts.MaxPartSize, MaxStructureSize: maxStructureSize}
	if det.pkg != nil && prefix == "" {
		if _, n := det.pkg.Source(); n == size {
			return det.pkg.WithOptions(opts), nil
		}
	}
	return container.Open(ra, size, prefix, opts)
}

func (j *job) closeDialects() {
	for _, d := range j.dialects {
		if err := d.Close(); err != nil {
			slog.Debug("closing dialect", "error", err)
		}
	}
}

// visit processes one traversal step. Only fatal and limit errors are
// returned; part failures are recorded on the collector.
func (j *job) visit(ctx context.Context, tr *container.Traversal, v container.Visit) error {
	pkg := tr.Package(v.Pkg)
	id := pkg.ID(v.Part)

	if v.Placeholder {
		j.opts.Logger.Debug("embedded object beyond depth limit", "part", id, "depth", v.Depth)
		return j.c.Placeholder(id, fmt.Sprintf("[embedded object %s not extracted: depth limit %d]", path.Base(v.Part), tr.MaxDepth()))
	}
	if v.Embedded && v.Via != nil && (v.Via.Is("package") || v.Via.Is("oleObject")) {
		return j.payload(ctx, tr, v)
	}

	data, err := pkg.Read(v.Part)
	if err == nil {
		w := j.c.Begin(id)
		part := &Part{Name: v.Part, ID: id, Data: data, Pkg: pkg, Visit: v, Out: w, c: j.c, ocr: j.ocr}
		if err = j.dialects[v.Pkg].Extract(ctx, part); err == nil {
			return w.Commit()
		}
		w.Discard()
	}

	if isLimit(err) {
		return err
	}
	if v.Pkg == 0 && v.Part == j.mains[0] {
		return &PartError{Part: id, Err: err}
	}
	j.opts.Logger.Debug("part failed", "part", id, "error", err)
	j.c.Fail(id, err)
	return nil
}

// payload handles an embedded binary object: a nested package joins the
// traversal, a leaf format is parsed in place, anything else is skipped.
func (j *job) payload(ctx context.Context, tr *container.Traversal, v container.Visit) error {
	pkg := tr.Package(v.Pkg)
	id := pkg.ID(v.Part)

	data, err := pkg.Read(v.Part)
	if err != nil {
		j.c.Fail(id, err)
		return nil
	}
	if inner, ok := oleEmbeddedPackage(data, j.opts.MaxPartSize); ok {
		data = inner
	}

	r := bytes.NewReader(data)
	det, err := Detect(r, int64(len(data)), path.Ext(v.Part))
	if err != nil {
		j.opts.Logger.Debug("skipping embedded object", "part", id, "error", err)
		return nil
	}
	entry, err := j.reg.Lookup(det.Format)
	if err != nil || (entry.Leaf == nil && entry.NewDialect == nil) {
		j.opts.Logger.Debug("skipping embedded object", "part", id, "format", det.Format)
		return nil
	}

	if entry.Leaf != nil {
		err := entry.Leaf.Parse(ctx, Leaf{R: r, Size: int64(len(data)), Prefix: id + "!", OCR: j.ocr, MaxPartSize: j.opts.MaxPartSize}, j.c)
		if err != nil {
			if isLimit(err) {
				return err
			}
			j.c.Fail(id, err)
		}
		return nil
	}

	nested, err := j.openPackage(r, int64(len(data)), id+"!", Detection{})
	if err != nil {
		j.c.Fail(id, err)
		return nil
	}
	d := entry.NewDialect()
	layout, err := d.Roots(nested)
	if err != nil {
		d.Close()
		j.c.Fail(nested.ID(layout.Main), err)
		return nil
	}
	for _, p := range nested.Problems() {
		j.c.Fail(nested.ID(p.Part), p.Err)
	}
	j.dialects = append(j.dialects, d)
	j.mains = append(j.mains, layout.Main)
	tr.Embed(v, nested, layout.Roots, d.Follow)
	j.opts.Logger.Debug("embedded package", "part", id, "format", det.Format, "roots", len(layout.Roots))
	return nil
}
