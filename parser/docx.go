package parser

import (
	"context"

	"github.com/brunobiangulo/goextract/container"
)

// docxStories are the relationship kinds, besides the main document, whose
// targets hold document text. They are visited in relationship order.
var docxStories = map[string]bool{
	"header":    true,
	"footer":    true,
	"footnotes": true,
	"endnotes":  true,
	"comments":  true,
}

// docxDialect extracts WordprocessingML: the main document body, then
// headers, footers, notes and comments.
type docxDialect struct {
	pkg *container.Package
}

func newDOCX() PackageDialect { return &docxDialect{} }

func (d *docxDialect) Roots(pkg *container.Package) (Layout, error) {
	d.pkg = pkg
	main, err := opcMain(pkg, "word/document.xml")
	if err != nil {
		return Layout{Main: main}, err
	}

	layout := Layout{Main: main, Roots: []string{main}}
	seen := map[string]bool{main: true}
	for _, r := range pkg.Rels(main) {
		if r.External || seen[r.Target] || !docxStories[r.Kind()] || !pkg.Has(r.Target) {
			continue
		}
		seen[r.Target] = true
		layout.Roots = append(layout.Roots, r.Target)
	}
	return layout, nil
}

func (d *docxDialect) Follow(rel container.Relationship) container.Step {
	switch {
	case rel.Is("diagramData"), rel.Is("chart"), rel.Is("oleObject"):
		return container.Descend
	case rel.Is("package"):
		if isChartPart(d.pkg, rel.Source) {
			return container.Skip
		}
		return container.Descend
	}
	return container.Skip
}

func (d *docxDialect) Extract(ctx context.Context, p *Part) error {
	switch {
	case p.ReachedBy("diagramData"):
		return walkDiagram(p.Data, p.Out)
	case p.ReachedBy("chart"):
		return walkChart(p.Data, p.Out)
	}
	return walkFlow(p.Data, p.Out, func(id string) { p.Image(ctx, id) })
}

func (d *docxDialect) Metadata(pkg *container.Package, c *Collector) {
	opcProps(pkg, c, "Pages")
}

func (d *docxDialect) Close() error { return nil }
