package parser

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/brunobiangulo/goextract/container"
)

// pptxDialect extracts PresentationML: slides in presentation order, each
// followed by its notes, with diagrams, charts and embedded objects
// descended into from the slide that references them.
type pptxDialect struct {
	pkg    *container.Package
	slides int
}

func newPPTX() PackageDialect { return &pptxDialect{} }

func (d *pptxDialect) Roots(pkg *container.Package) (Layout, error) {
	d.pkg = pkg
	main, err := opcMain(pkg, "ppt/presentation.xml")
	if err != nil {
		return Layout{Main: main}, err
	}
	data, err := pkg.Read(main)
	if err != nil {
		return Layout{Main: main}, err
	}
	ids, err := scanRelElements(data, "sldId")
	if err != nil {
		return Layout{Main: main}, malformed(main, err)
	}

	var slides []string
	for _, el := range ids {
		if r, ok := pkg.Rel(main, el.RelID); ok && r.Is("slide") && pkg.Has(r.Target) {
			slides = append(slides, r.Target)
		}
	}
	if len(slides) == 0 {
		slides = slidesByNumber(pkg, main)
		slog.Debug("pptx: no slide list, ordering slides by name", "slides", len(slides))
	}
	d.slides = len(slides)

	layout := Layout{Main: main}
	for _, s := range slides {
		layout.Roots = append(layout.Roots, s)
		for _, n := range pkg.RelsOfType(s, "notesSlide") {
			if pkg.Has(n.Target) {
				layout.Roots = append(layout.Roots, n.Target)
			}
		}
	}
	return layout, nil
}

func (d *pptxDialect) Follow(rel container.Relationship) container.Step {
	switch {
	case rel.Is("diagramData"), rel.Is("chart"), rel.Is("oleObject"):
		return container.Descend
	case rel.Is("package"):
		// A chart's embedded workbook only holds the chart's own data.
		if isChartPart(d.pkg, rel.Source) {
			return container.Skip
		}
		return container.Descend
	}
	return container.Skip
}

func (d *pptxDialect) Extract(ctx context.Context, p *Part) error {
	switch {
	case p.ReachedBy("diagramData"):
		return walkDiagram(p.Data, p.Out)
	case p.ReachedBy("chart"):
		return walkChart(p.Data, p.Out)
	}
	return walkFlow(p.Data, p.Out, func(id string) { p.Image(ctx, id) })
}

func (d *pptxDialect) Metadata(pkg *container.Package, c *Collector) {
	opcProps(pkg, c, "")
	c.Meta().Set(KeyPageCount, strconv.Itoa(d.slides))
}

func (d *pptxDialect) Close() error { return nil }

// slidesByNumber orders the slides of a presentation without a usable
// p:sldIdLst by the number in their part names.
func slidesByNumber(pkg *container.Package, main string) []string {
	var slides []string
	for _, r := range pkg.RelsOfType(main, "slide") {
		if pkg.Has(r.Target) {
			slides = append(slides, r.Target)
		}
	}
	if len(slides) == 0 {
		for _, name := range pkg.Names() {
			if strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml") {
				slides = append(slides, name)
			}
		}
	}
	sort.SliceStable(slides, func(i, j int) bool {
		return extractSlideNumber(slides[i]) < extractSlideNumber(slides[j])
	})
	return slides
}

func extractSlideNumber(name string) int {
	// "ppt/slides/slide12.xml" -> 12
	name = strings.TrimPrefix(path.Base(name), "slide")
	name = strings.TrimSuffix(name, ".xml")
	var num int
	fmt.Sscanf(name, "%d", &num)
	return num
}

func isChartPart(pkg *container.Package, name string) bool {
	if pkg == nil {
		return false
	}
	return strings.HasSuffix(pkg.ContentType(name), "drawingml.chart+xml")
}
