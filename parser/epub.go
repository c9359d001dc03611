package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/brunobiangulo/goextract/container"
)

const (
	epubContainer = "META-INF/container.xml"
	relSpineItem  = "http://www.idpf.org/2007/opf/spine-item"
)

// epubDialect extracts the spine of an EPUB publication in reading order.
// The container and package documents are parsed by goreader; each spine
// item is one part.
type epubDialect struct {
	book *epub.Rootfile
}

func newEPUB() PackageDialect { return &epubDialect{} }

func (d *epubDialect) Roots(pkg *container.Package) (Layout, error) {
	layout := Layout{Main: epubContainer}
	ra, size := pkg.Source()
	r, err := epub.NewReader(ra, size)
	if err != nil {
		return layout, malformed("epub container", err)
	}
	if len(r.Rootfiles) == 0 {
		return layout, fmt.Errorf("%w: no rootfiles in epub", ErrMalformed)
	}
	d.book = r.Rootfiles[0]

	base := path.Dir(d.book.FullPath)
	seen := make(map[string]bool)
	for i, ref := range d.book.Spine.Itemrefs {
		if ref.Item == nil || ref.Item.HREF == "" {
			continue
		}
		href := ref.Item.HREF
		if u, err := url.PathUnescape(href); err == nil {
			href = u
		}
		name := path.Join(base, href)
		if seen[name] || !pkg.Has(name) {
			continue
		}
		seen[name] = true
		pkg.Relate(container.Relationship{
			Source: d.book.FullPath,
			ID:     "spine" + strconv.Itoa(i+1),
			Type:   relSpineItem,
			Target: name,
		})
		layout.Roots = append(layout.Roots, name)
	}
	return layout, nil
}

// Follow never descends: spine items are all roots already.
func (d *epubDialect) Follow(container.Relationship) container.Step { return container.Skip }

func (d *epubDialect) Extract(ctx context.Context, p *Part) error {
	return walkXHTML(p.Data, p.Out)
}

func (d *epubDialect) Metadata(pkg *container.Package, c *Collector) {
	if d.book == nil {
		return
	}
	m := d.book.Metadata
	md := c.Meta()
	md.Set(KeyTitle, m.Title)
	md.Set(KeyAuthor, m.Creator)
	md.Set(KeyLanguage, m.Language)
	md.Set(KeyPublisher, m.Publisher)
	md.Set(KeySubject, m.Subject)
	md.Set(KeyDescription, m.Description)
}

func (d *epubDialect) Close() error { return nil }

// htmlBlocks start a new fragment.
var htmlBlocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Dt: true, atom.Dd: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Caption: true, atom.Figcaption: true,
	atom.Section: true, atom.Article: true, atom.Aside: true, atom.Header: true,
	atom.Footer: true, atom.Nav: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
	atom.Dl: true, atom.Hr: true, atom.Address: true,
}

var htmlSkip = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Template: true,
	atom.Noscript: true, atom.Svg: true, atom.Math: true,
}

// walkXHTML emits one fragment per block of an XHTML document and one
// tab-joined fragment per table row.
func walkXHTML(data []byte, out *PartWriter) error {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return malformed("xhtml", err)
	}
	w := &htmlWalker{out: out}
	w.walk(doc)
	w.flush()
	return nil
}

type htmlWalker struct {
	out *PartWriter
	b   strings.Builder
	pre int
}

func (w *htmlWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		if htmlSkip[n.DataAtom] {
			return
		}
		switch n.DataAtom {
		case atom.Br:
			w.b.WriteByte('\n')
			return
		case atom.Tr:
			w.flush()
			w.row(n)
			return
		}
	}

	block := n.Type == html.ElementNode && htmlBlocks[n.DataAtom]
	if block {
		w.flush()
	}
	if n.DataAtom == atom.Pre {
		w.pre++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if n.DataAtom == atom.Pre {
		w.pre--
	}
	if block {
		w.flush()
	}
}

func (w *htmlWalker) text(s string) {
	if w.pre > 0 {
		w.b.WriteString(s)
		return
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" && w.b.Len() > 0 {
			w.b.WriteByte(' ')
		}
		return
	}
	if startsWithSpace(s) && w.b.Len() > 0 {
		w.b.WriteByte(' ')
	}
	w.b.WriteString(strings.Join(fields, " "))
	if endsWithSpace(s) {
		w.b.WriteByte(' ')
	}
}

// row renders the cells of a table row through a nested walker each.
func (w *htmlWalker) row(tr *html.Node) {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		cw := &htmlWalker{}
		for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
			cw.inline(gc)
		}
		cells = append(cells, strings.Join(strings.Fields(cw.b.String()), " "))
	}
	line := strings.Join(cells, "\t")
	if strings.TrimSpace(line) != "" {
		w.out.Text(line)
	}
}

// inline collects the text of a subtree ignoring block structure.
func (w *htmlWalker) inline(n *html.Node) {
	switch {
	case n.Type == html.TextNode:
		w.b.WriteString(n.Data)
		w.b.WriteByte(' ')
		return
	case n.Type == html.ElementNode && htmlSkip[n.DataAtom]:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.inline(c)
	}
}

func (w *htmlWalker) flush() {
	s := strings.TrimSpace(w.b.String())
	w.b.Reset()
	if s != "" {
		w.out.Text(s)
	}
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s[:1], " \t\r\n\f") == ""
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s[len(s)-1:], " \t\r\n\f") == ""
}
