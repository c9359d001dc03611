package parser

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/brunobiangulo/goextract/container"
)

const (
	odfManifest = "META-INF/manifest.xml"
	odfContent  = "content.xml"
	odfMeta     = "meta.xml"

	// relObject links a document to an embedded sub-document listed in the
	// manifest. ODF has no relationship parts; the dialect declares these.
	relObject = "urn:oasis:names:tc:opendocument:xmlns:manifest:1.0/object"

	// maxRepeat caps table:number-columns-repeated so that a styled run of
	// empty cells to the end of the sheet does not expand.
	maxRepeat = 256
)

type odfManifestXML struct {
	Entries []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"file-entry"`
}

// readManifest returns the manifest entries of an ODF package, or false
// when the package has none or it cannot be parsed.
func readManifest(pkg *container.Package) (odfManifestXML, bool) {
	var m odfManifestXML
	if !pkg.Has(odfManifest) {
		return m, false
	}
	data, err := pkg.Read(odfManifest)
	if err != nil {
		return m, false
	}
	if err := container.NewDecoder(data).Decode(&m); err != nil {
		return m, false
	}
	return m, true
}

// odfManifestFormat identifies an ODF package that lacks the mimetype entry
// by the media type its manifest declares for the root.
func odfManifestFormat(pkg *container.Package) (Format, bool) {
	m, ok := readManifest(pkg)
	if !ok || !pkg.Has(odfContent) {
		return "", false
	}
	for _, e := range m.Entries {
		if e.FullPath != "/" {
			continue
		}
		f, ok := packageMIMETypes[e.MediaType]
		if ok && f != FormatEPUB {
			return f, true
		}
	}
	return "", false
}

// odfDialect extracts OpenDocument text, spreadsheets and presentations.
// content.xml is the single root; embedded objects listed in the manifest
// are declared as relationships and descended into.
type odfDialect struct {
	format Format
}

func newODF() PackageDialect { return &odfDialect{} }

func (d *odfDialect) Roots(pkg *container.Package) (Layout, error) {
	if !pkg.Has(odfContent) {
		return Layout{Main: odfContent}, container.ErrPartNotFound
	}
	d.format = DetectPackage(pkg)

	m, ok := readManifest(pkg)
	if !ok {
		return Layout{Main: odfContent, Roots: []string{odfContent}}, nil
	}
	var dirs []string
	for _, e := range m.Entries {
		dir := strings.TrimPrefix(e.FullPath, "./")
		if dir == "/" || !strings.HasSuffix(dir, "/") || !strings.HasPrefix(e.MediaType, "application/vnd.oasis.opendocument.") {
			continue
		}
		if pkg.Has(dir + odfContent) {
			dirs = append(dirs, dir)
		}
	}
	for i, dir := range dirs {
		// An object nested in another object hangs off the innermost
		// enclosing one.
		source := odfContent
		best := ""
		for _, other := range dirs {
			if other != dir && strings.HasPrefix(dir, other) && len(other) > len(best) {
				best = other
			}
		}
		if best != "" {
			source = best + odfContent
		}
		pkg.Relate(container.Relationship{
			Source: source,
			ID:     "obj" + strconv.Itoa(i+1),
			Type:   relObject,
			Target: dir + odfContent,
		})
	}
	return Layout{Main: odfContent, Roots: []string{odfContent}}, nil
}

func (d *odfDialect) Follow(rel container.Relationship) container.Step {
	if rel.Type == relObject {
		return container.Descend
	}
	return container.Skip
}

func (d *odfDialect) Extract(ctx context.Context, p *Part) error {
	return walkODF(p.Data, p.Out)
}

type odfMetaXML struct {
	Meta struct {
		Title          string   `xml:"title"`
		Description    string   `xml:"description"`
		Subject        string   `xml:"subject"`
		Keywords       []string `xml:"keyword"`
		InitialCreator string   `xml:"initial-creator"`
		Creator        string   `xml:"creator"`
		CreationDate   string   `xml:"creation-date"`
		Date           string   `xml:"date"`
		Language       string   `xml:"language"`
		Generator      string   `xml:"generator"`
		EditingCycles  string   `xml:"editing-cycles"`
		Statistic      struct {
			PageCount      string `xml:"page-count,attr"`
			TableCount     string `xml:"table-count,attr"`
			WordCount      string `xml:"word-count,attr"`
			CharacterCount string `xml:"character-count,attr"`
		} `xml:"document-statistic"`
		UserDefined []struct {
			Name  string `xml:"name,attr"`
			Type  string `xml:"value-type,attr"`
			Value string `xml:",chardata"`
		} `xml:"user-defined"`
	} `xml:"meta"`
}

func (d *odfDialect) Metadata(pkg *container.Package, c *Collector) {
	md := c.Meta()
	if pkg.Has(odfMeta) {
		var mx odfMetaXML
		if decodePart(pkg, odfMeta, &mx, c) {
			m := mx.Meta
			md.Set(KeyTitle, m.Title)
			md.Set(KeySubject, m.Subject)
			author := m.InitialCreator
			if author == "" {
				author = m.Creator
			}
			md.Set(KeyAuthor, author)
			md.Add(KeyKeywords, m.Keywords...)
			md.Set(KeyDescription, m.Description)
			md.Set(KeyLanguage, m.Language)
			md.Set(KeyLastModifiedBy, m.Creator)
			md.Set(KeyRevision, m.EditingCycles)
			md.Set(KeyCreated, normalizeDate(m.CreationDate))
			md.Set(KeyModified, normalizeDate(m.Date))
			md.Set(KeyApplication, m.Generator)
			md.Set(KeyWordCount, m.Statistic.WordCount)
			md.Set(KeyCharacterCount, m.Statistic.CharacterCount)
			switch d.format {
			case FormatODT:
				md.Set(KeyPageCount, m.Statistic.PageCount)
			case FormatODS:
				md.Set(KeyPageCount, m.Statistic.TableCount)
			}
			for _, u := range m.UserDefined {
				if u.Name == "" {
					continue
				}
				if u.Type == "date" {
					md.Set(CustomPrefix+u.Name, normalizeDate(u.Value))
					continue
				}
				md.Set(CustomPrefix+u.Name, u.Value)
			}
		}
	}

	// Presentations carry no slide statistic; spreadsheets only sometimes
	// carry a table count.
	if md.Has(KeyPageCount) || (d.format != FormatODP && d.format != FormatODS) {
		return
	}
	data, err := pkg.Read(odfContent)
	if err != nil {
		return
	}
	if n, err := countODFPages(data, d.format); err == nil {
		md.Set(KeyPageCount, strconv.Itoa(n))
	}
}

func (d *odfDialect) Close() error { return nil }

// countODFPages counts the slides (draw:page) of a presentation or the
// sheets (top-level table:table) of a spreadsheet body.
func countODFPages(data []byte, f Format) (int, error) {
	dec := container.NewDecoder(data)
	var (
		n     int
		depth int
		body  int // depth of office:presentation or office:spreadsheet
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "presentation", "spreadsheet":
				if body == 0 {
					body = depth
				}
			case "page":
				if f == FormatODP && body > 0 && depth == body+1 {
					n++
				}
			case "table":
				if f == FormatODS && body > 0 && depth == body+1 {
					n++
				}
			}
		case xml.EndElement:
			if depth == body {
				body = 0
			}
			depth--
		}
	}
}

// odfSkip are subtrees without document text: note markers, revision
// history and declarations.
var odfSkip = map[string]bool{
	"note-citation":   true,
	"tracked-changes": true,
	"change-info":     true,
	"sequence-decls":  true,
}

const nsDublinCore = "http://purl.org/dc/elements/1.1/"

// odfWalker is the OpenDocument counterpart of flowWalker: paragraphs and
// headings become fragments, table rows become tab-joined fragments.
type odfWalker struct {
	out   *PartWriter
	depth int
	skip  int
	paras []*flowPara
	rows  []*odfRow
}

type odfRow struct {
	depth int
	cells []string
	open  bool
	first int // index of the open cell; later cells are its repeats
}

func (r *odfRow) repeatFrom(i int) { r.first = i }

func (r *odfRow) closeCell() {
	for i := r.first + 1; i < len(r.cells); i++ {
		r.cells[i] = r.cells[r.first]
	}
	r.open = false
}

// walkODF extracts the text of an ODF content part.
func walkODF(data []byte, out *PartWriter) error {
	w := &odfWalker{out: out}
	dec := container.NewDecoder(data)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return malformed("xml", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t)
		case xml.EndElement:
			w.end(t)
		case xml.CharData:
			if w.skip == 0 {
				w.write(string(t))
			}
		}
	}
	if w.depth != 0 {
		return malformed("xml", io.ErrUnexpectedEOF)
	}
	return nil
}

func (w *odfWalker) start(se xml.StartElement) {
	w.depth++
	if w.skip > 0 {
		return
	}
	local := se.Name.Local
	switch {
	case odfSkip[local],
		(local == "title" || local == "desc") && strings.Contains(se.Name.Space, "svg"),
		(local == "creator" || local == "date") && se.Name.Space == nsDublinCore:
		// Annotation bylines and image captions.
		w.skip = w.depth
		return
	}

	switch local {
	case "p", "h":
		w.paras = append(w.paras, &flowPara{depth: w.depth})
	case "table-row":
		w.rows = append(w.rows, &odfRow{depth: w.depth})
	case "table-cell", "covered-table-cell":
		if r := w.row(); r != nil {
			n := 1
			if v, err := strconv.Atoi(attr(se, "number-columns-repeated")); err == nil && v > 1 {
				n = min(v, maxRepeat)
			}
			for range n {
				r.cells = append(r.cells, "")
			}
			// Repeats share the content of the first cell; the text is
			// copied when the cell closes.
			r.open = true
			r.repeatFrom(len(r.cells) - n)
		}
	case "s":
		n := 1
		if v, err := strconv.Atoi(attr(se, "c")); err == nil && v > 1 {
			n = min(v, maxRepeat)
		}
		w.write(strings.Repeat(" ", n))
	case "tab":
		w.write("\t")
	case "line-break":
		w.write("\n")
	}
}

func (w *odfWalker) end(ee xml.EndElement) {
	depth := w.depth
	w.depth--
	if w.skip > 0 {
		if depth == w.skip {
			w.skip = 0
		}
		return
	}

	switch ee.Name.Local {
	case "p", "h":
		if n := len(w.paras); n > 0 && w.paras[n-1].depth == depth {
			p := w.paras[n-1]
			w.paras = w.paras[:n-1]
			w.paragraph(p)
		}
	case "table-cell", "covered-table-cell":
		if r := w.row(); r != nil && r.open {
			r.closeCell()
		}
	case "table-row":
		if n := len(w.rows); n > 0 && w.rows[n-1].depth == depth {
			r := w.rows[n-1]
			w.rows = w.rows[:n-1]
			cells := r.cells
			for len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
				cells = cells[:len(cells)-1]
			}
			for i := range cells {
				cells[i] = strings.TrimSpace(cells[i])
			}
			if len(cells) > 0 {
				w.out.Text(strings.Join(cells, "\t"))
			}
		}
	}
}

func (w *odfWalker) paragraph(p *flowPara) {
	text := strings.TrimRight(p.b.String(), " \t\n")
	if r := w.row(); r != nil && r.open && r.depth < p.depth && len(r.cells) > 0 {
		i := r.first
		if r.cells[i] != "" && text != "" {
			r.cells[i] += " "
		}
		r.cells[i] += text
		return
	}
	w.out.Text(text)
}

func (w *odfWalker) row() *odfRow {
	if len(w.rows) == 0 {
		return nil
	}
	return w.rows[len(w.rows)-1]
}

// write appends to the innermost open paragraph. Text outside paragraphs
// (spreadsheet formulas, frame names) is dropped.
func (w *odfWalker) write(s string) {
	if n := len(w.paras); n > 0 {
		w.paras[n-1].b.WriteString(s)
	}
}
