package parser

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/goextract/container"
)

// Grid bounds of SpreadsheetML.
const (
	maxSheetRows = 1048576
	maxSheetCols = 16384
)

// xlsxDialect extracts SpreadsheetML: worksheets in workbook order, cells
// row-major, one fragment per row. Shared strings and styles are loaded on
// first use.
type xlsxDialect struct {
	pkg      *container.Package
	sheets   []xlsxSheet
	names    map[string]string
	date1904 bool

	sstPart  string
	sst      []string
	sstOK    bool
	sstDone  bool
	stylesAt string
	styles   *xlsxStyles

	book     *excelize.File
	bookDone bool
}

type xlsxSheet struct {
	name string
	part string
}

func newXLSX() PackageDialect { return &xlsxDialect{names: make(map[string]string)} }

func (d *xlsxDialect) Roots(pkg *container.Package) (Layout, error) {
	d.pkg = pkg
	main, err := opcMain(pkg, "xl/workbook.xml")
	if err != nil {
		return Layout{Main: main}, err
	}
	data, err := pkg.Read(main)
	if err != nil {
		return Layout{Main: main}, err
	}
	els, date1904, err := parseWorkbook(data)
	if err != nil {
		return Layout{Main: main}, malformed(main, err)
	}
	d.date1904 = date1904

	for _, el := range els {
		r, ok := pkg.Rel(main, el.RelID)
		if !ok || !(r.Is("worksheet") || r.Is("chartsheet")) || !pkg.Has(r.Target) {
			continue
		}
		d.sheets = append(d.sheets, xlsxSheet{name: el.Attrs["name"], part: r.Target})
		d.names[r.Target] = el.Attrs["name"]
	}
	if len(els) == 0 {
		for _, r := range pkg.RelsOfType(main, "worksheet") {
			if pkg.Has(r.Target) {
				d.sheets = append(d.sheets, xlsxSheet{part: r.Target})
			}
		}
	}

	d.sstPart = firstTarget(pkg, main, "sharedStrings", "xl/sharedStrings.xml")
	d.stylesAt = firstTarget(pkg, main, "styles", "xl/styles.xml")

	layout := Layout{Main: main}
	for _, s := range d.sheets {
		layout.Roots = append(layout.Roots, s.part)
	}
	return layout, nil
}

func (d *xlsxDialect) Follow(rel container.Relationship) container.Step {
	switch {
	case rel.Is("drawing"):
		return container.Inline
	case rel.Is("chart"), rel.Is("diagramData"), rel.Is("oleObject"):
		return container.Descend
	case rel.Is("package"):
		if isChartPart(d.pkg, rel.Source) {
			return container.Skip
		}
		return container.Descend
	}
	return container.Skip
}

func (d *xlsxDialect) Extract(ctx context.Context, p *Part) error {
	switch {
	case p.ReachedBy("chart"):
		return walkChart(p.Data, p.Out)
	case p.ReachedBy("diagramData"):
		return walkDiagram(p.Data, p.Out)
	case p.ReachedBy("drawing"):
		return walkFlow(p.Data, p.Out, func(id string) { p.Image(ctx, id) })
	}
	return d.sheet(p)
}

func (d *xlsxDialect) Metadata(pkg *container.Package, c *Collector) {
	opcProps(pkg, c, "")
	md := c.Meta()
	md.Set(KeyPageCount, strconv.Itoa(len(d.sheets)))
	for _, s := range d.sheets {
		md.Add(KeySheetNames, s.name)
	}
}

func (d *xlsxDialect) Close() error {
	if d.book != nil {
		return d.book.Close()
	}
	return nil
}

func firstTarget(pkg *container.Package, source, kind, fallback string) string {
	for _, r := range pkg.RelsOfType(source, kind) {
		if pkg.Has(r.Target) {
			return r.Target
		}
	}
	if pkg.Has(fallback) {
		return fallback
	}
	return ""
}

// parseWorkbook returns the sheet elements of workbook.xml in order and
// whether the workbook uses the 1904 date system.
func parseWorkbook(data []byte) ([]relElement, bool, error) {
	els, err := scanRelElements(data, "sheet")
	if err != nil {
		return nil, false, err
	}
	var date1904 bool
	dec := container.NewDecoder(data)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "workbookPr" {
			v := attr(se, "date1904")
			date1904 = v == "1" || strings.EqualFold(v, "true")
			break
		}
	}
	return els, date1904, nil
}

type xlsxCell struct {
	row, col int
	typ      string
	style    int
	value    strings.Builder
	inline   strings.Builder
}

type cellText struct {
	row, col int
	text     string
}

// sheet emits the populated cells of one worksheet.
func (d *xlsxDialect) sheet(p *Part) error {
	name := d.names[p.Name]
	dec := container.NewDecoder(p.Data)

	var (
		cells   []cellText
		cur     *xlsxCell
		row     int
		lastCol int
		inValue bool
		inText  bool
		inIS    bool
		skip    int
		depth   int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return malformed("worksheet", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if skip > 0 {
				continue
			}
			switch t.Name.Local {
			case "row":
				if r, err := strconv.Atoi(attr(t, "r")); err == nil {
					row = r
				} else {
					row++
				}
				lastCol = 0
			case "c":
				cur = &xlsxCell{row: row, col: lastCol + 1, typ: attr(t, "t")}
				if ref := attr(t, "r"); ref != "" {
					col, r, err := excelize.CellNameToCoordinates(ref)
					if err != nil {
						return malformed(fmt.Sprintf("cell reference %q", ref), err)
					}
					cur.col, cur.row = col, r
				}
				if cur.row < 1 || cur.row > maxSheetRows || cur.col < 1 || cur.col > maxSheetCols {
					return fmt.Errorf("%w: cell (%d,%d) outside the sheet grid", ErrMalformed, cur.row, cur.col)
				}
				if s := attr(t, "s"); s != "" {
					cur.style, _ = strconv.Atoi(s)
				}
				lastCol = cur.col
			case "v":
				inValue = cur != nil
			case "is":
				inIS = cur != nil
			case "t":
				inText = inIS
			case "rPh":
				skip = depth
			}
		case xml.EndElement:
			if skip > 0 {
				if depth == skip {
					skip = 0
				}
				depth--
				continue
			}
			depth--
			switch t.Name.Local {
			case "v":
				inValue = false
			case "t":
				inText = false
			case "is":
				inIS = false
			case "c":
				if cur == nil {
					continue
				}
				text, err := d.render(p, name, cur)
				if err != nil {
					return err
				}
				if strings.TrimSpace(text) != "" {
					cells = append(cells, cellText{row: cur.row, col: cur.col, text: text})
				}
				cur = nil
			}
		case xml.CharData:
			if skip > 0 || cur == nil {
				continue
			}
			switch {
			case inValue:
				cur.value.Write(t)
			case inText:
				cur.inline.Write(t)
			}
		}
	}

	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].row != cells[j].row {
			return cells[i].row < cells[j].row
		}
		return cells[i].col < cells[j].col
	})
	for i := 0; i < len(cells); {
		j := i
		var line []string
		for ; j < len(cells) && cells[j].row == cells[i].row; j++ {
			line = append(line, cells[j].text)
		}
		p.Out.Text(strings.Join(line, "\t"))
		i = j
	}
	return nil
}

// render returns the display text of a cell.
func (d *xlsxDialect) render(p *Part, sheet string, c *xlsxCell) (string, error) {
	v := strings.TrimSpace(c.value.String())
	switch c.typ {
	case "s":
		idx, err := strconv.Atoi(v)
		if err != nil {
			return "", malformed("shared string index", err)
		}
		sst, ok := d.sharedStrings(p)
		if !ok {
			return "", nil
		}
		if idx < 0 || idx >= len(sst) {
			return "", fmt.Errorf("%w: shared string index %d out of range (%d entries)", ErrMalformed, idx, len(sst))
		}
		return sst[idx], nil
	case "inlineStr":
		return c.inline.String(), nil
	case "str", "e", "d":
		return c.value.String(), nil
	case "b":
		if v == "1" || strings.EqualFold(v, "true") {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	if v == "" {
		return "", nil
	}
	return d.number(sheet, c, v), nil
}

// sharedStrings loads the shared string table on first use. When the table
// exists but cannot be read, one diagnostic is recorded and string cells
// render empty.
func (d *xlsxDialect) sharedStrings(p *Part) ([]string, bool) {
	if d.sstDone {
		return d.sst, d.sstOK
	}
	d.sstDone = true
	if d.sstPart == "" {
		d.sstOK = true
		return nil, true
	}
	data, err := d.pkg.Read(d.sstPart)
	if err == nil {
		d.sst, err = parseSharedStrings(data)
	}
	if err != nil {
		p.Report(d.pkg.ID(d.sstPart), err)
		return nil, false
	}
	d.sstOK = true
	return d.sst, true
}

// parseSharedStrings reads the si entries of a shared string table. Rich
// text runs are concatenated and phonetic runs dropped.
func parseSharedStrings(data []byte) ([]string, error) {
	dec := container.NewDecoder(data)
	var (
		out    []string
		cur    *strings.Builder
		inText bool
		inPh   bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, malformed("shared strings", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				cur = &strings.Builder{}
			case "t":
				inText = cur != nil && !inPh
			case "rPh":
				inPh = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				if cur != nil {
					out = append(out, cur.String())
					cur = nil
				}
			case "t":
				inText = false
			case "rPh":
				inPh = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
}

type xlsxStyles struct {
	codes map[int]string
	xfs   []int
}

type styleSheetXML struct {
	NumFmts []struct {
		ID   int    `xml:"numFmtId,attr"`
		Code string `xml:"formatCode,attr"`
	} `xml:"numFmts>numFmt"`
	CellXfs []struct {
		NumFmtID int `xml:"numFmtId,attr"`
	} `xml:"cellXfs>xf"`
}

// numFmt returns the number format id and custom code of a cell style.
func (d *xlsxDialect) numFmt(style int) (int, string) {
	if d.styles == nil {
		d.styles = &xlsxStyles{codes: make(map[int]string)}
		if d.stylesAt != "" {
			var ss styleSheetXML
			data, err := d.pkg.Read(d.stylesAt)
			if err == nil {
				err = container.NewDecoder(data).Decode(&ss)
			}
			if err != nil {
				slog.Debug("xlsx: styles unreadable, using General", "part", d.pkg.ID(d.stylesAt), "error", err)
			}
			for _, nf := range ss.NumFmts {
				d.styles.codes[nf.ID] = nf.Code
			}
			for _, xf := range ss.CellXfs {
				d.styles.xfs = append(d.styles.xfs, xf.NumFmtID)
			}
		}
	}
	if style < 0 || style >= len(d.styles.xfs) {
		return 0, ""
	}
	id := d.styles.xfs[style]
	return id, d.styles.codes[id]
}

// number renders a numeric cell as Excel would display it: through
// excelize on the whole workbook when it opens, else with the built-in
// renderer.
func (d *xlsxDialect) number(sheet string, c *xlsxCell, v string) string {
	id, code := d.numFmt(c.style)
	if id == 0 && (code == "" || strings.EqualFold(code, "General")) {
		return formatGeneral(v)
	}
	if book := d.workbook(); book != nil && sheet != "" {
		if ref, err := excelize.CoordinatesToCellName(c.col, c.row); err == nil {
			if s, err := book.GetCellValue(sheet, ref); err == nil && s != "" {
				return s
			}
		}
	}
	return renderNumber(v, id, code, d.date1904)
}

func (d *xlsxDialect) workbook() *excelize.File {
	if d.bookDone {
		return d.book
	}
	d.bookDone = true
	ra, size := d.pkg.Source()
	f, err := excelize.OpenReader(io.NewSectionReader(ra, 0, size), unzipLimits(d.pkg.Options().MaxPartSize))
	if err != nil {
		slog.Debug("xlsx: excelize could not open workbook, using built-in formats", "error", err)
		return nil
	}
	d.book = f
	return f
}

// unzipLimits keeps excelize within the part budget: worksheets larger than
// one part spill to disk, and the workbook as a whole may unpack to at most
// four parts' worth.
func unzipLimits(maxPart int64) excelize.Options {
	if maxPart <= 0 {
		return excelize.Options{}
	}
	return excelize.Options{
		UnzipSizeLimit:    4 * maxPart,
		UnzipXMLSizeLimit: min(maxPart, 16<<20),
	}
}
