package parser

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/brunobiangulo/goextract/container"
)

const nsRelationships = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

// flowSkip are elements whose subtrees never contribute text: alternate
// renderings, tracked deletions, field codes and phonetic guides.
var flowSkip = map[string]bool{
	"Fallback":  true,
	"del":       true,
	"moveFrom":  true,
	"instrText": true,
	"delText":   true,
	"rPh":       true,
	"pPr":       true,
	"rPr":       true,
	"bodyPr":    true,
	"lstStyle":  true,
	"extLst":    true,
	"nvSpPr":    true,
	"nvGrpSpPr": true,
	"nvPicPr":   true,
	"sectPr":    true,
	"tblPr":     true,
	"tblGrid":   true,
	"trPr":      true,
	"tcPr":      true,
}

// flowWalker extracts paragraphs and table rows from WordprocessingML and
// DrawingML parts. Both vocabularies use p/r/t for paragraphs, runs and
// text, so one walker serves documents, slides, notes, text boxes, charts
// and diagram bodies.
type flowWalker struct {
	out     *PartWriter
	onImage func(relID string)

	stack []string
	skip  int // depth of the skipped subtree root, 0 when not skipping
	paras []*flowPara
	rows  []*flowRow
}

type flowPara struct {
	depth int
	b     strings.Builder
}

type flowRow struct {
	depth int
	cells []string
	open  bool
}

// walkFlow emits one fragment per non-blank paragraph and one tab-joined
// fragment per table row. onImage, when set, receives the relationship id
// of every a:blip.
func walkFlow(data []byte, out *PartWriter, onImage func(relID string)) error {
	w := &flowWalker{out: out, onImage: onImage}
	return w.run(container.NewDecoder(data))
}

func (w *flowWalker) run(dec *xml.Decoder) error {
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
			w.text(t)
		}
	}
	if len(w.stack) != 0 {
		return malformed("xml", io.ErrUnexpectedEOF)
	}
	return nil
}

func (w *flowWalker) parent() string {
	if len(w.stack) < 2 {
		return ""
	}
	return w.stack[len(w.stack)-2]
}

func (w *flowWalker) start(se xml.StartElement) {
	w.stack = append(w.stack, se.Name.Local)
	depth := len(w.stack)
	if w.skip > 0 {
		return
	}
	local := se.Name.Local
	if flowSkip[local] || (local == "fld" && strings.EqualFold(attr(se, "type"), "slidenum")) {
		w.skip = depth
		return
	}

	switch local {
	case "p":
		w.paras = append(w.paras, &flowPara{depth: depth})
	case "tr":
		w.rows = append(w.rows, &flowRow{depth: depth})
	case "tc":
		if r := w.row(); r != nil {
			r.cells = append(r.cells, "")
			r.open = true
		}
	case "tab":
		if w.parent() == "r" {
			w.write("\t")
		}
	case "br":
		if p := w.parent(); p == "r" || p == "p" {
			w.write("\n")
		}
	case "cr":
		if w.parent() == "r" {
			w.write("\n")
		}
	case "noBreakHyphen":
		w.write("-")
	case "blip":
		if id := relAttr(se, "embed"); id != "" && w.onImage != nil {
			w.onImage(id)
		}
	}
}

func (w *flowWalker) end(ee xml.EndElement) {
	depth := len(w.stack)
	if depth == 0 {
		return
	}
	w.stack = w.stack[:depth-1]
	if w.skip > 0 {
		if depth == w.skip {
			w.skip = 0
		}
		return
	}

	switch ee.Name.Local {
	case "p":
		if n := len(w.paras); n > 0 && w.paras[n-1].depth == depth {
			p := w.paras[n-1]
			w.paras = w.paras[:n-1]
			w.paragraph(p)
		}
	case "tc":
		if r := w.row(); r != nil {
			r.open = false
		}
	case "tr":
		if n := len(w.rows); n > 0 && w.rows[n-1].depth == depth {
			r := w.rows[n-1]
			w.rows = w.rows[:n-1]
			for i := range r.cells {
				r.cells[i] = strings.TrimSpace(r.cells[i])
			}
			line := strings.Join(r.cells, "\t")
			if strings.TrimSpace(line) != "" {
				w.out.Text(line)
			}
		}
	}
}

// paragraph routes a finished paragraph into the innermost open table cell
// that encloses it, or emits it.
func (w *flowWalker) paragraph(p *flowPara) {
	text := strings.TrimRight(p.b.String(), " \t\n")
	if r := w.row(); r != nil && r.open && r.depth < p.depth && len(r.cells) > 0 {
		i := len(r.cells) - 1
		if r.cells[i] != "" && text != "" {
			r.cells[i] += " "
		}
		r.cells[i] += text
		return
	}
	w.out.Text(text)
}

func (w *flowWalker) row() *flowRow {
	if len(w.rows) == 0 {
		return nil
	}
	return w.rows[len(w.rows)-1]
}

func (w *flowWalker) text(cd xml.CharData) {
	if w.skip > 0 || len(w.stack) == 0 || w.stack[len(w.stack)-1] != "t" {
		return
	}
	w.write(string(cd))
}

func (w *flowWalker) write(s string) {
	if n := len(w.paras); n > 0 {
		w.paras[n-1].b.WriteString(s)
	}
}

// attr returns the value of the first attribute with the given local name.
func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// relAttr returns the value of a relationship-namespace attribute such as
// r:id or r:embed.
func relAttr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local && (a.Name.Space == nsRelationships || strings.HasSuffix(a.Name.Space, "/relationships")) {
			return a.Value
		}
	}
	return ""
}
