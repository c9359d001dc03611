package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"strconv"
	"testing"
)

type zipEntry struct {
	name string
	data string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		addZipFile(t, w, e.name, []byte(e.data))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buf.Bytes()
}

func addZipFile(t *testing.T, w *zip.Writer, name string, data []byte) {
	t.Helper()
	fw, err := w.Create(name)
	if err != nil {
		t.Fatalf("creating zip entry %s: %v", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("writing zip entry %s: %v", name, err)
	}
}

const (
	relBase = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/"

	nsDecl = ` xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
		` xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"` +
		` xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"` +
		` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
		` xmlns:dgm="http://schemas.openxmlformats.org/drawingml/2006/diagram"` +
		` xmlns:c="http://schemas.openxmlformats.org/drawingml/2006/chart"` +
		` xmlns:mc="http://schemas.openxmlformats.org/markup-compatibility/2006"`
)

// rels renders a relationship part from (id, kind, target) triples.
func rels(items ...string) string {
	s := `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`
	for i := 0; i+2 < len(items); i += 3 {
		s += `<Relationship Id="` + items[i] + `" Type="` + relBase + items[i+1] + `" Target="` + items[i+2] + `"/>`
	}
	return s + `</Relationships>`
}

// contentTypes renders [Content_Types].xml from (part name, content type)
// pairs.
func contentTypes(pairs ...string) string {
	s := `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="xml" ContentType="application/xml"/>` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`
	for i := 0; i+1 < len(pairs); i += 2 {
		s += `<Override PartName="` + pairs[i] + `" ContentType="` + pairs[i+1] + `"/>`
	}
	return s + `</Types>`
}

const (
	ctPresentation = "application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"
	ctDocument     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	ctWorkbook     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"
	ctChart        = "application/vnd.openxmlformats-officedocument.drawingml.chart+xml"
)

// para is a DrawingML paragraph with one run.
func para(text string) string {
	return `<a:p><a:r><a:t>` + text + `</a:t></a:r></a:p>`
}

// slideXML is a slide with one text shape per paragraph group.
func slideXML(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><p:sld` + nsDecl + `><p:cSld><p:spTree>` +
		`<p:sp><p:nvSpPr><p:cNvPr id="2" name="Title 1"/></p:nvSpPr><p:txBody><a:bodyPr/>` + body + `</p:txBody></p:sp>` +
		`</p:spTree></p:cSld></p:sld>`
}

// presentation builds a PPTX from slide bodies plus extra entries, with
// slides listed in p:sldIdLst in argument order.
func presentation(t *testing.T, slides []string, extra ...zipEntry) []byte {
	t.Helper()
	var (
		ids     string
		relList []string
		entries = []zipEntry{
			{"[Content_Types].xml", contentTypes("/ppt/presentation.xml", ctPresentation)},
			{"_rels/.rels", rels("rId1", "officeDocument", "ppt/presentation.xml")},
		}
	)
	for i, body := range slides {
		n := strconv.Itoa(i + 1)
		ids += `<p:sldId id="` + strconv.Itoa(256+i) + `" r:id="rId` + n + `"/>`
		relList = append(relList, "rId"+n, "slide", "slides/slide"+n+".xml")
		entries = append(entries, zipEntry{"ppt/slides/slide" + n + ".xml", slideXML(body)})
	}
	entries = append(entries,
		zipEntry{"ppt/presentation.xml", `<?xml version="1.0"?><p:presentation` + nsDecl + `><p:sldIdLst>` + ids + `</p:sldIdLst></p:presentation>`},
		zipEntry{"ppt/_rels/presentation.xml.rels", rels(relList...)},
	)
	return buildZip(t, append(entries, extra...)...)
}

func runBytes(t *testing.T, data []byte, hint string, opts Options) (*Collector, error) {
	t.Helper()
	r := bytes.NewReader(data)
	det, err := Detect(r, int64(len(data)), hint)
	if err != nil {
		return nil, err
	}
	return Run(context.Background(), NewRegistry(), r, int64(len(data)), det, opts)
}

func mustRun(t *testing.T, data []byte, hint string, opts Options) *Collector {
	t.Helper()
	c, err := runBytes(t, data, hint, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return c
}

func texts(c *Collector) []string {
	var out []string
	for _, f := range c.Fragments() {
		out = append(out, f.Text)
	}
	return out
}

// writerTexts runs fn against a fresh part writer and returns what it
// committed.
func writerTexts(t *testing.T, fn func(w *PartWriter) error) []string {
	t.Helper()
	c := NewCollector(0)
	w := c.Begin("part")
	if err := fn(w); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return texts(c)
}
