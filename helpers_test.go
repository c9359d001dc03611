package goextract

import (
	"archive/zip"
	"bytes"
	"strconv"
	"testing"
)

const (
	relBase = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/"
	nsDecl  = ` xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
		` xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"` +
		` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`
	ctPresentation = "application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"
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
		fw, err := w.Create(e.name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", e.name, err)
		}
		if _, err := fw.Write([]byte(e.data)); err != nil {
			t.Fatalf("writing zip entry %s: %v", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buf.Bytes()
}

func slide(paras ...string) string {
	body := ""
	for _, p := range paras {
		body += `<a:p><a:r><a:t>` + p + `</a:t></a:r></a:p>`
	}
	return `<?xml version="1.0" encoding="UTF-8"?><p:sld` + nsDecl + `><p:cSld><p:spTree>` +
		`<p:sp><p:txBody><a:bodyPr/>` + body + `</p:txBody></p:sp>` +
		`</p:spTree></p:cSld></p:sld>`
}

// deck builds a PPTX whose slides are the given slide parts, in order.
func deck(t *testing.T, slides ...string) []byte {
	t.Helper()
	var ids, rels string
	entries := []zipEntry{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Default Extension="xml" ContentType="application/xml"/>` +
			`<Override PartName="/ppt/presentation.xml" ContentType="` + ctPresentation + `"/></Types>`},
		{"_rels/.rels", relsXML(`<Relationship Id="rId1" Type="` + relBase + `officeDocument" Target="ppt/presentation.xml"/>`)},
	}
	for i, s := range slides {
		n := strconv.Itoa(i + 1)
		ids += `<p:sldId id="` + strconv.Itoa(256+i) + `" r:id="rId` + n + `"/>`
		rels += `<Relationship Id="rId` + n + `" Type="` + relBase + `slide" Target="slides/slide` + n + `.xml"/>`
		entries = append(entries, zipEntry{"ppt/slides/slide" + n + ".xml", s})
	}
	entries = append(entries,
		zipEntry{"ppt/presentation.xml", `<?xml version="1.0"?><p:presentation` + nsDecl + `><p:sldIdLst>` + ids + `</p:sldIdLst></p:presentation>`},
		zipEntry{"ppt/_rels/presentation.xml.rels", relsXML(rels)},
	)
	return buildZip(t, entries...)
}

func relsXML(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
		body + `</Relationships>`
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) Engine {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}
