package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Detection
// ---------------------------------------------------------------------------

func emptyZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := zip.NewWriter(&buf).Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buf.Bytes()
}

func detect(data []byte, hint string) (Detection, error) {
	return Detect(bytes.NewReader(data), int64(len(data)), hint)
}

func TestDetectErrors(t *testing.T) {
	ole := []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	tests := []struct {
		name string
		data []byte
		hint string
		want error
	}{
		{"three bytes", []byte("abc"), "", ErrTruncated},
		{"empty input", nil, "txt", ErrTruncated},
		{"partial pdf magic", []byte("%PDF"), "", ErrTruncated},
		{"partial ole2 magic", ole[:6], "", ErrTruncated},
		{"ole2 without header sector", append(append([]byte{}, ole...), make([]byte, 100)...), "", ErrTruncated},
		{"unknown bytes", []byte("hello world"), "", ErrUnrecognized},
		{"unknown hint", []byte("hello world"), "report.rtf", ErrUnrecognized},
		{"binary with text hint", []byte("hel\x00lo world"), "txt", ErrUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := detect(tt.data, tt.hint)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Detect error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDetectFormats(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		hint string
		want Format
		conf Confidence
	}{
		{"pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), "", FormatPDF, ConfidenceSignature},
		{"pdf ignores hint", []byte("%PDF-1.4\n"), "slides.pptx", FormatPDF, ConfidenceSignature},
		{"pdf after junk", []byte("\r\n\r\n%PDF-1.4\n"), "", FormatPDF, ConfidenceSignature},
		{"utf-8 bom", []byte("\xEF\xBB\xBFhello"), "", FormatText, ConfidenceSignature},
		{"utf-16 bom", []byte("\xFF\xFEh\x00i\x00"), "", FormatText, ConfidenceSignature},
		{"text by hint", []byte("plain words"), "notes.TXT", FormatText, ConfidenceHint},
		{"markdown by hint", []byte("# Title"), ".md", FormatText, ConfidenceHint},
		{"empty zip", emptyZip(t), "", FormatEmptyPackage, ConfidenceStructure},
		{"plain zip", buildZip(t, zipEntry{"a.txt", "x"}), "", FormatZip, ConfidenceStructure},
		{"pptx", presentation(t, []string{para("x")}), "", FormatPPTX, ConfidenceStructure},
		{"docx by well-known name", buildZip(t, zipEntry{"word/document.xml", "<w:document/>"}), "", FormatDOCX, ConfidenceStructure},
		{
			"odt by mimetype",
			buildZip(t, zipEntry{"mimetype", "application/vnd.oasis.opendocument.text"}, zipEntry{"content.xml", "<x/>"}),
			"", FormatODT, ConfidenceStructure,
		},
		{
			"odf without content is empty",
			buildZip(t, zipEntry{"mimetype", "application/vnd.oasis.opendocument.spreadsheet"}),
			"", FormatEmptyPackage, ConfidenceStructure,
		},
		{
			"ods by manifest",
			buildZip(t,
				zipEntry{"META-INF/manifest.xml", `<manifest:manifest xmlns:manifest="urn:oasis:names:tc:opendocument:xmlns:manifest:1.0">` +
					`<manifest:file-entry manifest:full-path="/" manifest:media-type="application/vnd.oasis.opendocument.spreadsheet"/></manifest:manifest>`},
				zipEntry{"content.xml", "<x/>"}),
			"", FormatODS, ConfidenceStructure,
		},
		{
			"opc without main part is empty",
			buildZip(t,
				zipEntry{"[Content_Types].xml", contentTypes()},
				zipEntry{"_rels/.rels", rels("rId1", "officeDocument", "word/document.xml")}),
			"", FormatEmptyPackage, ConfidenceStructure,
		},
		{
			"opc with unknown main part",
			buildZip(t,
				zipEntry{"[Content_Types].xml", contentTypes()},
				zipEntry{"_rels/.rels", rels("rId1", "officeDocument", "visio/document.xml")},
				zipEntry{"visio/document.xml", "<VisioDocument/>"}),
			"", FormatZip, ConfidenceStructure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := detect(tt.data, tt.hint)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if det.Format != tt.want {
				t.Errorf("Format = %q, want %q", det.Format, tt.want)
			}
			if det.Confidence != tt.conf {
				t.Errorf("Confidence = %q, want %q", det.Confidence, tt.conf)
			}
			if det.MIMEType != tt.want.MIMEType() {
				t.Errorf("MIMEType = %q, want %q", det.MIMEType, tt.want.MIMEType())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistryBuiltIns(t *testing.T) {
	reg := NewRegistry()
	tests := []struct {
		format Format
		family Family
		text   bool
		leaf   bool
	}{
		{FormatDOCX, FamilyWordprocessing, true, false},
		{FormatXLSX, FamilySpreadsheet, true, false},
		{FormatPPTX, FamilyPresentation, true, false},
		{FormatODT, FamilyWordprocessing, true, false},
		{FormatODS, FamilySpreadsheet, true, false},
		{FormatODP, FamilyPresentation, true, false},
		{FormatEPUB, FamilyEbook, true, false},
		{FormatPDF, FamilyPortable, true, true},
		{FormatPPT, FamilyLegacy, true, true},
		{FormatDOC, FamilyLegacy, false, true},
		{FormatXLS, FamilyLegacy, false, true},
		{FormatText, FamilyPlainText, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			e, err := reg.Lookup(tt.format)
			if err != nil {
				t.Fatalf("Lookup(%q): %v", tt.format, err)
			}
			if e.Family != tt.family {
				t.Errorf("Family = %v, want %v", e.Family, tt.family)
			}
			if e.Caps.Text != tt.text {
				t.Errorf("Caps.Text = %v, want %v", e.Caps.Text, tt.text)
			}
			if (e.Leaf != nil) != tt.leaf || (e.NewDialect != nil) == tt.leaf {
				t.Errorf("entry must carry exactly one handle: leaf=%v dialect=%v", e.Leaf != nil, e.NewDialect != nil)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()
	for _, f := range []Format{FormatZip, FormatOLE2} {
		if _, err := reg.Lookup(f); !errors.Is(err, ErrUnsupportedVariant) {
			t.Errorf("Lookup(%q) error = %v, want ErrUnsupportedVariant", f, err)
		}
	}
	if _, err := reg.Lookup("rtf"); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("Lookup(rtf) error = %v, want ErrUnrecognized", err)
	}
}

type stubLeaf struct{}

func (stubLeaf) Parse(ctx context.Context, in Leaf, c *Collector) error {
	w := c.Begin(in.Prefix + "stub")
	w.Text("stubbed")
	return w.Commit()
}

func TestRegistryWithEntry(t *testing.T) {
	reg := NewRegistry(WithEntry(Entry{Format: FormatText, Family: FamilyPlainText, Caps: Capabilities{Text: true}, Leaf: stubLeaf{}}))

	data := []byte("ignored")
	r := bytes.NewReader(data)
	c, err := Run(context.Background(), reg, r, int64(len(data)), Detection{Format: FormatText, MIMEType: "text/plain"}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := texts(c); !slices.Equal(got, []string{"stubbed"}) {
		t.Errorf("texts = %q", got)
	}

	formats := reg.Formats()
	if !slices.IsSorted(formats) {
		t.Errorf("Formats not sorted: %v", formats)
	}
	if !slices.Contains(formats, FormatDOCX) {
		t.Errorf("Formats missing docx: %v", formats)
	}
}

func TestRunEmptyPackage(t *testing.T) {
	c := mustRun(t, emptyZip(t), "", Options{})
	if len(c.Fragments()) != 0 || len(c.Diagnostics()) != 0 {
		t.Fatalf("expected empty success, got %d fragments %d diagnostics", len(c.Fragments()), len(c.Diagnostics()))
	}
	if got := c.Meta().Get(KeyContentType); got != "application/zip" {
		t.Errorf("content-type = %q", got)
	}
}

func TestRunPlainText(t *testing.T) {
	data := []byte("\xEF\xBB\xBFfirst line\r\nstill first\r\n\r\n\r\nsecond")
	c := mustRun(t, data, "", Options{})
	want := []string{"first line\nstill first", "second"}
	if got := texts(c); !slices.Equal(got, want) {
		t.Fatalf("texts = %q, want %q", got, want)
	}
	if p := c.Fragments()[0].Part; p != "text" {
		t.Errorf("part = %q, want text", p)
	}
}

func TestRunUTF16Text(t *testing.T) {
	data := []byte("\xFF\xFEh\x00\xe9\x00")
	c := mustRun(t, data, "", Options{})
	if got := strings.Join(texts(c), ""); got != "hé" {
		t.Fatalf("text = %q, want %q", got, "hé")
	}
}
