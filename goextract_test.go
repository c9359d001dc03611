package goextract

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/brunobiangulo/goextract/parser"
)

// ---------------------------------------------------------------------------
// Successful extraction
// ---------------------------------------------------------------------------

func TestExtractBytesPPTX(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.ExtractBytes(context.Background(), deck(t, slide("Title", "Body"), slide("Next")))
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if res.Content != "Title\nBody\n\nNext" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.Format != parser.FormatPPTX || res.Partial || len(res.Diagnostics) != 0 || res.Chunks != nil {
		t.Errorf("result = %+v", res)
	}
	if res.ID == "" {
		t.Error("expected an extraction id")
	}
	if got := res.Metadata.Get(parser.KeyContentType); got != parser.FormatPPTX.MIMEType() {
		t.Errorf("content-type = %q", got)
	}
	if got := res.Metadata.Get(parser.KeyPageCount); got != "2" {
		t.Errorf("page-count = %q", got)
	}
}

func TestExtractIdempotent(t *testing.T) {
	e := newTestEngine(t)
	data := deck(t, slide("One"), slide("Two", "Three"))

	a, err := e.ExtractBytes(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.ExtractBytes(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if a.Content != b.Content {
		t.Errorf("content differs: %q vs %q", a.Content, b.Content)
	}
	if !slices.Equal(a.Metadata.Keys(), b.Metadata.Keys()) {
		t.Errorf("metadata order differs: %v vs %v", a.Metadata.Keys(), b.Metadata.Keys())
	}
	if a.ID == b.ID {
		t.Error("each extraction gets its own id")
	}
}

func TestExtractFileUsesNameAsHint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("alpha\n\nbeta\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t)
	res, err := e.ExtractFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if res.Format != parser.FormatText || res.Content != "alpha\nbeta" {
		t.Errorf("result = %q (%s)", res.Content, res.Format)
	}

	// Without the name the same bytes have no signature.
	_, err = e.ExtractBytes(context.Background(), []byte("alpha\n\nbeta\r\n"))
	if KindOf(err) != KindUnrecognizedFormat {
		t.Errorf("error = %v, want UnrecognizedFormat", err)
	}
	res, err = e.ExtractBytes(context.Background(), []byte("alpha\n\nbeta\r\n"), WithFormatHint("md"))
	if err != nil || res.Content != "alpha\nbeta" {
		t.Errorf("with hint: %v, %v", res, err)
	}
}

func TestExtractReaderSource(t *testing.T) {
	data := deck(t, slide("Reader"))
	e := newTestEngine(t)
	res, err := e.Extract(context.Background(), ReaderSource(strings.NewReader(string(data)), int64(len(data)), "deck.pptx"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Reader" {
		t.Errorf("Content = %q", res.Content)
	}
}

// ---------------------------------------------------------------------------
// Partial and fatal failures
// ---------------------------------------------------------------------------

func TestExtractInvalidUTF8(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.ExtractBytes(context.Background(), deck(t, slide("Good", "bad\xff\xfebytes")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Good\nbad\uFFFDbytes" || res.Partial {
		t.Errorf("result = %q (partial %v)", res.Content, res.Partial)
	}
}

func TestExtractPartialFailure(t *testing.T) {
	broken := `<p:sld` + nsDecl + `><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>lost`
	e := newTestEngine(t)
	res, err := e.ExtractBytes(context.Background(), deck(t, slide("First"), broken, slide("Third")))
	if err != nil {
		t.Fatalf("a non-root failure must not be fatal: %v", err)
	}
	if !res.Partial {
		t.Error("expected a partial result")
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v", res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if d.Part != "ppt/slides/slide2.xml" || d.Kind != KindCorruptedPart {
		t.Errorf("diagnostic = %v", d)
	}
	if res.Content != "First\n\nThird" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestExtractMainPartFatal(t *testing.T) {
	data := buildZip(t,
		zipEntry{"[Content_Types].xml", `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
			`<Override PartName="/ppt/presentation.xml" ContentType="` + ctPresentation + `"/></Types>`},
		zipEntry{"ppt/presentation.xml", `<p:presentation` + nsDecl + `><p:sldIdLst`},
	)
	e := newTestEngine(t)
	res, err := e.ExtractBytes(context.Background(), data)
	if res != nil {
		t.Fatal("fatal errors carry no result")
	}
	var xerr *Error
	if !errors.As(err, &xerr) {
		t.Fatalf("error %T is not classified", err)
	}
	if xerr.Kind != KindCorruptedPart || xerr.Part != "ppt/presentation.xml" {
		t.Errorf("error = %+v", xerr)
	}
	if !errors.Is(err, ErrCorruptedPart) || errors.Is(err, ErrIOFailure) {
		t.Error("errors.Is must match the sentinel of the kind only")
	}
	if !errors.Is(err, parser.ErrMalformed) {
		t.Error("stage cause must stay reachable")
	}
}

func TestExtractErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Kind
	}{
		{"too short", []byte("PK"), KindTruncatedInput},
		{"ole2 prefix", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1}, KindTruncatedInput},
		{"no signature", []byte("just some bytes"), KindUnrecognizedFormat},
		{"plain zip", buildZip(t, zipEntry{"readme.md", "not an office document"}), KindUnsupportedVariant},
		{"broken zip", append([]byte("PK\x03\x04"), make([]byte, 64)...), KindCorruptedPart},
	}
	e := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.ExtractBytes(context.Background(), tt.data)
			if res != nil {
				t.Errorf("unexpected result %+v", res)
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("kind = %v (%v), want %v", got, err, tt.want)
			}
		})
	}
}

func TestExtractEmptyPackage(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.ExtractBytes(context.Background(), buildZip(t))
	if err != nil {
		t.Fatalf("an empty archive is an empty success: %v", err)
	}
	if res.Content != "" || res.Partial {
		t.Errorf("result = %+v", res)
	}
}

func TestExtractFileMissing(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ExtractFile(context.Background(), filepath.Join(t.TempDir(), "absent.pptx"))
	if KindOf(err) != KindIOFailure {
		t.Fatalf("error = %v, want IoFailure", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("the path error must stay reachable")
	}
}

type failingReader struct{}

func (failingReader) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestExtractReadFailure(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Extract(context.Background(), ReaderSource(failingReader{}, 1024, ""))
	if KindOf(err) != KindIOFailure {
		t.Fatalf("error = %v, want IoFailure", err)
	}
}

// ---------------------------------------------------------------------------
// Budgets
// ---------------------------------------------------------------------------

func TestExtractOutputLimit(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.ExtractBytes(context.Background(), deck(t, slide("Hello world"), slide("never reached")),
		WithMaxOutputSize(8))
	if KindOf(err) != KindResourceLimitExceeded || !errors.Is(err, ErrResourceLimitExceeded) {
		t.Fatalf("error = %v, want ResourceLimitExceeded", err)
	}
	if res == nil || !res.Partial {
		t.Fatalf("a budget error keeps the partial result: %+v", res)
	}
	if res.Content != "Hello wo" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestExtractCancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.ExtractBytes(ctx, deck(t, slide("one"), slide("two")))
	if KindOf(err) != KindResourceLimitExceeded || !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if res == nil || !res.Partial {
		t.Errorf("result = %+v", res)
	}
}

func TestExtractTimeoutOption(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.ExtractBytes(context.Background(), deck(t, slide("one")), WithTimeout(time.Minute))
	if err != nil || res.Content != "one" {
		t.Errorf("Extract = %v, %v", res, err)
	}
}

func TestExtractStreams(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.StreamThreshold = 4
		c.ChunkSize = 4
	})
	res, err := e.ExtractBytes(context.Background(), deck(t, slide("Title", "Body"), slide("Next")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks == nil || res.Content != "" {
		t.Fatalf("expected a streaming result: %+v", res)
	}
	if got := res.Text(); got != "Title\nBody\n\nNext" {
		t.Errorf("Text() = %q", got)
	}
	if res.Chunks != nil || res.Text() != "Title\nBody\n\nNext" {
		t.Error("Text must be repeatable once drained")
	}
}

// ---------------------------------------------------------------------------
// Result encoding and lifecycle
// ---------------------------------------------------------------------------

func TestResultJSON(t *testing.T) {
	res := &Result{
		ID:          "id",
		Format:      parser.FormatDOCX,
		Content:     "text",
		Metadata:    parser.NewMetadata(),
		Partial:     true,
		Diagnostics: []Diagnostic{{Part: "word/footnotes.xml", Kind: KindCorruptedPart, Err: errors.New("bad xml")}},
	}
	res.Metadata.Set("title", "Report")

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"id","format":"docx","content":"text","metadata":{"title":"Report"},"partial":true,` +
		`"diagnostics":[{"part":"word/footnotes.xml","kind":"CorruptedPart","cause":"bad xml"}]}`
	if string(data) != want {
		t.Errorf("json =\n%s\nwant\n%s", data, want)
	}
}

func TestClose(t *testing.T) {
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := e.ExtractBytes(context.Background(), []byte("abcd")); !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
}

func TestFormats(t *testing.T) {
	e := newTestEngine(t)
	got := e.Formats()
	for _, f := range []parser.Format{parser.FormatPPTX, parser.FormatXLSX, parser.FormatDOCX, parser.FormatPDF} {
		if !slices.Contains(got, f) {
			t.Errorf("Formats() lacks %s", f)
		}
	}
}

// ---------------------------------------------------------------------------
// OCR wiring
// ---------------------------------------------------------------------------

type nopRecognizer struct{}

func (nopRecognizer) Recognize(ctx context.Context, img parser.Image) (string, error) {
	return "", nil
}

func TestNewRecognizer(t *testing.T) {
	cfg := DefaultConfig()
	if rec, err := newRecognizer(cfg); err != nil || rec != nil {
		t.Errorf("disabled OCR = %v, %v", rec, err)
	}

	cfg.Recognizer = nopRecognizer{}
	if rec, err := newRecognizer(cfg); err != nil || rec == nil {
		t.Errorf("injected recognizer = %v, %v", rec, err)
	}

	cfg = DefaultConfig()
	cfg.OCR.Enabled = true
	if rec, err := newRecognizer(cfg); err != nil || rec == nil {
		t.Errorf("ollama recognizer = %v, %v", rec, err)
	}

	cfg.OCR.Provider = "custom"
	cfg.OCR.BaseURL = ""
	if _, err := New(cfg); err == nil {
		t.Error("expected an error for a custom provider without base_url")
	}
}
