package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/brunobiangulo/goextract/container"
)

// Confidence describes what a detection was based on.
type Confidence string

const (
	ConfidenceSignature Confidence = "signature"
	ConfidenceStructure Confidence = "structure"
	ConfidenceHint      Confidence = "hint"
)

// Detection is the result of classifying an input.
type Detection struct {
	Format     Format
	Confidence Confidence
	MIMEType   string

	// pkg is the zip index built while reading the structure, reused by Run.
	pkg *container.Package
}

// maxStructureSize bounds every part read to classify an input or to
// build its relationship map: mimetype, [Content_Types].xml, .rels.
const maxStructureSize = 16 << 20

const (
	minSignature = 4
	sniffLen     = 512
)

var (
	sigZip       = []byte("PK\x03\x04")
	sigZipEmpty  = []byte("PK\x05\x06")
	sigZipSpan   = []byte("PK\x07\x08")
	sigPDF       = []byte("%PDF-")
	sigOLE2      = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	bomUTF8      = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE   = []byte{0xFF, 0xFE}
	bomUTF16BE   = []byte{0xFE, 0xFF}
	longerMagics = [][]byte{sigPDF, sigOLE2}
)

// textHints are the extension hints accepted for inputs without a
// signature.
var textHints = map[string]bool{
	"txt": true, "text": true, "csv": true, "tsv": true,
	"md": true, "markdown": true, "log": true,
}

// Detect classifies the input. Signatures decide; the hint (a file name or
// extension) is consulted only when no signature matches.
func Detect(ra io.ReaderAt, size int64, hint string) (Detection, error) {
	head := make([]byte, min(size, sniffLen))
	n, err := ra.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return Detection{}, fmt.Errorf("reading signature: %w", err)
	}
	head = head[:n]
	hint = normalizeHint(hint)

	if len(head) < minSignature {
		return Detection{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(head))
	}
	for _, magic := range longerMagics {
		if len(head) < len(magic) && bytes.HasPrefix(magic, head) {
			return Detection{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(head))
		}
	}

	var det Detection
	switch {
	case bytes.HasPrefix(head, sigZip), bytes.HasPrefix(head, sigZipEmpty), bytes.HasPrefix(head, sigZipSpan):
		pkg, err := container.Open(ra, size, "", container.Options{MaxPartSize: maxStructureSize})
		if err != nil {
			return Detection{}, err
		}
		det = Detection{Format: DetectPackage(pkg), Confidence: ConfidenceStructure, pkg: pkg}
	case bytes.HasPrefix(head, sigPDF):
		det = Detection{Format: FormatPDF, Confidence: ConfidenceSignature}
	case bytes.HasPrefix(head, sigOLE2):
		f, err := detectOLE2(ra, size)
		if err != nil {
			return Detection{}, err
		}
		det = Detection{Format: f, Confidence: ConfidenceStructure}
	case bytes.HasPrefix(head, bomUTF8), bytes.HasPrefix(head, bomUTF16LE), bytes.HasPrefix(head, bomUTF16BE):
		det = Detection{Format: FormatText, Confidence: ConfidenceSignature}
	case pdfHeaderNear(head):
		det = Detection{Format: FormatPDF, Confidence: ConfidenceSignature}
	case textHints[hint] && bytes.IndexByte(head, 0) < 0:
		det = Detection{Format: FormatText, Confidence: ConfidenceHint}
	default:
		return Detection{}, fmt.Errorf("%w (hint %q)", ErrUnrecognized, hint)
	}

	if hint != "" && det.Confidence != ConfidenceHint && !hintAgrees(hint, det.Format) {
		slog.Debug("detect: extension hint ignored", "hint", hint, "format", det.Format)
	}
	det.MIMEType = det.Format.MIMEType()
	return det, nil
}

// DetectPackage classifies an opened zip container by its structure.
func DetectPackage(pkg *container.Package) Format {
	if pkg.Len() == 0 {
		return FormatEmptyPackage
	}

	if pkg.Has("mimetype") {
		if data, err := pkg.Read("mimetype"); err == nil {
			if f, ok := packageMIMETypes[strings.TrimSpace(string(data))]; ok {
				if !pkg.Has(mainPartNames[f]) {
					return FormatEmptyPackage
				}
				return f
			}
		}
	}

	if main, ok := pkg.FindType(isMainContentType); ok {
		return mainContentTypes[pkg.ContentType(main)]
	}
	for _, wk := range wellKnownMains {
		if pkg.Has(wk.name) {
			return wk.format
		}
	}
	if f, ok := odfManifestFormat(pkg); ok {
		return f
	}

	if pkg.Has("[Content_Types].xml") || pkg.Has("_rels/.rels") {
		// An OPC package whose main part belongs to a dialect we do not
		// know is unsupported; one with no main part at all is empty.
		for _, r := range pkg.RelsOfType("", "officeDocument") {
			if pkg.Has(r.Target) {
				return FormatZip
			}
		}
		return FormatEmptyPackage
	}
	return FormatZip
}

var packageMIMETypes = map[string]Format{
	"application/vnd.oasis.opendocument.text":                  FormatODT,
	"application/vnd.oasis.opendocument.text-template":         FormatODT,
	"application/vnd.oasis.opendocument.spreadsheet":           FormatODS,
	"application/vnd.oasis.opendocument.spreadsheet-template":  FormatODS,
	"application/vnd.oasis.opendocument.presentation":          FormatODP,
	"application/vnd.oasis.opendocument.presentation-template": FormatODP,
	"application/epub+zip":                                     FormatEPUB,
}

var mainPartNames = map[Format]string{
	FormatODT:  "content.xml",
	FormatODS:  "content.xml",
	FormatODP:  "content.xml",
	FormatEPUB: "META-INF/container.xml",
}

var mainContentTypes = map[string]Format{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml":   FormatDOCX,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.template.main+xml":   FormatDOCX,
	"application/vnd.ms-word.document.macroEnabled.main+xml":                             FormatDOCX,
	"application/vnd.ms-word.template.macroEnabledTemplate.main+xml":                     FormatDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml":         FormatXLSX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.template.main+xml":      FormatXLSX,
	"application/vnd.ms-excel.sheet.macroEnabled.main+xml":                               FormatXLSX,
	"application/vnd.ms-excel.template.macroEnabled.main+xml":                            FormatXLSX,
	"application/vnd.ms-excel.addin.macroEnabled.main+xml":                               FormatXLSX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml": FormatPPTX,
	"application/vnd.openxmlformats-officedocument.presentationml.template.main+xml":     FormatPPTX,
	"application/vnd.openxmlformats-officedocument.presentationml.slideshow.main+xml":    FormatPPTX,
	"application/vnd.ms-powerpoint.presentation.macroEnabled.main+xml":                   FormatPPTX,
	"application/vnd.ms-powerpoint.slideshow.macroEnabled.main+xml":                      FormatPPTX,
	"application/vnd.ms-powerpoint.template.macroEnabled.main+xml":                       FormatPPTX,
}

func isMainContentType(ct string) bool {
	_, ok := mainContentTypes[ct]
	return ok
}

var wellKnownMains = []struct {
	name   string
	format Format
}{
	{"word/document.xml", FormatDOCX},
	{"xl/workbook.xml", FormatXLSX},
	{"ppt/presentation.xml", FormatPPTX},
	{"META-INF/container.xml", FormatEPUB},
}

// pdfHeaderNear accepts a PDF header preceded by a little junk, which
// some producers write.
func pdfHeaderNear(head []byte) bool {
	i := bytes.Index(head, sigPDF)
	return i >= 0 && i < 64
}

func normalizeHint(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if ext := path.Ext(hint); ext != "" {
		hint = ext
	}
	return strings.TrimPrefix(hint, ".")
}

func hintAgrees(hint string, f Format) bool {
	switch f {
	case FormatText:
		return textHints[hint]
	case FormatDOCX:
		return hint == "docx" || hint == "docm" || hint == "dotx" || hint == "dotm"
	case FormatXLSX:
		return hint == "xlsx" || hint == "xlsm" || hint == "xltx" || hint == "xltm" || hint == "xlam"
	case FormatPPTX:
		return hint == "pptx" || hint == "pptm" || hint == "potx" || hint == "ppsx"
	}
	return string(f) == hint
}
