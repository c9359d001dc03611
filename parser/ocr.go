package parser

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/brunobiangulo/goextract/container"
)

// Recognizer turns an image into text. It is an external collaborator;
// its failures only cost the text of that image.
type Recognizer interface {
	Recognize(ctx context.Context, img Image) (string, error)
}

// Image is one embedded picture sent for recognition.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	// Part is the identifier of the image part.
	Part string
}

// Images smaller than this on either side (bullets, rules, spacers) are
// never sent.
const minImageSide = 32

// Recognition delegates the images of one extraction to a Recognizer,
// each image part at most once.
type Recognition struct {
	rec  Recognizer
	seen map[string]bool
}

// NewRecognition returns nil when rec is nil, which disables OCR.
func NewRecognition(rec Recognizer) *Recognition {
	if rec == nil {
		return nil
	}
	return &Recognition{rec: rec, seen: make(map[string]bool)}
}

func (r *Recognition) recognizePart(ctx context.Context, pkg *container.Package, name string, out *PartWriter) {
	id := pkg.ID(name)
	if r.seen[id] {
		return
	}
	r.seen[id] = true

	data, err := pkg.Read(name)
	if err != nil {
		slog.Debug("ocr: skipping unreadable image", "part", id, "error", err)
		return
	}
	r.recognize(ctx, id, data, mimeFromExt(path.Ext(name)), out)
}

func (r *Recognition) recognize(ctx context.Context, id string, data []byte, mime string, out *PartWriter) {
	w, h, ok := imageSize(data)
	if !ok {
		slog.Debug("ocr: skipping undecodable image", "part", id, "mime", mime)
		return
	}
	if w < minImageSide || h < minImageSide {
		slog.Debug("ocr: skipping small image", "part", id, "width", w, "height", h)
		return
	}

	text, err := r.rec.Recognize(ctx, Image{Data: data, MIMEType: mime, Width: w, Height: h, Part: id})
	if err != nil {
		slog.Warn("ocr: recognition failed", "part", id, "error", err)
		return
	}
	out.Recognized(strings.TrimSpace(text))
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	case ".emf":
		return "image/emf"
	case ".wmf":
		return "image/wmf"
	default:
		return ""
	}
}

// imageSize returns the width and height of an image from its encoded bytes.
func imageSize(data []byte) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
