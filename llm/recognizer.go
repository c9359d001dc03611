package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/brunobiangulo/goextract/parser"
)

const ocrPrompt = `Transcribe all text visible in this image exactly as written, preserving line breaks.
Do not describe the image or add commentary. If the image contains no text, reply with an empty message.`

// noTextReplies are answers some models give instead of an empty message.
var noTextReplies = []string{"no text", "(no text)", "[no text]", "none", "n/a"}

// Recognizer adapts a VisionProvider to parser.Recognizer.
type Recognizer struct {
	provider  VisionProvider
	model     string
	maxTokens int
}

// NewRecognizer returns a recognizer that sends each image to p. An empty
// model uses the provider's configured one.
func NewRecognizer(p VisionProvider, model string) *Recognizer {
	return &Recognizer{provider: p, model: model, maxTokens: 2048}
}

// Recognize implements parser.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, img parser.Image) (string, error) {
	if img.MIMEType == "" || !strings.HasPrefix(img.MIMEType, "image/") {
		return "", fmt.Errorf("ocr: unsupported image type %q", img.MIMEType)
	}
	url := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	resp, err := r.provider.ChatWithImages(ctx, VisionChatRequest{
		Model: r.model,
		Messages: []VisionMessage{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: ocrPrompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: url}},
			},
		}},
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("ocr %s: %w", img.Part, err)
	}

	text := strings.TrimSpace(resp.Content)
	for _, s := range noTextReplies {
		if strings.EqualFold(text, s) {
			return "", nil
		}
	}
	return text, nil
}
