package goextract

import (
	"encoding/json"

	"github.com/brunobiangulo/goextract/assembler"
	"github.com/brunobiangulo/goextract/parser"
)

// Result is the outcome of one extraction. Exactly one of Content and
// Chunks carries the text: Chunks is set for text larger than the
// configured stream threshold.
type Result struct {
	// ID identifies the extraction in logs.
	ID       string
	Format   parser.Format
	Content  string
	Chunks   *assembler.Stream
	Metadata *parser.Metadata
	// Partial is set when any part failed or the output was cut short.
	Partial     bool
	Diagnostics []Diagnostic
	// Cached is set when the result came from the result cache.
	Cached bool
}

// Text returns the whole text, draining Chunks if the result streams.
func (r *Result) Text() string {
	if r.Chunks != nil {
		r.Content = r.Chunks.String()
		r.Chunks = nil
	}
	return r.Content
}

type resultJSON struct {
	ID          string           `json:"id"`
	Format      parser.Format    `json:"format"`
	Content     string           `json:"content"`
	Metadata    *parser.Metadata `json:"metadata"`
	Partial     bool             `json:"partial"`
	Diagnostics []Diagnostic     `json:"diagnostics,omitempty"`
	Cached      bool             `json:"cached,omitempty"`
}

// MarshalJSON drains a streaming result.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		ID:          r.ID,
		Format:      r.Format,
		Content:     r.Text(),
		Metadata:    r.Metadata,
		Partial:     r.Partial,
		Diagnostics: r.Diagnostics,
		Cached:      r.Cached,
	})
}
