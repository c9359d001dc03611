package goextract

import (
	"fmt"
	"time"

	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/parser"
)

// newRecognizer builds the OCR collaborator from configuration. It returns
// nil when OCR is disabled and no recognizer was injected.
func newRecognizer(cfg Config) (parser.Recognizer, error) {
	if cfg.Recognizer != nil {
		return cfg.Recognizer, nil
	}
	if !cfg.OCR.Enabled {
		return nil, nil
	}
	p, err := llm.NewProvider(llm.Config{
		Provider: cfg.OCR.Provider,
		Model:    cfg.OCR.Model,
		BaseURL:  cfg.OCR.BaseURL,
		APIKey:   cfg.OCR.APIKey,
		Timeout:  time.Duration(cfg.OCR.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("creating ocr provider: %w", err)
	}
	return llm.NewRecognizer(p, cfg.OCR.Model), nil
}
