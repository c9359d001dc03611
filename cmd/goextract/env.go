package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/brunobiangulo/goextract"
)

// providerKeyEnv names the well-known API key variable of each hosted
// provider, consulted when no key is configured.
var providerKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"xai":        "XAI_API_KEY",
}

// applyEnv overrides cfg from GOEXTRACT_* variables.
func applyEnv(cfg *goextract.Config, getenv func(string) string) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"GOEXTRACT_MAX_DEPTH", &cfg.MaxEmbeddedDepth},
		{"GOEXTRACT_CHUNK_SIZE", &cfg.ChunkSize},
	}
	for _, v := range ints {
		if s := getenv(v.name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return envError(v.name, s, err)
			}
			*v.dst = n
		}
	}

	sizes := []struct {
		name string
		dst  *int64
	}{
		{"GOEXTRACT_MAX_OUTPUT_SIZE", &cfg.MaxOutputSize},
		{"GOEXTRACT_MAX_PART_SIZE", &cfg.MaxPartSize},
		{"GOEXTRACT_STREAM_THRESHOLD", &cfg.StreamThreshold},
	}
	for _, v := range sizes {
		if s := getenv(v.name); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return envError(v.name, s, err)
			}
			*v.dst = n
		}
	}

	durations := []struct {
		name string
		dst  *goextract.Duration
	}{
		{"GOEXTRACT_TIMEOUT", &cfg.Timeout},
		{"GOEXTRACT_OCR_TIMEOUT", &cfg.OCR.Timeout},
		{"GOEXTRACT_CACHE_MAX_AGE", &cfg.Cache.MaxAge},
	}
	for _, v := range durations {
		if s := getenv(v.name); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return envError(v.name, s, err)
			}
			*v.dst = goextract.Duration(d)
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"GOEXTRACT_OCR_ENABLED", &cfg.OCR.Enabled},
		{"GOEXTRACT_CACHE_ENABLED", &cfg.Cache.Enabled},
	}
	for _, v := range bools {
		if s := getenv(v.name); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return envError(v.name, s, err)
			}
			*v.dst = b
		}
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"GOEXTRACT_OCR_PROVIDER", &cfg.OCR.Provider},
		{"GOEXTRACT_OCR_MODEL", &cfg.OCR.Model},
		{"GOEXTRACT_OCR_BASE_URL", &cfg.OCR.BaseURL},
		{"GOEXTRACT_OCR_API_KEY", &cfg.OCR.APIKey},
		{"GOEXTRACT_CACHE_PATH", &cfg.Cache.Path},
	}
	for _, v := range strs {
		if s := getenv(v.name); s != "" {
			*v.dst = s
		}
	}

	if cfg.OCR.APIKey == "" {
		if name, ok := providerKeyEnv[cfg.OCR.Provider]; ok {
			cfg.OCR.APIKey = getenv(name)
		}
	}
	return nil
}

func envError(name, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", goextract.ErrInvalidConfig, name, value, err)
}
