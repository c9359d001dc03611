package goextract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/goextract/parser"
)

// Config holds all configuration for the extraction engine.
type Config struct {
	// MaxEmbeddedDepth is how many levels of embedded objects are descended
	// into. Deeper objects leave a placeholder in the text.
	MaxEmbeddedDepth int `json:"max_embedded_depth" yaml:"max_embedded_depth"`

	// MaxOutputSize caps the extracted text in bytes. Zero means no cap.
	MaxOutputSize int64 `json:"max_output_size" yaml:"max_output_size"`

	// MaxPartSize caps the decompressed size of a single container part.
	MaxPartSize int64 `json:"max_part_size" yaml:"max_part_size"`

	// StreamThreshold is the text size above which results are returned as
	// a chunk stream instead of one string. Zero disables streaming.
	StreamThreshold int64 `json:"stream_threshold" yaml:"stream_threshold"`
	ChunkSize       int   `json:"chunk_size" yaml:"chunk_size"`

	// Timeout bounds each extraction. Zero means no deadline.
	Timeout Duration `json:"timeout" yaml:"timeout"`

	OCR   OCRConfig   `json:"ocr" yaml:"ocr"`
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Logger receives engine-level logs. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`

	// Recognizer, when set, is used for OCR instead of a provider built
	// from OCR.
	Recognizer parser.Recognizer `json:"-" yaml:"-"`
}

// OCRConfig configures delegation of image text to a vision model.
type OCRConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Provider string   `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string   `json:"model" yaml:"model"`
	BaseURL  string   `json:"base_url" yaml:"base_url"`
	APIKey   string   `json:"api_key" yaml:"api_key"`
	Timeout  Duration `json:"timeout" yaml:"timeout"`
}

// CacheConfig configures the on-disk result cache.
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Path is the SQLite file. Defaults to ~/.goextract/cache.db.
	Path string `json:"path" yaml:"path"`
	// MaxAge prunes entries not read for this long when the engine starts.
	MaxAge Duration `json:"max_age" yaml:"max_age"`
}

const (
	defaultMaxDepth        = 10
	defaultMaxOutputSize   = 64 << 20
	defaultMaxPartSize     = 256 << 20
	defaultStreamThreshold = 8 << 20
	defaultChunkSize       = 64 << 10
)

// DefaultConfig returns a Config with OCR and the cache disabled.
func DefaultConfig() Config {
	return Config{
		MaxEmbeddedDepth: defaultMaxDepth,
		MaxOutputSize:    defaultMaxOutputSize,
		MaxPartSize:      defaultMaxPartSize,
		StreamThreshold:  defaultStreamThreshold,
		ChunkSize:        defaultChunkSize,
		OCR: OCRConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
		},
	}
}

// LoadConfig reads a JSON or YAML file (by extension) over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no extraction could run with.
func (c *Config) Validate() error {
	switch {
	case c.MaxEmbeddedDepth < 0:
		return fmt.Errorf("%w: max_embedded_depth must not be negative", ErrInvalidConfig)
	case c.MaxOutputSize < 0, c.MaxPartSize < 0, c.StreamThreshold < 0, c.ChunkSize < 0:
		return fmt.Errorf("%w: sizes must not be negative", ErrInvalidConfig)
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	case c.OCR.Enabled && c.Recognizer == nil && c.OCR.Provider == "":
		return fmt.Errorf("%w: ocr enabled without a provider", ErrInvalidConfig)
	}
	return nil
}

// resolveCachePath computes the cache database path.
func (c *Config) resolveCachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "goextract-cache.db"
	}
	return filepath.Join(home, ".goextract", "cache.db")
}

// Duration is a time.Duration written as "30s" or "2m" in config files.
// Bare numbers are read as seconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var v any
	if err := n.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch v := v.(type) {
	case string:
		if v == "" {
			*d = 0
			return nil
		}
		td, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(td)
	case float64:
		*d = Duration(v * float64(time.Second))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}
