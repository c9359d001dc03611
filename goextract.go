// Package goextract extracts text and metadata from office documents:
// OOXML and ODF packages, EPUB, PDF, legacy OLE2 files and plain text.
package goextract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/goextract/assembler"
	"github.com/brunobiangulo/goextract/parser"
	"github.com/brunobiangulo/goextract/store"
)

// Engine is the main entry point for extraction. It is safe for
// concurrent use; no state is kept between calls except the result cache.
type Engine interface {
	// Extract reads src and returns its text and metadata. On a deadline or
	// output budget it returns the partial result together with an error of
	// kind KindResourceLimitExceeded. Any other error comes with no result.
	Extract(ctx context.Context, src Source, opts ...ExtractOption) (*Result, error)

	// ExtractFile is Extract(ctx, FileSource(path), opts...).
	ExtractFile(ctx context.Context, path string, opts ...ExtractOption) (*Result, error)

	// ExtractBytes is Extract(ctx, BytesSource(data), opts...).
	ExtractBytes(ctx context.Context, data []byte, opts ...ExtractOption) (*Result, error)

	// Formats lists the formats the engine can extract.
	Formats() []parser.Format

	// Close releases the result cache.
	Close() error
}

// ExtractOption configures a single extraction.
type ExtractOption func(*extractOptions)

type extractOptions struct {
	maxDepth  int
	maxOutput int64
	timeout   time.Duration
	ocr       bool
	hint      string
	noCache   bool
}

// WithMaxEmbeddedDepth overrides Config.MaxEmbeddedDepth.
func WithMaxEmbeddedDepth(n int) ExtractOption {
	return func(o *extractOptions) { o.maxDepth = max(n, 0) }
}

// WithMaxOutputSize overrides Config.MaxOutputSize.
func WithMaxOutputSize(n int64) ExtractOption {
	return func(o *extractOptions) { o.maxOutput = max(n, 0) }
}

// WithTimeout overrides Config.Timeout.
func WithTimeout(d time.Duration) ExtractOption {
	return func(o *extractOptions) { o.timeout = max(d, 0) }
}

// WithOCR turns image recognition on or off for this call. Turning it on
// has no effect when the engine has no recognizer.
func WithOCR(enabled bool) ExtractOption {
	return func(o *extractOptions) { o.ocr = enabled }
}

// WithFormatHint supplies a file name or extension. Hints only matter for
// inputs without a signature.
func WithFormatHint(hint string) ExtractOption {
	return func(o *extractOptions) { o.hint = hint }
}

// WithoutCache bypasses the result cache for this call.
func WithoutCache() ExtractOption {
	return func(o *extractOptions) { o.noCache = true }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	log      *slog.Logger
	registry *parser.Registry
	ocr      parser.Recognizer
	cache    *store.Store

	mu     sync.RWMutex
	closed bool
}

// New creates an engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	rec, err := newRecognizer(cfg)
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:      cfg,
		log:      log,
		registry: parser.NewRegistry(),
		ocr:      rec,
	}

	if cfg.Cache.Enabled {
		path := cfg.resolveCachePath()
		s, err := store.New(path)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		e.cache = s
		if cfg.Cache.MaxAge > 0 {
			before := time.Now().Add(-time.Duration(cfg.Cache.MaxAge))
			n, err := s.Prune(context.Background(), before)
			if err != nil {
				log.Warn("cache: prune failed", "error", err)
			} else if n > 0 {
				log.Info("cache: pruned stale entries", "entries", n)
			}
		}
		log.Debug("cache: opened", "path", path)
	}
	return e, nil
}

func (e *engine) ExtractFile(ctx context.Context, path string, opts ...ExtractOption) (*Result, error) {
	return e.Extract(ctx, FileSource(path), opts...)
}

func (e *engine) ExtractBytes(ctx context.Context, data []byte, opts ...ExtractOption) (*Result, error) {
	return e.Extract(ctx, BytesSource(data), opts...)
}

func (e *engine) Formats() []parser.Format { return e.registry.Formats() }

// Extract runs detection, extraction and assembly for one source.
func (e *engine) Extract(ctx context.Context, src Source, opts ...ExtractOption) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	options := &extractOptions{
		maxDepth:  e.cfg.MaxEmbeddedDepth,
		maxOutput: e.cfg.MaxOutputSize,
		timeout:   time.Duration(e.cfg.Timeout),
		ocr:       e.ocr != nil,
	}
	for _, o := range opts {
		o(options)
	}

	id := uuid.NewString()
	log := e.log.With("extraction", id)

	in, err := src.open()
	if err != nil {
		log.Warn("extract: opening source failed", "error", err)
		return nil, &Error{Kind: KindIOFailure, Err: err}
	}
	if in.close != nil {
		defer in.close()
	}
	if options.hint == "" {
		options.hint = in.name
	}
	ra := sourceReader{ra: in.ra}

	if options.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.timeout)
		defer cancel()
	}

	start := time.Now()
	log.Info("extract: started", "source", in.name, "bytes", in.size)

	det, err := parser.Detect(ra, in.size, options.hint)
	if err != nil {
		cerr := classify(err)
		log.Info("extract: detection failed", "kind", cerr.Kind, "error", err)
		return nil, cerr
	}
	log.Debug("extract: detected", "format", det.Format, "confidence", det.Confidence)

	// Detection runs first: a hint can decide the format of the same bytes.
	var cacheKey, contentHash string
	useCache := e.cache != nil && !options.noCache
	if useCache {
		contentHash, err = store.HashContent(io.NewSectionReader(ra, 0, in.size))
		if err != nil {
			return nil, classify(err)
		}
		cacheKey = store.Key(contentHash, e.fingerprint(det.Format, options))
		if res := e.cached(ctx, log, cacheKey, id); res != nil {
			return res, nil
		}
	}

	var rec parser.Recognizer
	if options.ocr {
		rec = e.ocr
	}
	col, runErr := parser.Run(ctx, e.registry, ra, in.size, det, parser.Options{
		MaxDepth:    options.maxDepth,
		MaxOutput:   options.maxOutput,
		MaxPartSize: e.cfg.MaxPartSize,
		Recognizer:  rec,
		Logger:      log,
	})
	if col == nil {
		cerr := classify(runErr)
		log.Warn("extract: failed", "format", det.Format, "kind", cerr.Kind, "part", cerr.Part, "error", runErr)
		return nil, cerr
	}

	out := assembler.Assemble(col.Fragments(), assembler.Options{
		StreamThreshold: e.cfg.StreamThreshold,
		ChunkSize:       e.cfg.ChunkSize,
	})
	res := &Result{
		ID:          id,
		Format:      det.Format,
		Content:     out.Text,
		Chunks:      out.Stream,
		Metadata:    col.Meta(),
		Partial:     col.Partial() || runErr != nil,
		Diagnostics: diagnostics(col.Diagnostics()),
	}
	for _, d := range res.Diagnostics {
		log.Warn("extract: part failed", "part", d.Part, "kind", d.Kind, "error", d.Err)
	}

	log.Info("extract: finished",
		"format", det.Format, "partial", res.Partial, "diagnostics", len(res.Diagnostics),
		"streamed", res.Chunks != nil, "elapsed", time.Since(start).Round(time.Millisecond))

	if runErr != nil {
		return res, classify(runErr)
	}
	if useCache && res.Chunks == nil {
		e.persist(ctx, log, cacheKey, contentHash, in.name, options, res)
	}
	return res, nil
}

// fingerprint covers every option that changes a completed result.
func (e *engine) fingerprint(f parser.Format, o *extractOptions) string {
	return fmt.Sprintf("v1;format=%s;depth=%d;output=%d;part=%d;ocr=%t",
		f, o.maxDepth, o.maxOutput, e.cfg.MaxPartSize, o.ocr && e.ocr != nil)
}

func (e *engine) cached(ctx context.Context, log *slog.Logger, key, id string) *Result {
	entry, err := e.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("cache: lookup failed", "error", err)
		}
		return nil
	}
	res := &Result{
		ID:       id,
		Format:   parser.Format(entry.Format),
		Content:  entry.Content,
		Metadata: parser.NewMetadata(),
		Partial:  entry.Partial,
		Cached:   true,
	}
	if entry.Metadata != "" {
		if err := json.Unmarshal([]byte(entry.Metadata), res.Metadata); err != nil {
			log.Warn("cache: dropping unreadable entry", "error", err)
			return nil
		}
	}
	if entry.Diagnostics != "" {
		if err := json.Unmarshal([]byte(entry.Diagnostics), &res.Diagnostics); err != nil {
			log.Warn("cache: dropping unreadable entry", "error", err)
			return nil
		}
	}
	log.Info("extract: served from cache", "format", res.Format, "created", entry.CreatedAt)
	return res
}

func (e *engine) persist(ctx context.Context, log *slog.Logger, key, hash, name string, o *extractOptions, res *Result) {
	meta, err := json.Marshal(res.Metadata)
	if err != nil {
		log.Warn("cache: encoding metadata", "error", err)
		return
	}
	var diags []byte
	if len(res.Diagnostics) > 0 {
		if diags, err = json.Marshal(res.Diagnostics); err != nil {
			log.Warn("cache: encoding diagnostics", "error", err)
			return
		}
	}
	err = e.cache.Put(ctx, store.Entry{
		Key:         key,
		ContentHash: hash,
		Fingerprint: e.fingerprint(res.Format, o),
		Filename:    name,
		Format:      string(res.Format),
		Content:     res.Content,
		Metadata:    string(meta),
		Partial:     res.Partial,
		Diagnostics: string(diags),
	})
	if err != nil {
		log.Warn("cache: storing result failed", "error", err)
	}
}

// Close releases the result cache. Extractions in flight finish first.
func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}
