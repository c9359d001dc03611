//go:build cgo

package goextract

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func cachedEngine(t *testing.T, path string) Engine {
	t.Helper()
	return newTestEngine(t, func(c *Config) {
		c.Cache.Enabled = true
		c.Cache.Path = path
	})
}

func TestCacheHit(t *testing.T) {
	e := cachedEngine(t, filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()
	data := deck(t, slide("Cached", "deck"))

	first, err := e.ExtractBytes(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Fatal("first extraction cannot be a cache hit")
	}

	second, err := e.ExtractBytes(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached {
		t.Fatal("expected a cache hit")
	}
	if second.Content != first.Content || second.Format != first.Format {
		t.Errorf("cached = %+v, want %+v", second, first)
	}
	if !slices.Equal(second.Metadata.Keys(), first.Metadata.Keys()) {
		t.Errorf("metadata keys = %v, want %v", second.Metadata.Keys(), first.Metadata.Keys())
	}
	if second.ID == first.ID {
		t.Error("a cache hit still gets its own extraction id")
	}
}

func TestCacheKeyedByOptions(t *testing.T) {
	e := cachedEngine(t, filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()
	data := deck(t, slide("Depth"))

	if _, err := e.ExtractBytes(ctx, data); err != nil {
		t.Fatal(err)
	}
	res, err := e.ExtractBytes(ctx, data, WithMaxEmbeddedDepth(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached {
		t.Error("different options must miss the cache")
	}
	res, err = e.ExtractBytes(ctx, data, WithoutCache())
	if err != nil {
		t.Fatal(err)
	}
	if res.Cached {
		t.Error("WithoutCache must bypass the cache")
	}
}

func TestCacheKeepsDiagnostics(t *testing.T) {
	e := cachedEngine(t, filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()
	broken := `<p:sld` + nsDecl + `><p:cSld>`
	data := deck(t, slide("Kept"), broken)

	if _, err := e.ExtractBytes(ctx, data); err != nil {
		t.Fatal(err)
	}
	res, err := e.ExtractBytes(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached || !res.Partial || len(res.Diagnostics) != 1 {
		t.Fatalf("cached result = %+v", res)
	}
	if d := res.Diagnostics[0]; d.Part != "ppt/slides/slide2.xml" || d.Kind != KindCorruptedPart || d.Err == nil {
		t.Errorf("diagnostic = %v", d)
	}
}

func TestCacheSkipsLimitedResults(t *testing.T) {
	e := cachedEngine(t, filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()
	data := deck(t, slide("Hello world"))

	for range 2 {
		res, err := e.ExtractBytes(ctx, data, WithMaxOutputSize(4))
		if KindOf(err) != KindResourceLimitExceeded {
			t.Fatalf("error = %v", err)
		}
		if res.Cached {
			t.Fatal("a cut-short result must not be cached")
		}
	}
}

func TestCachePersistsAcrossEngines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	data := deck(t, slide("Persisted"))

	e, err := New(Config{MaxEmbeddedDepth: 10, Cache: CacheConfig{Enabled: true, Path: path}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ExtractBytes(context.Background(), data); err != nil {
		t.Fatal(err)
	}
	e.Close()

	e2, err := New(Config{MaxEmbeddedDepth: 10, Cache: CacheConfig{Enabled: true, Path: path, MaxAge: Duration(time.Hour)}})
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()
	res, err := e2.ExtractBytes(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached || res.Content != "Persisted" {
		t.Errorf("result = %+v", res)
	}
}

func TestCacheRespectsDetection(t *testing.T) {
	e := cachedEngine(t, filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()
	data := []byte("plain words")

	if _, err := e.ExtractBytes(ctx, data, WithFormatHint("txt")); err != nil {
		t.Fatal(err)
	}
	// The cached text result must not leak to an input detection rejects.
	if _, err := e.ExtractBytes(ctx, data); KindOf(err) != KindUnrecognizedFormat {
		t.Errorf("error = %v, want UnrecognizedFormat", err)
	}
	res, err := e.ExtractBytes(ctx, data, WithFormatHint("notes.md"))
	if err != nil || !res.Cached || res.Content != "plain words" {
		t.Errorf("hinted again: %+v, %v", res, err)
	}
}
