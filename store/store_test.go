//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
	v, err := s.Version(context.Background())
	if err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if v != 1 || len(migrations) != 1 {
		t.Errorf("schema version = %d (%d migrations), want 1", v, len(migrations))
	}
}

func TestSchemaHasAccessColumn(t *testing.T) {
	s := newTestStore(t)
	var n int
	err := s.DB().QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM pragma_table_info('extractions') WHERE name = 'accessed_at'").Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("accessed_at columns = %d, want 1", n)
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "cache.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestReopenKeepsEntries(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, sampleEntry("abc")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(ctx, Key("abc", "opts")); err != nil {
		t.Fatalf("entry lost on reopen: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

func TestHashContent(t *testing.T) {
	got, err := HashContent(strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("HashContent = %s, want %s", got, want)
	}
}

func TestKeyDependsOnFingerprint(t *testing.T) {
	a := Key("hash", "depth=10")
	b := Key("hash", "depth=2")
	if a == b {
		t.Fatal("different fingerprints must give different keys")
	}
	if a != Key("hash", "depth=10") {
		t.Fatal("Key must be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d", len(a))
	}
}

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

func sampleEntry(hash string) Entry {
	return Entry{
		ContentHash: hash,
		Fingerprint: "opts",
		Filename:    "deck.pptx",
		Format:      "pptx",
		Content:     "Title\nBody",
		Metadata:    `{"title":"Deck"}`,
		Partial:     true,
		Diagnostics: `[{"part":"ppt/slides/slide2.xml","kind":"CorruptedPart"}]`,
	}
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := sampleEntry("abc")
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, Key("abc", "opts"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != e.Content || got.Format != "pptx" || got.Filename != "deck.pptx" {
		t.Errorf("entry = %+v", got)
	}
	if !got.Partial || got.Metadata != e.Metadata || got.Diagnostics != e.Diagnostics {
		t.Errorf("entry fields lost: %+v", got)
	}
	if got.CreatedAt == "" {
		t.Error("expected created_at")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := sampleEntry("abc")
	if err := s.Put(ctx, e); err != nil {
		t.Fatal(err)
	}
	e.Content = "replaced"
	e.Partial = false
	e.Diagnostics = ""
	if err := s.Put(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, Key("abc", "opts"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "replaced" || got.Partial || got.Diagnostics != "" {
		t.Errorf("entry not replaced: %+v", got)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 1 || st.Bytes != int64(len("replaced")) {
		t.Errorf("stats = %+v", st)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, sampleEntry("abc")); err != nil {
		t.Fatal(err)
	}
	key := Key("abc", "opts")
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("entry survived delete: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
}

func TestDeleteContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, fp := range []string{"a", "b"} {
		e := sampleEntry("same")
		e.Fingerprint = fp
		if err := s.Put(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put(ctx, sampleEntry("other")); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteContent(ctx, "same")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d entries, want 2", n)
	}
	st, _ := s.Stats(ctx)
	if st.Entries != 1 {
		t.Errorf("entries left = %d, want 1", st.Entries)
	}
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, sampleEntry("abc")); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 0 {
		t.Fatalf("pruned %d fresh entries", n)
	}

	n, err = s.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d entries, want 1", n)
	}
}
