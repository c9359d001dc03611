package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
)

// Metadata keys. Formats that lack a property omit the key.
const (
	KeyContentType    = "content-type"
	KeyTitle          = "title"
	KeySubject        = "subject"
	KeyAuthor         = "author"
	KeyKeywords       = "keywords"
	KeyDescription    = "description"
	KeyCategory       = "category"
	KeyLanguage       = "language"
	KeyLastModifiedBy = "last-modified-by"
	KeyRevision       = "revision"
	KeyCreated        = "created"
	KeyModified       = "modified"
	KeyApplication    = "application"
	KeyAppVersion     = "app-version"
	KeyCompany        = "company"
	KeyPageCount      = "page-count"
	KeyWordCount      = "word-count"
	KeyCharacterCount = "character-count"
	KeyPublisher      = "publisher"
	KeyProducer       = "producer"
	KeySheetNames     = "sheet-names"

	// CustomPrefix prefixes user-defined document properties.
	CustomPrefix = "custom:"
)

// Metadata is an ordered key/value mapping. Keys are unique and keep their
// first insertion position; values are a single string or, for
// multivalued keys, an ordered list.
type Metadata struct {
	keys  []string
	vals  map[string][]string
	multi map[string]bool
}

func NewMetadata() *Metadata {
	return &Metadata{vals: make(map[string][]string), multi: make(map[string]bool)}
}

// Set stores a single value. Empty values are ignored; an existing key is
// replaced in place.
func (m *Metadata) Set(key, value string) {
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	m.touch(key)
	m.vals[key] = []string{value}
	delete(m.multi, key)
}

// Add appends values to a multivalued key, keeping a value stored earlier
// with Set. Empty values are ignored.
func (m *Metadata) Add(key string, values ...string) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if key == "" || v == "" {
			continue
		}
		if !m.multi[key] {
			m.touch(key)
			m.multi[key] = true
		}
		m.vals[key] = append(m.vals[key], v)
	}
}

func (m *Metadata) touch(key string) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
}

// Get returns the value of key; for a multivalued key the values are
// joined with "; ".
func (m *Metadata) Get(key string) string {
	return strings.Join(m.vals[key], "; ")
}

// Values returns the values stored under key.
func (m *Metadata) Values(key string) []string {
	return append([]string(nil), m.vals[key]...)
}

func (m *Metadata) Has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

// Multi reports whether key holds a list.
func (m *Metadata) Multi(key string) bool { return m.multi[key] }

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string { return append([]string(nil), m.keys...) }

func (m *Metadata) Len() int { return len(m.keys) }

// All yields every key with its values in insertion order.
func (m *Metadata) All() iter.Seq2[string, []string] {
	return func(yield func(string, []string) bool) {
		for _, k := range m.keys {
			if !yield(k, m.Values(k)) {
				return
			}
		}
	}
}

// MarshalJSON writes an object whose members follow insertion order.
// Multivalued keys become arrays.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')

		var v any = m.vals[k][0]
		if m.multi[k] {
			v = m.vals[k]
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object written by MarshalJSON, keeping member order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = *NewMetadata()
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			m.Add(key, list...)
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("metadata: value of %q: %w", key, err)
		}
		m.Set(key, s)
	}
	_, err = dec.Token()
	return err
}
