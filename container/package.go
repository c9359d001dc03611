// Package container opens zip-packaged documents and walks their parts.
//
// A Package indexes the entries of one archive together with the declared
// content types and the relationship map built from every _rels/*.rels
// entry. A Traversal visits the parts reachable from a set of roots in
// breadth-first order, across nested packages, without visiting any part
// twice.
package container

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

const contentTypesPart = "[Content_Types].xml"

// Options bounds the work done while reading parts.
type Options struct {
	// MaxPartSize is the largest decompressed part Read will return.
	// Zero disables the check.
	MaxPartSize int64
	// MaxStructureSize bounds [Content_Types].xml and every .rels part
	// read during Open. Zero falls back to MaxPartSize.
	MaxStructureSize int64
}

func (o Options) structureLimit() int64 {
	if o.MaxStructureSize > 0 && (o.MaxPartSize == 0 || o.MaxStructureSize < o.MaxPartSize) {
		return o.MaxStructureSize
	}
	return o.MaxPartSize
}

// Problem records a structural part (content types, relationships) that
// could not be parsed. The package stays usable without it.
type Problem struct {
	Part string
	Err  error
}

// Package is one opened zip container. It is not safe for concurrent use
// while relationships are still being added with Relate.
type Package struct {
	prefix string
	opts   Options
	ra     io.ReaderAt
	size   int64

	files  map[string]*zip.File
	folded map[string]*zip.File
	names  []string

	defaults  map[string]string
	overrides map[string]string
	typed     []typedPart

	rels     map[string][]Relationship
	problems []Problem
}

type typedPart struct {
	name        string
	contentType string
}

type contentTypesXML struct {
	XMLName  xml.Name `xml:"Types"`
	Defaults []struct {
		Extension   string `xml:"Extension,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Default"`
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

// Open indexes the archive in ra. Part identifiers reported by the package
// are prefixed with prefix so that parts of nested packages stay unique
// within one extraction.
func Open(ra io.ReaderAt, size int64, prefix string, opts Options) (*Package, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %w", ErrCorruptContainer, err)
	}

	p := &Package{
		prefix:    prefix,
		opts:      opts,
		ra:        ra,
		size:      size,
		files:     make(map[string]*zip.File, len(zr.File)),
		folded:    make(map[string]*zip.File, len(zr.File)),
		defaults:  make(map[string]string),
		overrides: make(map[string]string),
		rels:      make(map[string][]Relationship),
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := cleanName(f.Name)
		if name == "" {
			continue
		}
		if _, dup := p.files[name]; dup {
			continue
		}
		p.files[name] = f
		if _, dup := p.folded[strings.ToLower(name)]; !dup {
			p.folded[strings.ToLower(name)] = f
		}
		p.names = append(p.names, name)
	}

	p.loadContentTypes()
	p.loadRels()
	return p, nil
}

// Options returns the limits the package reads parts under.
func (p *Package) Options() Options { return p.opts }

// Prefix returns the identifier prefix given to Open.
func (p *Package) Prefix() string { return p.prefix }

// Source returns the archive bytes the package was opened from, for
// libraries that need the whole file.
func (p *Package) Source() (io.ReaderAt, int64) { return p.ra, p.size }

// ID returns the extraction-wide identifier of a part.
func (p *Package) ID(name string) string { return p.prefix + name }

// Names returns the part names in archive order.
func (p *Package) Names() []string { return p.names }

// Len returns the number of parts.
func (p *Package) Len() int { return len(p.names) }

// Has reports whether the package holds the named part. Names are matched
// exactly first, then case-insensitively.
func (p *Package) Has(name string) bool { return p.lookup(name) != nil }

// Problems returns structural parts that failed to parse during Open.
func (p *Package) Problems() []Problem { return p.problems }

func (p *Package) lookup(name string) *zip.File {
	name = cleanName(name)
	if f, ok := p.files[name]; ok {
		return f
	}
	return p.folded[strings.ToLower(name)]
}

// WithOptions returns a copy of the package that reads parts under opts.
// The entry index is shared; relationships added later with Relate are not.
func (p *Package) WithOptions(opts Options) *Package {
	q := *p
	q.opts = opts
	q.rels = maps.Clone(p.rels)
	q.problems = slices.Clone(p.problems)
	return &q
}

// Read decompresses one part.
func (p *Package) Read(name string) ([]byte, error) {
	return p.read(name, p.opts.MaxPartSize)
}

func (p *Package) read(name string, limit int64) ([]byte, error) {
	f := p.lookup(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, name)
	}
	if limit > 0 && f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s (%d bytes)", ErrPartTooLarge, name, f.UncompressedSize64)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptPart, name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		// The header size can lie; never read past the limit.
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptPart, name, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrPartTooLarge, name)
	}
	return data, nil
}

// ContentType returns the declared content type of a part, from an
// Override entry or else the Default for its extension.
func (p *Package) ContentType(name string) string {
	name = strings.ToLower(cleanName(name))
	if ct, ok := p.overrides[name]; ok {
		return ct
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")
	return p.defaults[ext]
}

// FindType returns the first part, in [Content_Types].xml order, whose
// override content type satisfies match and which exists in the archive.
func (p *Package) FindType(match func(contentType string) bool) (string, bool) {
	for _, tp := range p.typed {
		if match(tp.contentType) && p.Has(tp.name) {
			return cleanName(p.lookup(tp.name).Name), true
		}
	}
	return "", false
}

func (p *Package) loadContentTypes() {
	if !p.Has(contentTypesPart) {
		return
	}
	data, err := p.read(contentTypesPart, p.opts.structureLimit())
	if err != nil {
		p.problems = append(p.problems, Problem{Part: contentTypesPart, Err: err})
		return
	}
	var ct contentTypesXML
	if err := NewDecoder(data).Decode(&ct); err != nil {
		p.problems = append(p.problems, Problem{
			Part: contentTypesPart,
			Err:  fmt.Errorf("%w: %s: %v", ErrCorruptPart, contentTypesPart, err),
		})
		return
	}
	for _, d := range ct.Defaults {
		p.defaults[strings.ToLower(strings.TrimPrefix(d.Extension, "."))] = d.ContentType
	}
	for _, o := range ct.Overrides {
		name := cleanName(o.PartName)
		p.overrides[strings.ToLower(name)] = o.ContentType
		p.typed = append(p.typed, typedPart{name: name, contentType: o.ContentType})
	}
}

// NewDecoder returns an XML decoder for a part body that understands the
// legacy charsets declared by older producers. In a UTF-8 part each run of
// invalid bytes is replaced by U+FFFD, so one stray byte does not fail the
// whole part.
func NewDecoder(data []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(repairUTF8(data)))
	d.CharsetReader = charset.NewReaderLabel
	return d
}

var (
	bomUTF16LE  = []byte{0xFF, 0xFE}
	bomUTF16BE  = []byte{0xFE, 0xFF}
	replacement = []byte("\uFFFD")
)

func repairUTF8(data []byte) []byte {
	if utf8.Valid(data) || bytes.HasPrefix(data, bomUTF16LE) || bytes.HasPrefix(data, bomUTF16BE) {
		return data
	}
	switch strings.ToLower(declaredEncoding(data)) {
	case "", "utf-8", "utf8":
		return bytes.ToValidUTF8(data, replacement)
	}
	return data
}

// declaredEncoding returns the encoding pseudo-attribute of a leading XML
// declaration, or "".
func declaredEncoding(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	if !bytes.HasPrefix(data, []byte("<?xml")) {
		return ""
	}
	end := bytes.Index(data, []byte("?>"))
	if end < 0 {
		return ""
	}
	decl := data[:end]
	i := bytes.Index(decl, []byte("encoding"))
	if i < 0 {
		return ""
	}
	rest := bytes.TrimLeft(decl[i+len("encoding"):], " \t\r\n")
	rest, ok := bytes.CutPrefix(rest, []byte("="))
	if !ok {
		return ""
	}
	rest = bytes.TrimLeft(rest, " \t\r\n")
	if len(rest) == 0 || (rest[0] != '"' && rest[0] != '\'') {
		return ""
	}
	q := rest[0]
	val, _, ok := bytes.Cut(rest[1:], []byte{q})
	if !ok {
		return ""
	}
	return string(val)
}

// cleanName converts an archive entry or part name to the canonical form
// used as a key: forward slashes, no leading slash, no dot segments.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	return name
}
