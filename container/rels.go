package container

import (
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
)

// Relationship is one declared reference from a source part to a target.
// Target is an absolute part name unless External is set, in which case it
// is the raw target and is never followed.
type Relationship struct {
	Source   string
	ID       string
	Type     string
	Target   string
	External bool
}

// Is reports whether the relationship type URI ends with kind, so that the
// transitional and strict OOXML namespaces match the same name:
// "slide", "notesSlide", "diagramData", "package", "core-properties".
func (r Relationship) Is(kind string) bool {
	return strings.HasSuffix(r.Type, "/"+kind)
}

// Kind returns the last segment of the relationship type URI.
func (r Relationship) Kind() string { return path.Base(r.Type) }

type relationshipsXML struct {
	Rels []struct {
		ID         string `xml:"Id,attr"`
		Type       string `xml:"Type,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// Rels returns the relationships declared by source in declaration order.
// The empty source names the package itself (_rels/.rels).
func (p *Package) Rels(source string) []Relationship {
	return p.rels[relKey(source)]
}

// Rel returns the relationship of source with the given id.
func (p *Package) Rel(source, id string) (Relationship, bool) {
	for _, r := range p.rels[relKey(source)] {
		if r.ID == id {
			return r, true
		}
	}
	return Relationship{}, false
}

// RelsOfType returns the relationships of source that satisfy Is(kind).
func (p *Package) RelsOfType(source, kind string) []Relationship {
	var out []Relationship
	for _, r := range p.rels[relKey(source)] {
		if r.Is(kind) {
			out = append(out, r)
		}
	}
	return out
}

// Relate adds relationships for formats that declare references outside
// _rels (ODF manifests, EPUB spines). It must be called before a Traversal
// over the package starts.
func (p *Package) Relate(rels ...Relationship) {
	for _, r := range rels {
		if !r.External {
			r.Target = cleanName(r.Target)
		}
		k := relKey(r.Source)
		// Clipped: copies made by WithOptions share the backing arrays.
		p.rels[k] = append(slices.Clip(p.rels[k]), r)
	}
}

func relKey(source string) string {
	return strings.ToLower(cleanName(source))
}

func (p *Package) loadRels() {
	for _, name := range p.names {
		dir, base := path.Split(name)
		if !strings.HasSuffix(base, ".rels") {
			continue
		}
		if dir != "_rels/" && !strings.HasSuffix(dir, "/_rels/") {
			continue
		}
		source := strings.TrimSuffix(dir, "_rels/") + strings.TrimSuffix(base, ".rels")

		data, err := p.read(name, p.opts.structureLimit())
		if err != nil {
			p.problems = append(p.problems, Problem{Part: name, Err: err})
			continue
		}
		var doc relationshipsXML
		if err := NewDecoder(data).Decode(&doc); err != nil {
			p.problems = append(p.problems, Problem{
				Part: name,
				Err:  fmt.Errorf("%w: %s: %v", ErrCorruptPart, name, err),
			})
			continue
		}

		k := relKey(source)
		for _, r := range doc.Rels {
			rel := Relationship{
				Source:   cleanName(source),
				ID:       r.ID,
				Type:     r.Type,
				Target:   r.Target,
				External: strings.EqualFold(r.TargetMode, "External"),
			}
			if !rel.External {
				rel.Target = resolveTarget(source, r.Target)
			}
			p.rels[k] = append(p.rels[k], rel)
		}
	}
}

// resolveTarget turns a relationship target into an absolute part name.
// Targets starting with "/" are package-absolute; others are relative to
// the directory of the source part.
func resolveTarget(source, target string) string {
	if t, err := url.PathUnescape(target); err == nil {
		target = t
	}
	target = strings.ReplaceAll(target, "\\", "/")
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	if strings.HasPrefix(target, "/") {
		return cleanName(target)
	}
	return cleanName(path.Join(path.Dir(source), target))
}
