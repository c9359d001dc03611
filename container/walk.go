package container

import (
	"iter"
	"strings"
)

// Step tells a Traversal what to do with one relationship.
type Step int

const (
	// Skip ignores the relationship.
	Skip Step = iota
	// Inline visits the target as part of the same logical document.
	Inline
	// Descend visits the target as an embedded object, one level deeper.
	Descend
)

// FollowFunc classifies the outgoing relationships of a visited part.
type FollowFunc func(Relationship) Step

// Visit is one step of a traversal.
type Visit struct {
	// Pkg is the index of the package in the traversal's arena.
	Pkg  int
	Part string
	// Depth counts the embedded-object hops from the top-level document.
	Depth int
	// Embedded is set when the part was reached through a Descend step.
	Embedded bool
	// Placeholder marks an embedded object beyond the depth bound. Its part
	// is never read.
	Placeholder bool
	// Via is the relationship that reached the part, nil for roots.
	Via *Relationship
}

type visitKey struct {
	pkg  int
	part string
}

// Traversal is a breadth-first walk over the parts reachable from a list
// of roots. Each root is expanded completely before the next root starts.
// Packages discovered inside parts join the walk through Embed and are kept
// in an arena addressed by Visit.Pkg.
//
// Every (package, part) pair is yielded at most once per pass, placeholders
// included; Reset starts a new pass.
type Traversal struct {
	maxDepth int

	pkgs   []*Package
	follow []FollowFunc

	roots   []Visit
	pending []Visit
	queue   []Visit
	head    int
	visited map[visitKey]struct{}
}

// NewTraversal starts a traversal over pkg from roots. Embedded objects
// found deeper than maxDepth become placeholder visits.
func NewTraversal(pkg *Package, roots []string, follow FollowFunc, maxDepth int) *Traversal {
	t := &Traversal{
		maxDepth: maxDepth,
		pkgs:     []*Package{pkg},
		follow:   []FollowFunc{follow},
	}
	for _, r := range roots {
		t.roots = append(t.roots, Visit{Pkg: 0, Part: cleanName(r)})
	}
	t.Reset()
	return t
}

// Reset rewinds the traversal to its roots and drops packages added with
// Embed.
func (t *Traversal) Reset() {
	t.pkgs = t.pkgs[:1]
	t.follow = t.follow[:1]
	t.pending = append(t.pending[:0], t.roots...)
	t.queue = t.queue[:0]
	t.head = 0
	t.visited = make(map[visitKey]struct{})
}

// MaxDepth returns the embedding depth bound.
func (t *Traversal) MaxDepth() int { return t.maxDepth }

// Package returns the package at arena index i.
func (t *Traversal) Package(i int) *Package { return t.pkgs[i] }

// Packages returns the number of packages in the arena.
func (t *Traversal) Packages() int { return len(t.pkgs) }

// Next returns the next visit, or false when the walk is exhausted.
func (t *Traversal) Next() (Visit, bool) {
	for {
		if t.head == len(t.queue) {
			if len(t.pending) == 0 {
				return Visit{}, false
			}
			t.queue = append(t.queue[:0], t.pending[0])
			t.head = 0
			t.pending = t.pending[1:]
		}

		v := t.queue[t.head]
		t.head++
		k := t.key(v)
		if _, seen := t.visited[k]; seen {
			continue
		}
		t.visited[k] = struct{}{}
		if !v.Placeholder {
			t.expand(v)
		}
		return v, true
	}
}

// All yields the remaining visits of the current pass.
func (t *Traversal) All() iter.Seq[Visit] {
	return func(yield func(Visit) bool) {
		for {
			v, ok := t.Next()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Embed adds pkg, found inside the part of parent, to the arena and queues
// its roots at the depth of parent. It returns the arena index of pkg.
func (t *Traversal) Embed(parent Visit, pkg *Package, roots []string, follow FollowFunc) int {
	idx := len(t.pkgs)
	t.pkgs = append(t.pkgs, pkg)
	t.follow = append(t.follow, follow)
	for _, r := range roots {
		t.push(Visit{Pkg: idx, Part: cleanName(r), Depth: parent.Depth})
	}
	return idx
}

func (t *Traversal) expand(v Visit) {
	pkg, follow := t.pkgs[v.Pkg], t.follow[v.Pkg]
	if follow == nil {
		return
	}
	for _, rel := range pkg.Rels(v.Part) {
		if rel.External || !pkg.Has(rel.Target) {
			continue
		}
		r := rel
		switch follow(rel) {
		case Inline:
			t.push(Visit{Pkg: v.Pkg, Part: rel.Target, Depth: v.Depth, Via: &r})
		case Descend:
			child := Visit{Pkg: v.Pkg, Part: rel.Target, Depth: v.Depth + 1, Embedded: true, Via: &r}
			if child.Depth > t.maxDepth {
				child.Placeholder = true
			}
			t.push(child)
		}
	}
}

func (t *Traversal) push(v Visit) {
	if _, seen := t.visited[t.key(v)]; seen {
		return
	}
	t.queue = append(t.queue, v)
}

func (t *Traversal) key(v Visit) visitKey {
	return visitKey{pkg: v.Pkg, part: strings.ToLower(v.Part)}
}
