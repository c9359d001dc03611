package parser

import (
	"fmt"
	"slices"
)

// Family is the closed set of document families the engine knows.
type Family int

const (
	FamilyEmpty Family = iota
	FamilyWordprocessing
	FamilySpreadsheet
	FamilyPresentation
	FamilyEbook
	FamilyPortable
	FamilyLegacy
	FamilyPlainText
)

func (f Family) String() string {
	switch f {
	case FamilyEmpty:
		return "empty"
	case FamilyWordprocessing:
		return "wordprocessing"
	case FamilySpreadsheet:
		return "spreadsheet"
	case FamilyPresentation:
		return "presentation"
	case FamilyEbook:
		return "ebook"
	case FamilyPortable:
		return "portable"
	case FamilyLegacy:
		return "legacy"
	case FamilyPlainText:
		return "plaintext"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// Capabilities describes what a format's extractor can produce.
type Capabilities struct {
	Text     bool
	Metadata bool
	Embedded bool
}

// Entry binds a format to its extractor. Exactly one of NewDialect and
// Leaf is set, except for the empty family which has neither.
type Entry struct {
	Format     Format
	Family     Family
	Caps       Capabilities
	NewDialect func() PackageDialect
	Leaf       LeafParser
}

// Registry maps detected formats to extractors. It is built once and only
// read afterwards, so a single Registry may serve concurrent extractions.
type Registry struct {
	entries map[Format]Entry
}

type RegistryOption func(*Registry)

// WithEntry adds or replaces the entry for e.Format.
func WithEntry(e Entry) RegistryOption {
	return func(r *Registry) { r.entries[e.Format] = e }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{entries: make(map[Format]Entry)}
	full := Capabilities{Text: true, Metadata: true, Embedded: true}
	for _, e := range []Entry{
		{Format: FormatEmptyPackage, Family: FamilyEmpty},
		{Format: FormatDOCX, Family: FamilyWordprocessing, Caps: full, NewDialect: newDOCX},
		{Format: FormatXLSX, Family: FamilySpreadsheet, Caps: full, NewDialect: newXLSX},
		{Format: FormatPPTX, Family: FamilyPresentation, Caps: full, NewDialect: newPPTX},
		{Format: FormatODT, Family: FamilyWordprocessing, Caps: full, NewDialect: newODF},
		{Format: FormatODS, Family: FamilySpreadsheet, Caps: full, NewDialect: newODF},
		{Format: FormatODP, Family: FamilyPresentation, Caps: full, NewDialect: newODF},
		{Format: FormatEPUB, Family: FamilyEbook, Caps: Capabilities{Text: true, Metadata: true}, NewDialect: newEPUB},
		{Format: FormatPDF, Family: FamilyPortable, Caps: Capabilities{Text: true, Metadata: true}, Leaf: pdfParser{}},
		{Format: FormatPPT, Family: FamilyLegacy, Caps: Capabilities{Text: true, Metadata: true}, Leaf: ole2Parser{text: true}},
		{Format: FormatDOC, Family: FamilyLegacy, Caps: Capabilities{Metadata: true}, Leaf: ole2Parser{}},
		{Format: FormatXLS, Family: FamilyLegacy, Caps: Capabilities{Metadata: true}, Leaf: ole2Parser{}},
		{Format: FormatText, Family: FamilyPlainText, Caps: Capabilities{Text: true}, Leaf: textParser{}},
	} {
		r.entries[e.Format] = e
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the entry for f. Generic containers whose dialect was not
// recognized fail with ErrUnsupportedVariant.
func (r *Registry) Lookup(f Format) (Entry, error) {
	if e, ok := r.entries[f]; ok {
		return e, nil
	}
	switch f {
	case FormatZip, FormatOLE2:
		return Entry{}, fmt.Errorf("%w: no extractor for %s container dialect", ErrUnsupportedVariant, f)
	}
	return Entry{}, fmt.Errorf("%w: no extractor for format: %s", ErrUnrecognized, f)
}

// Formats lists the registered formats in sorted order.
func (r *Registry) Formats() []Format {
	out := make([]Format, 0, len(r.entries))
	for f := range r.entries {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
