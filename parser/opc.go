package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/brunobiangulo/goextract/container"
)

// opcMain locates the main part of an OPC package: the target of the
// package's officeDocument relationship, else the first part declared with
// a main content type, else the conventional name.
func opcMain(pkg *container.Package, fallback string) (string, error) {
	for _, r := range pkg.RelsOfType("", "officeDocument") {
		if pkg.Has(r.Target) {
			return r.Target, nil
		}
	}
	if name, ok := pkg.FindType(isMainContentType); ok {
		return name, nil
	}
	if pkg.Has(fallback) {
		return fallback, nil
	}
	return fallback, fmt.Errorf("%w: %s", container.ErrPartNotFound, fallback)
}

// relElement is an element that refers to another part through an r:id
// attribute, such as p:sldId or a workbook sheet.
type relElement struct {
	RelID string
	Attrs map[string]string
}

// scanRelElements returns, in document order, the elements named local
// that carry an r:id attribute, together with their plain attributes.
func scanRelElements(data []byte, local string) ([]relElement, error) {
	dec := container.NewDecoder(data)
	var out []relElement
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != local {
			continue
		}
		id := relAttr(se, "id")
		if id == "" {
			continue
		}
		el := relElement{RelID: id, Attrs: make(map[string]string, len(se.Attr))}
		for _, a := range se.Attr {
			if a.Name.Space == "" {
				el.Attrs[a.Name.Local] = a.Value
			}
		}
		out = append(out, el)
	}
}
