package parser

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/brunobiangulo/goextract/container"
)

// walkChart emits the rich text of a chart part (titles, axis titles) and
// then its cached string data: series names and category labels, one
// tab-joined fragment per cache.
func walkChart(data []byte, out *PartWriter) error {
	if err := walkFlow(data, out, nil); err != nil {
		return err
	}

	dec := container.NewDecoder(data)
	var (
		inCache bool
		inValue bool
		values  []string
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return malformed("chart", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "strCache":
				inCache, values = true, nil
			case "v":
				inValue = inCache
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "strCache":
				inCache = false
				out.Text(strings.Join(values, "\t"))
			case "v":
				inValue = false
			}
		case xml.CharData:
			if inValue {
				if s := strings.TrimSpace(string(t)); s != "" {
					values = append(values, s)
				}
			}
		}
	}
}
