package parser

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/brunobiangulo/goextract/container"
)

// OPC document property parts (docProps/core.xml, app.xml, custom.xml).

type coreProps struct {
	Title          string `xml:"title"`
	Subject        string `xml:"subject"`
	Creator        string `xml:"creator"`
	Keywords       string `xml:"keywords"`
	Description    string `xml:"description"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Revision       string `xml:"revision"`
	Created        string `xml:"created"`
	Modified       string `xml:"modified"`
	Category       string `xml:"category"`
	Language       string `xml:"language"`
}

type appProps struct {
	Application string `xml:"Application"`
	AppVersion  string `xml:"AppVersion"`
	Company     string `xml:"Company"`
	Pages       string `xml:"Pages"`
	Slides      string `xml:"Slides"`
	Words       string `xml:"Words"`
	Characters  string `xml:"Characters"`
}

type customProps struct {
	Props []struct {
		Name   string `xml:"name,attr"`
		Values []struct {
			XMLName xml.Name
			Text    string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"property"`
}

// opcProps reads the standard property parts of an OPC package into c.
// pageCount selects the app.xml element used for page-count ("Pages",
// "Slides"); empty leaves page-count to the dialect.
func opcProps(pkg *container.Package, c *Collector, pageCount string) {
	md := c.Meta()

	if name := propsPart(pkg, "core-properties", "docProps/core.xml"); name != "" {
		var cp coreProps
		if decodePart(pkg, name, &cp, c) {
			md.Set(KeyTitle, cp.Title)
			md.Set(KeySubject, cp.Subject)
			md.Set(KeyAuthor, cp.Creator)
			md.Add(KeyKeywords, splitKeywords(cp.Keywords)...)
			md.Set(KeyDescription, cp.Description)
			md.Set(KeyCategory, cp.Category)
			md.Set(KeyLanguage, cp.Language)
			md.Set(KeyLastModifiedBy, cp.LastModifiedBy)
			md.Set(KeyRevision, cp.Revision)
			md.Set(KeyCreated, normalizeDate(cp.Created))
			md.Set(KeyModified, normalizeDate(cp.Modified))
		}
	}

	if name := propsPart(pkg, "extended-properties", "docProps/app.xml"); name != "" {
		var ap appProps
		if decodePart(pkg, name, &ap, c) {
			md.Set(KeyApplication, ap.Application)
			md.Set(KeyAppVersion, ap.AppVersion)
			md.Set(KeyCompany, ap.Company)
			switch pageCount {
			case "Pages":
				md.Set(KeyPageCount, ap.Pages)
			case "Slides":
				md.Set(KeyPageCount, ap.Slides)
			}
			md.Set(KeyWordCount, ap.Words)
			md.Set(KeyCharacterCount, ap.Characters)
		}
	}

	if name := propsPart(pkg, "custom-properties", "docProps/custom.xml"); name != "" {
		var cp customProps
		if decodePart(pkg, name, &cp, c) {
			for _, p := range cp.Props {
				if p.Name == "" || len(p.Values) == 0 {
					continue
				}
				v := p.Values[0]
				if v.XMLName.Local == "filetime" || v.XMLName.Local == "date" {
					md.Set(CustomPrefix+p.Name, normalizeDate(v.Text))
					continue
				}
				md.Set(CustomPrefix+p.Name, v.Text)
			}
		}
	}
}

// propsPart finds a property part through the package relationships,
// falling back to its conventional name.
func propsPart(pkg *container.Package, kind, fallback string) string {
	for _, r := range pkg.RelsOfType("", kind) {
		if pkg.Has(r.Target) {
			return r.Target
		}
	}
	if pkg.Has(fallback) {
		return fallback
	}
	return ""
}

// decodePart unmarshals a metadata part. A failure is reported on c and
// the caller omits the keys.
func decodePart(pkg *container.Package, name string, v any, c *Collector) bool {
	data, err := pkg.Read(name)
	if err != nil {
		c.Fail(pkg.ID(name), err)
		return false
	}
	if err := container.NewDecoder(data).Decode(v); err != nil {
		c.Fail(pkg.ID(name), malformed(name, err))
		return false
	}
	return true
}

func splitKeywords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalizeDate renders a timestamp as RFC 3339 when it can be parsed and
// returns it unchanged otherwise.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.IsZero() {
				return ""
			}
			return t.Format(time.RFC3339)
		}
	}
	return s
}
