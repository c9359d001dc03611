package parser

// Format identifies a document format. Container families (zip, OLE2)
// have a generic Format used when the dialect inside is not known.
type Format string

const (
	FormatZip          Format = "zip"
	FormatEmptyPackage Format = "empty"
	FormatDOCX         Format = "docx"
	FormatXLSX         Format = "xlsx"
	FormatPPTX         Format = "pptx"
	FormatODT          Format = "odt"
	FormatODS          Format = "ods"
	FormatODP          Format = "odp"
	FormatEPUB         Format = "epub"
	FormatPDF          Format = "pdf"
	FormatOLE2         Format = "ole2"
	FormatDOC          Format = "doc"
	FormatXLS          Format = "xls"
	FormatPPT          Format = "ppt"
	FormatText         Format = "txt"
)

var mimeTypes = map[Format]string{
	FormatZip:          "application/zip",
	FormatEmptyPackage: "application/zip",
	FormatDOCX:         "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatXLSX:         "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatPPTX:         "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	FormatODT:          "application/vnd.oasis.opendocument.text",
	FormatODS:          "application/vnd.oasis.opendocument.spreadsheet",
	FormatODP:          "application/vnd.oasis.opendocument.presentation",
	FormatEPUB:         "application/epub+zip",
	FormatPDF:          "application/pdf",
	FormatOLE2:         "application/x-ole-storage",
	FormatDOC:          "application/msword",
	FormatXLS:          "application/vnd.ms-excel",
	FormatPPT:          "application/vnd.ms-powerpoint",
	FormatText:         "text/plain",
}

// MIMEType returns the canonical media type of the format.
func (f Format) MIMEType() string {
	if mt, ok := mimeTypes[f]; ok {
		return mt
	}
	return "application/octet-stream"
}

func (f Format) String() string { return string(f) }
