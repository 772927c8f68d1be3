package conversion

import "strings"

var imports = map[string]string{
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"rtf":  "application/rtf",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"html": "text/html",
	"odt":  "application/vnd.oasis.opendocument.text",
	"ods":  "application/vnd.oasis.opendocument.spreadsheet",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"txt":  "text/plain",
	"gif":  "image/gif",
}

var exports = map[string]string{
	"pdf": "application/pdf",
}

// Supports reports whether a file with extension from can be converted to to.
func Supports(from, to string) bool {
	_, okFrom := imports[from]
	_, okTo := exports[to]
	return okFrom && okTo
}

func ImportMimeType(ext string) (string, bool) {
	m, ok := imports[ext]
	return m, ok
}

func ExportMimeType(format string) (string, bool) {
	m, ok := exports[format]
	return m, ok
}

// SupportedConversions lists every extension the converter handles, for
// display to operators.
func SupportedConversions() string {
	return strings.Join([]string{
		"doc", "docx", "rtf", "xls", "xlsx", "ppt", "pptx", "html", "odt", "ods", "txt", "png", "jpg", "gif", "pdf",
	}, ", ")
}
