// Package xmlutil wraps untrusted text in XML-delimited prompt sections.
package xmlutil

import (
	"encoding/xml"
	"strings"
)

// Escape replaces characters with special meaning in XML so that user
// supplied values cannot close or open prompt sections.
func Escape(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		// EscapeText only fails on invalid UTF-8.
		return s
	}
	return buf.String()
}

// Tag renders value escaped inside <name>...</name>.
func Tag(name, value string) string {
	return "<" + name + ">" + Escape(value) + "</" + name + ">"
}
