package utils

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const fallbackContentType = "application/octet-stream"

// DetectContentType resolves a MIME type for stored content. The filename
// extension wins when it maps to a registered type; otherwise the first
// bytes are sniffed, with a UTF-8 check so text pastes without an extension
// come back as text/plain instead of octet-stream.
func DetectContentType(filename string, content []byte) string {
	if filename != "" {
		if mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); mimeType != "" {
			return mimeType
		}
	}

	if len(content) == 0 {
		return fallbackContentType
	}

	sniffed := http.DetectContentType(content)
	if sniffed == fallbackContentType && utf8.Valid(content) {
		return "text/plain; charset=utf-8"
	}
	return sniffed
}

var textishPrefixes = []string{
	"text/",
	"application/json",
	"application/xml",
	"application/javascript",
	"application/x-sh",
	"application/x-yaml",
}

// IsTextContent reports whether the content type can be rendered inline as
// text.
func IsTextContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	for _, prefix := range textishPrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}
