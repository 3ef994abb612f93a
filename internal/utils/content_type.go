package utils

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultContentType = "application/octet-stream"

// DetectContentType guesses a mime type from the file name alone
func DetectContentType(filename string) string {
	if isTextLike(filename) {
		return "text/plain; charset=utf-8"
	} else if mimeType := mime.TypeByExtension(filepath.Ext(filename)); mimeType != "" {
		return mimeType
	}
	return defaultContentType
}

// SniffContentType looks at the first bytes of the content, falling back to the file
// name when the content says nothing more specific than octet-stream.
func SniffContentType(filename string, head []byte) string {
	if len(head) > 0 {
		if detected := mimetype.Detect(head); detected != nil && !detected.Is(defaultContentType) {
			return detected.String()
		}
	}
	return DetectContentType(filename)
}

// SplitContentType returns the base mime type and the charset parameter, if any
func SplitContentType(contentType string) (string, string) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		base, _, _ := strings.Cut(contentType, ";")
		return strings.TrimSpace(base), ""
	}
	return mediaType, params["charset"]
}

func isTextLike(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") ||
		strings.HasSuffix(filename, ".yml") ||
		strings.HasSuffix(filename, ".toml") ||
		strings.HasSuffix(filename, ".md")
}
