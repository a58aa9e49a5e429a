package provider

import (
	"mime"
	"path/filepath"
	"strings"
)

// fallbackTypes covers extensions the platform mime database may miss.
var fallbackTypes = map[string]string{
	".md":   "text/markdown",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".log":  "text/plain",
	".gz":   "application/gzip",
	".zip":  "application/zip",
}

// InferContentType infers a MIME type from a file name's extension for
// backends that do not report one. Unknown extensions fall back to
// application/octet-stream.
func InferContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		// Strip charset parameters; callers want the bare type.
		if i := strings.Index(ct, ";"); i >= 0 {
			ct = ct[:i]
		}
		return ct
	}
	if ct, ok := fallbackTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
