package provider

import (
	"strconv"
	"strings"

	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// NormalizeFolder canonicalizes a POSIX-style folder path: no leading or
// trailing slash, no empty segments. An empty result means the backend root.
func NormalizeFolder(folder string) string {
	parts := strings.Split(folder, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// ValidateFolder rejects folder paths that could escape or alias the
// intended namespace.
func ValidateFolder(folder string) error {
	for _, seg := range strings.Split(folder, "/") {
		if seg == ".." || seg == "." {
			return gwerrors.NewValidation("folder path must not contain dot segments")
		}
	}
	return nil
}

// RemotePath joins a normalized folder and a file name into the path used at
// the remote provider.
func RemotePath(folder, name string) string {
	folder = NormalizeFolder(folder)
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// FolderSegments splits a normalized folder path into its segments. Returns
// nil for the root.
func FolderSegments(folder string) []string {
	folder = NormalizeFolder(folder)
	if folder == "" {
		return nil
	}
	return strings.Split(folder, "/")
}

// FormatSize renders a numeric size for backends that report numbers; the
// listing contract passes sizes through as strings.
func FormatSize(size int64) string {
	return strconv.FormatInt(size, 10)
}
