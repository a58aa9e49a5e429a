package provider

import (
	"sort"
	"strings"
	"time"
)

// ObjectEntry is one raw key from a flat-namespace listing (Backblaze, GCS),
// before folder emulation.
type ObjectEntry struct {
	Key     string
	Size    int64
	Updated time.Time
}

// EmulateFolderListing turns a flat key listing into the entries directly
// under folder. Keys deeper than one segment below the folder collapse into
// a single pseudo-folder entry per first segment: the backend has no real
// folder objects, only key prefixes.
func EmulateFolderListing(entries []ObjectEntry, folder string) []FileListItem {
	prefix := NormalizeFolder(folder)
	if prefix != "" {
		prefix += "/"
	}

	sorted := make([]ObjectEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var items []FileListItem
	seenFolders := make(map[string]bool)

	for _, e := range sorted {
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(e.Key, prefix)
		if rest == "" {
			continue
		}

		if i := strings.Index(rest, "/"); i >= 0 {
			name := rest[:i]
			if seenFolders[name] {
				continue
			}
			seenFolders[name] = true
			items = append(items, FileListItem{
				Name:     name,
				Size:     "0",
				IsFolder: true,
			})
			continue
		}

		updated := e.Updated
		item := FileListItem{
			Name:        rest,
			Size:        FormatSize(e.Size),
			ContentType: InferContentType(rest),
		}
		if !updated.IsZero() {
			item.UpdatedAt = &updated
		}
		items = append(items, item)
	}

	return items
}

// KeysUnderFolder returns every key prefixed by folder + "/" (or all keys at
// the root), in sorted order. Used by recursive prefix deletion.
func KeysUnderFolder(entries []ObjectEntry, folder string) []string {
	prefix := NormalizeFolder(folder)
	if prefix != "" {
		prefix += "/"
	}

	var keys []string
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) && e.Key != prefix {
			keys = append(keys, e.Key)
		}
	}
	sort.Strings(keys)
	return keys
}
