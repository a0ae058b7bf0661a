// Package zip bundles stored assets into a single archive for download.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Entry is one file in the archive.
type Entry struct {
	Name     string
	Data     []byte
	Modified time.Time
}

// Write streams entries to w as a zip archive. Names are forced to relative
// slash paths; a duplicate name gets a numeric suffix.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(entries))
	for _, entry := range entries {
		name := uniqueName(cleanName(entry.Name), seen)
		header := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: entry.Modified}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(entry.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func cleanName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = strings.TrimLeft(path.Clean("/"+name), "/")
	if name == "" {
		return "file"
	}
	return name
}

func uniqueName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
