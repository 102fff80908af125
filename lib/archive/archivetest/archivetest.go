// Package archivetest writes zip fixtures for tests.
package archivetest

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Entry is a fixture entry. Names ending in "/" are written as directories.
type Entry struct {
	Name string
	Data []byte
	Mode os.FileMode
}

// Write creates a zip archive at path holding entries, in the given order.
func Write(t testing.TB, path string, entries ...Entry) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create fixture dir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create fixture %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		if strings.HasSuffix(e.Name, "/") {
			hdr.Method = zip.Store
			hdr.SetMode(os.ModeDir | 0o755)
		} else if e.Mode != 0 {
			hdr.SetMode(e.Mode)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("failed to add %s: %v", e.Name, err)
		}
		if len(e.Data) > 0 {
			if _, err := w.Write(e.Data); err != nil {
				t.Fatalf("failed to write %s: %v", e.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish fixture %s: %v", path, err)
	}
	return path
}

// Files converts a name to content map into entries sorted by name.
func Files(files map[string]string) []Entry {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Data: []byte(files[name])})
	}
	return entries
}
