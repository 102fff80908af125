// Package archive copies adapter archives to private temporary storage and
// extracts the native resources they carry.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
)

// ErrUnsafePath is returned for entries that would be written outside the
// extraction root.
var ErrUnsafePath = errors.New("archive entry escapes extraction root")

// Entry is one record of an archive's entry table.
type Entry struct {
	Name string
	Dir  bool
	Size uint64
	Mode fs.FileMode
	file *zip.File
}

// Open returns the entry content.
func (e Entry) Open() (io.ReadCloser, error) {
	if e.file == nil {
		return nil, fmt.Errorf("entry %s has no content", e.Name)
	}
	return e.file.Open()
}

// Entries iterates over the entry table of the archive at path. The archive
// stays open while the sequence is consumed; an open failure is yielded as the
// only element.
func Entries(path string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		r, err := zip.OpenReader(path)
		if err != nil {
			yield(Entry{}, fmt.Errorf("failed to open archive %s: %w", path, err))
			return
		}
		defer r.Close()

		for _, f := range r.File {
			e := Entry{
				Name: f.Name,
				Dir:  f.FileInfo().IsDir(),
				Size: f.UncompressedSize64,
				Mode: f.Mode(),
				file: f,
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ReadFile returns the content of the named entry.
func ReadFile(path, name string) ([]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer r.Close()

	data, err := fs.ReadFile(r, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", name, path, err)
	}
	return data, nil
}

// Opener returns the content of an archive location.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// CopyToTemp creates a uniquely named file in dir and copies the content
// returned by open into it. onCreate is called with the new path before any
// content is read, so the file can be scheduled for removal even when the copy
// fails.
func CopyToTemp(ctx context.Context, dir, pattern string, open Opener, onCreate func(path string)) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary archive: %w", err)
	}
	path := f.Name()
	if onCreate != nil {
		onCreate(path)
	}

	if err := copyInto(ctx, f, open); err != nil {
		f.Close()
		return path, err
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("failed to close temporary archive %s: %w", path, err)
	}
	return path, nil
}

func copyInto(ctx context.Context, dst io.Writer, open Opener) error {
	src, err := open(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy archive: %w", err)
	}
	return nil
}
