package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/snowmerak/sdkloader.go/lib/logging"
)

// Expander extracts the entries below Prefix.
type Expander struct {
	// Prefix is the archive-internal directory to extract, e.g. "tfssdk/native/".
	Prefix string
	Logger *slog.Logger
}

// Result describes a completed expansion.
type Result struct {
	Root        string
	ResourceDir string
	Files       []string
}

// ResourceDir returns <root>/<prefix> as a filesystem path.
func ResourceDir(root, prefix string) string {
	return filepath.Join(root, filepath.FromSlash(strings.Trim(prefix, "/")))
}

// Expand writes every non-directory entry of archivePath whose name starts with
// the prefix to the same relative path below root. Other entries are skipped.
// The first error aborts the expansion; files already written are left behind.
func (x *Expander) Expand(ctx context.Context, archivePath, root string) (*Result, error) {
	logger := logging.OrDefault(x.Logger)
	logger.Info("exploding natives", "archive", archivePath, "dir", root, "prefix", x.Prefix)

	res := &Result{Root: root, ResourceDir: ResourceDir(root, x.Prefix)}
	for entry, err := range Entries(archivePath) {
		if err != nil {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if entry.Dir || !strings.HasPrefix(entry.Name, x.Prefix) {
			continue
		}

		target, err := targetPath(root, entry.Name)
		if err != nil {
			return res, err
		}
		logger.Debug("exploding file", "entry", entry.Name, "archive", archivePath, "dir", root)
		if err := writeEntry(entry, target); err != nil {
			return res, err
		}
		res.Files = append(res.Files, target)
	}
	return res, nil
}

func targetPath(root, name string) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(root, rel), nil
}

func writeEntry(entry Entry, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	mode := entry.Mode.Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write entry %s: %w", entry.Name, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", target, err)
	}
	return nil
}

// ExtractFile writes the single entry name of archivePath to target with mode.
// It returns fs.ErrNotExist when the archive has no such entry.
func ExtractFile(archivePath, name, target string, mode fs.FileMode) error {
	for entry, err := range Entries(archivePath) {
		if err != nil {
			return err
		}
		if entry.Dir || entry.Name != name {
			continue
		}
		if err := writeEntry(entry, target); err != nil {
			return err
		}
		return os.Chmod(target, mode)
	}
	return fmt.Errorf("entry %s in %s: %w", name, archivePath, fs.ErrNotExist)
}
