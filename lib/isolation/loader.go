package isolation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/snowmerak/sdkloader.go/lib/archive"
	"github.com/snowmerak/sdkloader.go/lib/logging"
)

// ErrClosed is returned by lookups on a closed Loader.
var ErrClosed = errors.New("isolation context is closed")

// DefaultDelegated lists the symbol prefixes resolved by the parent context.
var DefaultDelegated = []string{"log/slog"}

// ProcessResolver resolves symbols served by an adapter executable running in
// its own process. owner is the context on whose behalf the symbol is resolved.
// A resolver that implements io.Closer is closed with the Loader.
type ProcessResolver interface {
	Resolve(owner Context, executable, symbol string) (Symbol, error)
}

// Option configures a Loader.
type Option func(*Loader)

// WithParent sets the context delegated symbols are resolved from.
func WithParent(parent Context) Option {
	return func(l *Loader) {
		l.parent = parent
	}
}

// WithDelegated replaces the delegated symbol prefixes.
func WithDelegated(prefixes ...string) Option {
	return func(l *Loader) {
		l.delegated = slices.Clone(prefixes)
	}
}

// WithWorkDir sets the directory the adapter executable is extracted to.
func WithWorkDir(dir string) Option {
	return func(l *Loader) {
		l.workDir = dir
	}
}

// WithProcessResolver enables symbols served by the archive's executable.
func WithProcessResolver(r ProcessResolver) Option {
	return func(l *Loader) {
		l.resolver = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// Loader is an isolation context backed by an adapter archive. Non-delegated
// names resolve only against the archive's own symbols.
type Loader struct {
	name        string
	archivePath string
	manifest    Manifest
	parent      Context
	delegated   []string
	local       map[string]Symbol
	declared    map[string]bool
	workDir     string
	ownsWorkDir bool
	resolver    ProcessResolver
	logger      *slog.Logger

	extractOnce    sync.Once
	executablePath string
	extractErr     error

	mu       sync.Mutex
	resolved map[string]Symbol
	closed   atomic.Bool
}

var _ Context = (*Loader)(nil)

// Open creates an isolation context for the archive at archivePath.
func Open(archivePath string, opts ...Option) (*Loader, error) {
	if _, err := os.Stat(archivePath); err != nil {
		return nil, fmt.Errorf("failed to open isolation context: %w", err)
	}

	manifest, err := ReadManifest(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open isolation context: %w", err)
	}

	l := &Loader{
		archivePath: archivePath,
		manifest:    *manifest,
		delegated:   slices.Clone(DefaultDelegated),
		local:       make(map[string]Symbol),
		resolved:    make(map[string]Symbol),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrDefault(l.logger)

	l.name = manifest.Name
	if l.name == "" {
		l.name = filepath.Base(archivePath)
	}

	if len(manifest.Symbols) > 0 {
		l.declared = make(map[string]bool, len(manifest.Symbols))
		for _, s := range manifest.Symbols {
			l.declared[s] = true
		}
	}

	if manifest.Bundle != "" {
		symbols, ok := lookupBundle(manifest.Bundle)
		if !ok {
			return nil, fmt.Errorf("failed to open isolation context: bundle %q named by %s is not registered", manifest.Bundle, archivePath)
		}
		for name, s := range symbols {
			if l.declared == nil || l.declared[name] {
				l.local[name] = s
			}
		}
	}

	l.logger.Debug("isolation context opened", "context", l.name, "archive", archivePath,
		"bundle", manifest.Bundle, "executable", manifest.Executable, "symbols", len(l.local))
	return l, nil
}

func (l *Loader) Name() string {
	return l.name
}

// ArchivePath returns the archive the context is rooted at.
func (l *Loader) ArchivePath() string {
	return l.archivePath
}

func (l *Loader) Manifest() Manifest {
	return l.manifest
}

// Symbols returns the sorted names resolvable locally without starting a process.
func (l *Loader) Symbols() []string {
	names := make([]string, 0, len(l.local))
	for name := range l.local {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup resolves symbol. Delegated names go to the parent context; every
// other name resolves against the archive only.
func (l *Loader) Lookup(symbol string) (Symbol, error) {
	if l.isDelegated(symbol) {
		if l.parent == nil {
			return nil, fmt.Errorf("%w: %s delegated but %s has no parent", ErrSymbolNotFound, symbol, l.name)
		}
		return l.parent.Lookup(symbol)
	}

	if l.closed.Load() {
		return nil, ErrClosed
	}

	if s, ok := l.local[symbol]; ok {
		return s, nil
	}

	if l.resolver == nil || l.manifest.Executable == "" || !l.declared[symbol] {
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, symbol, l.name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.resolved[symbol]; ok {
		return s, nil
	}

	executable, err := l.executable()
	if err != nil {
		return nil, err
	}
	s, err := l.resolver.Resolve(l, executable, symbol)
	if err != nil {
		return nil, err
	}
	l.resolved[symbol] = s
	return s, nil
}

func (l *Loader) isDelegated(symbol string) bool {
	for _, prefix := range l.delegated {
		if delegates(prefix, symbol) {
			return true
		}
	}
	return false
}

// delegates reports whether prefix covers symbol. A prefix matches itself and
// names below it at a "." or "/" boundary, so "log/slog" covers
// "log/slog.Logger" but not "log/slogx.Logger".
func delegates(prefix, symbol string) bool {
	if prefix == "" || !strings.HasPrefix(symbol, prefix) {
		return false
	}
	if len(symbol) == len(prefix) || strings.HasSuffix(prefix, ".") || strings.HasSuffix(prefix, "/") {
		return true
	}
	next := symbol[len(prefix)]
	return next == '.' || next == '/'
}

// executable extracts the manifest's executable on first use.
func (l *Loader) executable() (string, error) {
	l.extractOnce.Do(func() {
		dir := l.workDir
		if dir == "" {
			tmp, err := os.MkdirTemp("", "sdkloader-bin-")
			if err != nil {
				l.extractErr = fmt.Errorf("failed to create work directory: %w", err)
				return
			}
			dir = tmp
			l.ownsWorkDir = true
			l.workDir = tmp
		}

		target := filepath.Join(dir, "bin", path.Base(l.manifest.Executable))
		if err := archive.ExtractFile(l.archivePath, l.manifest.Executable, target, 0o755); err != nil {
			l.extractErr = fmt.Errorf("failed to extract adapter executable: %w", err)
			return
		}
		l.logger.Info("extracted adapter executable", "context", l.name, "entry", l.manifest.Executable, "dir", dir)
		l.executablePath = target
	})
	return l.executablePath, l.extractErr
}

// Close releases process-backed symbols. Later non-delegated lookups fail with ErrClosed.
func (l *Loader) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if c, ok := l.resolver.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	l.mu.Lock()
	if l.ownsWorkDir {
		if err := os.RemoveAll(l.workDir); err != nil {
			errs = append(errs, err)
		}
	}
	l.mu.Unlock()
	return errors.Join(errs...)
}
