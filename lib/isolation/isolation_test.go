package isolation_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowmerak/sdkloader.go/lib/archive/archivetest"
	"github.com/snowmerak/sdkloader.go/lib/isolation"
)

const adapterSymbol = "com.thoughtworks.go.tfssdk.TfsSDKCommandTCLAdapter"

func writeArchive(t *testing.T, manifest string, extra ...archivetest.Entry) string {
	t.Helper()
	entries := extra
	if manifest != "" {
		entries = append(entries, archivetest.Entry{Name: isolation.ManifestPath, Data: []byte(manifest)})
	}
	return archivetest.Write(t, filepath.Join(t.TempDir(), "tfs-impl.jar"), entries...)
}

func TestTable(t *testing.T) {
	table := isolation.NewTable("host", map[string]isolation.Symbol{"answer": 42})

	v, err := table.Lookup("answer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = table.Lookup("missing")
	assert.ErrorIs(t, err, isolation.ErrSymbolNotFound)

	table.Define("missing", "now present")
	v, err = table.Lookup("missing")
	require.NoError(t, err)
	assert.Equal(t, "now present", v)
}

func TestScope_SwapRestoresInReverseOrder(t *testing.T) {
	host := isolation.NewTable("host", nil)
	a := isolation.NewTable("a", nil)
	b := isolation.NewTable("b", nil)

	scope := isolation.NewScope(host)
	restoreA := scope.Swap(a)
	assert.Same(t, a, scope.Current())

	restoreB := scope.Swap(b)
	assert.Same(t, b, scope.Current())

	restoreB()
	assert.Same(t, a, scope.Current())
	restoreA()
	assert.Same(t, host, scope.Current())

	// restore is idempotent
	restoreB()
	assert.Same(t, host, scope.Current())
}

func TestScope_NilInitial(t *testing.T) {
	scope := isolation.NewScope(nil)
	restore := scope.Swap(isolation.NewTable("a", nil))
	restore()
	assert.Nil(t, scope.Current())
}

func TestOpen_BundleSymbolsAreFilteredByManifest(t *testing.T) {
	isolation.RegisterBundle("test-filtered", map[string]isolation.Symbol{
		adapterSymbol: "constructor",
		"undeclared":  "hidden",
	})
	path := writeArchive(t, "name: tfs-sdk\nbundle: test-filtered\nsymbols:\n  - "+adapterSymbol+"\n")

	l, err := isolation.Open(path)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "tfs-sdk", l.Name())
	assert.Equal(t, []string{adapterSymbol}, l.Symbols())

	v, err := l.Lookup(adapterSymbol)
	require.NoError(t, err)
	assert.Equal(t, "constructor", v)

	_, err = l.Lookup("undeclared")
	assert.ErrorIs(t, err, isolation.ErrSymbolNotFound)
	assert.Contains(t, isolation.Bundles(), "test-filtered")
}

func TestOpen_DelegatesLoggingToParentOnly(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	host := isolation.HostTable(logger)
	host.Define("com.example.HostOnly", "host value")

	isolation.RegisterBundle("test-delegation", map[string]isolation.Symbol{
		isolation.LoggerSymbol: "shadowed logger",
	})
	path := writeArchive(t, "bundle: test-delegation\n")

	l, err := isolation.Open(path, isolation.WithParent(host))
	require.NoError(t, err)
	defer l.Close()

	v, err := l.Lookup(isolation.LoggerSymbol)
	require.NoError(t, err)
	assert.Same(t, logger, v)

	_, err = l.Lookup("com.example.HostOnly")
	assert.ErrorIs(t, err, isolation.ErrSymbolNotFound, "non-delegated names must not fall through to the parent")
}

func TestOpen_CustomDelegation(t *testing.T) {
	host := isolation.NewTable("host", map[string]isolation.Symbol{"shared.Clock": "clock"})
	path := writeArchive(t, "")

	l, err := isolation.Open(path, isolation.WithParent(host), isolation.WithDelegated("shared."))
	require.NoError(t, err)

	v, err := l.Lookup("shared.Clock")
	require.NoError(t, err)
	assert.Equal(t, "clock", v)

	_, err = l.Lookup(isolation.LoggerSymbol)
	assert.ErrorIs(t, err, isolation.ErrSymbolNotFound)
}

func TestOpen_MissingManifest(t *testing.T) {
	path := writeArchive(t, "", archivetest.Entry{Name: "tfssdk/native/readme.txt", Data: []byte("x")})

	l, err := isolation.Open(path)
	require.NoError(t, err)

	assert.Equal(t, "tfs-impl.jar", l.Name())
	assert.Empty(t, l.Symbols())
	_, err = l.Lookup(adapterSymbol)
	assert.ErrorIs(t, err, isolation.ErrSymbolNotFound)

	_, err = l.Lookup(isolation.LoggerSymbol)
	assert.ErrorIs(t, err, isolation.ErrSymbolNotFound, "delegated lookups without a parent fail")
}

func TestOpen_Failures(t *testing.T) {
	t.Run("missing archive", func(t *testing.T) {
		_, err := isolation.Open(filepath.Join(t.TempDir(), "absent.jar"))
		assert.Error(t, err)
	})
	t.Run("unregistered bundle", func(t *testing.T) {
		_, err := isolation.Open(writeArchive(t, "bundle: never-registered\n"))
		assert.ErrorContains(t, err, "never-registered")
	})
	t.Run("malformed manifest", func(t *testing.T) {
		_, err := isolation.Open(writeArchive(t, "symbols: [unterminated\n"))
		assert.Error(t, err)
	})
	t.Run("not an archive", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.jar")
		require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
		_, err := isolation.Open(path)
		assert.Error(t, err)
	})
}

type fakeResolver struct {
	mu      sync.Mutex
	calls   []string
	owner   isolation.Context
	content []byte
	closed  bool
}

func (r *fakeResolver) Resolve(owner isolation.Context, executable, symbol string) (isolation.Symbol, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := os.ReadFile(executable)
	if err != nil {
		return nil, err
	}
	r.content = data
	r.owner = owner
	r.calls = append(r.calls, symbol)
	return "remote:" + symbol, nil
}

func (r *fakeResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestLoader_ProcessBackedSymbols(t *testing.T) {
	manifest := "executable: bin/tfs-adapter\nsymbols:\n  - " + adapterSymbol + "\n"
	path := writeArchive(t, manifest, archivetest.Entry{Name: "bin/tfs-adapter", Data: []byte("adapter-binary")})

	resolver := &fakeResolver{}
	workDir := t.TempDir()
	l, err := isolation.Open(path, isolation.WithProcessResolver(resolver), isolation.WithWorkDir(workDir))
	require.NoError(t, err)

	v, err := l.Lookup(adapterSymbol)
	require.NoError(t, err)
	assert.Equal(t, "remote:"+adapterSymbol, v)

	_, err = l.Lookup(adapterSymbol)
	require.NoError(t, err)
	assert.Equal(t, []string{adapterSymbol}, resolver.calls, "resolved symbols are cached")
	assert.Equal(t, []byte("adapter-binary"), resolver.content)
	assert.Same(t, l, resolver.owner)
	assert.FileExists(t, filepath.Join(workDir, "bin", "tfs-adapter"))

	_, err = l.Lookup("com.example.Undeclared")
	assert.ErrorIs(t, err, isolation.ErrSymbolNotFound)

	require.NoError(t, l.Close())
	assert.True(t, resolver.closed)
	_, err = l.Lookup(adapterSymbol)
	assert.ErrorIs(t, err, isolation.ErrClosed)
}

func TestLoader_MissingExecutable(t *testing.T) {
	manifest := "executable: bin/absent\nsymbols:\n  - " + adapterSymbol + "\n"
	l, err := isolation.Open(writeArchive(t, manifest), isolation.WithProcessResolver(&fakeResolver{}))
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Lookup(adapterSymbol)
	assert.ErrorContains(t, err, "failed to extract adapter executable")
}

func TestOpen_DelegationStopsAtNameBoundaries(t *testing.T) {
	host := isolation.NewTable("host", map[string]isolation.Symbol{
		"log/slog":           "package",
		"log/slogx.Logger":   "host lookalike",
		"shared.Clock":       "clock",
		"sharedstate.Config": "host config",
	})
	isolation.RegisterBundle("test-boundaries", map[string]isolation.Symbol{
		"log/slogx.Logger":   "archive lookalike",
		"sharedstate.Config": "archive config",
	})
	path := writeArchive(t, "bundle: test-boundaries\n")

	l, err := isolation.Open(path, isolation.WithParent(host), isolation.WithDelegated("log/slog", "shared"))
	require.NoError(t, err)
	defer l.Close()

	tests := []struct {
		symbol string
		want   isolation.Symbol
	}{
		{"log/slog", "package"},
		{"shared.Clock", "clock"},
		{"log/slogx.Logger", "archive lookalike"},
		{"sharedstate.Config", "archive config"},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			v, err := l.Lookup(tt.symbol)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}
