package archive_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowmerak/sdkloader.go/lib/archive"
	"github.com/snowmerak/sdkloader.go/lib/archive/archivetest"
)

const prefix = "tfssdk/native/"

func TestExpander_ExtractsOnlyPrefixedEntries(t *testing.T) {
	inside := map[string]string{
		"tfssdk/native/linux/x86_64/libnative_auth.so":      "auth",
		"tfssdk/native/linux/x86_64/libnative_misc.so":      "misc",
		"tfssdk/native/win32/x86/native_synchronization.dll": "sync",
	}
	outside := map[string]string{
		"META-INF/MANIFEST.MF":                     "Manifest-Version: 1.0",
		"com/thoughtworks/go/tfssdk/Adapter.class": "class",
		"tfssdk/readme.txt":                        "not native",
	}

	all := map[string]string{}
	for k, v := range inside {
		all[k] = v
	}
	for k, v := range outside {
		all[k] = v
	}
	entries := append([]archivetest.Entry{{Name: "tfssdk/native/"}}, archivetest.Files(all)...)
	jar := archivetest.Write(t, filepath.Join(t.TempDir(), "tfs-impl.jar"), entries...)

	root := t.TempDir()
	x := &archive.Expander{Prefix: prefix}
	res, err := x.Expand(context.Background(), jar, root)
	require.NoError(t, err)

	assert.Len(t, res.Files, len(inside))
	assert.Equal(t, filepath.Join(root, "tfssdk", "native"), res.ResourceDir)
	for name, content := range inside {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, content, string(data), name)
	}

	var written []string
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			written = append(written, path)
		}
		return nil
	}))
	assert.ElementsMatch(t, res.Files, written)
}

func TestExpander_MissingPrefixWritesNothing(t *testing.T) {
	jar := archivetest.Write(t, filepath.Join(t.TempDir(), "tfs-impl.jar"), archivetest.Files(map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0",
		"lib/other.so":         "other",
	})...)

	root := t.TempDir()
	res, err := (&archive.Expander{Prefix: prefix}).Expand(context.Background(), jar, root)
	require.NoError(t, err)
	assert.Empty(t, res.Files)

	left, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestExpander_RejectsEscapingEntries(t *testing.T) {
	base := t.TempDir()
	jar := archivetest.Write(t, filepath.Join(base, "evil.jar"), archivetest.Entry{
		Name: "tfssdk/native/../../../escaped.so",
		Data: []byte("nope"),
	})

	root := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	_, err := (&archive.Expander{Prefix: prefix}).Expand(context.Background(), jar, root)
	assert.ErrorIs(t, err, archive.ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(base, "escaped.so"))
}

func TestExpander_InvalidArchive(t *testing.T) {
	bogus := filepath.Join(t.TempDir(), "bogus.jar")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not a zip"), 0o600))

	_, err := (&archive.Expander{Prefix: prefix}).Expand(context.Background(), bogus, t.TempDir())
	assert.Error(t, err)
}

func TestEntries_StopsEarly(t *testing.T) {
	jar := archivetest.Write(t, filepath.Join(t.TempDir(), "a.jar"), archivetest.Files(map[string]string{
		"a": "1", "b": "2", "c": "3",
	})...)

	var seen []string
	for e, err := range archive.Entries(jar) {
		require.NoError(t, err)
		seen = append(seen, e.Name)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestReadFile(t *testing.T) {
	jar := archivetest.Write(t, filepath.Join(t.TempDir(), "a.jar"), archivetest.Files(map[string]string{
		"META-INF/sdkloader.yaml": "name: tfssdk",
	})...)

	data, err := archive.ReadFile(jar, "META-INF/sdkloader.yaml")
	require.NoError(t, err)
	assert.Equal(t, "name: tfssdk", string(data))

	_, err = archive.ReadFile(jar, "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCopyToTemp(t *testing.T) {
	dir := t.TempDir()
	var registered string

	path, err := archive.CopyToTemp(context.Background(), dir, "tfs-impl-*.jar",
		func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader([]byte("jar bytes"))), nil
		},
		func(p string) { registered = p },
	)
	require.NoError(t, err)
	assert.Equal(t, path, registered)
	assert.True(t, strings.HasSuffix(path, ".jar"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jar bytes", string(data))
}

func TestCopyToTemp_FailureStillRegistersCleanup(t *testing.T) {
	dir := t.TempDir()
	var registered string
	boom := errors.New("source unavailable")

	path, err := archive.CopyToTemp(context.Background(), dir, "tfs-impl-*.jar",
		func(ctx context.Context) (io.ReadCloser, error) { return nil, boom },
		func(p string) { registered = p },
	)
	assert.ErrorIs(t, err, boom)
	assert.NotEmpty(t, registered)
	assert.Equal(t, path, registered)
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := archivetest.Write(t, filepath.Join(dir, "adapter.jar"),
		archivetest.Entry{Name: "bin/tfs-adapter", Data: []byte("#!/bin/sh\n")},
	)

	target := filepath.Join(dir, "out", "tfs-adapter")
	require.NoError(t, archive.ExtractFile(path, "bin/tfs-adapter", target, 0o755))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), info.Mode().Perm())

	err = archive.ExtractFile(path, "bin/missing", target, 0o755)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
