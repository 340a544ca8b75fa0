package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "conf", "b.hcl"), "")
	touch(t, filepath.Join(dir, "conf", "nested", "a.hcl"), "")
	touch(t, filepath.Join(dir, "conf", "notes.txt"), "")
	touch(t, filepath.Join(dir, "extra.conf"), "")

	got, err := ExpandPaths([]string{
		filepath.Join(dir, "conf"),
		filepath.Join(dir, "extra.conf"),
		filepath.Join(dir, "conf", "b.hcl"),
	}, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "conf", "b.hcl"),
		filepath.Join(dir, "conf", "nested", "a.hcl"),
		filepath.Join(dir, "extra.conf"),
	}, got)

	_, err = ExpandPaths([]string{filepath.Join(dir, "missing")}, ".hcl")
	assert.ErrorContains(t, err, "error accessing path")
}

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, "/db/human.yml", ReplaceExt("/db/human.fasta", ".yml"))
	assert.Equal(t, "/db/human.yml", ReplaceExt("/db/human", ".yml"))
	assert.Equal(t, "a.b.tab", ReplaceExt("a.b.c", ".tab"))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/etc/x", Resolve("/base", "/etc/x"))
	assert.Equal(t, filepath.Join("/base", "x"), Resolve("/base", "x"))
	assert.Equal(t, "", Resolve("/base", ""))
}

func TestNonEmpty(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full")
	empty := filepath.Join(dir, "empty")
	touch(t, full, "x")
	touch(t, empty, "")

	assert.NoError(t, NonEmpty(full))
	assert.ErrorContains(t, NonEmpty(empty), "is empty")
	assert.ErrorContains(t, NonEmpty(filepath.Join(dir, "none")), "was not produced")
	assert.True(t, Exists(full))
	assert.False(t, Exists(dir))
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.pep.xml")

	require.NoError(t, WriteAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "<xml/>")
		return err
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<xml/>", string(data))

	failed := filepath.Join(dir, "failed.pep.xml")
	boom := errors.New("boom")
	err = WriteAtomic(failed, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, failed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}
