package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jvs-project/coordkit/pkg/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	data := []byte(`{"planId":42}`)

	err := fsutil.AtomicWrite(path, data, 0644)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestAtomicWrite_CreatesMissingDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "maps", "cfg.json")

	require.NoError(t, fsutil.AtomicWrite(path, []byte("{}"), 0644))
	assert.FileExists(t, path)
}

func TestAtomicWrite_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	err := fsutil.AtomicWrite(path, []byte("new"), 0644)
	require.NoError(t, err)

	content, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(content))
}

func TestAtomicWrite_NoTmpLeftOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	require.NoError(t, fsutil.AtomicWrite(path, []byte("data"), 0644))

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "only the target file should exist")
}

func TestReadIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")

	data, ok, err := fsutil.ReadIfExists(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	data, ok, err = fsutil.ReadIfExists(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", string(data))
}

func TestFsyncDir(t *testing.T) {
	assert.NoError(t, fsutil.FsyncDir(t.TempDir()))
}

func TestIsTempFile(t *testing.T) {
	assert.True(t, fsutil.IsTempFile("/x/"+fsutil.TempPrefix+"123"))
	assert.False(t, fsutil.IsTempFile("/x/cfg.json"))
}
