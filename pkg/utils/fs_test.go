package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanDirectoryContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file1.txt"), []byte("hello"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "subdir"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subdir", "nested.txt"), []byte("nested"), 0644))

	require.NoError(t, CleanDirectoryContents(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "directory itself is kept")
}

func TestCleanDirectoryContentsKeeps(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".codeforge"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codeforge", "sessions.db"), []byte("db"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.py"), []byte("x"), 0644))

	require.NoError(t, CleanDirectoryContents(dir, ".codeforge"))

	assert.FileExists(t, filepath.Join(dir, ".codeforge", "sessions.db"))
	assert.NoFileExists(t, filepath.Join(dir, "stale.py"))
}

func TestCleanDirectoryContents_NonExistentDir(t *testing.T) {
	assert.NoError(t, CleanDirectoryContents(filepath.Join(t.TempDir(), "missing")))
}

func TestWriteFileIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "file.py")

	wrote, err := WriteFileIfChanged(path, []byte("x = 1\n"), 0644)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = WriteFileIfChanged(path, []byte("x = 1\n"), 0644)
	require.NoError(t, err)
	assert.False(t, wrote, "identical content is not rewritten")

	wrote, err = WriteFileIfChanged(path, []byte("x = 2\n"), 0644)
	require.NoError(t, err)
	assert.True(t, wrote)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x = 2\n", string(data))
}
