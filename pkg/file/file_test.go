package file_test

import (
	"path/filepath"
	"testing"

	"github.com/soapboxderby/derbynet-agent/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileService_WriteAndReadJson(t *testing.T) {
	fs := file.NewFileService()
	path := filepath.Join(t.TempDir(), "state.json")

	in := map[string]int{"lane": 3}
	require.NoError(t, fs.WriteJsonFile(path, in))

	var out map[string]int
	require.NoError(t, fs.ReadJsonFile(path, &out))
	assert.Equal(t, in, out)

	exists, err := fs.IsFileExists(path + ".tmp")
	assert.NoError(t, err)
	assert.False(t, exists, "temp file must be renamed away")
}

func TestFileService_ListAndRemove(t *testing.T) {
	fs := file.NewFileService()
	dir := t.TempDir()

	require.NoError(t, fs.WriteFile(filepath.Join(dir, "b.json"), "{}"))
	require.NoError(t, fs.WriteFile(filepath.Join(dir, "a.json"), "{}"))
	require.NoError(t, fs.WriteFile(filepath.Join(dir, "notes.txt"), "x"))
	require.NoError(t, fs.EnsureDir(filepath.Join(dir, "sub")))

	files, err := fs.ListFiles(dir, ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")}, files)

	require.NoError(t, fs.RemoveFile(files[0]))
	assert.NoError(t, fs.RemoveFile(files[0]), "removing twice is fine")

	files, err = fs.ListFiles(dir, ".json")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
