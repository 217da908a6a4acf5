package resultactions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCopyAndMove(t *testing.T) {
	reqDir := t.TempDir()
	resultsDir := filepath.Join(reqDir, "results")
	require.NoError(t, os.MkdirAll(resultsDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(reqDir, "out.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(reqDir, "gone.txt"), []byte("bye"), 0o644))

	results := map[string][]string{
		"out.txt":  {ActionCopy},
		"gone.txt": {ActionMove},
	}
	require.NoError(t, Apply(reqDir, resultsDir, results))

	copied, err := os.ReadFile(filepath.Join(resultsDir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(copied))

	_, err = os.Stat(filepath.Join(reqDir, "out.txt"))
	assert.NoError(t, err, "copy leaves the source in place")

	moved, err := os.ReadFile(filepath.Join(resultsDir, "gone.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bye", string(moved))

	_, err = os.Stat(filepath.Join(reqDir, "gone.txt"))
	assert.True(t, os.IsNotExist(err), "move removes the source")
}

func TestApplyNoMatchIsNonFatal(t *testing.T) {
	reqDir := t.TempDir()
	resultsDir := filepath.Join(reqDir, "results")
	require.NoError(t, os.MkdirAll(resultsDir, 0o755))

	err := Apply(reqDir, resultsDir, map[string][]string{"*.missing": {ActionCopy}})
	assert.NoError(t, err)
}

func TestRemoveDeletesMatches(t *testing.T) {
	reqDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(reqDir, "scratch.tmp"), []byte("x"), 0o644))

	require.NoError(t, Remove(reqDir, []string{"*.tmp"}))

	_, err := os.Stat(filepath.Join(reqDir, "scratch.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestCopyTreePreservesStructure(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "f.txt"), []byte("data"), 0o644))

	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, CopyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "nested", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}
