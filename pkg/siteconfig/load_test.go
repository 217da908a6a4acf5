package siteconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSiteFile(t *testing.T, root string) string {
	t.Helper()
	content := `
domains:
  root_script_path: ` + root + `
  unpack_int: 2
  proc_int: 3
  sets:
    ingest:
      docker:
        docker_img: any
        docker_rep: 4
        ttl: 120
req_log_path: ` + root + `/logs
`
	path := filepath.Join(t.TempDir(), "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCreatesSpoolLayoutAndDefaults(t *testing.T) {
	root := t.TempDir()
	path := writeSiteFile(t, root)

	site, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "in", site.InDirName)
	assert.Equal(t, "finished", site.FinishedDirName)
	assert.Equal(t, "failed", site.FailedDirName)
	assert.Equal(t, "results", site.ResultsDirName)

	domain, ok := site.Domain("ingest")
	require.True(t, ok)
	assert.Equal(t, 2, domain.UnpackInterval)
	assert.Equal(t, 3, domain.RunInterval)

	for _, sub := range []string{"in", "finished", "failed", "log"} {
		info, err := os.Stat(filepath.Join(root, sub, "ingest"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoadRejectsMissingRootPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("domains:\n  sets:\n    a: {}\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNoDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("domains:\n  root_script_path: /tmp/x\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
