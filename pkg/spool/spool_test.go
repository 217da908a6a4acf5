package spool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shambakey1/vifinode/pkg/siteconfig"
)

func testSite(root string) *siteconfig.Site {
	return &siteconfig.Site{
		RootPath:        root,
		InDirName:       "in",
		FinishedDirName: "finished",
		FailedDirName:   "failed",
		LogDirName:      "log",
		ResultsDirName:  "results",
	}
}

func TestPathHelpersJoinUnderRoot(t *testing.T) {
	root := "/srv/vifinode"
	site := testSite(root)

	assert.Equal(t, filepath.Join(root, "in", "ingest"), InDir(site, "ingest"))
	assert.Equal(t, filepath.Join(root, "finished", "ingest"), FinishedDir(site, "ingest"))
	assert.Equal(t, filepath.Join(root, "failed", "ingest"), FailedDir(site, "ingest"))
	assert.Equal(t, filepath.Join(root, "log", "ingest"), LogDir(site, "ingest"))

	reqDir := filepath.Join(root, "in", "ingest", "req1")
	assert.Equal(t, filepath.Join(reqDir, "results"), ResultsDir(site, reqDir))
	assert.Equal(t, filepath.Join(reqDir, "stop.iterating"), StopMarkerPath(reqDir))
}

func TestChangePermissionsRecursiveOwnedEntries(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "nested")
	require.NoError(t, os.MkdirAll(nested, 0o700))
	file := filepath.Join(nested, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	require.NoError(t, ChangePermissionsRecursive(root, 0o755))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	dirInfo, err := os.Stat(nested)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), dirInfo.Mode().Perm())
}
