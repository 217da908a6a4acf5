package unpacker

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shambakey1/vifinode/pkg/manifest"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
)

const testManifest = `services:
  a:
    image: busybox
    tasks: 1
    ser_check_thr: 60
    iterative:
      max_rep: 2
`

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func testSite(root string) *siteconfig.Site {
	return &siteconfig.Site{
		RootPath:        root,
		InDirName:       "in",
		FinishedDirName: "finished",
		FailedDirName:   "failed",
		LogDirName:      "log",
		Domains:         map[string]*siteconfig.Domain{"ingest": {}},
	}
}

func TestUnpackOneFreshRequest(t *testing.T) {
	root := t.TempDir()
	site := testSite(root)
	inDir := filepath.Join(root, "in", "ingest")
	require.NoError(t, os.MkdirAll(inDir, 0o755))

	writeZip(t, filepath.Join(inDir, "req1.zip"), map[string]string{
		"manifest.yaml": testManifest,
		"input.csv":     "1,2,3",
	})

	u := &Unpacker{Site: site, Store: manifest.Store{}}
	require.NoError(t, u.tickDomain("ingest"))

	destDir := filepath.Join(inDir, "req1")
	data, err := os.ReadFile(filepath.Join(destDir, "input.csv"))
	require.NoError(t, err)
	assert.Equal(t, "1,2,3", string(data))

	_, err = os.Stat(filepath.Join(inDir, "req1.zip"))
	assert.True(t, os.IsNotExist(err), "archive should be removed after extraction")
}

func TestUnpackOneMergesBackAndBumpsMaxRep(t *testing.T) {
	root := t.TempDir()
	site := testSite(root)
	inDir := filepath.Join(root, "in", "ingest")
	finishedDir := filepath.Join(root, "finished", "ingest")
	require.NoError(t, os.MkdirAll(inDir, 0o755))

	finishedReqDir := filepath.Join(finishedDir, "req1")
	require.NoError(t, os.MkdirAll(finishedReqDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(finishedReqDir, "manifest.yaml"), []byte(testManifest), 0o644))

	writeZip(t, filepath.Join(inDir, "req1.zip"), map[string]string{
		"input.csv": "4,5,6",
	})

	u := &Unpacker{Site: site, Store: manifest.Store{}}
	require.NoError(t, u.tickDomain("ingest"))

	_, err := os.Stat(finishedReqDir)
	assert.True(t, os.IsNotExist(err), "finished copy should be renamed into in/")

	destDir := filepath.Join(inDir, "req1")
	m, err := (manifest.Store{}).Load(destDir)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Services["a"].Iterative.MaxRep.Value, "max_rep should be bumped by one on merge-back")
}

func TestUnpackOneRelocatesRootLevelLog(t *testing.T) {
	root := t.TempDir()
	site := testSite(root)
	inDir := filepath.Join(root, "in", "ingest")
	require.NoError(t, os.MkdirAll(inDir, 0o755))

	writeZip(t, filepath.Join(inDir, "req1.zip"), map[string]string{
		"manifest.yaml": testManifest,
		".log.yml":      "note: hello",
	})

	u := &Unpacker{Site: site, Store: manifest.Store{}}
	require.NoError(t, u.tickDomain("ingest"))

	relocated := filepath.Join(root, "log", "ingest", "req1", ".log.yml")
	_, err := os.Stat(relocated)
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(inDir, "req1", ".log.yml"))
	assert.True(t, os.IsNotExist(err))
}
