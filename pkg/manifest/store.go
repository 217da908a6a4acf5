package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shambakey1/vifinode/pkg/vifierrors"
)

// FileName is the manifest's fixed name at the root of a request directory.
const FileName = "manifest.yaml"

// Store reads and atomically writes a request's manifest. It is the
// only writer permitted to touch manifest.yaml; every other component
// mutates the in-memory Manifest and calls Save at the persist points
// named in I1/I3.
type Store struct{}

// Load parses the manifest at the root of requestDir.
func (Store) Load(requestDir string) (*Manifest, error) {
	path := filepath.Join(requestDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &vifierrors.IOError{Op: "read manifest", Err: err}
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &vifierrors.IOError{Op: "parse manifest", Err: err}
	}
	return &m, nil
}

// Save marshals m and atomically replaces manifest.yaml: write to a
// temp file in the same directory, fsync, then rename — the rename is
// atomic on the same filesystem so a crash never leaves a partially
// written manifest.
func (Store) Save(requestDir string, m *Manifest) error {
	path := filepath.Join(requestDir, FileName)
	data, err := yaml.Marshal(m)
	if err != nil {
		return &vifierrors.IOError{Op: "marshal manifest", Err: err}
	}

	tmp := filepath.Join(requestDir, fmt.Sprintf(".manifest.yaml.tmp-%d", os.Getpid()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &vifierrors.IOError{Op: "create temp manifest", Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &vifierrors.IOError{Op: "write temp manifest", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &vifierrors.IOError{Op: "fsync temp manifest", Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &vifierrors.IOError{Op: "close temp manifest", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &vifierrors.IOError{Op: "rename temp manifest", Err: err}
	}
	return nil
}
