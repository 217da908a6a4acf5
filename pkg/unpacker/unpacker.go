// Package unpacker finds archived requests in a domain's in/
// directory, reconciles them with any prior finished/ copy, and
// extracts them into live request directories.
package unpacker

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shambakey1/vifinode/pkg/log"
	"github.com/shambakey1/vifinode/pkg/manifest"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
	"github.com/shambakey1/vifinode/pkg/spool"
)

// Unpacker runs one tick of the intake loop across every configured domain.
type Unpacker struct {
	Site  *siteconfig.Site
	Store manifest.Store
}

var uuidSuffix = regexp.MustCompile(`^(.*)\.([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})$`)

// deriveBase splits an archive filename into its base request name and
// the optional trace uuid, per the naming contract base[.<uuid>].zip.
func deriveBase(name string) (base, id string) {
	trimmed := strings.TrimSuffix(name, ".zip")
	if m := uuidSuffix.FindStringSubmatch(trimmed); m != nil {
		return m[1], m[2]
	}
	return trimmed, ""
}

// Tick runs the six-step loop body once for every domain.
func (u *Unpacker) Tick(ctx context.Context) error {
	for domain := range u.Site.Domains {
		if err := u.tickDomain(domain); err != nil {
			log.Error(fmt.Sprintf("unpack domain %s: %v", domain, err))
		}
	}
	return nil
}

func (u *Unpacker) tickDomain(domain string) error {
	inDir := spool.InDir(u.Site, domain)
	entries, err := os.ReadDir(inDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list %s: %w", inDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}
		if err := u.unpackOne(domain, entry.Name()); err != nil {
			log.Error(fmt.Sprintf("unpack %s/%s: %v", domain, entry.Name(), err))
		}
	}
	return nil
}

func (u *Unpacker) unpackOne(domain, archiveName string) error {
	base, _ := deriveBase(archiveName)

	inDir := spool.InDir(u.Site, domain)
	finishedDir := spool.FinishedDir(u.Site, domain)
	logDir := spool.LogDir(u.Site, domain)

	archivePath := filepath.Join(inDir, archiveName)
	destDir := filepath.Join(inDir, base)
	finishedPath := filepath.Join(finishedDir, base)

	// Step 3: merge a returning finished/ copy back into in/ (I4).
	if _, err := os.Stat(finishedPath); err == nil {
		if err := os.Rename(finishedPath, destDir); err != nil {
			return fmt.Errorf("merge back %s: %w", finishedPath, err)
		}
		m, err := u.Store.Load(destDir)
		if err != nil {
			return fmt.Errorf("load returning manifest: %w", err)
		}
		manifest.BumpAllMaxRep(m)
		if err := u.Store.Save(destDir, m); err != nil {
			return fmt.Errorf("save returning manifest: %w", err)
		}
	}

	// Step 4: extract, then delete the archive.
	if err := extractZip(archivePath, destDir); err != nil {
		return fmt.Errorf("extract %s: %w", archivePath, err)
	}
	if err := os.Remove(archivePath); err != nil {
		return fmt.Errorf("remove archive %s: %w", archivePath, err)
	}

	// Step 5: normalize permissions.
	if err := spool.ChangePermissionsRecursive(destDir, 0o755); err != nil {
		return fmt.Errorf("normalize permissions: %w", err)
	}

	// Step 6: relocate a root-level metadata log, if present.
	for _, name := range []string{".log.yml", ".log.yaml"} {
		src := filepath.Join(destDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Join(logDir, base), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		if err := os.Rename(src, filepath.Join(logDir, base, name)); err != nil {
			return fmt.Errorf("relocate %s: %w", name, err)
		}
	}

	return nil
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
