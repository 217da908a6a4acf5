// Package spool owns the on-disk spool layout: in/, finished/,
// failed/, log/, and per-request results/. The path helpers are pure
// path arithmetic; ChangePermissionsRecursive is the only one that
// touches the filesystem. No caller-visible state is kept.
package spool

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/shambakey1/vifinode/pkg/siteconfig"
)

// InDir returns the directory a domain's incoming requests live under.
func InDir(site *siteconfig.Site, domain string) string {
	return filepath.Join(site.RootPath, site.InDirName, domain)
}

// FinishedDir returns the directory completed requests are moved to.
func FinishedDir(site *siteconfig.Site, domain string) string {
	return filepath.Join(site.RootPath, site.FinishedDirName, domain)
}

// FailedDir returns the directory failed requests are moved to.
func FailedDir(site *siteconfig.Site, domain string) string {
	return filepath.Join(site.RootPath, site.FailedDirName, domain)
}

// LogDir returns the directory a domain's per-request logs live under.
func LogDir(site *siteconfig.Site, domain string) string {
	return filepath.Join(site.RootPath, site.LogDirName, domain)
}

// ResultsDir returns the results/ sub-directory of a request directory.
func ResultsDir(site *siteconfig.Site, requestDir string) string {
	return filepath.Join(requestDir, site.ResultsDirName)
}

// StopMarkerPath returns the path of the stop.iterating marker file a
// container writes to request iteration termination.
func StopMarkerPath(requestDir string) string {
	return filepath.Join(requestDir, "stop.iterating")
}

// ChangePermissionsRecursive walks path and sets mode on every entry
// owned by the running process's uid/gid. Entries owned by another
// user are left untouched — the engine never elevates to chmod
// something it does not own.
func ChangePermissionsRecursive(path string, mode os.FileMode) error {
	uid := os.Getuid()
	gid := os.Getgid()

	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return nil
		}
		if int(stat.Uid) != uid || int(stat.Gid) != gid {
			return nil
		}
		return os.Chmod(p, mode)
	})
}
