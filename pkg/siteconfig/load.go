package siteconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shambakey1/vifinode/pkg/log"
	"github.com/shambakey1/vifinode/pkg/vifierrors"
)

type siteFile struct {
	Domains struct {
		RootPath        string             `yaml:"root_script_path"`
		InDirName       string             `yaml:"script_path_in"`
		FinishedDirName string             `yaml:"script_path_out"`
		FailedDirName   string             `yaml:"script_path_failed"`
		LogDirName      string             `yaml:"log_path"`
		ResultsDirName  string             `yaml:"req_res_path_per_request"`
		UnpackInterval  int                `yaml:"unpack_int"`
		RunInterval     int                `yaml:"proc_int"`
		Sets            map[string]*Domain `yaml:"sets"`
	} `yaml:"domains"`
	ReqLogPath string            `yaml:"req_log_path"`
	Middleware *MiddlewareConfig `yaml:"middleware"`
}

// Load parses the site configuration at path and ensures every
// domain's directory tree exists. It never returns a partially
// populated Site: any failure is reported as a ConfigError and the
// return value is nil.
func Load(path string) (*Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &vifierrors.ConfigError{Op: "read site file", Err: err}
	}

	var raw siteFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &vifierrors.ConfigError{Op: "parse site file", Err: err}
	}

	if raw.Domains.RootPath == "" {
		return nil, &vifierrors.ConfigError{Op: "validate site file", Err: fmt.Errorf("root_script_path is required")}
	}
	if len(raw.Domains.Sets) == 0 {
		return nil, &vifierrors.ConfigError{Op: "validate site file", Err: fmt.Errorf("at least one domain (set) is required")}
	}

	site := &Site{
		RootPath:        raw.Domains.RootPath,
		InDirName:       defaultString(raw.Domains.InDirName, "in"),
		FinishedDirName: defaultString(raw.Domains.FinishedDirName, "finished"),
		FailedDirName:   defaultString(raw.Domains.FailedDirName, "failed"),
		LogDirName:      defaultString(raw.Domains.LogDirName, "log"),
		ResultsDirName:  defaultString(raw.Domains.ResultsDirName, "results"),
		Domains:         raw.Domains.Sets,
		ReqLogPath:      raw.ReqLogPath,
		Middleware:      raw.Middleware,
	}

	for name, d := range site.Domains {
		if d.Name == "" {
			d.Name = name
		}
		if d.UnpackInterval == 0 {
			d.UnpackInterval = defaultInt(raw.Domains.UnpackInterval, 5)
		}
		if d.RunInterval == 0 {
			d.RunInterval = defaultInt(raw.Domains.RunInterval, 5)
		}
		for dataName, dd := range d.DataDirs {
			if dd.Path == "" {
				return nil, &vifierrors.ConfigError{
					Op:  "validate site file",
					Err: fmt.Errorf("domain %s: data dir %s has no path", name, dataName),
				}
			}
		}
	}

	if err := ensureLayout(site); err != nil {
		return nil, &vifierrors.ConfigError{Op: "create spool layout", Err: err}
	}

	log.Info(fmt.Sprintf("site config loaded: %d domain(s) under %s", len(site.Domains), site.RootPath))
	return site, nil
}

func ensureLayout(site *Site) error {
	for name := range site.Domains {
		for _, sub := range []string{site.InDirName, site.FinishedDirName, site.FailedDirName, site.LogDirName} {
			dir := filepath.Join(site.RootPath, sub, name)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}
	return nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
