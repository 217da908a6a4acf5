// Package siteconfig loads and exposes the site-wide policy file: the
// spool root, the sub-directory layout, and per-domain ("set")
// allow-lists, replica/TTL caps, and sink endpoints.
package siteconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// IntOrAny is a positive integer or the sentinel "any", used for
// site-level caps that may be left unbounded (docker_rep, ttl).
type IntOrAny struct {
	Any   bool
	Value int
}

func (v IntOrAny) MarshalYAML() (interface{}, error) {
	if v.Any {
		return "any", nil
	}
	return v.Value, nil
}

func (v *IntOrAny) UnmarshalYAML(node *yaml.Node) error {
	// Try the integer form first: yaml.v3 also decodes a numeric scalar
	// into a string, so a string-first check would reject plain ints.
	var n int
	if err := node.Decode(&n); err == nil {
		v.Value = n
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("int-or-any: %w", err)
	}
	if s != "any" {
		return fmt.Errorf("invalid int-or-any value %q", s)
	}
	v.Any = true
	return nil
}

// Resolve returns the requested value clamped to this cap. If the cap
// is "any", the requested value is used unmodified (falling back to
// def when requested is 0).
func (v IntOrAny) Resolve(requested, def int) int {
	if v.Any {
		if requested <= 0 {
			return def
		}
		return requested
	}
	if requested <= 0 || requested > v.Value {
		return v.Value
	}
	return requested
}

// ImageAllowList is either the sentinel "any" or an explicit list of
// image references.
type ImageAllowList struct {
	Any    bool
	Images []string
}

func (v *ImageAllowList) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		if s != "any" {
			return fmt.Errorf("invalid image allow-list scalar %q", s)
		}
		v.Any = true
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return fmt.Errorf("image allow-list: %w", err)
	}
	v.Images = list
	return nil
}

func (v ImageAllowList) Allows(image string) bool {
	if v.Any {
		return true
	}
	for _, i := range v.Images {
		if i == image {
			return true
		}
	}
	return false
}

// DataDir is one named, site-provided data source a service may mount.
type DataDir struct {
	Path  string   `yaml:"path"`
	Modes []string `yaml:"modes"`
}

func (d DataDir) AllowsMode(mode string) bool {
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// DockerPolicy is the per-domain admission policy for launched services.
type DockerPolicy struct {
	Images  ImageAllowList `yaml:"docker_img"`
	Replica IntOrAny       `yaml:"docker_rep"`
	TTL     IntOrAny       `yaml:"ttl"`
	User    string         `yaml:"user"`
	Groups  []string       `yaml:"groups"`
}

// NifiConfig is the domain's cross-site transport controller endpoint:
// the flow controller's REST API and the process group holding the
// transfer-results template this domain instantiates per delivery.
type NifiConfig struct {
	Host           string `yaml:"host"`
	ProcessGroupID string `yaml:"process_group_id"`
	TemplateID     string `yaml:"template_id"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	PollTimeoutMS  int    `yaml:"poll_timeout_ms"`
}

// Domain is one named workflow bucket ("set" in the site file).
type Domain struct {
	Name         string             `yaml:"name"`
	ExistOK      bool               `yaml:"exist_ok"`
	Terminate    string             `yaml:"terminate"` // "inf" or "" (delete after completion)
	SetFunction  string             `yaml:"set_function"`
	DataDirs     map[string]DataDir `yaml:"data_dir"`
	Docker       DockerPolicy       `yaml:"docker"`
	Nifi         *NifiConfig        `yaml:"nifi"`
	UnpackInterval int              `yaml:"unpack_int"`
	RunInterval    int              `yaml:"proc_int"`
}

// KeepAfterComplete reports the domain's termination policy: when
// true, completed services are left in the engine rather than deleted.
func (d Domain) KeepAfterComplete() bool { return d.Terminate == "inf" }

// MiddlewareConfig is the optional central audit log endpoint.
type MiddlewareConfig struct {
	Condition string            `yaml:"condition"`
	URL       string            `yaml:"url"`
	Header    map[string]string `yaml:"header"`
}

// Site is the process-wide, read-only configuration loaded at start.
type Site struct {
	RootPath        string             `yaml:"root_script_path"`
	InDirName       string             `yaml:"script_path_in"`
	FinishedDirName string             `yaml:"script_path_out"`
	FailedDirName   string             `yaml:"script_path_failed"`
	LogDirName      string             `yaml:"log_path"`
	ResultsDirName  string             `yaml:"req_res_path_per_request"`
	Domains         map[string]*Domain `yaml:"sets"`
	ReqLogPath      string             `yaml:"req_log_path"`
	Middleware      *MiddlewareConfig  `yaml:"middleware"`
}

// Domain looks up a configured domain by name.
func (s *Site) Domain(name string) (*Domain, bool) {
	d, ok := s.Domains[name]
	return d, ok
}
