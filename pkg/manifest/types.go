// Package manifest defines the request manifest — the durable,
// per-request source of truth — and the atomic store that reads and
// writes it.
package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// IntOrInf is a positive integer or the sentinel "inf", used for
// iterative.max_rep: a service with an "inf" cap never reaches
// cur_iter == max_rep and instead relies on the stop marker (I2).
type IntOrInf struct {
	Inf   bool
	Value int
}

func (v IntOrInf) MarshalYAML() (interface{}, error) {
	if v.Inf {
		return "inf", nil
	}
	return v.Value, nil
}

func (v *IntOrInf) UnmarshalYAML(node *yaml.Node) error {
	// Try the integer form first: yaml.v3 also decodes a numeric scalar
	// into a string, so a string-first check would reject plain ints.
	var n int
	if err := node.Decode(&n); err == nil {
		v.Value = n
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("int-or-inf: %w", err)
	}
	if s != "inf" {
		return fmt.Errorf("invalid int-or-inf value %q", s)
	}
	v.Inf = true
	return nil
}

// CurServ is the manifest's cursor: either a service name or one of
// the two sentinels pre_services/post_services.
type CurServ struct {
	Name string
	Pre  bool
	Post bool
}

const (
	curservPre  = "pre_services"
	curservPost = "post_services"
)

func (c CurServ) MarshalYAML() (interface{}, error) {
	switch {
	case c.Pre:
		return curservPre, nil
	case c.Post:
		return curservPost, nil
	default:
		return c.Name, nil
	}
}

func (c *CurServ) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("curserv: %w", err)
	}
	switch s {
	case curservPre:
		*c = CurServ{Pre: true}
	case curservPost:
		*c = CurServ{Post: true}
	default:
		*c = CurServ{Name: s}
	}
	return nil
}

// SetService points the cursor at a named service.
func SetService(name string) CurServ { return CurServ{Name: name} }

// PreServices is the cursor value before any service has run.
func PreServices() CurServ { return CurServ{Pre: true} }

// PostServices is the cursor value once every service is done.
func PostServices() CurServ { return CurServ{Post: true} }

// DataMount is one data source a service mounts, keyed by the site's
// data-directory name in Service.Data.
type DataMount struct {
	ContainerDataPath string `yaml:"container_data_path"`
	Mode              string `yaml:"mode"`
}

// Dependencies gates a service's admission on prior state.
type Dependencies struct {
	Files map[string]string `yaml:"files"` // path -> "f" | "d"
	Ser   []string          `yaml:"ser"`   // predecessor service names
}

// Iterative is a service's live iteration state.
type Iterative struct {
	MaxRep  IntOrInf `yaml:"max_rep"`
	CurIter int      `yaml:"cur_iter"`
}

// Done reports whether the service has completed all its required
// iterations per I2. An "inf" cap is never done by count alone; the
// stop marker is checked separately by pkg/iteration.
func (it Iterative) Done() bool {
	if it.MaxRep.Inf {
		return false
	}
	return it.CurIter >= it.MaxRep.Value
}

// TransferCondition carries a sink's boolean expression over
// iteration state (C9).
type TransferCondition struct {
	Condition string `yaml:"condition"`
}

// S3Sink delivers staged artifacts to an object store bucket.
type S3Sink struct {
	Transfer TransferCondition `yaml:"transfer"`
	Bucket   string            `yaml:"bucket"`
	Prefix   string            `yaml:"prefix"`
	Results  []string          `yaml:"results"`
}

// NifiSink delivers a zipped artifact set via the cross-site
// transport controller.
type NifiSink struct {
	Transfer              TransferCondition `yaml:"transfer"`
	TargetURI             string            `yaml:"target_uri"`
	TargetRemoteInputPort string            `yaml:"target_remote_input_port"`
	ArchName              string            `yaml:"archname"`
	Results               []string          `yaml:"results"`
}

// SftpSink delivers staged artifacts over one SFTP connection.
type SftpSink struct {
	Transfer   TransferCondition `yaml:"transfer"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	User       string            `yaml:"user"`
	Password   string            `yaml:"password"`
	KeyPath    string            `yaml:"key_path"`
	RemotePath string            `yaml:"remote_path"`
	Results    []string          `yaml:"results"`
}

// FinDest is the manifest's final-destination sink configuration. Per
// the resolved open question, fin_dest.nifi is a sink object shaped
// like a per-service nifi block, never a boolean.
type FinDest struct {
	Nifi *NifiSink `yaml:"nifi"`
}

// Service is one declared container workload inside a request.
type Service struct {
	Image        string                 `yaml:"image"`
	Tasks        int                    `yaml:"tasks"`
	SerCheckThr  int                    `yaml:"ser_check_thr"`
	ContainerDir string                 `yaml:"container_dir"`
	WorkDir      string                 `yaml:"work_dir"`
	Data         map[string]DataMount   `yaml:"data"`
	Mnts         []string               `yaml:"mnts"`
	Envs         []string               `yaml:"envs"`
	Args         []string               `yaml:"args"`
	CmdEng       string                 `yaml:"cmd_eng"`
	Script       string                 `yaml:"script"`
	Dependencies Dependencies           `yaml:"dependencies"`
	Iterative    Iterative              `yaml:"iterative"`
	Results      map[string][]string    `yaml:"results"` // pattern -> ordered ["copy"|"move"]
	ToRemove     []string               `yaml:"toremove"`
	S3           *S3Sink                `yaml:"s3"`
	Nifi         []NifiSink             `yaml:"nifi"`
	Sftp         []SftpSink             `yaml:"sftp"`
	Failed       bool                   `yaml:"failed,omitempty"`
}

// ComposedName returns the engine-visible service name for the given
// iteration, per I5: the first iteration uses the base name, later
// iterations append "_<cur_iter>".
func ComposedName(base string, curIter int) string {
	if curIter == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, curIter)
}

// Manifest is the request's durable state.
type Manifest struct {
	FinDest      FinDest
	CurServ      CurServ
	Services     map[string]*Service
	ServiceOrder []string // declaration order, per spec.md §4.13
}

type manifestWire struct {
	FinDest FinDest              `yaml:"fin_dest"`
	CurServ CurServ              `yaml:"curserv"`
	Services map[string]*Service `yaml:"services"`
}

// MarshalYAML hand-builds the document instead of returning
// manifestWire directly: yaml.v3 marshals a Go map with its keys
// sorted, which would silently alphabetize "services" and lose
// ServiceOrder (§4.13's declaration-order guarantee) on the very next
// Save. The services mapping is built as an explicit yaml.Node with
// its pairs appended in ServiceOrder instead.
func (m Manifest) MarshalYAML() (interface{}, error) {
	order := make([]string, len(m.ServiceOrder))
	copy(order, m.ServiceOrder)
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		seen[name] = true
	}
	for name := range m.Services {
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}

	servicesNode := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range order {
		svc, ok := m.Services[name]
		if !ok {
			continue
		}
		valueNode, err := encodeNode(svc)
		if err != nil {
			return nil, fmt.Errorf("encode service %s: %w", name, err)
		}
		servicesNode.Content = append(servicesNode.Content, scalarNode(name), valueNode)
	}

	finDestNode, err := encodeNode(m.FinDest)
	if err != nil {
		return nil, fmt.Errorf("encode fin_dest: %w", err)
	}
	curServNode, err := encodeNode(m.CurServ)
	if err != nil {
		return nil, fmt.Errorf("encode curserv: %w", err)
	}

	root := &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			scalarNode("fin_dest"), finDestNode,
			scalarNode("curserv"), curServNode,
			scalarNode("services"), servicesNode,
		},
	}
	return root, nil
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: value}
}

func encodeNode(v interface{}) (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return &n, nil
}

func (m *Manifest) UnmarshalYAML(node *yaml.Node) error {
	var wire manifestWire
	if err := node.Decode(&wire); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	m.FinDest = wire.FinDest
	m.CurServ = wire.CurServ
	m.Services = wire.Services

	m.ServiceOrder = nil
	if servicesNode := mappingValue(node, "services"); servicesNode != nil {
		for i := 0; i+1 < len(servicesNode.Content); i += 2 {
			m.ServiceOrder = append(m.ServiceOrder, servicesNode.Content[i].Value)
		}
	}
	return nil
}

// mappingValue finds the value node for key within a mapping node
// whose Content is the [key0, value0, key1, value1, ...] pairing
// yaml.v3 uses for MappingNode.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// Service looks up a service by name.
func (m *Manifest) Service(name string) (*Service, bool) {
	s, ok := m.Services[name]
	return s, ok
}

// AllDone reports whether every declared service has completed.
func (m *Manifest) AllDone(stopMarkerExists func(string) bool) bool {
	for name, svc := range m.Services {
		if svc.Iterative.Done() {
			continue
		}
		if svc.Iterative.MaxRep.Inf && stopMarkerExists(name) {
			continue
		}
		return false
	}
	return true
}

// BumpAllMaxRep increments every service's max_rep by one, per I4:
// a returning finished/ request that is merged back into in/ runs
// once more.
func BumpAllMaxRep(m *Manifest) {
	for _, svc := range m.Services {
		if svc.Iterative.MaxRep.Inf {
			continue
		}
		svc.Iterative.MaxRep.Value++
	}
}
