package kubernetes

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jsonyaml "github.com/ghodss/yaml"
	"github.com/imdario/mergo"
	"gopkg.in/yaml.v2"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/fluxcd/deployer/pkg/cluster/kubernetes/resource"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	"github.com/fluxcd/deployer/pkg/project"
)

// Namespace is a Kubernetes namespace that projects can be bound to,
// so all their resources go there.
type Namespace struct {
	Name string `mapstructure:"name" json:"name"`
	// YAML merged into the namespace's manifest, e.g., to add labels
	Template string `mapstructure:"template" json:"template,omitempty"`
	// Where the namespace is described, for people
	URL string `mapstructure:"url" json:"url,omitempty"`
}

func (n *Namespace) Validate() error {
	if errs := validation.IsDNS1123Label(n.Name); len(errs) > 0 {
		return fluxerr.UserError("namespace name %q is invalid: %s", n.Name, strings.Join(errs, "; "))
	}
	if _, err := n.template(); err != nil {
		return err
	}
	return nil
}

// template parses the template, which has to be a mapping with string
// keys.
func (n *Namespace) template() (map[string]interface{}, error) {
	if strings.TrimSpace(n.Template) == "" {
		return map[string]interface{}{}, nil
	}
	var val interface{}
	if err := yaml.Unmarshal([]byte(n.Template), &val); err != nil {
		return nil, fluxerr.UserError("namespace %s: template is not valid YAML: %s", n.Name, err)
	}
	m, ok := val.(map[interface{}]interface{})
	if !ok {
		return nil, fluxerr.UserError("namespace %s: template must be a mapping", n.Name)
	}
	for k := range m {
		if _, ok := k.(string); !ok {
			return nil, fluxerr.UserError("namespace %s: template keys must be strings, got %v", n.Name, k)
		}
	}
	var result map[string]interface{}
	if err := jsonyaml.Unmarshal([]byte(n.Template), &result); err != nil {
		return nil, fluxerr.UserError("namespace %s: template: %s", n.Name, err)
	}
	return result, nil
}

// Manifest is the namespace as a Kubernetes object. The name and URL
// annotation always win over the template.
func (n *Namespace) Manifest() (map[string]interface{}, error) {
	manifest := map[string]interface{}{
		"metadata": map[string]interface{}{
			"name": n.Name,
			"annotations": map[string]interface{}{
				resource.URLAnnotation: n.URL,
			},
		},
	}
	tmpl, err := n.template()
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&manifest, tmpl); err != nil {
		return nil, err
	}
	return manifest, nil
}

// AuditEntry records a change to a namespace, or to something
// changed because of one.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Record  string    `json:"record"`
	Action  string    `json:"action"`
	Changes string    `json:"changes,omitempty"`
}

// Namespaces are the namespaces known, and which projects are bound
// to them.
type Namespaces struct {
	Now func() time.Time

	mu         sync.Mutex
	namespaces map[string]*Namespace
	projects   []*project.Project
	audits     []AuditEntry
}

func NewNamespaces(projects []*project.Project) *Namespaces {
	return &Namespaces{
		Now:        time.Now,
		namespaces: map[string]*Namespace{},
		projects:   projects,
	}
}

// Create adds a namespace, and binds the projects given to it.
func (s *Namespaces) Create(n *Namespace, projects ...string) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[n.Name]; ok {
		return fluxerr.UserError("namespace %s already exists", n.Name)
	}
	s.namespaces[n.Name] = n
	s.audit("namespace/"+n.Name, "create", "")
	return s.bind(n.Name, projects)
}

func (s *Namespaces) Get(name string) (*Namespace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.namespaces[name]
	return n, ok
}

// Projects gives the permalinks of the projects bound to the
// namespace.
func (s *Namespaces) Projects(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundTo(name)
}

// Bind makes the projects given, and only those, bound to the
// namespace.
func (s *Namespaces) Bind(name string, projects ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[name]; !ok {
		return fluxerr.MissingError(fmt.Errorf("namespace %s not found", name))
	}
	before := s.boundTo(name)
	if err := s.bind(name, projects); err != nil {
		return err
	}
	after := s.boundTo(name)
	if strings.Join(before, ",") != strings.Join(after, ",") {
		s.audit("namespace/"+name, "update", fmt.Sprintf("projects: %v -> %v", before, after))
	}
	return nil
}

// Destroy removes a namespace. Namespaces that projects are bound to
// can't be removed.
func (s *Namespaces) Destroy(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[name]; !ok {
		return fluxerr.MissingError(fmt.Errorf("namespace %s not found", name))
	}
	if used := s.boundTo(name); len(used) > 0 {
		return fluxerr.UserError("namespace %s is used by projects %s", name, strings.Join(used, ", "))
	}
	delete(s.namespaces, name)
	s.audit("namespace/"+name, "destroy", "")
	return nil
}

// Audits gives every change made, oldest first.
func (s *Namespaces) Audits() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry{}, s.audits...)
}

// must hold s.mu
func (s *Namespaces) bind(name string, permalinks []string) error {
	wanted := map[string]bool{}
	for _, p := range permalinks {
		wanted[p] = true
	}
	for p := range wanted {
		if s.project(p) == nil {
			return fluxerr.MissingError(fmt.Errorf("project %s not found", p))
		}
	}
	for _, p := range s.projects {
		switch {
		case wanted[p.Permalink] && p.Namespace != name:
			p.Namespace = name
		case !wanted[p.Permalink] && p.Namespace == name:
			p.Namespace = ""
		default:
			continue
		}
		// names configured for the old namespace could clash in the
		// new one, so go back to those in the config files
		for _, r := range p.Roles {
			if r.ClearConfiguredNames() {
				s.audit("role/"+p.Permalink+"/"+r.Name, "update", "service_name, resource_name cleared")
			}
		}
	}
	return nil
}

// must hold s.mu
func (s *Namespaces) boundTo(name string) []string {
	var result []string
	for _, p := range s.projects {
		if p.Namespace == name {
			result = append(result, p.Permalink)
		}
	}
	sort.Strings(result)
	return result
}

// must hold s.mu
func (s *Namespaces) project(permalink string) *project.Project {
	for _, p := range s.projects {
		if p.Permalink == permalink {
			return p
		}
	}
	return nil
}

// must hold s.mu
func (s *Namespaces) audit(record, action, changes string) {
	s.audits = append(s.audits, AuditEntry{At: s.Now().UTC(), Record: record, Action: action, Changes: changes})
}
