package cluster

import (
	"fmt"
	"sort"
	"sync"

	"k8s.io/client-go/dynamic"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

// Cluster is a Kubernetes cluster that deploy groups deploy to.
type Cluster struct {
	Name   string
	Client dynamic.Interface
	// Namespaces decides which namespaces resources may be deployed
	// to in this cluster
	Namespaces Includer
}

// Clusters finds clusters by name.
type Clusters interface {
	Cluster(name string) (*Cluster, error)
}

// Registry is a Clusters of a fixed set of clusters, as configured.
type Registry struct {
	mu       sync.RWMutex
	clusters map[string]*Cluster
}

func NewRegistry() *Registry {
	return &Registry{clusters: map[string]*Cluster{}}
}

// Add puts a cluster in the registry, replacing any cluster with the
// same name. A nil includer means all namespaces are allowed.
func (r *Registry) Add(name string, client dynamic.Interface, namespaces Includer) {
	if namespaces == nil {
		namespaces = AlwaysInclude
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clusters[name] = &Cluster{Name: name, Client: client, Namespaces: namespaces}
}

func (r *Registry) Cluster(name string) (*Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clusters[name]
	if !ok {
		return nil, &fluxerr.Error{
			Type: fluxerr.Missing,
			Err:  fmt.Errorf("cluster %q not configured", name),
			Help: fmt.Sprintf(`Cluster %q is not configured

A deploy group refers to a cluster that the deployer has no
credentials for. Add it to the clusters section of the config file.
`, name),
		}
	}
	return c, nil
}

// Names lists the clusters in the registry.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for n := range r.clusters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RolloutStatus describes numbers of pods in different states for
// one deploy.
type RolloutStatus struct {
	// Desired number of pods as defined in spec.
	Desired int
	// Whether all the resources report they have rolled out
	Ready bool
}
