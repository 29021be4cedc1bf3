package project

// Role is one kind of workload of a project on Kubernetes, e.g., the
// app server or the workers, described by a config file in the
// project's repository.
type Role struct {
	Name       string `mapstructure:"name" json:"name"`
	ConfigFile string `mapstructure:"config_file" json:"config_file"`
	// Names given to the Service and the primary resource; when
	// empty, the names in the config file are used.
	ServiceName  string `mapstructure:"service_name" json:"service_name,omitempty"`
	ResourceName string `mapstructure:"resource_name" json:"resource_name,omitempty"`
	Replicas     int    `mapstructure:"replicas" json:"replicas"`
	// Replica counts per deploy group permalink
	ReplicaOverrides map[string]int `mapstructure:"replica_overrides" json:"replica_overrides,omitempty"`
}

// ReplicasFor is the number of replicas to run in the deploy group
// given.
func (r *Role) ReplicasFor(deployGroup string) int {
	if n, ok := r.ReplicaOverrides[deployGroup]; ok {
		return n
	}
	return r.Replicas
}

// ClearConfiguredNames forgets the service and resource names, so
// the names from the config file are used. It reports whether
// anything changed.
func (r *Role) ClearConfiguredNames() bool {
	if r.ServiceName == "" && r.ResourceName == "" {
		return false
	}
	r.ServiceName = ""
	r.ResourceName = ""
	return true
}
