package resource

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Paths and accessors for things that daemonsets, deployments, and
// other things have in common.

// podSpecPaths gives where the pod spec lives, for each kind that
// runs pods.
var podSpecPaths = map[string][]string{
	"Deployment":  {"spec", "template", "spec"},
	"DaemonSet":   {"spec", "template", "spec"},
	"StatefulSet": {"spec", "template", "spec"},
	"ReplicaSet":  {"spec", "template", "spec"},
	"Job":         {"spec", "template", "spec"},
	"CronJob":     {"spec", "jobTemplate", "spec", "template", "spec"},
	"Pod":         {"spec"},
}

// scalableKinds are the kinds that get a disruption budget; the
// first of these in a config file is its primary resource.
var scalableKinds = map[string]bool{
	"Deployment":  true,
	"StatefulSet": true,
	"DaemonSet":   true,
}

// IsScalable is true when the manifest runs a number of pods that
// should be protected from disruption.
func (m *Manifest) IsScalable() bool {
	return scalableKinds[m.GetKind()]
}

// RunsPods is true when the manifest has a pod template.
func (m *Manifest) RunsPods() bool {
	_, ok := podSpecPaths[m.GetKind()]
	return ok
}

// HasReplicas is true for kinds with a `spec.replicas` field.
func (m *Manifest) HasReplicas() bool {
	switch m.GetKind() {
	case "Deployment", "StatefulSet", "ReplicaSet":
		return true
	}
	return false
}

// Replicas is the number of replicas asked for; Kubernetes defaults
// this to 1 when it's not given.
func (m *Manifest) Replicas() int64 {
	n, found, err := unstructured.NestedInt64(m.Object, "spec", "replicas")
	if err != nil || !found {
		return 1
	}
	return n
}

func (m *Manifest) SetReplicas(n int64) error {
	return unstructured.SetNestedField(m.Object, n, "spec", "replicas")
}

// Selector gives `spec.selector.matchLabels`, if present.
func (m *Manifest) Selector() map[string]string {
	labels, _, _ := unstructured.NestedStringMap(m.Object, "spec", "selector", "matchLabels")
	return labels
}

// MapContainers calls fn with each container and init container in
// the manifest's pod template, and keeps any changes fn makes.
func (m *Manifest) MapContainers(fn func(container map[string]interface{}) error) error {
	path, ok := podSpecPaths[m.GetKind()]
	if !ok {
		return nil
	}
	for _, field := range []string{"containers", "initContainers"} {
		containersPath := append(append([]string{}, path...), field)
		containers, found, err := unstructured.NestedSlice(m.Object, containersPath...)
		if err != nil {
			return fmt.Errorf("%s: %s", m.ID(), err)
		}
		if !found {
			continue
		}
		for i := range containers {
			c, ok := containers[i].(map[string]interface{})
			if !ok {
				return fmt.Errorf("%s: %s[%d] is not a mapping", m.ID(), field, i)
			}
			if err := fn(c); err != nil {
				return err
			}
		}
		if err := unstructured.SetNestedSlice(m.Object, containers, containersPath...); err != nil {
			return err
		}
	}
	return nil
}

// SetContainerEnv sets an environment variable in a container,
// replacing the value if it's already there.
func SetContainerEnv(container map[string]interface{}, name, value string) error {
	env, _, err := unstructured.NestedSlice(container, "env")
	if err != nil {
		return err
	}
	for i := range env {
		entry, ok := env[i].(map[string]interface{})
		if ok && entry["name"] == name {
			env[i] = map[string]interface{}{"name": name, "value": value}
			return unstructured.SetNestedSlice(container, env, "env")
		}
	}
	env = append(env, map[string]interface{}{"name": name, "value": value})
	return unstructured.SetNestedSlice(container, env, "env")
}
