package resource

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const (
	AnnotationPrefix = "deployer.fluxcd.io/"

	// Keep the name in the config file, rather than renaming the
	// primary resource after the role
	KeepNameAnnotation = AnnotationPrefix + "keep_name"
	// Minimum number of pods available during disruptions, as a
	// count or a percentage, or "disabled"
	MinAvailableAnnotation = AnnotationPrefix + "minAvailable"
	// Label generated resources with the project deploying them,
	// rather than the project named in the config file
	OverrideProjectLabelAnnotation = AnnotationPrefix + "override_project_label"
	UpdateTimestampAnnotation      = AnnotationPrefix + "updateTimestamp"
	DeployURLAnnotation            = AnnotationPrefix + "deploy_url"
	// Deploy this resource's document before the others
	PrerequisiteAnnotation = AnnotationPrefix + "prerequisite"
	URLAnnotation          = AnnotationPrefix + "url"
)

// Manifest is a Kubernetes object as it is meant to be in the
// cluster, or, if Delete is set, an object that is meant to not be in
// the cluster.
type Manifest struct {
	unstructured.Unstructured
	Delete bool
	source string
}

// NewManifest wraps an object as a manifest.
func NewManifest(obj map[string]interface{}) *Manifest {
	return &Manifest{Unstructured: unstructured.Unstructured{Object: obj}}
}

// Source is where the manifest came from, e.g., the config file.
func (m *Manifest) Source() string {
	return m.source
}

func (m *Manifest) DeepCopy() *Manifest {
	return &Manifest{
		Unstructured: *m.Unstructured.DeepCopy(),
		Delete:       m.Delete,
		source:       m.source,
	}
}

// Annotation returns the value of an annotation, if present.
func (m *Manifest) Annotation(key string) (string, bool) {
	v, ok := m.GetAnnotations()[key]
	return v, ok
}

// SetAnnotation adds or replaces one annotation.
func (m *Manifest) SetAnnotation(key, value string) {
	annotations := m.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[key] = value
	m.SetAnnotations(annotations)
}

// SetLabel adds or replaces one label.
func (m *Manifest) SetLabel(key, value string) {
	labels := m.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	labels[key] = value
	m.SetLabels(labels)
}

// ID identifies the object in a cluster, for messages.
func (m *Manifest) ID() string {
	ns := m.GetNamespace()
	if ns == "" {
		ns = ClusterScope
	}
	return ns + ":" + m.GetKind() + "/" + m.GetName()
}

const ClusterScope = "<cluster>"
