package kubernetes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fluxcd/deployer/pkg/build"
	"github.com/fluxcd/deployer/pkg/cluster/kubernetes/resource"
)

// Labels put on everything deployed, so it can be found again.
const (
	ProjectLabel     = "project"
	RoleLabel        = "role"
	DeployGroupLabel = "deploy_group"
)

var labelUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// labelValue makes a name usable as a label value.
func labelValue(name string) string {
	return strings.Trim(labelUnsafe.ReplaceAllString(strings.ToLower(name), "-"), "-._")
}

// filler fills in a release document's manifests with what the
// config file doesn't (or shouldn't have to) say.
type filler struct {
	doc       *ReleaseDoc
	namespace string
}

// fill changes the manifests in place; the primary manifest is the
// first that runs pods, if any.
func (f *filler) fill(manifests []*resource.Manifest) error {
	primary := primaryManifest(manifests)
	role := f.doc.Role
	release := f.doc.Release

	for _, m := range manifests {
		f.setNamespace(m)
		f.setLabels(m)
		if release.DeployURL != "" {
			m.SetAnnotation(resource.DeployURLAnnotation, release.DeployURL)
		}
		if err := f.setContainers(m); err != nil {
			return err
		}
	}

	if primary != nil {
		if primary.HasReplicas() {
			if err := primary.SetReplicas(int64(f.doc.ReplicaTarget)); err != nil {
				return err
			}
		}
		if role.ResourceName != "" && !keepName(primary) {
			primary.SetName(role.ResourceName)
		}
	}

	if role.ServiceName != "" {
		n := 0
		for _, m := range manifests {
			if m.GetKind() != "Service" || keepName(m) {
				continue
			}
			n++
			if n == 1 {
				m.SetName(role.ServiceName)
			} else {
				m.SetName(fmt.Sprintf("%s-%d", role.ServiceName, n))
			}
		}
	}
	return nil
}

// setNamespace gives namespaced resources that don't say where they
// go the namespace of the project, or else that of the deploy group.
func (f *filler) setNamespace(m *resource.Manifest) {
	if resource.IsClusterScoped(m.GetKind()) || m.GetNamespace() != "" {
		return
	}
	m.SetNamespace(f.namespace)
}

func (f *filler) setLabels(m *resource.Manifest) {
	p := f.doc.Release.Project
	labels := m.GetLabels()
	override, _ := m.Annotation(resource.OverrideProjectLabelAnnotation)
	if _, ok := labels[ProjectLabel]; !ok || override == "true" {
		m.SetLabel(ProjectLabel, labelValue(p.Permalink))
	}
	m.SetLabel(RoleLabel, labelValue(f.doc.Role.Name))
	m.SetLabel(DeployGroupLabel, labelValue(f.doc.DeployGroup.Permalink))
}

// setContainers points containers at the images built from the
// commit being deployed, and tells them what they are.
func (f *filler) setContainers(m *resource.Manifest) error {
	release := f.doc.Release
	env := [][2]string{
		{"REVISION", release.Commit},
		{"TAG", release.Tag},
		{"DEPLOY_ID", release.ID},
		{"DEPLOY_GROUP", f.doc.DeployGroup.EnvValue},
		{"PROJECT", release.Project.Permalink},
		{"ROLE", f.doc.Role.Name},
	}
	if env[1][1] == "" {
		env[1][1] = release.Commit
	}
	return m.MapContainers(func(c map[string]interface{}) error {
		if image, ok := c["image"].(string); ok {
			if b, ok := build.ForImage(release.Builds, image); ok {
				c["image"] = b.Image
			}
		}
		for _, kv := range env {
			if err := resource.SetContainerEnv(c, kv[0], kv[1]); err != nil {
				return fmt.Errorf("%s: %s", m.ID(), err)
			}
		}
		return nil
	})
}

func keepName(m *resource.Manifest) bool {
	_, ok := m.Annotation(resource.KeepNameAnnotation)
	return ok
}

func primaryManifest(manifests []*resource.Manifest) *resource.Manifest {
	for _, m := range manifests {
		if m.RunsPods() {
			return m
		}
	}
	return nil
}
