// Package kubernetes deploys the roles of a project to Kubernetes
// clusters, and takes them back if a deploy goes wrong.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/fluxcd/deployer/pkg/cluster"
	"github.com/fluxcd/deployer/pkg/cluster/kubernetes/resource"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
	fluxmetrics "github.com/fluxcd/deployer/pkg/metrics"
	"github.com/fluxcd/deployer/pkg/project"
)

// ReleaseDoc is what a release does to one role in one deploy group:
// the role's config file, filled in and applied to the deploy
// group's cluster.
type ReleaseDoc struct {
	Release       *Release
	DeployGroup   *project.DeployGroup
	Role          *project.Role
	ReplicaTarget int
	Cluster       *cluster.Cluster

	template  []*resource.Manifest
	resources []resource.Resource
	// the resource that runs the role's pods, if any
	primary resource.Resource
	// the objects as they were before Deploy, in the same order as
	// resources; nil until deployed, and again once reverted
	previous []*unstructured.Unstructured
}

func NewReleaseDoc(r *Release, dg *project.DeployGroup, role *project.Role, c *cluster.Cluster) *ReleaseDoc {
	doc := &ReleaseDoc{
		Release:     r,
		DeployGroup: dg,
		Role:        role,
		Cluster:     c,
	}
	if dg != nil && role != nil {
		doc.ReplicaTarget = role.ReplicasFor(dg.Permalink)
	}
	return doc
}

func (d *ReleaseDoc) String() string {
	role := "<no role>"
	if d.Role != nil {
		role = d.Role.Name
	}
	return d.DeployGroup.Permalink + " " + role
}

// Namespace is where resources go when their config doesn't say.
func (d *ReleaseDoc) Namespace() string {
	if d.Release.Project.Namespace != "" {
		return d.Release.Project.Namespace
	}
	return d.DeployGroup.Namespace
}

// ResourceTemplate reads the role's config file at the release's
// commit, and fills it in. The result is worked out once.
func (d *ReleaseDoc) ResourceTemplate(ctx context.Context) ([]*resource.Manifest, error) {
	if d.template != nil {
		return d.template, nil
	}
	if d.Role == nil {
		return nil, fluxerr.UserError("release for deploy group %s has no role", d.DeployGroup.Permalink)
	}
	path := d.Role.ConfigFile
	raw, err := d.Release.templates.get(ctx, d.Release.Commit, path)
	if err != nil {
		return nil, err
	}
	rendered, err := renderTemplate(path, raw, TemplateVars{
		Project:     d.Release.Project.Permalink,
		Role:        d.Role.Name,
		DeployGroup: d.DeployGroup.Permalink,
		Namespace:   d.Namespace(),
		Revision:    d.Release.Commit,
		Tag:         d.Release.Tag,
		Replicas:    d.ReplicaTarget,
	})
	if err != nil {
		return nil, InvalidTemplateError(path, err)
	}
	manifests, err := resource.ParseMultidoc(rendered, path)
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, InvalidTemplateError(path, errors.New("no resources found"))
	}

	f := &filler{doc: d, namespace: d.Namespace()}
	if err := f.fill(manifests); err != nil {
		return nil, InvalidTemplateError(path, err)
	}
	if manifests, err = d.addDisruptionBudget(manifests); err != nil {
		return nil, err
	}
	d.template = manifests
	return manifests, nil
}

// addDisruptionBudget puts a budget for the primary resource right
// after it, if one is asked for.
func (d *ReleaseDoc) addDisruptionBudget(manifests []*resource.Manifest) ([]*resource.Manifest, error) {
	for i, m := range manifests {
		if !m.IsScalable() {
			continue
		}
		directive, ok := m.Annotation(resource.MinAvailableAnnotation)
		if !ok {
			directive = d.Release.AutoMinAvailable
		}
		if directive == "" || directive == MinAvailableDisabled {
			return manifests, nil
		}
		desired := int64(d.ReplicaTarget)
		if m.HasReplicas() {
			desired = m.Replicas()
		}
		budget, err := disruptionBudget(m, directive, desired, d.Release.DeployURL, d.Release.Now())
		if err != nil {
			return nil, err
		}
		result := append([]*resource.Manifest{}, manifests[:i+1]...)
		result = append(result, budget)
		return append(result, manifests[i+1:]...), nil
	}
	return manifests, nil
}

// Validate checks that the release document can be deployed: the
// config file is there and makes sense, and everything in it can go
// where it's meant to.
func (d *ReleaseDoc) Validate(ctx context.Context) error {
	manifests, err := d.ResourceTemplate(ctx)
	if err != nil {
		return err
	}
	for _, m := range manifests {
		ns := m.GetNamespace()
		if ns != "" && !d.Cluster.Namespaces.IsIncluded(ns) {
			return NamespaceNotAllowedError(m.ID(), d.Cluster.Name)
		}
	}
	_, err = d.Resources(ctx)
	return err
}

// rankOfKind gives the position of a kind in the order resources are
// deployed. Things that others depend on go first; everything else
// keeps the order of the config file.
func rankOfKind(kind string) int {
	switch kind {
	case "ServiceAccount":
		return 0
	case "ClusterRole":
		return 1
	case "ClusterRoleBinding":
		return 2
	case "Service":
		return 3
	default:
		return 4
	}
}

// Resources are the objects to deploy, in the order to deploy them.
func (d *ReleaseDoc) Resources(ctx context.Context) ([]resource.Resource, error) {
	if d.resources != nil {
		return d.resources, nil
	}
	manifests, err := d.ResourceTemplate(ctx)
	if err != nil {
		return nil, err
	}
	ordered := append([]*resource.Manifest{}, manifests...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rankOfKind(ordered[i].GetKind()) < rankOfKind(ordered[j].GetKind())
	})
	primary := primaryManifest(manifests)
	var resources []resource.Resource
	for _, m := range ordered {
		r, err := resource.New(d.Cluster.Client, m)
		if err != nil {
			return nil, err
		}
		if m == primary {
			d.primary = r
		}
		resources = append(resources, r)
	}
	d.resources = resources
	return resources, nil
}

// Deploy applies each resource in turn, remembering what was there
// before so it can be put back. It stops at the first error.
func (d *ReleaseDoc) Deploy(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		releaseDocDeployDuration.With(
			fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())

	resources, err := d.Resources(ctx)
	if err != nil {
		return err
	}
	d.previous = []*unstructured.Unstructured{}
	for _, r := range resources {
		var snapshot *unstructured.Unstructured
		current, err := r.Current(ctx)
		if err != nil {
			return err
		}
		if current != nil {
			snapshot = current.DeepCopy()
		}
		d.previous = append(d.previous, snapshot)
		if err := r.Deploy(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deployed reports whether there is something to revert.
func (d *ReleaseDoc) Deployed() bool {
	return d.previous != nil
}

// Revert puts back each resource touched by Deploy as it was. It
// carries on past errors, and returns them all together.
func (d *ReleaseDoc) Revert(ctx context.Context) (err error) {
	if d.previous == nil {
		return ErrNotDeployed
	}
	defer func() {
		reverts.With(fluxmetrics.LabelSuccess, fmt.Sprint(err == nil)).Add(1)
	}()
	var errs []error
	for i, previous := range d.previous {
		if err := d.resources[i].Revert(ctx, previous); err != nil {
			errs = append(errs, err)
		}
	}
	d.previous = nil
	return utilerrors.NewAggregate(errs)
}

// DesiredPodCount is the number of pods the release should end up
// running.
func (d *ReleaseDoc) DesiredPodCount(ctx context.Context) (int, error) {
	if _, err := d.Resources(ctx); err != nil {
		return 0, err
	}
	if d.primary == nil {
		return 0, nil
	}
	return d.primary.DesiredPodCount(ctx)
}

// Prerequisite is true when the release document has to be deployed
// and rolled out before the others. It's only known once the
// document has been validated.
func (d *ReleaseDoc) Prerequisite() bool {
	return d.primary != nil && d.primary.Prerequisite()
}

// Ready reports whether every resource has rolled out.
func (d *ReleaseDoc) Ready(ctx context.Context) (bool, error) {
	for _, r := range d.resources {
		ready, err := r.Ready(ctx)
		if err != nil || !ready {
			return false, err
		}
	}
	return true, nil
}
