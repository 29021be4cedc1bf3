package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

// Resource is one object in a cluster, along with what it's meant to
// be. Whatever the kind, it's deployed, deleted and reverted the same
// way as far as the caller is concerned.
type Resource interface {
	Kind() string
	Name() string
	Namespace() string
	// Current fetches the object as it is in the cluster, or nil if
	// it's not there.
	Current(ctx context.Context) (*unstructured.Unstructured, error)
	// Deploy creates or updates the object to match the manifest, or
	// deletes it if the manifest says so.
	Deploy(ctx context.Context) error
	Delete(ctx context.Context) error
	// Revert puts back the object as it was before a deploy; nil
	// means it didn't exist.
	Revert(ctx context.Context, previous *unstructured.Unstructured) error
	// DesiredPodCount is how many pods should be running once the
	// deploy has rolled out.
	DesiredPodCount(ctx context.Context) (int, error)
	// Ready reports whether the object in the cluster has rolled out.
	Ready(ctx context.Context) (bool, error)
	Prerequisite() bool
}

// How long to wait for an object that's being replaced to go away.
var (
	deletePollInterval = time.Second
	deleteTimeout      = 2 * time.Minute
)

// Fields that are set by the server, and must not be sent back when
// reverting to an earlier version of an object.
var serverPopulatedMetadata = []string{
	"resourceVersion", "uid", "selfLink", "creationTimestamp", "generation", "managedFields",
}

type resource struct {
	kind     resourceKind
	client   dynamic.ResourceInterface
	manifest *Manifest

	// the object as last seen in the cluster; nil and fetched false
	// means we have to ask
	live    *unstructured.Unstructured
	fetched bool
}

// New makes a Resource for the manifest given, using the client for
// its kind. Kinds that aren't known are the user's problem.
func New(client dynamic.Interface, m *Manifest) (Resource, error) {
	kind, ok := resourceKinds[m.GetKind()]
	if !ok {
		return nil, UnsupportedKindError(m.GetKind())
	}
	gvr := schema.FromAPIVersionAndKind(m.GetAPIVersion(), m.GetKind()).GroupVersion().WithResource(kind.resource())
	var rc dynamic.ResourceInterface = client.Resource(gvr)
	if kind.namespaced() {
		if m.GetNamespace() == "" {
			return nil, fluxerr.UserError("%s %s has no namespace", m.GetKind(), m.GetName())
		}
		rc = client.Resource(gvr).Namespace(m.GetNamespace())
	}
	return &resource{kind: kind, client: rc, manifest: m}, nil
}

func (r *resource) Kind() string      { return r.manifest.GetKind() }
func (r *resource) Name() string      { return r.manifest.GetName() }
func (r *resource) Namespace() string { return r.manifest.GetNamespace() }

func (r *resource) Prerequisite() bool {
	v, _ := r.manifest.Annotation(PrerequisiteAnnotation)
	return v == "true"
}

func (r *resource) Current(ctx context.Context) (*unstructured.Unstructured, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.fetched {
		return r.live, nil
	}
	var live *unstructured.Unstructured
	err := observe(r.Kind(), "get", func() error {
		var err error
		live, err = r.client.Get(r.Name(), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			live, err = nil, nil
		}
		return err
	})
	if err != nil {
		return nil, r.wrap(err, "getting")
	}
	r.live, r.fetched = live, true
	return live, nil
}

// expire forgets what the object looked like, since it's been changed.
func (r *resource) expire() {
	r.live, r.fetched = nil, false
}

func (r *resource) Deploy(ctx context.Context) error {
	if r.manifest.Delete {
		return r.Delete(ctx)
	}
	return r.apply(ctx, r.manifest.Unstructured.DeepCopy(), false)
}

// apply makes the object in the cluster look like desired.
func (r *resource) apply(ctx context.Context, desired *unstructured.Unstructured, reverting bool) error {
	live, err := r.Current(ctx)
	if err != nil {
		return err
	}
	if live == nil {
		return r.create(ctx, desired)
	}
	if r.kind.replaceOnUpdate() {
		if err := r.Delete(ctx); err != nil {
			return err
		}
		return r.create(ctx, desired)
	}
	if !reverting {
		if err := r.kind.prepareUpdate(desired, live); err != nil {
			return err
		}
	}
	if rv := live.GetResourceVersion(); rv != "" {
		desired.SetResourceVersion(rv)
	}
	defer r.expire()
	return r.wrap(observe(r.Kind(), "update", func() error {
		_, err := r.client.Update(desired, metav1.UpdateOptions{})
		return err
	}), "updating")
}

func (r *resource) create(ctx context.Context, desired *unstructured.Unstructured) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.expire()
	return r.wrap(observe(r.Kind(), "create", func() error {
		_, err := r.client.Create(desired, metav1.CreateOptions{})
		return err
	}), "creating")
}

// Delete removes the object, if it's there, and waits for it to be
// gone.
func (r *resource) Delete(ctx context.Context) error {
	live, err := r.Current(ctx)
	if err != nil {
		return err
	}
	if live == nil {
		return nil
	}
	defer r.expire()
	propagation := metav1.DeletePropagationForeground
	err = observe(r.Kind(), "delete", func() error {
		err := r.client.Delete(r.Name(), &metav1.DeleteOptions{PropagationPolicy: &propagation})
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return r.wrap(err, "deleting")
	}

	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()
	err = wait.PollImmediateUntil(deletePollInterval, func() (bool, error) {
		_, err := r.client.Get(r.Name(), metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}, ctx.Done())
	if err == wait.ErrWaitTimeout {
		return fluxerr.TransientError(fmt.Errorf("%s was not deleted after %s", r.manifest.ID(), deleteTimeout))
	}
	return r.wrap(err, "waiting for deletion of")
}

func (r *resource) Revert(ctx context.Context, previous *unstructured.Unstructured) error {
	if previous == nil {
		return r.Delete(ctx)
	}
	desired := previous.DeepCopy()
	for _, field := range serverPopulatedMetadata {
		unstructured.RemoveNestedField(desired.Object, "metadata", field)
	}
	unstructured.RemoveNestedField(desired.Object, "status")
	return r.apply(ctx, desired, true)
}

func (r *resource) DesiredPodCount(ctx context.Context) (int, error) {
	return r.kind.desiredPodCount(ctx, r)
}

func (r *resource) Ready(ctx context.Context) (bool, error) {
	if r.manifest.Delete {
		return true, nil
	}
	r.expire()
	live, err := r.Current(ctx)
	if err != nil || live == nil {
		return false, err
	}
	return r.kind.ready(live), nil
}

// wrap classifies errors from the cluster API: the cluster refusing a
// change is a conflict, which aborts the release.
func (r *resource) wrap(err error, doing string) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("%s %s", doing, r.manifest.ID())
	switch {
	case apierrors.IsConflict(err), apierrors.IsInvalid(err), apierrors.IsAlreadyExists(err),
		strings.Contains(err.Error(), "field is immutable"):
		return fluxerr.ConflictError(fmt.Errorf("%s: %s", msg, err))
	case apierrors.IsServerTimeout(err), apierrors.IsTimeout(err), apierrors.IsTooManyRequests(err):
		return fluxerr.TransientError(fmt.Errorf("%s: %s", msg, err))
	}
	return fmt.Errorf("%s: %s", msg, err)
}
