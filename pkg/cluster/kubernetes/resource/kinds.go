package resource

import (
	"context"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

/////////////////////////////////////////////////////////////////////////////
// Kind registry

type resourceKind interface {
	// the plural used in API paths
	resource() string
	namespaced() bool
	// prepareUpdate adjusts the desired object before it replaces
	// live in an update, or refuses the update
	prepareUpdate(desired, live *unstructured.Unstructured) error
	// replaceOnUpdate is true when objects have to be deleted and
	// created again, rather than updated
	replaceOnUpdate() bool
	desiredPodCount(ctx context.Context, r *resource) (int, error)
	ready(live *unstructured.Unstructured) bool
}

var (
	resourceKinds = make(map[string]resourceKind)
)

func init() {
	resourceKinds["ServiceAccount"] = &serviceAccountKind{baseKind{plural: "serviceaccounts", inNamespace: true}}
	resourceKinds["ClusterRole"] = &baseKind{plural: "clusterroles"}
	resourceKinds["ClusterRoleBinding"] = &baseKind{plural: "clusterrolebindings"}
	resourceKinds["Role"] = &baseKind{plural: "roles", inNamespace: true}
	resourceKinds["RoleBinding"] = &baseKind{plural: "rolebindings", inNamespace: true}
	resourceKinds["ConfigMap"] = &baseKind{plural: "configmaps", inNamespace: true}
	resourceKinds["Service"] = &serviceKind{baseKind{plural: "services", inNamespace: true}}
	resourceKinds["Deployment"] = &deploymentKind{baseKind{plural: "deployments", inNamespace: true}}
	resourceKinds["DaemonSet"] = &daemonSetKind{baseKind{plural: "daemonsets", inNamespace: true}}
	resourceKinds["StatefulSet"] = &statefulSetKind{baseKind{plural: "statefulsets", inNamespace: true}}
	resourceKinds["Job"] = &jobKind{baseKind{plural: "jobs", inNamespace: true}}
	resourceKinds["CronJob"] = &baseKind{plural: "cronjobs", inNamespace: true}
	resourceKinds["PodDisruptionBudget"] = &podDisruptionBudgetKind{baseKind{plural: "poddisruptionbudgets", inNamespace: true}}
}

// IsClusterScoped is true for kinds that don't go in a namespace.
func IsClusterScoped(kind string) bool {
	k, ok := resourceKinds[kind]
	return ok && !k.namespaced()
}

// IsKnownKind is true for the kinds that can be deployed.
func IsKnownKind(kind string) bool {
	_, ok := resourceKinds[kind]
	return ok
}

// baseKind is how most kinds behave: plain create and update, and no
// pods of their own.
type baseKind struct {
	plural      string
	inNamespace bool
}

func (k *baseKind) resource() string { return k.plural }
func (k *baseKind) namespaced() bool { return k.inNamespace }

func (k *baseKind) prepareUpdate(desired, live *unstructured.Unstructured) error {
	return nil
}

func (k *baseKind) replaceOnUpdate() bool { return false }

func (k *baseKind) desiredPodCount(ctx context.Context, r *resource) (int, error) {
	return 0, nil
}

func (k *baseKind) ready(live *unstructured.Unstructured) bool { return true }

func nestedInt(obj *unstructured.Unstructured, fields ...string) int64 {
	n, _, _ := unstructured.NestedInt64(obj.Object, fields...)
	return n
}

/////////////////////////////////////////////////////////////////////////////
// v1 ServiceAccount

type serviceAccountKind struct{ baseKind }

// The token controller adds secrets to service accounts; updating
// without them would make it generate new ones.
func (k *serviceAccountKind) prepareUpdate(desired, live *unstructured.Unstructured) error {
	if _, found := desired.Object["secrets"]; found {
		return nil
	}
	if secrets, found, _ := unstructured.NestedSlice(live.Object, "secrets"); found {
		return unstructured.SetNestedSlice(desired.Object, secrets, "secrets")
	}
	return nil
}

/////////////////////////////////////////////////////////////////////////////
// v1 Service

type serviceKind struct{ baseKind }

// Services are given a clusterIP (and, sometimes, node ports) by the
// cluster, which can't be changed by an update; so the desired object
// is merged onto the live one, rather than replacing it.
func (k *serviceKind) prepareUpdate(desired, live *unstructured.Unstructured) error {
	liveJSON, err := live.MarshalJSON()
	if err != nil {
		return err
	}
	desiredJSON, err := desired.MarshalJSON()
	if err != nil {
		return err
	}
	merged, err := jsonpatch.MergePatch(liveJSON, desiredJSON)
	if err != nil {
		return err
	}
	var result unstructured.Unstructured
	if err := result.UnmarshalJSON(merged); err != nil {
		return err
	}
	unstructured.RemoveNestedField(result.Object, "status")
	desired.Object = result.Object
	return nil
}

/////////////////////////////////////////////////////////////////////////////
// apps/v1 Deployment

type deploymentKind struct{ baseKind }

// A deployment's selector can't be changed; rather than let the
// cluster refuse it, refuse it here with a clearer message.
func (k *deploymentKind) prepareUpdate(desired, live *unstructured.Unstructured) error {
	var want, have appsv1.Deployment
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(desired.Object, &want); err != nil {
		return fluxerr.UserError("deployment %s is not valid: %s", desired.GetName(), err)
	}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(live.Object, &have); err != nil {
		return err
	}
	if want.Spec.Selector == nil || have.Spec.Selector == nil {
		return nil
	}
	if !labelsEqual(want.Spec.Selector.MatchLabels, have.Spec.Selector.MatchLabels) {
		return fluxerr.ConflictError(fmt.Errorf(
			"deployment %s: spec.selector.matchLabels cannot be changed from %v to %v; delete the deployment first, or deploy under a new name",
			desired.GetName(), have.Spec.Selector.MatchLabels, want.Spec.Selector.MatchLabels))
	}
	return nil
}

func (k *deploymentKind) desiredPodCount(ctx context.Context, r *resource) (int, error) {
	return int(r.manifest.Replicas()), nil
}

func (k *deploymentKind) ready(live *unstructured.Unstructured) bool {
	if nestedInt(live, "status", "observedGeneration") < live.GetGeneration() {
		return false
	}
	want := int64(1)
	if n, found, _ := unstructured.NestedInt64(live.Object, "spec", "replicas"); found {
		want = n
	}
	return nestedInt(live, "status", "updatedReplicas") >= want &&
		nestedInt(live, "status", "readyReplicas") >= want
}

func labelsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

/////////////////////////////////////////////////////////////////////////////
// apps/v1 DaemonSet

type daemonSetKind struct{ baseKind }

// A daemonset runs a pod on every node it's scheduled to, which only
// the cluster knows.
func (k *daemonSetKind) desiredPodCount(ctx context.Context, r *resource) (int, error) {
	live, err := r.Current(ctx)
	if err != nil || live == nil {
		return 0, err
	}
	scheduled := nestedInt(live, "status", "currentNumberScheduled")
	misscheduled := nestedInt(live, "status", "numberMisscheduled")
	return int(scheduled - misscheduled), nil
}

func (k *daemonSetKind) ready(live *unstructured.Unstructured) bool {
	desired := nestedInt(live, "status", "desiredNumberScheduled")
	return nestedInt(live, "status", "observedGeneration") >= live.GetGeneration() &&
		nestedInt(live, "status", "updatedNumberScheduled") >= desired &&
		nestedInt(live, "status", "numberReady") >= desired
}

/////////////////////////////////////////////////////////////////////////////
// apps/v1 StatefulSet

type statefulSetKind struct{ baseKind }

func (k *statefulSetKind) desiredPodCount(ctx context.Context, r *resource) (int, error) {
	return int(r.manifest.Replicas()), nil
}

func (k *statefulSetKind) ready(live *unstructured.Unstructured) bool {
	want := int64(1)
	if n, found, _ := unstructured.NestedInt64(live.Object, "spec", "replicas"); found {
		want = n
	}
	return nestedInt(live, "status", "readyReplicas") >= want
}

/////////////////////////////////////////////////////////////////////////////
// batch/v1 Job

// Jobs can't be updated in any useful way, so they are run again.
type jobKind struct{ baseKind }

func (k *jobKind) replaceOnUpdate() bool { return true }

func (k *jobKind) desiredPodCount(ctx context.Context, r *resource) (int, error) {
	completions, found, _ := unstructured.NestedInt64(r.manifest.Object, "spec", "completions")
	if !found {
		return 1, nil
	}
	return int(completions), nil
}

func (k *jobKind) ready(live *unstructured.Unstructured) bool {
	want := int64(1)
	if n, found, _ := unstructured.NestedInt64(live.Object, "spec", "completions"); found {
		want = n
	}
	return nestedInt(live, "status", "succeeded") >= want
}

/////////////////////////////////////////////////////////////////////////////
// policy/v1beta1 PodDisruptionBudget

// The spec of a disruption budget can't be updated, up to Kubernetes
// 1.15, so it's replaced.
type podDisruptionBudgetKind struct{ baseKind }

func (k *podDisruptionBudgetKind) replaceOnUpdate() bool { return true }
