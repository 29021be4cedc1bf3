package kubernetes

import (
	"math"
	"strconv"
	"strings"
	"time"

	policyv1beta1 "k8s.io/api/policy/v1beta1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/fluxcd/deployer/pkg/cluster/kubernetes/resource"
	fluxerr "github.com/fluxcd/deployer/pkg/errors"
)

// MinAvailableDisabled turns off disruption budgets for a resource,
// or, as the default, for every resource that doesn't ask for one.
const MinAvailableDisabled = "disabled"

// minAvailable works out the minimum number of pods to keep
// available, given a directive (a count or a percentage) and the
// number of pods there should be. A nil result means the budget
// would either block all evictions or do nothing, so there should be
// no budget.
func minAvailable(directive string, desired int64) (*intstr.IntOrString, error) {
	if strings.HasSuffix(directive, "%") {
		percent, err := strconv.Atoi(strings.TrimSuffix(directive, "%"))
		if err != nil || percent < 0 {
			return nil, fluxerr.UserError("%s must be a number or a percentage, got %q", resource.MinAvailableAnnotation, directive)
		}
		// Nothing to keep available when there are no pods.
		if desired == 0 {
			return nil, nil
		}
		if percent >= 100 {
			return nil, fluxerr.UserError("%s of %s would prevent any pod from being evicted; use a lower percentage", resource.MinAvailableAnnotation, directive)
		}
		if percent == 0 {
			return nil, nil
		}
		implied := int64(math.Ceil(float64(desired) * float64(percent) / 100))
		if implied >= desired {
			if desired-1 == 0 {
				return nil, nil
			}
			v := intstr.FromInt(int(desired - 1))
			return &v, nil
		}
		v := intstr.FromString(directive)
		return &v, nil
	}

	n, err := strconv.Atoi(directive)
	if err != nil || n < 0 {
		return nil, fluxerr.UserError("%s must be a number or a percentage, got %q", resource.MinAvailableAnnotation, directive)
	}
	if n == 0 || desired == 0 || int64(n) >= desired {
		return nil, nil
	}
	v := intstr.FromInt(n)
	return &v, nil
}

// disruptionBudget makes a PodDisruptionBudget for parent. When no
// budget is wanted, it's a manifest to delete any budget left over
// from an earlier deploy.
func disruptionBudget(parent *resource.Manifest, directive string, desired int64, deployURL string, now time.Time) (*resource.Manifest, error) {
	value, err := minAvailable(directive, desired)
	if err != nil {
		return nil, err
	}

	annotations := map[string]string{
		resource.UpdateTimestampAnnotation: now.UTC().Format(time.RFC3339),
	}
	if deployURL != "" {
		annotations[resource.DeployURLAnnotation] = deployURL
	}
	if v, ok := parent.Annotation(resource.KeepNameAnnotation); ok {
		annotations[resource.KeepNameAnnotation] = v
	}
	pdb := &policyv1beta1.PodDisruptionBudget{
		TypeMeta: metav1.TypeMeta{APIVersion: "policy/v1beta1", Kind: "PodDisruptionBudget"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        parent.GetName(),
			Namespace:   parent.GetNamespace(),
			Labels:      parent.GetLabels(),
			Annotations: annotations,
		},
		Spec: policyv1beta1.PodDisruptionBudgetSpec{
			Selector: &metav1.LabelSelector{MatchLabels: parent.Selector()},
		},
	}
	obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(pdb)
	if err != nil {
		return nil, err
	}
	unstructured.RemoveNestedField(obj, "status")
	unstructured.RemoveNestedField(obj, "metadata", "creationTimestamp")

	m := resource.NewManifest(obj)
	if value == nil {
		m.Delete = true
		return m, nil
	}
	if value.Type == intstr.Int {
		err = unstructured.SetNestedField(m.Object, int64(value.IntVal), "spec", "minAvailable")
	} else {
		err = unstructured.SetNestedField(m.Object, value.StrVal, "spec", "minAvailable")
	}
	return m, err
}
