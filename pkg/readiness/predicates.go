package readiness

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// Evaluator decides whether a live object is ready
type Evaluator interface {
	Evaluate(obj *unstructured.Unstructured) (bool, error)
}

// DeploymentAvailablePredicate checks if a Deployment is available
type DeploymentAvailablePredicate struct{}

// Evaluate checks if the Deployment has the Available condition set to True
// for its current generation
func (p *DeploymentAvailablePredicate) Evaluate(obj *unstructured.Unstructured) (bool, error) {
	var deployment appsv1.Deployment
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &deployment); err != nil {
		return false, fmt.Errorf("failed to convert to Deployment: %w", err)
	}

	if deployment.Status.ObservedGeneration < deployment.Generation {
		return false, nil
	}

	for _, cond := range deployment.Status.Conditions {
		if cond.Type == appsv1.DeploymentAvailable && cond.Status == corev1.ConditionTrue {
			return true, nil
		}
	}
	return false, nil
}
