package readiness

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// TimeoutError lists the objects still not ready when the wait gave up
type TimeoutError struct {
	Namespace string
	Pending   []string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for deployments in %q: %s",
		e.Timeout, e.Namespace, strings.Join(e.Pending, ", "))
}

// Waiter polls the cluster until workloads are ready
type Waiter struct {
	client      client.Client
	interval    time.Duration
	maxInterval time.Duration
}

// NewWaiter creates a waiter polling every second, backing off to 30 seconds
func NewWaiter(c client.Client) *Waiter {
	return &Waiter{
		client:      c,
		interval:    1 * time.Second,
		maxInterval: 30 * time.Second,
	}
}

// WithInterval returns a copy of the waiter with different polling bounds
func (w *Waiter) WithInterval(interval, maxInterval time.Duration) *Waiter {
	return &Waiter{client: w.client, interval: interval, maxInterval: maxInterval}
}

// PendingDeployments returns the names of Deployments in namespace that are
// not Available yet. An empty namespace means all namespaces.
func (w *Waiter) PendingDeployments(ctx context.Context, namespace string) ([]string, error) {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(appsv1.SchemeGroupVersion.WithKind("DeploymentList"))

	var opts []client.ListOption
	if namespace != "" {
		opts = append(opts, client.InNamespace(namespace))
	}
	if err := w.client.List(ctx, list, opts...); err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	predicate := &DeploymentAvailablePredicate{}
	var pending []string
	for i := range list.Items {
		ready, err := predicate.Evaluate(&list.Items[i])
		if err != nil {
			return nil, err
		}
		if !ready {
			pending = append(pending, list.Items[i].GetNamespace()+"/"+list.Items[i].GetName())
		}
	}
	slices.Sort(pending)
	return pending, nil
}

// WaitForDeployments polls until every Deployment in namespace is Available.
// A namespace without Deployments is ready immediately.
func (w *Waiter) WaitForDeployments(ctx context.Context, namespace string, timeout time.Duration) error {
	logger := log.FromContext(ctx).WithValues("namespace", namespace)

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := w.interval
	for {
		pending, err := w.PendingDeployments(timeoutCtx, namespace)
		if err != nil {
			if timeoutCtx.Err() != nil && ctx.Err() == nil {
				return &TimeoutError{Namespace: namespace, Timeout: timeout}
			}
			return err
		}
		if len(pending) == 0 {
			logger.V(1).Info("Deployments available")
			return nil
		}
		logger.V(1).Info("Waiting for deployments", "pending", pending)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCtx.Done():
			return &TimeoutError{Namespace: namespace, Pending: pending, Timeout: timeout}
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > w.maxInterval {
				backoff = w.maxInterval
			}
		}
	}
}
