package apply

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/metrics"
)

// ProtectionAnnotation prevents a live resource from being deleted
const ProtectionAnnotation = "slipway.io/prune-protection"

// Selector picks the objects a prune may delete
type Selector func(obj *unstructured.Unstructured) bool

// SelectGVK selects objects of exactly one group, version and kind
func SelectGVK(gvk schema.GroupVersionKind) Selector {
	return func(obj *unstructured.Unstructured) bool {
		return obj.GroupVersionKind() == gvk
	}
}

// PruneOptions configures pruning behavior
type PruneOptions struct {
	// DryRun if true, only reports what would be deleted
	DryRun bool

	// PropagationPolicy for deletion (Orphan, Background, Foreground)
	PropagationPolicy *metav1.DeletionPropagation
}

// DefaultPruneOptions returns default pruning options
func DefaultPruneOptions() PruneOptions {
	background := metav1.DeletePropagationBackground
	return PruneOptions{
		DryRun:            false,
		PropagationPolicy: &background,
	}
}

// PruneResult contains the result of a prune operation
type PruneResult struct {
	// Pruned contains resources that were deleted
	Pruned []PrunedResource

	// Absent contains selected resources that did not exist in the cluster
	Absent []PrunedResource

	// Protected contains resources skipped because of ProtectionAnnotation
	Protected []PrunedResource

	// Errors contains any errors that occurred during pruning
	Errors []PruneError
}

// Err joins the per-resource errors, or returns nil when there are none
func (r *PruneResult) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, fmt.Errorf("%s: %w", e.Resource, e.Error))
	}
	return stderrors.Join(errs...)
}

// PrunedResource describes a resource considered for deletion
type PrunedResource struct {
	GVK       schema.GroupVersionKind
	Namespace string
	Name      string
}

func (r PrunedResource) String() string {
	if r.Namespace == "" {
		return fmt.Sprintf("%s %s", r.GVK.Kind, r.Name)
	}
	return fmt.Sprintf("%s %s/%s", r.GVK.Kind, r.Namespace, r.Name)
}

// PruneError describes an error that occurred during pruning
type PruneError struct {
	Resource PrunedResource
	Error    error
}

// Pruner deletes selected objects of a rendered bundle from the cluster
type Pruner struct {
	client client.Client
}

// NewPruner creates a new pruner
func NewPruner(c client.Client) *Pruner {
	return &Pruner{
		client: c,
	}
}

// Prune deletes every object accepted by selector. Objects that are already
// gone are reported as Absent and are not errors.
func (p *Pruner) Prune(ctx context.Context, objs []*unstructured.Unstructured, selector Selector, opts PruneOptions) *PruneResult {
	logger := log.FromContext(ctx)
	result := &PruneResult{}

	for _, desired := range objs {
		if !selector(desired) {
			continue
		}

		resource := PrunedResource{
			GVK:       desired.GroupVersionKind(),
			Namespace: desired.GetNamespace(),
			Name:      desired.GetName(),
		}

		live := &unstructured.Unstructured{}
		live.SetGroupVersionKind(resource.GVK)
		err := p.client.Get(ctx, client.ObjectKey{Namespace: resource.Namespace, Name: resource.Name}, live)
		if errors.IsNotFound(err) {
			logger.V(1).Info("Resource not present, nothing to delete", "resource", resource.String())
			result.Absent = append(result.Absent, resource)
			continue
		}
		if err != nil {
			result.Errors = append(result.Errors, PruneError{
				Resource: resource,
				Error:    fmt.Errorf("failed to get resource: %w", err),
			})
			continue
		}

		if p.isProtected(live) {
			logger.Info("Resource is protected from pruning", "resource", resource.String())
			result.Protected = append(result.Protected, resource)
			continue
		}

		if opts.DryRun {
			logger.Info("Would delete resource (dry-run)", "resource", resource.String())
			result.Pruned = append(result.Pruned, resource)
			continue
		}

		start := time.Now()
		gone, err := p.deleteResource(ctx, live, opts)
		duration := time.Since(start).Seconds()
		switch {
		case err != nil:
			metrics.RecordApply("failure", "delete", gvkString(live), duration)
			result.Errors = append(result.Errors, PruneError{Resource: resource, Error: err})
		case gone:
			metrics.RecordApply("absent", "delete", gvkString(live), duration)
			logger.V(1).Info("Resource disappeared before deletion", "resource", resource.String())
			result.Absent = append(result.Absent, resource)
		default:
			metrics.RecordApply("success", "delete", gvkString(live), duration)
			logger.Info("Deleted resource", "resource", resource.String())
			result.Pruned = append(result.Pruned, resource)
		}
	}

	return result
}

// isProtected checks if a resource has protection annotations
func (p *Pruner) isProtected(obj *unstructured.Unstructured) bool {
	annotations := obj.GetAnnotations()
	if annotations == nil {
		return false
	}
	if val, ok := annotations[ProtectionAnnotation]; ok {
		return val == "true" || val == "yes" || val == "1"
	}
	return false
}

// deleteResource deletes a resource; gone reports a NotFound answer
func (p *Pruner) deleteResource(ctx context.Context, obj *unstructured.Unstructured, opts PruneOptions) (gone bool, err error) {
	deleteOpts := []client.DeleteOption{}
	if opts.PropagationPolicy != nil {
		deleteOpts = append(deleteOpts, client.PropagationPolicy(*opts.PropagationPolicy))
	}

	if err := p.client.Delete(ctx, obj, deleteOpts...); err != nil {
		if errors.IsNotFound(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to delete resource: %w", err)
	}
	return false, nil
}
