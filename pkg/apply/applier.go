package apply

import (
	"context"
	"fmt"
	"slices"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/metrics"
)

// Applier writes bundle objects to the cluster
type Applier struct {
	client client.Client
}

// NewApplier creates an applier over c
func NewApplier(c client.Client) *Applier {
	return &Applier{client: c}
}

// gvkString renders an object's GVK for metrics labels (e.g. "apps/v1/Deployment")
func gvkString(obj *unstructured.Unstructured) string {
	gvk := obj.GroupVersionKind()
	if gvk.Group == "" {
		return fmt.Sprintf("%s/%s", gvk.Version, gvk.Kind)
	}
	return fmt.Sprintf("%s/%s/%s", gvk.Group, gvk.Version, gvk.Kind)
}

// objectRef renders kind and namespaced name for errors
func objectRef(obj *unstructured.Unstructured) string {
	if obj.GetNamespace() == "" {
		return fmt.Sprintf("%s %s", obj.GetKind(), obj.GetName())
	}
	return fmt.Sprintf("%s %s/%s", obj.GetKind(), obj.GetNamespace(), obj.GetName())
}

// applyRank orders kinds other objects depend on ahead of everything else.
// Unlisted kinds share the last rank and keep their bundle order.
var applyRank = map[string]int{
	"Namespace":                0,
	"CustomResourceDefinition": 1,
	"ServiceAccount":           2,
	"ClusterRole":              3,
	"ClusterRoleBinding":       3,
	"Role":                     3,
	"RoleBinding":              3,
	"ConfigMap":                4,
	"Secret":                   4,
}

func rank(obj *unstructured.Unstructured) int {
	if r, ok := applyRank[obj.GetKind()]; ok {
		return r
	}
	return len(applyRank)
}

// SortForApply returns objs with namespaces, CRDs and RBAC first. The sort is
// stable and the input slice is left untouched.
func SortForApply(objs []*unstructured.Unstructured) []*unstructured.Unstructured {
	out := slices.Clone(objs)
	slices.SortStableFunc(out, func(a, b *unstructured.Unstructured) int {
		return rank(a) - rank(b)
	})
	return out
}

// Apply writes one object according to policy
func (a *Applier) Apply(ctx context.Context, obj *unstructured.Unstructured, policy Policy) error {
	if obj == nil {
		return fmt.Errorf("object cannot be nil")
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid apply policy: %w", err)
	}

	gvk := gvkString(obj)
	logger := log.FromContext(ctx).WithValues("object", objectRef(obj), "mode", policy.Mode)

	mode := "apply"
	if policy.Mode == ModeDryRun {
		mode = "dry-run"
	}

	start := time.Now()
	err := a.serverSideApply(ctx, obj, policy)
	duration := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordApply("failure", mode, gvk, duration)
		return err
	}
	metrics.RecordApply("success", mode, gvk, duration)
	logger.V(1).Info("Applied object", "gvk", gvk)
	return nil
}

// ApplyAll applies objs in SortForApply order and stops at the first failure
func (a *Applier) ApplyAll(ctx context.Context, objs []*unstructured.Unstructured, policy Policy) error {
	for _, obj := range SortForApply(objs) {
		if err := a.Apply(ctx, obj, policy); err != nil {
			return err
		}
	}
	log.FromContext(ctx).Info("Applied objects", "count", len(objs), "dryRun", policy.Mode == ModeDryRun)
	return nil
}

func (a *Applier) serverSideApply(ctx context.Context, obj *unstructured.Unstructured, policy Policy) error {
	opts := []client.PatchOption{client.FieldOwner(policy.FieldManager)}
	if policy.ConflictPolicy == ConflictPolicyForce {
		opts = append(opts, client.ForceOwnership)
	}
	if policy.Mode == ModeDryRun {
		opts = append(opts, client.DryRunAll)
	}

	err := a.client.Patch(ctx, obj, client.Apply, opts...)
	switch {
	case err == nil:
		return nil
	case errors.IsConflict(err):
		return &ConflictError{Resource: objectRef(obj), FieldManager: policy.FieldManager, Err: err}
	default:
		return fmt.Errorf("failed to apply %s: %w", objectRef(obj), err)
	}
}

// ConflictError reports fields owned by another manager when conflicts are
// not forced
type ConflictError struct {
	Resource     string
	FieldManager string
	Err          error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("apply of %s as %q conflicts with another field manager: %v", e.Resource, e.FieldManager, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
