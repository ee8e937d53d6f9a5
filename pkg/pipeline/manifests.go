package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/manifest"
)

// ManagerImageName is the image name kustomize substitutes in the manager kustomization
const ManagerImageName = "controller"

// generateManifests regenerates CRDs, RBAC and webhook configuration, points
// the manager kustomization at the snapshot image and renders the bundle.
func (p *Pipeline) generateManifests(ctx context.Context) error {
	logger := log.FromContext(ctx)

	if err := p.run(ctx, ToolControllerGen, []string{
		p.snap.CRDOptions(),
		"rbac:roleName=manager-role",
		"webhook",
		"paths=./...",
		"output:crd:artifacts:config=config/crd/bases",
	}); err != nil {
		return err
	}

	if err := p.run(ctx, ToolKustomize, []string{
		"edit", "set", "image", fmt.Sprintf("%s=%s", ManagerImageName, p.snap.Image()),
	}, inDir(p.Path(p.project.ManagerKustomize))); err != nil {
		return err
	}

	out, err := p.output(ctx, ToolKustomize, []string{"build", p.project.KustomizeDir})
	if err != nil {
		return err
	}

	objs, err := manifest.DecodeBytes(out)
	if err != nil {
		return fmt.Errorf("failed to parse kustomize output: %w", err)
	}
	if err := manifest.Validate(objs, p.snap.Image()); err != nil {
		return err
	}

	a, err := p.artifacts.Get(ArtifactManifestBundle)
	if err != nil {
		return err
	}
	dest := p.Path(a.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	if err := manifest.WriteFile(dest, objs); err != nil {
		return fmt.Errorf("failed to write manifest bundle: %w", err)
	}

	logger.Info("Wrote manifest bundle", "path", dest, "objects", len(objs), "image", p.snap.Image())
	return nil
}
