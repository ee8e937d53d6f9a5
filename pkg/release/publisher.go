package release

import (
	"context"

	"github.com/chazu/slipway/pkg/command"
	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/pipeline"
)

// ImagePublisher makes a built image available to the target cluster
type ImagePublisher interface {
	Publish(ctx context.Context, image string) error
	Name() string
}

// LocalLoader loads images straight into a local kind cluster
type LocalLoader struct {
	tools       pipeline.ToolResolver
	runner      command.Runner
	clusterName string
}

// Name identifies the publisher in logs
func (l *LocalLoader) Name() string { return "LocalLoader" }

// Publish runs `kind load docker-image`
func (l *LocalLoader) Publish(ctx context.Context, image string) error {
	kind, err := l.tools.Path(ctx, ToolKind)
	if err != nil {
		return err
	}
	return l.runner.Run(ctx, command.Cmd{
		Name: kind,
		Args: []string{"load", "docker-image", image, "--name", l.clusterName},
	})
}

// RegistryPusher pushes images to a remote registry
type RegistryPusher struct {
	tools  pipeline.ToolResolver
	runner command.Runner
}

// Name identifies the publisher in logs
func (r *RegistryPusher) Name() string { return "RegistryPusher" }

// Publish runs `docker push`
func (r *RegistryPusher) Publish(ctx context.Context, image string) error {
	docker, err := r.tools.Path(ctx, pipeline.ToolDocker)
	if err != nil {
		return err
	}
	return r.runner.Run(ctx, command.Cmd{
		Name: docker,
		Args: []string{"push", image},
	})
}

// NewImagePublisher picks the publisher for the snapshot's environment:
// local-cluster loads into kind, everything else pushes to the registry.
func NewImagePublisher(snap *config.Snapshot, tools pipeline.ToolResolver, runner command.Runner) ImagePublisher {
	if snap.LocalCluster() {
		return &LocalLoader{tools: tools, runner: runner, clusterName: snap.ClusterName()}
	}
	return &RegistryPusher{tools: tools, runner: runner}
}
