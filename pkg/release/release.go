package release

import (
	"context"
	"fmt"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/apply"
	"github.com/chazu/slipway/pkg/command"
	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/graph"
	"github.com/chazu/slipway/pkg/manifest"
	"github.com/chazu/slipway/pkg/pipeline"
	"github.com/chazu/slipway/pkg/readiness"
)

// Task names registered by the release orchestrator
const (
	TaskInstallPrerequisites = "install-prerequisites"
	TaskPublish              = "publish"
	TaskUninstallPlugin      = "uninstall-plugin"
	TaskInstallPlugin        = "install-plugin"
	TaskDeleteDeployment     = "delete-deployment"
	TaskDeploy               = "deploy"
	TaskDeleteLocalCluster   = "delete-local-cluster"
	TaskResetLocalCluster    = "reset-local-cluster"
)

// Tool names the release tasks resolve
const (
	ToolKind    = "kind"
	ToolKubectl = "kubectl"
)

var deploymentGVK = appsv1.SchemeGroupVersion.WithKind("Deployment")

// DeletedBeforeApply selects the bundle objects removed before reapplying.
// Only Deployments are deleted; CRDs, namespaces and custom resources stay.
var DeletedBeforeApply = apply.SelectGVK(deploymentGVK)

// Orchestrator owns the release tasks for one configuration snapshot
type Orchestrator struct {
	snap      *config.Snapshot
	project   config.Project
	pipeline  *pipeline.Pipeline
	tools     pipeline.ToolResolver
	runner    command.Runner
	publisher ImagePublisher
	cluster   *lazyClient
	fetcher   *Fetcher

	pollInterval time.Duration
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithFetcher replaces the prerequisite manifest fetcher
func WithFetcher(f *Fetcher) Option {
	return func(o *Orchestrator) { o.fetcher = f }
}

// WithPollInterval sets how often readiness is polled
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// New creates an orchestrator. The cluster client is built by clients on
// first use.
func New(snap *config.Snapshot, p *pipeline.Pipeline, tools pipeline.ToolResolver, runner command.Runner, clients ClientFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		snap:         snap,
		project:      snap.Project(),
		pipeline:     p,
		tools:        tools,
		runner:       runner,
		publisher:    NewImagePublisher(snap, tools, runner),
		cluster:      &lazyClient{factory: clients},
		fetcher:      NewFetcher(nil),
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Publisher returns the image publisher chosen for this snapshot
func (o *Orchestrator) Publisher() ImagePublisher {
	return o.publisher
}

// Register adds the release tasks to g and records which pipeline artifacts
// they consume. The pipeline tasks must be registered in g as well.
func (o *Orchestrator) Register(g *graph.TaskGraph) error {
	tasks := []graph.Task{
		{
			Name:        TaskInstallPrerequisites,
			Description: "Apply cluster prerequisites and wait for them",
			Action:      o.installPrerequisites,
		},
		{
			Name:        TaskPublish,
			DependsOn:   []string{TaskInstallPrerequisites, pipeline.TaskContainerize},
			Description: "Make the image available to the cluster",
			Action:      o.publish,
			Tools:       []string{ToolKind, pipeline.ToolDocker},
		},
		{
			Name:        TaskUninstallPlugin,
			Policy:      graph.PolicyBestEffort,
			Description: "Remove a previously installed plugin",
			Action:      o.uninstallPlugin,
			Tools:       []string{ToolKubectl},
		},
		{
			Name:        TaskInstallPlugin,
			DependsOn:   []string{pipeline.TaskPackagePlugin, TaskUninstallPlugin},
			Description: "Install the packaged plugin",
			Action:      o.installPlugin,
			Tools:       []string{ToolKubectl},
		},
		{
			Name:        TaskDeleteDeployment,
			DependsOn:   []string{TaskInstallPlugin, pipeline.TaskGenerateManifests},
			Policy:      graph.PolicyBestEffort,
			Description: "Delete the bundle's Deployments before reapplying",
			Action:      o.deleteDeployment,
		},
		{
			Name: TaskDeploy,
			DependsOn: []string{
				TaskInstallPrerequisites,
				TaskPublish,
				TaskInstallPlugin,
				pipeline.TaskGenerateManifests,
				TaskDeleteDeployment,
			},
			Description: "Apply the manifest bundle",
			Action:      o.deploy,
		},
		{
			Name:        TaskDeleteLocalCluster,
			Policy:      graph.PolicyBestEffort,
			Description: "Delete the local kind cluster",
			Action:      o.kindCluster("delete"),
			Tools:       []string{ToolKind},
		},
		{
			Name:        TaskResetLocalCluster,
			DependsOn:   []string{TaskDeleteLocalCluster},
			Description: "Recreate the local kind cluster",
			Action:      o.kindCluster("create"),
			Tools:       []string{ToolKind},
		},
	}
	for _, t := range tasks {
		if err := g.Register(t); err != nil {
			return err
		}
	}

	artifacts := o.pipeline.Artifacts()
	consumers := []struct{ artifact, task string }{
		{pipeline.ArtifactImage, TaskPublish},
		{pipeline.ArtifactPluginArchive, TaskInstallPlugin},
		{pipeline.ArtifactPluginInstaller, TaskInstallPlugin},
		{pipeline.ArtifactManifestBundle, TaskDeleteDeployment},
		{pipeline.ArtifactManifestBundle, TaskDeploy},
	}
	for _, c := range consumers {
		if err := artifacts.Consume(c.artifact, c.task); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) installPrerequisites(ctx context.Context) error {
	logger := log.FromContext(ctx)
	if len(o.project.Prerequisites) == 0 {
		logger.V(1).Info("No prerequisites configured")
		return nil
	}

	c, err := o.cluster.get(ctx)
	if err != nil {
		return err
	}
	applier := apply.NewApplier(c)
	waiter := readiness.NewWaiter(c).WithInterval(o.pollInterval, 30*o.pollInterval)

	for _, prereq := range o.project.Prerequisites {
		logger.Info("Installing prerequisite", "name", prereq.Name, "url", prereq.URL)

		objs, err := o.fetcher.Fetch(ctx, prereq.URL)
		if err != nil {
			return fmt.Errorf("prerequisite %s: %w", prereq.Name, err)
		}
		policy := apply.DefaultPolicy().WithForce(prereq.ForceConflicts).WithDryRun(o.snap.DryRun())
		if err := applier.ApplyAll(ctx, objs, policy); err != nil {
			return fmt.Errorf("prerequisite %s: %w", prereq.Name, err)
		}

		// a dry run creates nothing to wait for
		if prereq.TimeoutSeconds == 0 || o.snap.DryRun() {
			continue
		}
		timeout := time.Duration(prereq.TimeoutSeconds) * time.Second
		for _, ns := range prerequisiteNamespaces(prereq, objs) {
			if err := waiter.WaitForDeployments(ctx, ns, timeout); err != nil {
				return fmt.Errorf("prerequisite %s: %w", prereq.Name, err)
			}
		}
	}
	return nil
}

// prerequisiteNamespaces is the configured namespace, or else every namespace
// the prerequisite's Deployments live in. Deployments without a namespace are
// skipped; an empty namespace would make the wait cover the whole cluster.
func prerequisiteNamespaces(prereq config.Prerequisite, objs []*unstructured.Unstructured) []string {
	if prereq.Namespace != "" {
		return []string{prereq.Namespace}
	}
	seen := make(map[string]bool)
	var namespaces []string
	for _, obj := range manifest.Filter(objs, deploymentGVK) {
		ns := obj.GetNamespace()
		if ns == "" || seen[ns] {
			continue
		}
		seen[ns] = true
		namespaces = append(namespaces, ns)
	}
	return namespaces
}

func (o *Orchestrator) publish(ctx context.Context) error {
	image := o.snap.Image()
	log.FromContext(ctx).Info("Publishing image", "image", image, "publisher", o.publisher.Name())
	return o.publisher.Publish(ctx, image)
}

// krewName is the plugin name krew knows, without the kubectl- prefix
func (o *Orchestrator) krewName() string {
	return strings.TrimPrefix(o.project.Plugin.Name, "kubectl-")
}

func (o *Orchestrator) kubectl(ctx context.Context, args ...string) error {
	kubectl, err := o.tools.Path(ctx, ToolKubectl)
	if err != nil {
		return err
	}
	if kc := o.snap.KubeContext(); kc != "" {
		args = append([]string{"--context", kc}, args...)
	}
	return o.runner.Run(ctx, command.Cmd{Name: kubectl, Args: args})
}

func (o *Orchestrator) uninstallPlugin(ctx context.Context) error {
	return o.kubectl(ctx, "krew", "uninstall", o.krewName())
}

func (o *Orchestrator) installPlugin(ctx context.Context) error {
	artifacts := o.pipeline.Artifacts()
	installer, err := artifacts.Get(pipeline.ArtifactPluginInstaller)
	if err != nil {
		return err
	}
	archive, err := artifacts.Get(pipeline.ArtifactPluginArchive)
	if err != nil {
		return err
	}
	manifestPath := o.pipeline.Path(installer.Path)
	archivePath := o.pipeline.Path(archive.Path)
	if err := pipeline.VerifyPluginArchive(manifestPath, archivePath); err != nil {
		return err
	}
	return o.kubectl(ctx, "krew", "install",
		"--manifest="+manifestPath,
		"--archive="+archivePath,
	)
}

func (o *Orchestrator) readBundle() ([]*unstructured.Unstructured, error) {
	a, err := o.pipeline.Artifacts().Get(pipeline.ArtifactManifestBundle)
	if err != nil {
		return nil, err
	}
	objs, err := manifest.ReadFile(o.pipeline.Path(a.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest bundle: %w", err)
	}
	return objs, nil
}

// deleteDeployment removes the bundle's Deployments. A Deployment that is not
// there is the expected first-install case and only logged.
func (o *Orchestrator) deleteDeployment(ctx context.Context) error {
	objs, err := o.readBundle()
	if err != nil {
		return err
	}
	c, err := o.cluster.get(ctx)
	if err != nil {
		return err
	}

	opts := apply.DefaultPruneOptions()
	opts.DryRun = o.snap.DryRun()
	result := apply.NewPruner(c).Prune(ctx, objs, DeletedBeforeApply, opts)
	log.FromContext(ctx).V(1).Info("Deleted deployments",
		"deleted", len(result.Pruned), "absent", len(result.Absent), "protected", len(result.Protected),
		"dryRun", opts.DryRun)
	return result.Err()
}

func (o *Orchestrator) deploy(ctx context.Context) error {
	objs, err := o.readBundle()
	if err != nil {
		return err
	}
	c, err := o.cluster.get(ctx)
	if err != nil {
		return err
	}
	return apply.NewApplier(c).ApplyAll(ctx, objs, apply.DefaultPolicy().WithDryRun(o.snap.DryRun()))
}

func (o *Orchestrator) kindCluster(verb string) graph.Action {
	return func(ctx context.Context) error {
		kind, err := o.tools.Path(ctx, ToolKind)
		if err != nil {
			return err
		}
		return o.runner.Run(ctx, command.Cmd{
			Name: kind,
			Args: []string{verb, "cluster", "--name", o.snap.ClusterName()},
		})
	}
}
