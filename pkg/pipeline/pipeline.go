package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/command"
	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/graph"
)

// Task names registered by the pipeline
const (
	TaskGenerate          = "generate"
	TaskFmt               = "fmt"
	TaskVet               = "vet"
	TaskCheck             = "check"
	TaskBuildManager      = "build-manager"
	TaskBuildPlugin       = "build-plugin"
	TaskBuild             = "build"
	TaskTestUnit          = "test-unit"
	TaskTestReconciler    = "test-reconciler"
	TaskTest              = "test"
	TaskGenerateManifests = "generate-manifests"
	TaskContainerize      = "containerize"
	TaskPackagePlugin     = "package-plugin"
)

// Tool names the pipeline resolves
const (
	ToolGo            = "go"
	ToolDocker        = "docker"
	ToolControllerGen = "controller-gen"
	ToolKustomize     = "kustomize"
)

// NewReconcilerEnv is set only for the reconciler test partition
const NewReconcilerEnv = "SLIPWAY_NEW_RECONCILER"

// ManifestsFile is the synthesized bundle name inside the dist directory
const ManifestsFile = "manifests.yaml"

// ToolResolver returns the executable path of a named tool
type ToolResolver interface {
	Path(ctx context.Context, name string) (string, error)
}

// Pipeline owns the build-side tasks for one configuration snapshot
type Pipeline struct {
	snap      *config.Snapshot
	project   config.Project
	tools     ToolResolver
	runner    command.Runner
	workdir   string
	artifacts *Registry
}

// New creates a pipeline. Relative artifact paths resolve against workdir.
func New(snap *config.Snapshot, tools ToolResolver, runner command.Runner, workdir string) *Pipeline {
	return &Pipeline{
		snap:      snap,
		project:   snap.Project(),
		tools:     tools,
		runner:    runner,
		workdir:   workdir,
		artifacts: NewRegistry(),
	}
}

// Artifacts returns the artifact registry
func (p *Pipeline) Artifacts() *Registry {
	return p.artifacts
}

// Path resolves a workdir-relative path
func (p *Pipeline) Path(rel string) string {
	if filepath.IsAbs(rel) || p.workdir == "" {
		return rel
	}
	return filepath.Join(p.workdir, rel)
}

// pluginArchiveName is the archive file name inside the dist directory
func (p *Pipeline) pluginArchiveName() string {
	return p.project.Plugin.Name + ".tar.gz"
}

// pluginInstallerName is the installer manifest file name inside the dist directory
func (p *Pipeline) pluginInstallerName() string {
	return p.project.Plugin.Name + ".yaml"
}

// Register adds the pipeline tasks to g and declares their artifacts.
func (p *Pipeline) Register(g *graph.TaskGraph) error {
	tasks := []graph.Task{
		{
			Name:        TaskGenerate,
			Description: "Generate deep-copy code",
			Action:      p.generate,
			Tools:       []string{ToolControllerGen},
		},
		{
			Name:        TaskFmt,
			DependsOn:   []string{TaskGenerate},
			Description: "Format Go sources",
			Action:      p.goCommand("fmt", "./..."),
			Tools:       []string{ToolGo},
		},
		{
			Name:        TaskVet,
			DependsOn:   []string{TaskGenerate},
			Description: "Run go vet",
			Action:      p.goCommand("vet", "./..."),
			Tools:       []string{ToolGo},
		},
		{
			Name:        TaskCheck,
			DependsOn:   []string{TaskFmt, TaskVet},
			Description: "Static checks",
		},
		{
			Name:        TaskBuildManager,
			DependsOn:   []string{TaskCheck},
			Description: "Build the manager binary",
			Action:      p.buildManager,
			Tools:       []string{ToolGo},
		},
		{
			Name:        TaskBuildPlugin,
			DependsOn:   []string{TaskCheck},
			Description: "Build the kubectl plugin binary",
			Action:      p.buildPlugin,
			Tools:       []string{ToolGo},
		},
		{
			Name:        TaskBuild,
			DependsOn:   []string{TaskBuildManager, TaskBuildPlugin},
			Description: "Build all binaries",
		},
		{
			Name:        TaskTestUnit,
			DependsOn:   []string{TaskCheck, TaskBuild},
			Description: "Run tests outside the reconciler package",
			Action:      p.testUnit,
			Tools:       []string{ToolGo},
		},
		{
			Name:        TaskTestReconciler,
			DependsOn:   []string{TaskCheck, TaskBuild},
			Description: "Run reconciler tests in the selected reconciliation mode",
			Action:      p.testReconciler,
			Tools:       []string{ToolGo},
		},
		{
			Name:        TaskTest,
			DependsOn:   []string{TaskTestUnit, TaskTestReconciler},
			Description: "Run all tests",
		},
		{
			Name:        TaskGenerateManifests,
			DependsOn:   []string{TaskGenerate},
			Description: "Synthesize the deployment manifest bundle",
			Action:      p.generateManifests,
			Tools:       []string{ToolControllerGen, ToolKustomize},
		},
		{
			Name:        TaskContainerize,
			DependsOn:   []string{TaskTest},
			Description: "Build the container image",
			Action:      p.containerize,
			Tools:       []string{ToolDocker},
		},
		{
			Name:        TaskPackagePlugin,
			DependsOn:   []string{TaskBuild},
			Description: "Archive the plugin and write its installer manifest",
			Action:      p.packagePlugin,
		},
	}
	for _, t := range tasks {
		if err := g.Register(t); err != nil {
			return err
		}
	}

	dist := p.project.DistDir
	artifacts := []Artifact{
		{Name: ArtifactManagerBinary, Kind: KindBinary, Path: p.project.Manager.Binary, Producer: TaskBuildManager, Consumers: []string{TaskContainerize}},
		{Name: ArtifactPluginBinary, Kind: KindBinary, Path: p.project.Plugin.Binary, Producer: TaskBuildPlugin, Consumers: []string{TaskPackagePlugin}},
		{Name: ArtifactManifestBundle, Kind: KindManifestBundle, Path: filepath.Join(dist, ManifestsFile), Producer: TaskGenerateManifests},
		{Name: ArtifactImage, Kind: KindImage, Path: p.snap.Image(), Producer: TaskContainerize},
		{Name: ArtifactPluginArchive, Kind: KindArchive, Path: filepath.Join(dist, p.pluginArchiveName()), Producer: TaskPackagePlugin},
		{Name: ArtifactPluginInstaller, Kind: KindInstallerManifest, Path: filepath.Join(dist, p.pluginInstallerName()), Producer: TaskPackagePlugin},
	}
	for _, a := range artifacts {
		if err := p.artifacts.Declare(a); err != nil {
			return err
		}
	}
	return nil
}

// run resolves tool and runs it with args in the working directory
func (p *Pipeline) run(ctx context.Context, tool string, args []string, opts ...func(*command.Cmd)) error {
	path, err := p.tools.Path(ctx, tool)
	if err != nil {
		return err
	}
	cmd := command.Cmd{Name: path, Args: args, Dir: p.workdir}
	for _, opt := range opts {
		opt(&cmd)
	}
	return p.runner.Run(ctx, cmd)
}

// output is run returning standard output
func (p *Pipeline) output(ctx context.Context, tool string, args []string, opts ...func(*command.Cmd)) ([]byte, error) {
	path, err := p.tools.Path(ctx, tool)
	if err != nil {
		return nil, err
	}
	cmd := command.Cmd{Name: path, Args: args, Dir: p.workdir}
	for _, opt := range opts {
		opt(&cmd)
	}
	return command.Output(ctx, p.runner, cmd)
}

func withEnv(env ...string) func(*command.Cmd) {
	return func(c *command.Cmd) { c.Env = append(c.Env, env...) }
}

func inDir(dir string) func(*command.Cmd) {
	return func(c *command.Cmd) { c.Dir = dir }
}

func (p *Pipeline) goCommand(args ...string) graph.Action {
	return func(ctx context.Context) error {
		return p.run(ctx, ToolGo, args)
	}
}

func (p *Pipeline) generate(ctx context.Context) error {
	args := []string{
		fmt.Sprintf("object:headerFile=%s", strconv.Quote(p.project.HeaderFile)),
		"paths=./...",
	}
	return p.run(ctx, ToolControllerGen, args)
}

func (p *Pipeline) versionLDFlags() string {
	return fmt.Sprintf("-X main.version=%s", p.snap.Version())
}

func (p *Pipeline) buildManager(ctx context.Context) error {
	return p.run(ctx, ToolGo, []string{
		"build", "-ldflags", p.versionLDFlags(), "-o", p.project.Manager.Binary, p.project.Manager.Main,
	})
}

func (p *Pipeline) buildPlugin(ctx context.Context) error {
	return p.run(ctx, ToolGo, []string{
		"build", "-ldflags", p.versionLDFlags(), "-o", p.project.Plugin.Binary, p.project.Plugin.Main,
	}, withEnv("CGO_ENABLED=0"))
}

// testUnit runs every package except the reconciler partition.
func (p *Pipeline) testUnit(ctx context.Context) error {
	all, err := p.listPackages(ctx, "./...")
	if err != nil {
		return err
	}
	excluded, err := p.listPackages(ctx, p.project.ReconcilerPackage)
	if err != nil {
		return err
	}
	packages := subtract(all, excluded)
	if len(packages) == 0 {
		log.FromContext(ctx).Info("No packages outside the reconciler partition")
		return nil
	}
	return p.run(ctx, ToolGo, append([]string{"test"}, packages...))
}

// testReconciler runs the reconciler partition with the mode passed through
// its own environment only.
func (p *Pipeline) testReconciler(ctx context.Context) error {
	return p.run(ctx, ToolGo, []string{"test", p.project.ReconcilerPackage},
		withEnv(fmt.Sprintf("%s=%t", NewReconcilerEnv, p.snap.NewReconciler())))
}

func (p *Pipeline) listPackages(ctx context.Context, pattern string) ([]string, error) {
	out, err := p.output(ctx, ToolGo, []string{"list", pattern})
	if err != nil {
		return nil, err
	}
	var packages []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			packages = append(packages, line)
		}
	}
	return packages, nil
}

func subtract(all, excluded []string) []string {
	skip := make(map[string]bool, len(excluded))
	for _, pkg := range excluded {
		skip[pkg] = true
	}
	var out []string
	for _, pkg := range all {
		if !skip[pkg] {
			out = append(out, pkg)
		}
	}
	return out
}

func (p *Pipeline) containerize(ctx context.Context) error {
	return p.run(ctx, ToolDocker, []string{"build", "-t", p.snap.Image(), "."})
}
