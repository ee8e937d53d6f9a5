package pipeline

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/slipway/pkg/command"
	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/graph"
	"github.com/chazu/slipway/pkg/pipeline/pipelinetest"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

// fixture is a pipeline over a temp working directory with a recording runner
// that emulates the go toolchain and kustomize.
type fixture struct {
	workdir   string
	snap      *config.Snapshot
	runner    *command.FakeRunner
	tools     *pipelinetest.Tools
	toolchain *pipelinetest.Toolchain
	graph     *graph.TaskGraph
	pipeline  *Pipeline
	executor  *graph.Executor
}

func newFixture(overrides config.Overrides) *fixture {
	project, err := config.DefaultProject()
	Expect(err).NotTo(HaveOccurred())
	resolver, err := config.NewResolver(project)
	Expect(err).NotTo(HaveOccurred())
	snap, err := resolver.Resolve(overrides)
	Expect(err).NotTo(HaveOccurred())

	f := &fixture{
		workdir:   GinkgoT().TempDir(),
		snap:      snap,
		runner:    command.NewFakeRunner(),
		tools:     pipelinetest.NewTools(),
		toolchain: &pipelinetest.Toolchain{BundleImage: snap.Image()},
		graph:     graph.New(),
	}
	f.toolchain.Install(f.runner)
	f.pipeline = New(snap, f.tools, f.runner, f.workdir)
	Expect(f.pipeline.Register(f.graph)).To(Succeed())
	f.executor = graph.NewExecutor(f.graph)
	return f
}

// commands returns the recorded commands for one program
func (f *fixture) commands(name string) []command.Cmd {
	var out []command.Cmd
	for _, c := range f.runner.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *fixture) lines() []string {
	return f.runner.Lines()
}
