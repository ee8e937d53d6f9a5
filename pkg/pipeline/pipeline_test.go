package pipeline

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/opencontainers/go-digest"

	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/graph"
	"github.com/chazu/slipway/pkg/manifest"
	"github.com/chazu/slipway/pkg/pipeline/pipelinetest"
	"github.com/chazu/slipway/pkg/tools"
)

func hasEnv(env []string, key string) bool {
	return slices.ContainsFunc(env, func(kv string) bool { return strings.HasPrefix(kv, key+"=") })
}

var _ = Describe("Pipeline", func() {
	ctx := context.Background()

	Describe("task registration", func() {
		It("registers an acyclic graph whose artifacts are ordered", func() {
			f := newFixture(nil)
			Expect(f.graph.Validate()).To(Succeed())
			Expect(f.pipeline.Artifacts().Validate(f.graph)).To(Succeed())

			order, err := f.graph.TopologicalOrder()
			Expect(err).NotTo(HaveOccurred())
			Expect(order).To(HaveLen(13))
			Expect(order[0]).To(Equal(TaskGenerate))
		})

		It("runs the check stage before compiling and compiles before testing", func() {
			f := newFixture(nil)
			plan, err := f.graph.Plan(TaskTest)
			Expect(err).NotTo(HaveOccurred())
			Expect(plan).To(Equal([]string{
				TaskGenerate, TaskFmt, TaskVet, TaskCheck,
				TaskBuildManager, TaskBuildPlugin, TaskBuild,
				TaskTestUnit, TaskTestReconciler, TaskTest,
			}))
		})
	})

	Describe("package-plugin", func() {
		It("builds once, checksums the archive and embeds version and checksum", func() {
			f := newFixture(config.Overrides{config.KeyVersion: "v1.2.3"})

			_, err := f.executor.Run(ctx, TaskPackagePlugin)
			Expect(err).NotTo(HaveOccurred())

			builds := 0
			for _, c := range f.commands(ToolGo) {
				if c.Args[0] == "build" && slices.Contains(c.Args, "bin/kubectl-controller") {
					builds++
					Expect(c.Env).To(ContainElement("CGO_ENABLED=0"))
				}
			}
			Expect(builds).To(Equal(1))

			archivePath := filepath.Join(f.workdir, "dist", "kubectl-controller.tar.gz")
			archive, err := os.Open(archivePath)
			Expect(err).NotTo(HaveOccurred())
			sum, err := digest.FromReader(archive)
			Expect(err).NotTo(HaveOccurred())
			Expect(archive.Close()).To(Succeed())

			m, err := ReadPluginManifest(filepath.Join(f.workdir, "dist", "kubectl-controller.yaml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Kind).To(Equal(PluginManifestKind))
			Expect(m.Metadata.Name).To(Equal("controller"))
			Expect(m.Spec.Version).To(Equal("v1.2.3"))
			Expect(m.Spec.Platforms).To(HaveLen(1))
			Expect(m.Spec.Platforms[0].SHA256).To(Equal(sum.Encoded()))
			Expect(m.Spec.Platforms[0].Bin).To(Equal("kubectl-controller"))

			By("re-requesting the task in the same invocation")
			report, err := f.executor.Run(ctx, TaskPackagePlugin)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Executed).To(BeEmpty())
			Expect(report.CacheHits).To(ContainElement(TaskPackagePlugin))

			builds = 0
			for _, c := range f.commands(ToolGo) {
				if c.Args[0] == "build" {
					builds++
				}
			}
			Expect(builds).To(Equal(2), "manager and plugin are each built once")
		})

		It("archives the plugin binary", func() {
			f := newFixture(nil)
			_, err := f.executor.Run(ctx, TaskPackagePlugin)
			Expect(err).NotTo(HaveOccurred())

			file, err := os.Open(filepath.Join(f.workdir, "dist", "kubectl-controller.tar.gz"))
			Expect(err).NotTo(HaveOccurred())
			defer file.Close()
			gz, err := gzip.NewReader(file)
			Expect(err).NotTo(HaveOccurred())

			tr := tar.NewReader(gz)
			hdr, err := tr.Next()
			Expect(err).NotTo(HaveOccurred())
			Expect(hdr.Name).To(Equal("kubectl-controller"))
			content, err := io.ReadAll(tr)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal("binary for ./cmd/kubectl"))
			_, err = tr.Next()
			Expect(err).To(Equal(io.EOF))
		})

		It("verifies the archive against the installer manifest", func() {
			f := newFixture(nil)
			_, err := f.executor.Run(ctx, TaskPackagePlugin)
			Expect(err).NotTo(HaveOccurred())

			installer := filepath.Join(f.workdir, "dist", "kubectl-controller.yaml")
			archive := filepath.Join(f.workdir, "dist", "kubectl-controller.tar.gz")
			Expect(VerifyPluginArchive(installer, archive)).To(Succeed())

			Expect(os.WriteFile(archive, []byte("tampered"), 0o644)).To(Succeed())
			Expect(errors.Is(VerifyPluginArchive(installer, archive), ErrPluginChecksum)).To(BeTrue())
		})

		It("produces identical archives for identical binaries", func() {
			dir := GinkgoT().TempDir()
			bin := filepath.Join(dir, "kubectl-controller")
			Expect(os.WriteFile(bin, []byte("same"), 0o755)).To(Succeed())

			first, err := writeArchive(filepath.Join(dir, "a.tar.gz"), bin)
			Expect(err).NotTo(HaveOccurred())
			second, err := writeArchive(filepath.Join(dir, "b.tar.gz"), bin)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(Equal(second))
		})
	})

	Describe("test partitions", func() {
		It("passes the reconciliation mode only to the reconciler partition", func() {
			f := newFixture(config.Overrides{config.KeyReconciliationMode: "new"})
			_, err := f.executor.Run(ctx, TaskTest)
			Expect(err).NotTo(HaveOccurred())

			var unit, reconciler []string
			for _, c := range f.commands(ToolGo) {
				if c.Args[0] != "test" {
					Expect(hasEnv(c.Env, NewReconcilerEnv)).To(BeFalse(), "%v", c.Args)
					continue
				}
				if slices.Contains(c.Args, "./internal/reconcilers/...") {
					reconciler = c.Env
				} else {
					unit = c.Args
					Expect(hasEnv(c.Env, NewReconcilerEnv)).To(BeFalse())
				}
			}

			Expect(reconciler).To(ContainElement(NewReconcilerEnv + "=true"))
			Expect(unit).To(Equal([]string{"test", pipelinetest.ModulePath + "/api/v1", pipelinetest.ModulePath + "/pkg/util"}))
		})

		It("defaults the reconciler partition to legacy mode", func() {
			f := newFixture(nil)
			_, err := f.executor.Run(ctx, TaskTestReconciler)
			Expect(err).NotTo(HaveOccurred())

			tests := f.commands(ToolGo)
			last := tests[len(tests)-1]
			Expect(last.Args).To(Equal([]string{"test", "./internal/reconcilers/..."}))
			Expect(last.Env).To(ContainElement(NewReconcilerEnv + "=false"))
		})
	})

	Describe("tool resolution", func() {
		It("fails generate with the unavailable tool as cause", func() {
			f := newFixture(nil)
			installErr := errors.New("go install: exit status 1")
			f.tools.MakeUnavailable(ToolControllerGen, installErr)

			_, err := f.executor.Run(ctx, TaskCheck)
			Expect(err).To(MatchError(graph.ErrTaskFailed))
			Expect(err).To(MatchError(tools.ErrToolUnavailable))
			Expect(errors.Is(err, installErr)).To(BeTrue())

			var taskErr *graph.TaskExecutionError
			Expect(errors.As(err, &taskErr)).To(BeTrue())
			Expect(taskErr.Task).To(Equal(TaskGenerate))
			Expect(f.lines()).To(BeEmpty(), "no dependent task may start")
		})
	})

	Describe("generate-manifests", func() {
		It("renders the bundle with the local-cluster image", func() {
			f := newFixture(config.Overrides{config.KeyEnvironment: "local-cluster", config.KeyCRDCompatibility: "legacy"})
			_, err := f.executor.Run(ctx, TaskGenerateManifests)
			Expect(err).NotTo(HaveOccurred())

			Expect(f.lines()).To(ContainElements(
				"controller-gen crd:crdVersions=v1,allowDangerousTypes=true,maxDescLen=0 rbac:roleName=manager-role webhook paths=./... output:crd:artifacts:config=config/crd/bases",
				"kustomize edit set image controller=controller:local-cluster-tag",
				"kustomize build config/default",
			))

			edit := f.commands(ToolKustomize)[0]
			Expect(edit.Dir).To(Equal(filepath.Join(f.workdir, "config/manager")))

			objs, err := manifest.ReadFile(filepath.Join(f.workdir, "dist", ManifestsFile))
			Expect(err).NotTo(HaveOccurred())
			Expect(objs).To(HaveLen(3))
			Expect(manifest.Images(objs)).To(Equal([]string{"controller:local-cluster-tag"}))
		})

		It("fails when the image was not substituted", func() {
			f := newFixture(config.Overrides{config.KeyVersion: "v1.2.3"})
			f.toolchain.SetBundleImage("controller:latest")

			_, err := f.executor.Run(ctx, TaskGenerateManifests)
			Expect(err).To(MatchError(manifest.ErrImageNotSubstituted))
		})
	})

	Describe("containerize", func() {
		It("tags the image from the snapshot", func() {
			f := newFixture(config.Overrides{config.KeyRegistry: "registry.example.com/team", config.KeyVersion: "v2.0.0"})
			_, err := f.executor.Run(ctx, TaskContainerize)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.lines()).To(ContainElement("docker build -t registry.example.com/team/controller:v2.0.0 ."))
		})
	})
})
