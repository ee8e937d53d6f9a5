package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/chazu/slipway/pkg/apply"
	"github.com/chazu/slipway/pkg/command"
	"github.com/chazu/slipway/pkg/config"
	"github.com/chazu/slipway/pkg/graph"
	"github.com/chazu/slipway/pkg/pipeline"
	"github.com/chazu/slipway/pkg/readiness"
)

func liveManager() *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "controller-manager", Namespace: "controller-system"},
	}
}

var _ = Describe("Orchestrator", func() {
	ctx := context.Background()
	localCluster := config.Overrides{config.KeyEnvironment: string(config.EnvironmentLocalCluster)}

	Describe("task registration", func() {
		It("keeps reset-local-cluster out of the deploy plan", func() {
			f := newFixture(nil, 0)
			Expect(f.graph.Validate()).To(Succeed())

			plan, err := f.graph.Plan(TaskDeploy)
			Expect(err).NotTo(HaveOccurred())
			Expect(plan).NotTo(ContainElement(TaskResetLocalCluster))
			Expect(plan).NotTo(ContainElement(TaskDeleteLocalCluster))
			Expect(plan[len(plan)-1]).To(Equal(TaskDeploy))

			deleteAt := indexOf(plan, TaskDeleteDeployment)
			Expect(deleteAt).To(BeNumerically(">", indexOf(plan, TaskInstallPlugin)))
			Expect(deleteAt).To(BeNumerically(">", indexOf(plan, pipeline.TaskGenerateManifests)))
		})

		It("marks the cleanup tasks best-effort", func() {
			f := newFixture(nil, 0)
			for _, name := range []string{TaskUninstallPlugin, TaskDeleteDeployment, TaskDeleteLocalCluster} {
				t, ok := f.graph.Get(name)
				Expect(ok).To(BeTrue())
				Expect(t.EffectivePolicy()).To(Equal(graph.PolicyBestEffort), name)
			}
			t, _ := f.graph.Get(TaskDeploy)
			Expect(t.EffectivePolicy()).To(Equal(graph.PolicyFatal))
		})

		It("does not touch the cluster for build-only tasks", func() {
			f := newFixture(nil, 0)
			_, err := f.executor.Run(ctx, pipeline.TaskPackagePlugin)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.clients).To(BeZero())
		})
	})

	Describe("deploy to a local cluster", func() {
		It("installs prerequisites, loads the image, renders the bundle, deletes and applies in order", func() {
			f := newFixture(localCluster, 5)

			report, err := f.executor.Run(ctx, TaskDeploy)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Warnings()).NotTo(HaveOccurred())
			Expect(f.clients).To(Equal(1))

			ev := f.events
			Expect(ev.index("fetch /demo.yaml")).To(BeNumerically(">=", 0))
			Expect(ev.index("apply Namespace/demo-system")).To(BeNumerically(">", ev.index("fetch /demo.yaml")))
			Expect(ev.index("list DeploymentList")).To(BeNumerically(">", ev.index("apply Deployment/demo-webhook")))
			Expect(ev.index("kind load docker-image")).To(BeNumerically(">", ev.index("list DeploymentList")))
			Expect(ev.index("kubectl krew install")).To(BeNumerically(">", ev.index("kind load docker-image")))
			Expect(ev.index("kustomize build")).To(BeNumerically(">", ev.index("kubectl krew install")))
			Expect(ev.index("get Deployment/controller-manager")).To(BeNumerically(">", ev.index("kustomize build")))
			Expect(ev.index("apply Deployment/controller-manager")).To(BeNumerically(">", ev.index("get Deployment/controller-manager")))

			Expect(f.eventsWithPrefix("kind load")).To(Equal([]string{
				"kind load docker-image " + f.snap.Image() + " --name " + f.snap.ClusterName(),
			}))
			Expect(f.eventsWithPrefix("docker push")).To(BeEmpty())
			Expect(f.eventsWithPrefix("delete ")).To(BeEmpty())
		})

		It("skips the readiness wait when the timeout is zero", func() {
			f := newFixture(localCluster, 0)
			_, err := f.executor.Run(ctx, TaskInstallPrerequisites)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.eventsWithPrefix("apply ")).To(HaveLen(2))
			Expect(f.eventsWithPrefix("list ")).To(BeEmpty())
		})
	})

	Describe("install-prerequisites", func() {
		It("waits for the default project's prerequisite", func() {
			f := newProjectFixture(localCluster, func(serverURL string) *config.Project {
				project, err := config.DefaultProject()
				Expect(err).NotTo(HaveOccurred())
				Expect(project.Prerequisites).To(HaveLen(1))
				Expect(project.Prerequisites[0].TimeoutSeconds).To(Equal(300))
				project.Prerequisites[0].URL = serverURL + "/cert-manager.yaml"
				return project
			})

			_, err := f.executor.Run(ctx, TaskInstallPrerequisites)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.events.index("fetch /cert-manager.yaml")).To(BeNumerically(">=", 0))
			Expect(f.eventsWithPrefix("list DeploymentList")).NotTo(BeEmpty())
			for _, patch := range f.patches {
				Expect(patch.Force).To(HaveValue(BeTrue()))
			}
		})

		It("times out when a Deployment never becomes available", func() {
			unavailable := &appsv1.Deployment{
				ObjectMeta: metav1.ObjectMeta{Name: "demo-webhook", Namespace: "demo-system"},
			}
			f := newFixture(nil, 1, unavailable)

			_, err := f.executor.Run(ctx, TaskInstallPrerequisites)
			Expect(err).To(MatchError(graph.ErrTaskFailed))

			var timeoutErr *readiness.TimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(timeoutErr.Namespace).To(Equal("demo-system"))
			Expect(timeoutErr.Pending).To(Equal([]string{"demo-system/demo-webhook"}))
		})

		It("surfaces field manager conflicts when forcing is off", func() {
			f := newProjectFixture(nil, func(serverURL string) *config.Project {
				project, err := config.ParseProject([]byte(fmt.Sprintf(`
prerequisites: [{
	name: "demo"
	url: "%s/demo.yaml"
	timeoutSeconds: 0
	forceConflicts: false
}]
`, serverURL)))
				Expect(err).NotTo(HaveOccurred())
				return project
			})
			f.clusterErr["apply Deployment/demo-webhook"] = apierrors.NewConflict(
				appsv1.Resource("deployments"), "demo-webhook", errors.New("owned by helm"))

			_, err := f.executor.Run(ctx, TaskInstallPrerequisites)
			var conflictErr *apply.ConflictError
			Expect(errors.As(err, &conflictErr)).To(BeTrue())
			Expect(conflictErr.Resource).To(Equal("Deployment demo-system/demo-webhook"))

			Expect(f.patches).To(HaveLen(2))
			for _, patch := range f.patches {
				Expect(patch.Force).To(BeNil())
			}
		})
	})

	Describe("dry run", func() {
		It("sends every apply as a dry run and deletes nothing", func() {
			f := newFixture(config.Overrides{config.KeyDryRun: "true"}, 5, liveManager())

			report, err := f.executor.Run(ctx, TaskDeploy)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Warnings()).NotTo(HaveOccurred())

			Expect(f.patches).NotTo(BeEmpty())
			for _, patch := range f.patches {
				Expect(patch.DryRun).To(Equal([]string{metav1.DryRunAll}))
			}
			Expect(f.eventsWithPrefix("get Deployment/controller-manager")).To(HaveLen(1))
			Expect(f.eventsWithPrefix("delete ")).To(BeEmpty())
			Expect(f.eventsWithPrefix("list ")).To(BeEmpty())
		})
	})

	Describe("publish", func() {
		It("pushes to the registry outside the local cluster", func() {
			f := newFixture(nil, 0)
			_, err := f.executor.Run(ctx, TaskPublish)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.eventsWithPrefix("docker push")).To(Equal([]string{"docker push " + f.snap.Image()}))
			Expect(f.eventsWithPrefix("kind ")).To(BeEmpty())
			Expect(f.orchestrator.Publisher().Name()).To(Equal("RegistryPusher"))
		})
	})

	Describe("plugin install", func() {
		It("uninstalls by krew name and installs from the packaged archive", func() {
			f := newFixture(config.Overrides{config.KeyKubeContext: "staging"}, 0)
			_, err := f.executor.Run(ctx, TaskInstallPlugin)
			Expect(err).NotTo(HaveOccurred())

			krew := f.eventsWithPrefix("kubectl")
			Expect(krew).To(HaveLen(2))
			Expect(krew[0]).To(Equal("kubectl --context staging krew uninstall controller"))
			Expect(krew[1]).To(HavePrefix("kubectl --context staging krew install --manifest="))
			Expect(krew[1]).To(ContainSubstring("kubectl-controller.yaml"))
			Expect(krew[1]).To(ContainSubstring("--archive="))
			Expect(krew[1]).To(ContainSubstring("kubectl-controller.tar.gz"))
		})

		It("refuses an archive that does not match the installer manifest", func() {
			f := newFixture(nil, 0)
			_, err := f.executor.Run(ctx, pipeline.TaskPackagePlugin)
			Expect(err).NotTo(HaveOccurred())

			archive, err := f.orchestrator.pipeline.Artifacts().Get(pipeline.ArtifactPluginArchive)
			Expect(err).NotTo(HaveOccurred())
			Expect(os.WriteFile(f.orchestrator.pipeline.Path(archive.Path), []byte("tampered"), 0o644)).To(Succeed())

			err = f.orchestrator.installPlugin(ctx)
			Expect(errors.Is(err, pipeline.ErrPluginChecksum)).To(BeTrue())
			Expect(f.eventsWithPrefix("kubectl krew install")).To(BeEmpty())
		})

		It("installs even when the previous plugin could not be removed", func() {
			f := newFixture(nil, 0)
			f.runner.Handle(ToolKubectl, func(c command.Cmd) error {
				if slices.Contains(c.Args, "uninstall") {
					return errors.New("plugin controller is not installed")
				}
				return nil
			})

			report, err := f.executor.Run(ctx, TaskInstallPlugin)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.BestEffortFailures).To(HaveLen(1))
			Expect(report.BestEffortFailures[0].Task).To(Equal(TaskUninstallPlugin))
			Expect(report.Executed).To(ContainElement(TaskInstallPlugin))
		})
	})

	Describe("delete-deployment", func() {
		It("deletes only the bundle's Deployments", func() {
			f := newFixture(nil, 0, liveManager())
			report, err := f.executor.Run(ctx, TaskDeleteDeployment)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Warnings()).NotTo(HaveOccurred())
			Expect(f.eventsWithPrefix("delete ")).To(Equal([]string{"delete Deployment/controller-manager"}))
		})

		It("treats a missing Deployment as success", func() {
			f := newFixture(nil, 0)
			report, err := f.executor.Run(ctx, TaskDeleteDeployment)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.BestEffortFailures).To(BeEmpty())
			Expect(f.eventsWithPrefix("delete ")).To(BeEmpty())
		})

		It("reports other errors as a warning and lets deploy continue", func() {
			f := newFixture(nil, 0, liveManager())
			f.clusterErr["delete Deployment/controller-manager"] = apierrors.NewForbidden(
				appsv1.Resource("deployments"), "controller-manager", errors.New("denied"))

			report, err := f.executor.Run(ctx, TaskDeploy)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.BestEffortFailures).To(HaveLen(1))
			Expect(report.BestEffortFailures[0].Task).To(Equal(TaskDeleteDeployment))
			Expect(f.eventsWithPrefix("apply Deployment/controller-manager")).To(HaveLen(1))
		})
	})

	Describe("deploy", func() {
		It("fails the run when the bundle cannot be applied", func() {
			f := newFixture(nil, 0)
			f.clusterErr["apply Deployment/controller-manager"] = apierrors.NewInternalError(errors.New("etcd unavailable"))

			_, err := f.executor.Run(ctx, TaskDeploy)
			Expect(err).To(MatchError(graph.ErrTaskFailed))

			var taskErr *graph.TaskExecutionError
			Expect(errors.As(err, &taskErr)).To(BeTrue())
			Expect(taskErr.Task).To(Equal(TaskDeploy))
		})
	})

	Describe("reset-local-cluster", func() {
		It("recreates the cluster even when deletion fails", func() {
			f := newFixture(localCluster, 0)
			f.runner.Fail(ToolKind, errors.New("no such cluster"))

			report, err := f.executor.Run(ctx, TaskResetLocalCluster)
			Expect(err).To(HaveOccurred())
			Expect(report.BestEffortFailures).To(HaveLen(1))
			Expect(f.runner.Lines()).To(Equal([]string{
				"kind delete cluster --name " + f.snap.ClusterName(),
				"kind create cluster --name " + f.snap.ClusterName(),
			}))
		})
	})
})

func indexOf(list []string, s string) int {
	return slices.Index(list, s)
}
