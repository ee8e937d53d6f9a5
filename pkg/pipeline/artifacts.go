package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/slipway/pkg/graph"
)

// ArtifactKind classifies what a task produces
type ArtifactKind string

const (
	KindBinary            ArtifactKind = "Binary"
	KindImage             ArtifactKind = "Image"
	KindManifestBundle    ArtifactKind = "ManifestBundle"
	KindArchive           ArtifactKind = "Archive"
	KindInstallerManifest ArtifactKind = "InstallerManifest"
)

// Artifact names declared by the pipeline
const (
	ArtifactManagerBinary   = "manager-binary"
	ArtifactPluginBinary    = "plugin-binary"
	ArtifactManifestBundle  = "manifest-bundle"
	ArtifactImage           = "container-image"
	ArtifactPluginArchive   = "plugin-archive"
	ArtifactPluginInstaller = "plugin-installer-manifest"
)

var (
	// ErrDuplicateProducer is returned when an artifact is declared twice
	ErrDuplicateProducer = errors.New("artifact already has a producer")

	// ErrUnknownArtifact is returned for lookups of undeclared artifacts
	ErrUnknownArtifact = errors.New("unknown artifact")

	// ErrUnorderedConsumer is returned when a consumer does not depend on the producer
	ErrUnorderedConsumer = errors.New("artifact consumer does not depend on its producer")
)

// Artifact is a file or image produced by exactly one task
type Artifact struct {
	Name string
	Kind ArtifactKind

	// Path is a file path relative to the working directory, or an image reference
	Path string

	Producer  string
	Consumers []string
}

// Registry records artifacts and who produces and consumes them
type Registry struct {
	artifacts map[string]*Artifact
	order     []string
}

// NewRegistry creates an empty artifact registry
func NewRegistry() *Registry {
	return &Registry{artifacts: make(map[string]*Artifact)}
}

// Declare adds an artifact. An artifact name can be produced by one task only.
func (r *Registry) Declare(a Artifact) error {
	if a.Name == "" || a.Producer == "" {
		return fmt.Errorf("artifact name and producer are required")
	}
	if existing, ok := r.artifacts[a.Name]; ok {
		return fmt.Errorf("%w: %q is produced by %q, cannot also be produced by %q",
			ErrDuplicateProducer, a.Name, existing.Producer, a.Producer)
	}
	a.Consumers = slices.Clone(a.Consumers)
	r.artifacts[a.Name] = &a
	r.order = append(r.order, a.Name)
	return nil
}

// Consume records that task reads the named artifact
func (r *Registry) Consume(name, task string) error {
	a, ok := r.artifacts[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownArtifact, name)
	}
	if !slices.Contains(a.Consumers, task) {
		a.Consumers = append(a.Consumers, task)
	}
	return nil
}

// Get returns a copy of the named artifact
func (r *Registry) Get(name string) (Artifact, error) {
	a, ok := r.artifacts[name]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %q", ErrUnknownArtifact, name)
	}
	c := *a
	c.Consumers = slices.Clone(a.Consumers)
	return c, nil
}

// All returns every artifact in declaration order
func (r *Registry) All() []Artifact {
	out := make([]Artifact, 0, len(r.order))
	for _, name := range r.order {
		a, _ := r.Get(name)
		out = append(out, a)
	}
	return out
}

// Validate checks the artifacts against the task graph: producers and
// consumers must be registered tasks and every consumer must transitively
// depend on the producer.
func (r *Registry) Validate(g *graph.TaskGraph) error {
	var errs []error
	for _, name := range r.order {
		a := r.artifacts[name]
		if !g.Has(a.Producer) {
			errs = append(errs, fmt.Errorf("artifact %q: %w: producer %q", name, graph.ErrUnknownTask, a.Producer))
			continue
		}
		for _, consumer := range a.Consumers {
			if !g.Has(consumer) {
				errs = append(errs, fmt.Errorf("artifact %q: %w: consumer %q", name, graph.ErrUnknownTask, consumer))
				continue
			}
			if !g.DependsOn(consumer, a.Producer) {
				errs = append(errs, fmt.Errorf("artifact %q: %w: %q does not depend on %q",
					name, ErrUnorderedConsumer, consumer, a.Producer))
			}
		}
	}
	return errors.Join(errs...)
}
