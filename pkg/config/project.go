package config

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	cuembed "github.com/chazu/slipway/cue"
)

// DefaultProjectFile is the project file looked up in the working directory.
const DefaultProjectFile = "slipway.cue"

// Project holds the per-repository settings declared in the project file.
// Every field has a default in the embedded schema.
type Project struct {
	Name      string `json:"name"`
	Registry  string `json:"registry"`
	ImageName string `json:"imageName"`
	Namespace string `json:"namespace"`

	Manager ManagerSpec `json:"manager"`
	Plugin  PluginSpec  `json:"plugin"`

	HeaderFile        string `json:"headerFile"`
	ReconcilerPackage string `json:"reconcilerPackage"`
	KustomizeDir      string `json:"kustomizeDir"`
	ManagerKustomize  string `json:"managerKustomize"`
	DistDir           string `json:"distDir"`
	ClusterName       string `json:"clusterName"`

	Tools         map[string]ToolPin `json:"tools"`
	Prerequisites []Prerequisite     `json:"prerequisites"`
}

// ManagerSpec locates the controller manager entrypoint and its output binary.
type ManagerSpec struct {
	Main   string `json:"main"`
	Binary string `json:"binary"`
}

// PluginSpec describes the kubectl plugin and its installer metadata.
type PluginSpec struct {
	Name     string `json:"name"`
	Main     string `json:"main"`
	Binary   string `json:"binary"`
	Homepage string `json:"homepage"`
	Short    string `json:"short"`
}

// ToolPin pins a generator tool to a module version for managed installation.
type ToolPin struct {
	Module  string `json:"module"`
	Version string `json:"version"`
}

// Prerequisite is a remote manifest installed before the controller.
type Prerequisite struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Namespace      string `json:"namespace"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	ForceConflicts bool   `json:"forceConflicts"`
}

// DefaultProject returns the project settings with only schema defaults applied.
func DefaultProject() (*Project, error) {
	return compileProject(nil, "")
}

// LoadProject reads a CUE project file and unifies it with the embedded schema.
// A missing file yields the schema defaults.
func LoadProject(path string) (*Project, error) {
	if path == "" {
		return DefaultProject()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultProject()
		}
		return nil, fmt.Errorf("failed to read project file %s: %w", path, err)
	}
	return compileProject(src, path)
}

// ParseProject unifies in-memory CUE source with the embedded schema.
func ParseProject(src []byte) (*Project, error) {
	return compileProject(src, "project.cue")
}

func compileProject(src []byte, filename string) (*Project, error) {
	ctx := cuecontext.New()

	schemaSrc, err := cuembed.SchemaFS.ReadFile(cuembed.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schema: %w", err)
	}
	schema := ctx.CompileBytes(schemaSrc, cue.Filename(cuembed.SchemaFile))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile embedded schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath(cuembed.ProjectDefinition))
	if src != nil {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("project file %s does not compile", filename), Err: err}
		}
		value = value.Unify(user)
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("project file %s does not match the schema", filename), Err: err}
	}

	var p Project
	if err := value.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}
	return &p, nil
}

// clone returns a deep copy so snapshots never share mutable state with callers.
func (p Project) clone() Project {
	out := p
	out.Tools = maps.Clone(p.Tools)
	out.Prerequisites = append([]Prerequisite(nil), p.Prerequisites...)
	return out
}
