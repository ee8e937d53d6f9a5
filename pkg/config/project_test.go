package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultProject(t *testing.T) {
	p, err := DefaultProject()
	if err != nil {
		t.Fatalf("DefaultProject() failed: %v", err)
	}

	if p.ImageName != "controller" {
		t.Errorf("Expected image name 'controller', got %q", p.ImageName)
	}
	if p.Plugin.Name == "" || p.Manager.Main == "" {
		t.Errorf("Expected plugin and manager defaults, got %+v %+v", p.Plugin, p.Manager)
	}
	for _, tool := range []string{"controller-gen", "kustomize", "kind"} {
		pin, ok := p.Tools[tool]
		if !ok {
			t.Errorf("Expected default pin for %s", tool)
			continue
		}
		if pin.Module == "" || pin.Version == "" {
			t.Errorf("Incomplete pin for %s: %+v", tool, pin)
		}
	}
	if len(p.Prerequisites) != 1 || p.Prerequisites[0].Name != "cert-manager" {
		t.Errorf("Expected cert-manager prerequisite, got %+v", p.Prerequisites)
	}
	if p.Prerequisites[0].TimeoutSeconds != 300 {
		t.Errorf("Expected default timeout 300, got %d", p.Prerequisites[0].TimeoutSeconds)
	}
	if !p.Prerequisites[0].ForceConflicts {
		t.Error("Expected default prerequisite to force conflicts")
	}
}

func TestParseProject_PrerequisiteDefaults(t *testing.T) {
	src := `
prerequisites: [
	{name: "a", url: "https://example.com/a.yaml"},
	{name: "b", url: "https://example.com/b.yaml", timeoutSeconds: 0, forceConflicts: false},
]
`
	p, err := ParseProject([]byte(src))
	if err != nil {
		t.Fatalf("ParseProject() failed: %v", err)
	}
	if len(p.Prerequisites) != 2 {
		t.Fatalf("Expected 2 prerequisites, got %+v", p.Prerequisites)
	}
	if a := p.Prerequisites[0]; a.TimeoutSeconds != 300 || !a.ForceConflicts || a.Namespace != "" {
		t.Errorf("Expected schema defaults on %q, got %+v", a.Name, a)
	}
	if b := p.Prerequisites[1]; b.TimeoutSeconds != 0 || b.ForceConflicts {
		t.Errorf("Expected explicit values on %q, got %+v", b.Name, b)
	}
}

func TestParseProject(t *testing.T) {
	src := `
name:      "hierarchy"
imageName: "hnc-manager"
plugin: name: "kubectl-hns"
tools: kustomize: version: "v5.5.0"
tools: yq: {module: "github.com/mikefarah/yq/v4", version: "v4.44.3"}
prerequisites: []
`
	p, err := ParseProject([]byte(src))
	if err != nil {
		t.Fatalf("ParseProject() failed: %v", err)
	}

	if p.Name != "hierarchy" || p.ImageName != "hnc-manager" {
		t.Errorf("Overrides not applied: %+v", p)
	}
	if p.Plugin.Name != "kubectl-hns" {
		t.Errorf("Expected plugin name kubectl-hns, got %q", p.Plugin.Name)
	}
	if p.Plugin.Main != "./cmd/kubectl" {
		t.Errorf("Expected default plugin main to be kept, got %q", p.Plugin.Main)
	}
	if p.Tools["kustomize"].Version != "v5.5.0" {
		t.Errorf("Expected kustomize v5.5.0, got %+v", p.Tools["kustomize"])
	}
	if p.Tools["kustomize"].Module != "sigs.k8s.io/kustomize/kustomize/v5" {
		t.Errorf("Expected default kustomize module, got %+v", p.Tools["kustomize"])
	}
	if p.Tools["yq"].Module != "github.com/mikefarah/yq/v4" {
		t.Errorf("Expected extra tool pin, got %+v", p.Tools["yq"])
	}
	if len(p.Prerequisites) != 0 {
		t.Errorf("Expected no prerequisites, got %+v", p.Prerequisites)
	}
}

func TestParseProject_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "unknown field", src: `imageNmae: "x"`},
		{name: "wrong type", src: `registry: 42`},
		{name: "negative timeout", src: `prerequisites: [{name: "a", url: "https://x", timeoutSeconds: -1}]`},
		{name: "syntax error", src: `name: "unterminated`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProject([]byte(tt.src))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("Expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadProject(t *testing.T) {
	dir := t.TempDir()

	p, err := LoadProject(filepath.Join(dir, "missing.cue"))
	if err != nil {
		t.Fatalf("LoadProject() on a missing file failed: %v", err)
	}
	if p.ImageName != "controller" {
		t.Errorf("Expected defaults for a missing file, got %+v", p)
	}

	path := filepath.Join(dir, DefaultProjectFile)
	if err := os.WriteFile(path, []byte(`registry: "quay.io/acme"`), 0644); err != nil {
		t.Fatalf("Failed to write project file: %v", err)
	}
	p, err = LoadProject(path)
	if err != nil {
		t.Fatalf("LoadProject() failed: %v", err)
	}
	if p.Registry != "quay.io/acme" {
		t.Errorf("Expected registry quay.io/acme, got %q", p.Registry)
	}
}
