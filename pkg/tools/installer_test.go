package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/slipway/pkg/command"
)

func TestBinaryName(t *testing.T) {
	tests := []struct {
		module string
		want   string
	}{
		{module: "sigs.k8s.io/controller-tools/cmd/controller-gen", want: "controller-gen"},
		{module: "sigs.k8s.io/kustomize/kustomize/v5", want: "kustomize"},
		{module: "sigs.k8s.io/kind", want: "kind"},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			if got := binaryName(tt.module); got != tt.want {
				t.Errorf("binaryName(%q) = %q, want %q", tt.module, got, tt.want)
			}
		})
	}
}

func TestGoInstaller_Install(t *testing.T) {
	runner := command.NewFakeRunner()
	runner.Handle("go", func(c command.Cmd) error {
		for _, kv := range c.Env {
			if dir, ok := strings.CutPrefix(kv, "GOBIN="); ok {
				return os.WriteFile(filepath.Join(dir, "kustomize"), []byte("bin"), 0o755)
			}
		}
		return errors.New("GOBIN not set")
	})

	dir := t.TempDir()
	dest := filepath.Join(dir, "kustomize-v5.4.3")
	err := NewGoInstaller(runner).Install(context.Background(), "kustomize",
		Pin{Module: "sigs.k8s.io/kustomize/kustomize/v5", Version: "v5.4.3"}, dest)
	if err != nil {
		t.Fatalf("Install() failed: %v", err)
	}

	if _, err := os.Stat(dest); err != nil {
		t.Errorf("Expected versioned binary at %s: %v", dest, err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".staging-kustomize")); !os.IsNotExist(err) {
		t.Error("Expected staging dir to be removed")
	}

	calls := runner.Lines()
	if len(calls) != 1 || calls[0] != "go install sigs.k8s.io/kustomize/kustomize/v5@v5.4.3" {
		t.Errorf("unexpected commands %v", calls)
	}
}

func TestGoInstaller_Failure(t *testing.T) {
	runner := command.NewFakeRunner()
	runner.Fail("go", errors.New("exit status 1"))

	dest := filepath.Join(t.TempDir(), "kind-v0.24.0")
	err := NewGoInstaller(runner).Install(context.Background(), "kind", Pin{Module: "sigs.k8s.io/kind", Version: "v0.24.0"}, dest)
	if err == nil {
		t.Fatal("Expected install error")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("No binary should be left behind on failure")
	}
}

func TestGoInstaller_MissingPin(t *testing.T) {
	err := NewGoInstaller(command.NewFakeRunner()).Install(context.Background(), "kind", Pin{}, filepath.Join(t.TempDir(), "kind-"))
	if err == nil {
		t.Error("Expected error for empty pin")
	}
}
