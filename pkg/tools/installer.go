package tools

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/chazu/slipway/pkg/command"
)

// Pin is the module and version a tool is installed from
type Pin struct {
	Module  string
	Version string
}

// Installer places the pinned version of a tool at dest
type Installer interface {
	Install(ctx context.Context, name string, pin Pin, dest string) error
}

// GoInstaller installs tools with `go install module@version`.
type GoInstaller struct {
	runner command.Runner
	goBin  string
}

// NewGoInstaller creates an installer that shells out to the go toolchain
func NewGoInstaller(runner command.Runner) *GoInstaller {
	return &GoInstaller{runner: runner, goBin: "go"}
}

// Install builds the tool into a staging GOBIN next to dest and renames the
// result to dest.
func (g *GoInstaller) Install(ctx context.Context, name string, pin Pin, dest string) error {
	if pin.Module == "" || pin.Version == "" {
		return fmt.Errorf("no module pin for %s", name)
	}

	staging := filepath.Join(filepath.Dir(dest), ".staging-"+name)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	gobin, err := filepath.Abs(staging)
	if err != nil {
		return err
	}

	err = g.runner.Run(ctx, command.Cmd{
		Name: g.goBin,
		Args: []string{"install", pin.Module + "@" + pin.Version},
		Env:  []string{"GOBIN=" + gobin},
	})
	if err != nil {
		return fmt.Errorf("go install %s@%s: %w", pin.Module, pin.Version, err)
	}

	built := filepath.Join(staging, binaryName(pin.Module))
	if _, err := os.Stat(built); err != nil {
		return fmt.Errorf("go install produced no %s binary: %w", binaryName(pin.Module), err)
	}
	if err := os.Rename(built, dest); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", built, err)
	}
	return nil
}

var majorVersionSuffix = regexp.MustCompile(`^v[0-9]+$`)

// binaryName mirrors how go install names a binary: the last path element,
// skipping a trailing major version suffix.
func binaryName(module string) string {
	base := path.Base(module)
	if majorVersionSuffix.MatchString(base) {
		if parent := path.Base(path.Dir(module)); parent != "." && parent != "/" {
			return parent
		}
	}
	return base
}
