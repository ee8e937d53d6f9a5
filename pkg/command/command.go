// Package command runs external programs for pipeline tasks.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Cmd describes one subprocess invocation
type Cmd struct {
	// Name is the program to run, either a path or a name looked up on PATH
	Name string

	// Args are the program arguments
	Args []string

	// Dir is the working directory; empty means the current directory
	Dir string

	// Env holds extra KEY=VALUE entries appended to the process environment.
	// They apply to this invocation only.
	Env []string

	// Stdin is fed to the process when non-nil
	Stdin []byte

	// Stdout receives standard output. When nil, output is forwarded to the logger.
	Stdout io.Writer
}

// String renders the command line for logs and errors.
func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes commands
type Runner interface {
	Run(ctx context.Context, cmd Cmd) error
}

// ExecRunner runs commands with os/exec, streaming output into the context logger.
type ExecRunner struct{}

// NewExecRunner creates a new exec-backed runner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command and waits for it. Cancelling ctx kills the process.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) error {
	logger := log.FromContext(ctx).WithValues("cmd", c.Name)
	logger.V(1).Info("Running command", "args", c.Args, "dir", c.Dir)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = io.MultiWriter(NewLogWriter(logger.WithValues("stream", "stderr")), stderr)
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = NewLogWriter(logger.WithValues("stream", "stdout"))
	}

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", c, err, lastLine(msg))
		}
		return fmt.Errorf("%s: %w", c, err)
	}
	return nil
}

// Output runs the command and returns its standard output.
func Output(ctx context.Context, r Runner, c Cmd) ([]byte, error) {
	var buf bytes.Buffer
	c.Stdout = &buf
	if err := r.Run(ctx, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LogWriter forwards written lines to a logger at V(1).
type LogWriter struct {
	logger  logr.Logger
	pending []byte
}

// NewLogWriter constructs a LogWriter bound to the provided logger.
func NewLogWriter(logger logr.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

// Write logs every complete line; partial lines are held until the next write.
func (w *LogWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimRight(string(w.pending[:i]), "\r"); line != "" {
			w.logger.V(1).Info(line)
		}
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
