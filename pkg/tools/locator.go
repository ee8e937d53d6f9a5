package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/slipway/pkg/metrics"
)

// State is how a tool reference was resolved
type State string

const (
	// StateNotSearched means no lookup has happened yet
	StateNotSearched State = "NotSearched"

	// StateFoundOnPath means the tool was found on the system PATH
	StateFoundOnPath State = "FoundOnPath"

	// StateInstalled means the pinned binary is present in the tools directory
	StateInstalled State = "Installed"

	// StateUnavailable means the tool could not be found or installed
	StateUnavailable State = "Unavailable"
)

// Reference is a resolved tool
type Reference struct {
	Name    string
	Path    string
	Version string
	State   State

	// Cause is set when State is StateUnavailable
	Cause error
}

// DefaultPrefetchConcurrency bounds Prefetch
const DefaultPrefetchConcurrency = 4

// Option configures a Locator
type Option func(*Locator)

// WithLookPath replaces the PATH search, mainly for tests.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(l *Locator) { l.lookPath = fn }
}

// Locator resolves tools by name. Results, including failures, are cached for
// the life of the Locator. It is safe for concurrent use.
type Locator struct {
	dir       string
	pins      map[string]Pin
	installer Installer
	lookPath  func(string) (string, error)

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]Reference
}

// NewLocator creates a locator over the given tools directory and pins.
// installer may be nil, in which case missing pinned tools are unavailable.
// Returned paths are absolute so tools can run from any directory.
func NewLocator(dir string, pins map[string]Pin, installer Installer, opts ...Option) *Locator {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	l := &Locator{
		dir:       dir,
		pins:      make(map[string]Pin, len(pins)),
		installer: installer,
		lookPath:  exec.LookPath,
		cache:     make(map[string]Reference),
	}
	for name, pin := range pins {
		l.pins[name] = pin
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Names returns the pinned tool names in sorted order
func (l *Locator) Names() []string {
	names := make([]string, 0, len(l.pins))
	for name := range l.pins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the cached reference for name without searching.
func (l *Locator) Lookup(name string) Reference {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if ref, ok := l.cache[name]; ok {
		return ref
	}
	return Reference{Name: name, State: StateNotSearched}
}

// Locate resolves a tool. Concurrent calls for the same name share a single
// search and at most one installation.
func (l *Locator) Locate(ctx context.Context, name string) (Reference, error) {
	ref := l.Lookup(name)
	if ref.State == StateNotSearched {
		v, _, _ := l.group.Do(name, func() (any, error) {
			if cached := l.Lookup(name); cached.State != StateNotSearched {
				return cached, nil
			}
			resolved := l.resolve(ctx, name)
			l.mu.Lock()
			l.cache[name] = resolved
			l.mu.Unlock()
			metrics.RecordToolResolution(name, string(resolved.State))
			return resolved, nil
		})
		ref = v.(Reference)
	}

	if ref.State == StateUnavailable {
		return ref, &ToolUnavailableError{Name: name, Err: ref.Cause}
	}
	return ref, nil
}

// Path is Locate returning only the executable path.
func (l *Locator) Path(ctx context.Context, name string) (string, error) {
	ref, err := l.Locate(ctx, name)
	if err != nil {
		return "", err
	}
	return ref.Path, nil
}

// Prefetch resolves the named tools concurrently, or every pinned tool when
// no names are given.
func (l *Locator) Prefetch(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = l.Names()
	}

	p := pool.New().WithMaxGoroutines(DefaultPrefetchConcurrency).WithErrors().WithContext(ctx)
	for _, name := range names {
		p.Go(func(ctx context.Context) error {
			_, err := l.Locate(ctx, name)
			return err
		})
	}
	return p.Wait()
}

func (l *Locator) resolve(ctx context.Context, name string) Reference {
	logger := log.FromContext(ctx).WithValues("tool", name)
	pin, pinned := l.pins[name]

	if p, err := l.lookPath(name); err == nil {
		logger.V(1).Info("Found tool on PATH", "path", p)
		return Reference{Name: name, Path: p, State: StateFoundOnPath}
	}

	if !pinned {
		return unavailable(name, "", errors.New("not on PATH and no pinned version"))
	}

	dest := filepath.Join(l.dir, fmt.Sprintf("%s-%s", name, pin.Version))
	if isExecutable(dest) {
		logger.V(1).Info("Using pinned tool", "path", dest, "version", pin.Version)
		return Reference{Name: name, Path: dest, Version: pin.Version, State: StateInstalled}
	}

	if l.installer == nil {
		return unavailable(name, pin.Version, fmt.Errorf("%s is not installed", dest))
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return unavailable(name, pin.Version, fmt.Errorf("failed to create tools dir: %w", err))
	}

	logger.Info("Installing tool", "module", pin.Module, "version", pin.Version)
	if err := l.installer.Install(ctx, name, pin, dest); err != nil {
		return unavailable(name, pin.Version, err)
	}
	if !isExecutable(dest) {
		return unavailable(name, pin.Version, fmt.Errorf("installer did not produce %s", dest))
	}
	return Reference{Name: name, Path: dest, Version: pin.Version, State: StateInstalled}
}

func unavailable(name, version string, cause error) Reference {
	return Reference{Name: name, Version: version, State: StateUnavailable, Cause: cause}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
