package config

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Recognized override keys.
const (
	KeyEnvironment        = "environment"
	KeyImage              = "image"
	KeyCRDCompatibility   = "crdCompatibility"
	KeyVersion            = "version"
	KeyReconciliationMode = "reconciliationMode"
	KeyToolsDir           = "toolsDir"
	KeyRegistry           = "registry"
	KeyKubeContext        = "kubeContext"
	KeyClusterName        = "clusterName"
	KeyStrict             = "strict"
	KeyDryRun             = "dryRun"
)

// EnvPrefix prefixes every environment variable slipway reads.
const EnvPrefix = "SLIPWAY_"

var knownKeys = map[string]struct{}{
	KeyEnvironment:        {},
	KeyImage:              {},
	KeyCRDCompatibility:   {},
	KeyVersion:            {},
	KeyReconciliationMode: {},
	KeyToolsDir:           {},
	KeyRegistry:           {},
	KeyKubeContext:        {},
	KeyClusterName:        {},
	KeyStrict:             {},
	KeyDryRun:             {},
}

// Overrides maps recognized option keys to raw values.
type Overrides map[string]string

// Merge merges several override sets, later sets overriding earlier keys.
func Merge(sets ...Overrides) Overrides {
	out := make(Overrides)
	for _, s := range sets {
		maps.Copy(out, s)
	}
	return out
}

// ParseArgs splits command-line arguments into task names and key=value overrides.
func ParseArgs(args []string) ([]string, Overrides, error) {
	var tasks []string
	overrides := make(Overrides)
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			tasks = append(tasks, arg)
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, nil, &ConfigError{Reason: fmt.Sprintf("empty key in override %q", arg)}
		}
		overrides[key] = strings.TrimSpace(value)
	}
	return tasks, overrides, nil
}

// environmentOverrides lists the SLIPWAY_* variables mapped onto override keys.
type environmentOverrides struct {
	Environment        string `env:"ENV"`
	Image              string `env:"IMG"`
	Version            string `env:"VERSION"`
	CRDCompatibility   string `env:"CRD_COMPATIBILITY"`
	ReconciliationMode string `env:"RECONCILE_MODE"`
	ToolsDir           string `env:"TOOLS_DIR"`
	Registry           string `env:"REGISTRY"`
	KubeContext        string `env:"KUBE_CONTEXT"`
	ClusterName        string `env:"CLUSTER_NAME"`
	Strict             string `env:"STRICT"`
	DryRun             string `env:"DRY_RUN"`
}

// FromEnvironment extracts overrides from an environment map.
// A nil map reads the process environment.
func FromEnvironment(environ map[string]string) (Overrides, error) {
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}

	var e environmentOverrides
	if err := env.ParseWithOptions(&e, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, &ConfigError{Reason: "failed to parse environment", Err: err}
	}

	out := make(Overrides)
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			out[key] = value
		}
	}
	set(KeyEnvironment, e.Environment)
	set(KeyImage, e.Image)
	set(KeyVersion, e.Version)
	set(KeyCRDCompatibility, e.CRDCompatibility)
	set(KeyReconciliationMode, e.ReconciliationMode)
	set(KeyToolsDir, e.ToolsDir)
	set(KeyRegistry, e.Registry)
	set(KeyKubeContext, e.KubeContext)
	set(KeyClusterName, e.ClusterName)
	set(KeyStrict, e.Strict)
	set(KeyDryRun, e.DryRun)
	return out, nil
}

// ReadEnvFiles loads .env-style files and merges them with the process
// environment. Process variables win over file entries.
func ReadEnvFiles(paths ...string) (map[string]string, error) {
	merged := make(map[string]string)
	if len(paths) > 0 {
		fileVars, err := godotenv.Read(paths...)
		if err != nil {
			return nil, fmt.Errorf("failed to read env files %v: %w", paths, err)
		}
		maps.Copy(merged, fileVars)
	}
	maps.Copy(merged, env.ToMap(os.Environ()))
	return merged, nil
}
