package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"
)

// Hardcoded defaults for values the project schema does not carry.
const (
	DefaultVersion  = "v0.0.0-dev"
	DefaultToolsDir = "bin/tools"
)

// Resolver turns overrides into a Snapshot. It holds no mutable state and
// Resolve has no side effects.
type Resolver struct {
	project Project
}

// NewResolver creates a resolver over the given project settings.
func NewResolver(project *Project) (*Resolver, error) {
	if project == nil {
		return nil, fmt.Errorf("project cannot be nil")
	}
	return &Resolver{project: project.clone()}, nil
}

// Resolve builds a snapshot. Precedence per value is: explicit override,
// then the environment-derived default, then the hardcoded default.
func (r *Resolver) Resolve(overrides Overrides) (*Snapshot, error) {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if _, ok := knownKeys[key]; !ok {
			return nil, invalidValue(key, overrides[key], "unknown option", nil)
		}
	}

	strict, err := parseBoolOption(KeyStrict, overrides[KeyStrict])
	if err != nil {
		return nil, err
	}
	dryRun, err := parseBoolOption(KeyDryRun, overrides[KeyDryRun])
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		environment: Environment(firstNonEmpty(overrides[KeyEnvironment], string(EnvironmentDefault))),
		version:     firstNonEmpty(overrides[KeyVersion], DefaultVersion),
		toolsDir:    firstNonEmpty(overrides[KeyToolsDir], DefaultToolsDir),
		registry:    firstNonEmpty(overrides[KeyRegistry], r.project.Registry),
		kubeContext: overrides[KeyKubeContext],
		clusterName: firstNonEmpty(overrides[KeyClusterName], r.project.ClusterName),
		strict:      strict,
		dryRun:      dryRun,
		project:     r.project.clone(),
	}

	if strict {
		if err := validateVersion(s.version); err != nil {
			return nil, err
		}
	}

	if s.crdCompatibility, err = parseCRDCompatibility(overrides[KeyCRDCompatibility]); err != nil {
		return nil, err
	}
	if s.reconciliationMode, err = parseReconciliationMode(overrides[KeyReconciliationMode]); err != nil {
		return nil, err
	}

	s.image = strings.TrimSpace(overrides[KeyImage])
	if s.image == "" {
		s.image = r.defaultImage(s)
	} else if strings.ContainsAny(s.image, " \t") {
		return nil, invalidValue(KeyImage, s.image, "image reference must not contain whitespace", nil)
	}

	if s.fingerprint, err = computeFingerprint(s); err != nil {
		return nil, err
	}
	return s, nil
}

// defaultImage derives the image reference from the target environment.
func (r *Resolver) defaultImage(s *Snapshot) string {
	if s.environment == EnvironmentLocalCluster {
		return fmt.Sprintf("%s:%s", r.project.ImageName, LocalClusterTag)
	}
	return fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(s.registry, "/"), r.project.ImageName, s.version)
}

func validateVersion(version string) error {
	if !strings.HasPrefix(version, "v") {
		return invalidValue(KeyVersion, version, "version must start with 'v'", nil)
	}
	if _, err := semver.Parse(strings.TrimPrefix(version, "v")); err != nil {
		return invalidValue(KeyVersion, version, "not a semantic version", err)
	}
	return nil
}

func parseCRDCompatibility(value string) (CRDCompatibility, error) {
	switch CRDCompatibility(strings.ToLower(strings.TrimSpace(value))) {
	case "", CRDCompatibilityV1:
		return CRDCompatibilityV1, nil
	case CRDCompatibilityLegacy:
		return CRDCompatibilityLegacy, nil
	default:
		return "", invalidValue(KeyCRDCompatibility, value, "expected v1 or legacy", nil)
	}
}

func parseReconciliationMode(value string) (ReconciliationMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "new":
		return ReconcileNew, nil
	case "", "legacy":
		return ReconcileLegacy, nil
	}
	enabled, err := parseBoolOption(KeyReconciliationMode, value)
	if err != nil {
		return "", invalidValue(KeyReconciliationMode, value, "expected legacy, new or a boolean", nil)
	}
	if enabled {
		return ReconcileNew, nil
	}
	return ReconcileLegacy, nil
}

func parseBoolOption(key, value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return false, nil
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, invalidValue(key, value, "expected a boolean", err)
	}
	return b, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
