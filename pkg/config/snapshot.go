package config

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Environment selects the image scheme and the image publication path.
type Environment string

const (
	// EnvironmentDefault publishes to a remote registry
	EnvironmentDefault Environment = "default"

	// EnvironmentLocalCluster loads images straight into a local kind cluster
	EnvironmentLocalCluster Environment = "local-cluster"
)

// CRDCompatibility controls the schema conversion mode of generated CRDs.
type CRDCompatibility string

const (
	// CRDCompatibilityV1 generates full apiextensions/v1 schemas
	CRDCompatibilityV1 CRDCompatibility = "v1"

	// CRDCompatibilityLegacy generates reduced schemas for older API servers
	CRDCompatibilityLegacy CRDCompatibility = "legacy"
)

// ReconciliationMode selects which reconciler implementation the
// reconciler test partition exercises.
type ReconciliationMode string

const (
	ReconcileLegacy ReconciliationMode = "legacy"
	ReconcileNew    ReconciliationMode = "new"
)

// LocalClusterTag is the image tag used for images loaded into a local cluster.
const LocalClusterTag = "local-cluster-tag"

// Snapshot is the immutable configuration shared by every task of one invocation.
// Fields are only reachable through accessors.
type Snapshot struct {
	environment        Environment
	image              string
	crdCompatibility   CRDCompatibility
	version            string
	reconciliationMode ReconciliationMode
	toolsDir           string
	registry           string
	kubeContext        string
	clusterName        string
	strict             bool
	dryRun             bool
	project            Project
	fingerprint        string
}

func (s *Snapshot) Environment() Environment { return s.environment }

// LocalCluster reports whether images are published by loading them into a
// local cluster instead of pushing to a registry.
func (s *Snapshot) LocalCluster() bool { return s.environment == EnvironmentLocalCluster }

func (s *Snapshot) Image() string                          { return s.image }
func (s *Snapshot) CRDCompatibility() CRDCompatibility     { return s.crdCompatibility }
func (s *Snapshot) Version() string                        { return s.version }
func (s *Snapshot) ReconciliationMode() ReconciliationMode { return s.reconciliationMode }
func (s *Snapshot) ToolsDir() string                       { return s.toolsDir }
func (s *Snapshot) Registry() string                       { return s.registry }
func (s *Snapshot) KubeContext() string                    { return s.kubeContext }
func (s *Snapshot) ClusterName() string                    { return s.clusterName }
func (s *Snapshot) Strict() bool                           { return s.strict }

// DryRun reports whether cluster writes are sent as server-side dry runs.
// Subprocess steps (kind, krew, docker) still run.
func (s *Snapshot) DryRun() bool { return s.dryRun }

// NewReconciler reports whether the new reconciliation path is selected.
func (s *Snapshot) NewReconciler() bool { return s.reconciliationMode == ReconcileNew }

// CRDOptions returns the controller-gen crd generator option for the
// configured compatibility level.
func (s *Snapshot) CRDOptions() string {
	if s.crdCompatibility == CRDCompatibilityLegacy {
		return "crd:crdVersions=v1,allowDangerousTypes=true,maxDescLen=0"
	}
	return "crd:crdVersions=v1"
}

// Project returns a copy of the project settings.
func (s *Snapshot) Project() Project { return s.project.clone() }

// Fingerprint identifies the resolved values; equal inputs give equal fingerprints.
func (s *Snapshot) Fingerprint() string { return s.fingerprint }

// Settings is the exported view of a snapshot used for display.
type Settings struct {
	Environment        Environment        `json:"environment"`
	Image              string             `json:"image"`
	CRDCompatibility   CRDCompatibility   `json:"crdCompatibility"`
	CRDOptions         string             `json:"crdOptions"`
	Version            string             `json:"version"`
	ReconciliationMode ReconciliationMode `json:"reconciliationMode"`
	ToolsDir           string             `json:"toolsDir"`
	Registry           string             `json:"registry"`
	KubeContext        string             `json:"kubeContext,omitempty"`
	ClusterName        string             `json:"clusterName"`
	Strict             bool               `json:"strict"`
	DryRun             bool               `json:"dryRun"`
	Project            Project            `json:"project"`
	Fingerprint        string             `json:"fingerprint,omitempty"`
}

// Settings returns the exported view of the snapshot.
func (s *Snapshot) Settings() Settings {
	return Settings{
		Environment:        s.environment,
		Image:              s.image,
		CRDCompatibility:   s.crdCompatibility,
		CRDOptions:         s.CRDOptions(),
		Version:            s.version,
		ReconciliationMode: s.reconciliationMode,
		ToolsDir:           s.toolsDir,
		Registry:           s.registry,
		KubeContext:        s.kubeContext,
		ClusterName:        s.clusterName,
		Strict:             s.strict,
		DryRun:             s.dryRun,
		Project:            s.project.clone(),
		Fingerprint:        s.fingerprint,
	}
}

// computeFingerprint hashes the canonical JSON form of the settings.
// encoding/json sorts map keys, so the result is stable.
func computeFingerprint(s *Snapshot) (string, error) {
	view := s.Settings()
	view.Fingerprint = ""
	data, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("failed to encode settings: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}
