package apply

import "fmt"

// DefaultFieldManager is the SSA field manager used when a policy names none
const DefaultFieldManager = "slipway"

// Mode defines the apply behavior
type Mode string

const (
	// ModeApply uses Server-Side Apply
	ModeApply Mode = "Apply"

	// ModeDryRun sends the Server-Side Apply with dryRun=All; nothing is persisted
	ModeDryRun Mode = "DryRun"
)

// ConflictPolicy defines how to handle field manager conflicts
type ConflictPolicy string

const (
	// ConflictPolicyError fails on field manager conflicts
	ConflictPolicyError ConflictPolicy = "Error"

	// ConflictPolicyForce forces ownership of conflicting fields
	ConflictPolicyForce ConflictPolicy = "Force"
)

// Policy defines how a resource should be applied
type Policy struct {
	// Mode determines the apply behavior. Defaults to ModeApply.
	Mode Mode

	// ConflictPolicy determines how to handle conflicts. Defaults to ConflictPolicyError.
	ConflictPolicy ConflictPolicy

	// FieldManager defaults to DefaultFieldManager
	FieldManager string
}

// DefaultPolicy is a forced server-side apply owned by DefaultFieldManager,
// which is what a release applying its own bundle wants.
func DefaultPolicy() Policy {
	return Policy{
		Mode:           ModeApply,
		ConflictPolicy: ConflictPolicyForce,
		FieldManager:   DefaultFieldManager,
	}
}

// WithDryRun returns a copy of p in ModeDryRun when dryRun is set
func (p Policy) WithDryRun(dryRun bool) Policy {
	if dryRun {
		p.Mode = ModeDryRun
	}
	return p
}

// WithForce returns a copy of p that forces or surfaces field manager conflicts
func (p Policy) WithForce(force bool) Policy {
	if force {
		p.ConflictPolicy = ConflictPolicyForce
	} else {
		p.ConflictPolicy = ConflictPolicyError
	}
	return p
}

// Validate fills in defaults and rejects unknown values
func (p *Policy) Validate() error {
	if p.Mode == "" {
		p.Mode = ModeApply
	}
	if p.ConflictPolicy == "" {
		p.ConflictPolicy = ConflictPolicyError
	}
	if p.FieldManager == "" {
		p.FieldManager = DefaultFieldManager
	}

	switch p.Mode {
	case ModeApply, ModeDryRun:
	default:
		return fmt.Errorf("invalid mode %q, must be one of: Apply, DryRun", p.Mode)
	}

	switch p.ConflictPolicy {
	case ConflictPolicyError, ConflictPolicyForce:
	default:
		return fmt.Errorf("invalid conflictPolicy %q, must be one of: Error, Force", p.ConflictPolicy)
	}
	return nil
}
