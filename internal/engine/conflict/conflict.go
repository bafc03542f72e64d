// Package conflict detects and resolves incompatibilities between staged
// intents.
package conflict

import (
	"github.com/openguild/turnengine/internal/engine/intent"
)

// Status is the lifecycle status of a detected conflict.
type Status string

const (
	// StatusIdentified marks a freshly detected conflict.
	StatusIdentified Status = "identified"
	// StatusAutoResolved marks a conflict decided by a check.
	StatusAutoResolved Status = "auto_resolved"
	// StatusAwaitingManual marks a conflict suspended for an arbiter.
	// It is a first-class suspended state, not an error.
	StatusAwaitingManual Status = "awaiting_manual"
	// StatusManuallyResolved marks a conflict decided by an arbiter.
	StatusManuallyResolved Status = "manually_resolved"
)

// Resolved reports whether the status allows the owning batch to advance.
func (s Status) Resolved() bool {
	return s == StatusAutoResolved || s == StatusManuallyResolved
}

// Verdict is a per-participant resolution result.
type Verdict string

const (
	// VerdictSucceeded lets the intent apply as submitted.
	VerdictSucceeded Verdict = "succeeded"
	// VerdictFailed drops the intent.
	VerdictFailed Verdict = "failed"
	// VerdictModified applies the intent with altered parameters.
	VerdictModified Verdict = "modified"
)

// Effect is one world-state mutation handed to the outcome applier.
type Effect struct {
	// ActorID is the actor the effect concerns.
	ActorID string `json:"actor_id"`
	// Kind tags the mutation (e.g. apply_intent, apply_intent_modified).
	Kind string `json:"kind"`
	// Data carries effect parameters, passed through verbatim.
	Data map[string]string `json:"data,omitempty"`
}

// Outcome records a resolved conflict's decision.
type Outcome struct {
	// Winner is the winning actor id, if any.
	Winner string `json:"winner,omitempty"`
	// Results maps each participant to its verdict.
	Results map[string]Verdict `json:"results"`
	// Effects is the ordered effect list for the applier.
	Effects []Effect `json:"effects,omitempty"`
	// Description is a human-readable summary of the decision.
	Description string `json:"description,omitempty"`
}

// Conflict is a detected incompatibility between two or more staged intents.
// A conflict is owned by exactly one turn batch and cannot outlive it.
type Conflict struct {
	// ID is the generated conflict identifier.
	ID string
	// Tenant and BatchSeq identify the owning turn batch.
	Tenant   string
	BatchSeq uint64
	// Type references the conflict rule that matched.
	Type string
	// Participants lists involved actor ids in sorted order.
	Participants []string
	// ResourceKey is the contested grouping key value (audit context).
	ResourceKey string
	// Intents snapshots the specific intents that triggered the conflict,
	// ordered by participant.
	Intents []intent.Intent
	// Status is the resolution lifecycle status.
	Status Status
	// Outcome is set once the conflict resolves.
	Outcome *Outcome
}

// Effect kind tags produced by resolution.
const (
	EffectApplyIntent         = "apply_intent"
	EffectApplyIntentModified = "apply_intent_modified"
)
