// Package intent defines the structured action intents the pipeline consumes.
package intent

import (
	"strings"

	"github.com/openguild/turnengine/internal/platform/errors"
)

// Intent is a structured, parsed representation of what an actor wants to
// do this turn. How raw input becomes an Intent is the caller's concern.
type Intent struct {
	// ActorID identifies the submitting actor.
	ActorID string `json:"actor_id"`
	// Kind is a free-form tag such as "move" or "interact".
	Kind string `json:"intent_kind"`
	// Parameters maps named parameters to values.
	Parameters map[string]string `json:"parameters,omitempty"`
	// RawText is retained only for audit and arbitration context.
	RawText string `json:"raw_text,omitempty"`
}

// Normalize trims identifiers and rejects intents missing an actor or kind.
func Normalize(in Intent) (Intent, error) {
	in.ActorID = strings.TrimSpace(in.ActorID)
	in.Kind = strings.TrimSpace(in.Kind)
	if in.ActorID == "" {
		return Intent{}, errors.New(errors.CodeIntentInvalid, "intent actor id is required")
	}
	if in.Kind == "" {
		return Intent{}, errors.New(errors.CodeIntentInvalid, "intent kind is required")
	}
	return in, nil
}

// Parameter returns the named parameter value, or "" when absent.
func (i Intent) Parameter(name string) string {
	return i.Parameters[name]
}
