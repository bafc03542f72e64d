// Package outcome defines the normalized records handed to the world-state
// applier.
package outcome

import (
	"context"

	"github.com/openguild/turnengine/internal/engine/conflict"
	"github.com/openguild/turnengine/internal/engine/intent"
)

// Record is one resolved intent's result, conflicting or not. The core
// hands the applier this record and nothing more; world-state mutation is
// the applier's concern.
type Record struct {
	// ID is deterministic per (tenant, batch, actor, slot) so re-applying
	// after a crash replaces rather than duplicates the record.
	ID       string
	Tenant   string
	BatchSeq uint64
	ActorID  string
	Intent   intent.Intent
	Verdict  conflict.Verdict
	Effects  []conflict.Effect
}

// Applier mutates world state from resolution effects. A nil error return
// acknowledges the record; the turn does not close until every record of
// the batch is acknowledged.
type Applier interface {
	Apply(ctx context.Context, record Record) error
}
