package turn

import (
	"sort"
	"time"

	"github.com/openguild/turnengine/internal/engine/intent"
	"github.com/openguild/turnengine/internal/platform/errors"
)

// Batch is one tenant turn's staged intents and lifecycle state.
//
// A batch is created when the first intent of a new turn is staged and its
// intents are cleared only when the whole batch closes; partial clearing is
// forbidden so stale intents cannot leak into a later turn.
type Batch struct {
	// Tenant identifies the owning game instance.
	Tenant string
	// Seq is the turn sequence number, monotonically increasing per tenant.
	Seq uint64
	// State is the lifecycle state.
	State State
	// Intents maps actor ids to their staged intent lists.
	Intents map[string][]intent.Intent
	// CreatedAt and UpdatedAt are UTC bookkeeping timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBatch starts a collecting batch for the tenant's next turn.
func NewBatch(tenant string, seq uint64, now time.Time) Batch {
	return Batch{
		Tenant:    tenant,
		Seq:       seq,
		State:     StateCollecting,
		Intents:   map[string][]intent.Intent{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Transition moves the batch to the next lifecycle state.
func (b *Batch) Transition(to State, now time.Time) error {
	if !CanTransition(b.State, to) {
		return errors.WithMetadata(
			errors.CodeInvalidStateTransition,
			"invalid turn batch transition",
			map[string]string{"from": string(b.State), "to": string(to)},
		)
	}
	b.State = to
	b.UpdatedAt = now.UTC()
	if to == StateClosed || to == StateFailed {
		// The whole batch is destroyed together, never one actor at a time.
		b.Intents = nil
	}
	return nil
}

// StageActor replaces the actor's staged intent list.
func (b *Batch) StageActor(actorID string, intents []intent.Intent, now time.Time) {
	if b.Intents == nil {
		b.Intents = map[string][]intent.Intent{}
	}
	b.Intents[actorID] = append([]intent.Intent(nil), intents...)
	b.UpdatedAt = now.UTC()
}

// ActorIDs returns the staged actor ids in sorted order.
func (b *Batch) ActorIDs() []string {
	ids := make([]string, 0, len(b.Intents))
	for id := range b.Intents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IntentCount returns the number of staged intents across all actors.
func (b *Batch) IntentCount() int {
	count := 0
	for _, list := range b.Intents {
		count += len(list)
	}
	return count
}
