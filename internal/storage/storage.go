// Package storage defines the durable persistence boundary of the engine.
//
// Staged intents, conflict records, and resolution outcomes are written
// through this boundary before the corresponding pipeline state transition
// is considered complete. The persisted layout doubles as the audit surface
// clients may read, but is otherwise opaque to the core.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/openguild/turnengine/internal/engine/conflict"
	"github.com/openguild/turnengine/internal/engine/outcome"
	"github.com/openguild/turnengine/internal/engine/turn"
)

// ErrNotFound indicates a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// BatchStore persists turn batches.
type BatchStore interface {
	// PutBatch durably upserts a batch keyed by (tenant, seq).
	PutBatch(ctx context.Context, batch turn.Batch) error
	// GetOpenBatch returns the tenant's single non-terminal batch.
	GetOpenBatch(ctx context.Context, tenant string) (turn.Batch, error)
	// LastSeq returns the highest batch sequence recorded for the tenant,
	// or zero when the tenant has no batches.
	LastSeq(ctx context.Context, tenant string) (uint64, error)
	// ListOpenBatches returns every non-terminal batch across tenants,
	// used for crash recovery at startup.
	ListOpenBatches(ctx context.Context) ([]turn.Batch, error)
}

// ConflictStore persists conflict records.
type ConflictStore interface {
	// PutConflict durably upserts a conflict record.
	PutConflict(ctx context.Context, record conflict.Conflict) error
	// GetConflict fetches a conflict by id.
	GetConflict(ctx context.Context, id string) (conflict.Conflict, error)
	// ListConflicts returns the conflicts owned by one batch in
	// deterministic (insertion) order.
	ListConflicts(ctx context.Context, tenant string, batchSeq uint64) ([]conflict.Conflict, error)
}

// OutcomeStore persists resolution outcome records and applier acks.
type OutcomeStore interface {
	// PutOutcome durably upserts an outcome record by its deterministic id.
	PutOutcome(ctx context.Context, record outcome.Record) error
	// MarkOutcomeAcked records the applier's acknowledgement.
	MarkOutcomeAcked(ctx context.Context, id string, at time.Time) error
	// ListUnackedOutcomes returns a batch's outcome ids still awaiting
	// acknowledgement.
	ListUnackedOutcomes(ctx context.Context, tenant string, batchSeq uint64) ([]outcome.Record, error)
	// IsOutcomeAcked reports whether the record exists and was acked.
	IsOutcomeAcked(ctx context.Context, id string) (bool, error)
}

// Store is the full persistence contract the engine service depends on.
type Store interface {
	BatchStore
	ConflictStore
	OutcomeStore
}
