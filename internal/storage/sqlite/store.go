// Package sqlite provides the SQLite-backed durable engine store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openguild/turnengine/internal/engine/conflict"
	"github.com/openguild/turnengine/internal/engine/intent"
	"github.com/openguild/turnengine/internal/engine/outcome"
	"github.com/openguild/turnengine/internal/engine/turn"
	sqlitemigrate "github.com/openguild/turnengine/internal/platform/storage/sqlitemigrate"
	"github.com/openguild/turnengine/internal/storage"
	"github.com/openguild/turnengine/internal/storage/sqlite/migrations"
)

// Store provides SQLite-backed engine persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens an engine SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutBatch durably upserts a batch keyed by (tenant, seq).
func (s *Store) PutBatch(ctx context.Context, batch turn.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	batch.Tenant = strings.TrimSpace(batch.Tenant)
	if batch.Tenant == "" {
		return fmt.Errorf("batch tenant is required")
	}
	if batch.Seq == 0 {
		return fmt.Errorf("batch seq is required")
	}
	if !batch.State.Valid() {
		return fmt.Errorf("batch state %q is invalid", batch.State)
	}

	intents, err := json.Marshal(batch.Intents)
	if err != nil {
		return fmt.Errorf("marshal batch intents: %w", err)
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.UpdatedAt.IsZero() {
		batch.UpdatedAt = batch.CreatedAt
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO turn_batches (tenant, seq, state, intents, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant, seq) DO UPDATE SET
	state = excluded.state,
	intents = excluded.intents,
	updated_at = excluded.updated_at
`,
		batch.Tenant,
		batch.Seq,
		string(batch.State),
		string(intents),
		batch.CreatedAt.UTC().UnixMilli(),
		batch.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put batch: %w", err)
	}
	return nil
}

// GetOpenBatch returns the tenant's single non-terminal batch.
func (s *Store) GetOpenBatch(ctx context.Context, tenant string) (turn.Batch, error) {
	if err := ctx.Err(); err != nil {
		return turn.Batch{}, err
	}
	if s == nil || s.sqlDB == nil {
		return turn.Batch{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT tenant, seq, state, intents, created_at, updated_at
FROM turn_batches
WHERE tenant = ? AND state NOT IN ('closed', 'failed')
ORDER BY seq DESC
LIMIT 1
`, strings.TrimSpace(tenant))
	return scanBatch(row)
}

// LastSeq returns the highest batch sequence recorded for the tenant.
func (s *Store) LastSeq(ctx context.Context, tenant string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var seq sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT MAX(seq) FROM turn_batches WHERE tenant = ?
`, strings.TrimSpace(tenant)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// ListOpenBatches returns every non-terminal batch across tenants.
func (s *Store) ListOpenBatches(ctx context.Context) ([]turn.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT tenant, seq, state, intents, created_at, updated_at
FROM turn_batches
WHERE state NOT IN ('closed', 'failed')
ORDER BY tenant, seq
`)
	if err != nil {
		return nil, fmt.Errorf("list open batches: %w", err)
	}
	defer rows.Close()

	var batches []turn.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open batches: %w", err)
	}
	return batches, nil
}

// PutConflict durably upserts a conflict record.
func (s *Store) PutConflict(ctx context.Context, record conflict.Conflict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("conflict id is required")
	}

	participants, err := json.Marshal(record.Participants)
	if err != nil {
		return fmt.Errorf("marshal conflict participants: %w", err)
	}
	intents, err := json.Marshal(record.Intents)
	if err != nil {
		return fmt.Errorf("marshal conflict intents: %w", err)
	}
	var outcomeJSON sql.NullString
	if record.Outcome != nil {
		payload, err := json.Marshal(record.Outcome)
		if err != nil {
			return fmt.Errorf("marshal conflict outcome: %w", err)
		}
		outcomeJSON = sql.NullString{String: string(payload), Valid: true}
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO conflicts (
	id, tenant, batch_seq, conflict_type, resource_key,
	participants, intents, status, outcome, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	status = excluded.status,
	outcome = excluded.outcome
`,
		record.ID,
		record.Tenant,
		record.BatchSeq,
		record.Type,
		record.ResourceKey,
		string(participants),
		string(intents),
		string(record.Status),
		outcomeJSON,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put conflict: %w", err)
	}
	return nil
}

// GetConflict fetches a conflict by id.
func (s *Store) GetConflict(ctx context.Context, id string) (conflict.Conflict, error) {
	if err := ctx.Err(); err != nil {
		return conflict.Conflict{}, err
	}
	if s == nil || s.sqlDB == nil {
		return conflict.Conflict{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, tenant, batch_seq, conflict_type, resource_key, participants, intents, status, outcome
FROM conflicts
WHERE id = ?
`, strings.TrimSpace(id))
	return scanConflict(row)
}

// ListConflicts returns the conflicts owned by one batch in insertion order.
func (s *Store) ListConflicts(ctx context.Context, tenant string, batchSeq uint64) ([]conflict.Conflict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, tenant, batch_seq, conflict_type, resource_key, participants, intents, status, outcome
FROM conflicts
WHERE tenant = ? AND batch_seq = ?
ORDER BY created_at, id
`, strings.TrimSpace(tenant), batchSeq)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var records []conflict.Conflict
	for rows.Next() {
		record, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	return records, nil
}

// PutOutcome durably upserts an outcome record by its deterministic id.
func (s *Store) PutOutcome(ctx context.Context, record outcome.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("outcome id is required")
	}

	intentJSON, err := json.Marshal(record.Intent)
	if err != nil {
		return fmt.Errorf("marshal outcome intent: %w", err)
	}
	effects, err := json.Marshal(record.Effects)
	if err != nil {
		return fmt.Errorf("marshal outcome effects: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO outcomes (id, tenant, batch_seq, actor_id, intent, verdict, effects, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	verdict = excluded.verdict,
	effects = excluded.effects
`,
		record.ID,
		record.Tenant,
		record.BatchSeq,
		record.ActorID,
		string(intentJSON),
		string(record.Verdict),
		string(effects),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put outcome: %w", err)
	}
	return nil
}

// MarkOutcomeAcked records the applier's acknowledgement.
func (s *Store) MarkOutcomeAcked(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE outcomes SET acked_at = ? WHERE id = ?
`, at.UTC().UnixMilli(), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("mark outcome acked: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outcome acked: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListUnackedOutcomes returns a batch's outcome records still awaiting ack.
func (s *Store) ListUnackedOutcomes(ctx context.Context, tenant string, batchSeq uint64) ([]outcome.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, tenant, batch_seq, actor_id, intent, verdict, effects
FROM outcomes
WHERE tenant = ? AND batch_seq = ? AND acked_at IS NULL
ORDER BY id
`, strings.TrimSpace(tenant), batchSeq)
	if err != nil {
		return nil, fmt.Errorf("list unacked outcomes: %w", err)
	}
	defer rows.Close()

	var records []outcome.Record
	for rows.Next() {
		record, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unacked outcomes: %w", err)
	}
	return records, nil
}

// IsOutcomeAcked reports whether the record exists and was acked.
func (s *Store) IsOutcomeAcked(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	var acked sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT acked_at FROM outcomes WHERE id = ?
`, strings.TrimSpace(id)).Scan(&acked)
	if err == sql.ErrNoRows {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("is outcome acked: %w", err)
	}
	return acked.Valid, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (turn.Batch, error) {
	var batch turn.Batch
	var state, intents string
	var createdAt, updatedAt int64
	err := row.Scan(&batch.Tenant, &batch.Seq, &state, &intents, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return turn.Batch{}, storage.ErrNotFound
	}
	if err != nil {
		return turn.Batch{}, fmt.Errorf("scan batch: %w", err)
	}
	batch.State = turn.State(state)
	if err := json.Unmarshal([]byte(intents), &batch.Intents); err != nil {
		return turn.Batch{}, fmt.Errorf("unmarshal batch intents: %w", err)
	}
	if batch.Intents == nil && !batch.State.Terminal() {
		batch.Intents = map[string][]intent.Intent{}
	}
	batch.CreatedAt = time.UnixMilli(createdAt).UTC()
	batch.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return batch, nil
}

func scanConflict(row rowScanner) (conflict.Conflict, error) {
	var record conflict.Conflict
	var status, participants, intents string
	var outcomeJSON sql.NullString
	err := row.Scan(
		&record.ID,
		&record.Tenant,
		&record.BatchSeq,
		&record.Type,
		&record.ResourceKey,
		&participants,
		&intents,
		&status,
		&outcomeJSON,
	)
	if err == sql.ErrNoRows {
		return conflict.Conflict{}, storage.ErrNotFound
	}
	if err != nil {
		return conflict.Conflict{}, fmt.Errorf("scan conflict: %w", err)
	}
	record.Status = conflict.Status(status)
	if err := json.Unmarshal([]byte(participants), &record.Participants); err != nil {
		return conflict.Conflict{}, fmt.Errorf("unmarshal conflict participants: %w", err)
	}
	if err := json.Unmarshal([]byte(intents), &record.Intents); err != nil {
		return conflict.Conflict{}, fmt.Errorf("unmarshal conflict intents: %w", err)
	}
	if outcomeJSON.Valid {
		record.Outcome = &conflict.Outcome{}
		if err := json.Unmarshal([]byte(outcomeJSON.String), record.Outcome); err != nil {
			return conflict.Conflict{}, fmt.Errorf("unmarshal conflict outcome: %w", err)
		}
	}
	return record, nil
}

func scanOutcome(row rowScanner) (outcome.Record, error) {
	var record outcome.Record
	var intentJSON, verdict string
	var effects sql.NullString
	err := row.Scan(
		&record.ID,
		&record.Tenant,
		&record.BatchSeq,
		&record.ActorID,
		&intentJSON,
		&verdict,
		&effects,
	)
	if err == sql.ErrNoRows {
		return outcome.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return outcome.Record{}, fmt.Errorf("scan outcome: %w", err)
	}
	record.Verdict = conflict.Verdict(verdict)
	if err := json.Unmarshal([]byte(intentJSON), &record.Intent); err != nil {
		return outcome.Record{}, fmt.Errorf("unmarshal outcome intent: %w", err)
	}
	if effects.Valid && effects.String != "null" {
		if err := json.Unmarshal([]byte(effects.String), &record.Effects); err != nil {
			return outcome.Record{}, fmt.Errorf("unmarshal outcome effects: %w", err)
		}
	}
	return record, nil
}

var _ storage.Store = (*Store)(nil)
