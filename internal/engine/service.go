// Package engine orchestrates the action collection, conflict detection,
// resolution, and application pipeline for every tenant.
package engine

import (
	"context"
	stderrors "errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openguild/turnengine/internal/engine/conflict"
	"github.com/openguild/turnengine/internal/engine/intent"
	"github.com/openguild/turnengine/internal/engine/outcome"
	"github.com/openguild/turnengine/internal/engine/rules"
	"github.com/openguild/turnengine/internal/engine/turn"
	"github.com/openguild/turnengine/internal/platform/errors"
	"github.com/openguild/turnengine/internal/platform/id"
	"github.com/openguild/turnengine/internal/random"
	"github.com/openguild/turnengine/internal/storage"
)

// ManualConflictNotice is published for each conflict suspended for an
// arbiter. Delivery (chat message, dashboard) is the notifier's concern.
type ManualConflictNotice struct {
	ConflictID string
	Tenant     string
	Type       string
	Actors     []string
	Summary    string
	Options    []string
}

// Notifier receives manual-conflict notices.
type Notifier interface {
	NotifyManualConflict(ctx context.Context, notice ManualConflictNotice) error
}

// ModifierSource supplies an actor's named numeric modifiers (stats,
// skills) for check resolution. The world-state owner implements it.
type ModifierSource interface {
	Modifiers(ctx context.Context, tenant, actorID string) (map[string]int, error)
}

// Deps carries the service collaborators. Nil fields fall back to safe
// defaults: a logging notifier, an acknowledging log applier, zero
// modifiers, time.Now, id.NewID, and random.NewSeed.
type Deps struct {
	Notifier  Notifier
	Applier   outcome.Applier
	Modifiers ModifierSource
	Clock     func() time.Time
	NewID     func() (string, error)
	NewSeed   func() (int64, error)
	// ManualEscalationAfter re-emits notices for conflicts that stay
	// awaiting_manual longer than this. Zero disables escalation; a
	// suspended conflict never resolves itself either way.
	ManualEscalationAfter time.Duration
}

// Service drives tenant turn pipelines over a durable store.
//
// Within one tenant, stages execute strictly in order under the per-tenant
// scheduler slot; tenants progress fully in parallel. The rule catalog is
// read-only and shared without locking by all pipelines; every other record
// is exclusively owned by its tenant.
type Service struct {
	store     storage.Store
	notifier  Notifier
	applier   outcome.Applier
	modifiers ModifierSource
	scheduler *turn.Scheduler
	clock     func() time.Time
	newID     func() (string, error)
	newSeed   func() (int64, error)

	escalateAfter time.Duration

	catalogMu sync.RWMutex
	catalog   *rules.Catalog
}

// New constructs the engine service.
func New(store storage.Store, catalog *rules.Catalog, deps Deps) *Service {
	if deps.Notifier == nil {
		deps.Notifier = logNotifier{}
	}
	if deps.Applier == nil {
		deps.Applier = logApplier{}
	}
	if deps.Modifiers == nil {
		deps.Modifiers = zeroModifiers{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = id.NewID
	}
	if deps.NewSeed == nil {
		deps.NewSeed = random.NewSeed
	}
	return &Service{
		store:         store,
		notifier:      deps.Notifier,
		applier:       deps.Applier,
		modifiers:     deps.Modifiers,
		scheduler:     turn.NewScheduler(),
		clock:         deps.Clock,
		newID:         deps.NewID,
		newSeed:       deps.NewSeed,
		escalateAfter: deps.ManualEscalationAfter,
		catalog:       catalog,
	}
}

// Stage appends or replaces the actor's intent list within the tenant's
// currently collecting batch, creating the batch when this is the first
// intent of a new turn. The staged batch is durable before Stage returns.
func (s *Service) Stage(ctx context.Context, tenant, actorID string, list []intent.Intent) (turn.Batch, error) {
	tenant = strings.TrimSpace(tenant)
	actorID = strings.TrimSpace(actorID)
	if tenant == "" {
		return turn.Batch{}, errors.New(errors.CodeIntentInvalid, "tenant is required")
	}
	if actorID == "" {
		return turn.Batch{}, errors.New(errors.CodeIntentInvalid, "actor id is required")
	}

	normalized := make([]intent.Intent, 0, len(list))
	for _, in := range list {
		in.ActorID = actorID
		in, err := intent.Normalize(in)
		if err != nil {
			return turn.Batch{}, err
		}
		normalized = append(normalized, in)
	}

	release := s.scheduler.Acquire(tenant)
	defer release()

	batch, err := s.store.GetOpenBatch(ctx, tenant)
	switch {
	case err == nil:
		if batch.State != turn.StateCollecting {
			return turn.Batch{}, errors.WithMetadata(errors.CodeNoActiveBatch, "turn is already past intake", map[string]string{
				"tenant": tenant,
				"state":  string(batch.State),
			})
		}
	case isNotFound(err):
		seq, err := s.store.LastSeq(ctx, tenant)
		if err != nil {
			return turn.Batch{}, errors.Wrap(errors.CodePersistenceFailure, "read last turn sequence", err)
		}
		batch = turn.NewBatch(tenant, seq+1, s.clock())
	default:
		return turn.Batch{}, errors.Wrap(errors.CodePersistenceFailure, "load open batch", err)
	}

	batch.StageActor(actorID, normalized, s.clock())

	if err := s.retryWrite(ctx, "stage intents", func() error {
		return s.store.PutBatch(ctx, batch)
	}); err != nil {
		return turn.Batch{}, err
	}
	return batch, nil
}

// CloseIntake transitions the tenant's batch from collecting to detecting.
// Calling it again once intake is closed has no additional effect.
func (s *Service) CloseIntake(ctx context.Context, tenant string) (turn.Batch, error) {
	tenant = strings.TrimSpace(tenant)

	release := s.scheduler.Acquire(tenant)
	defer release()

	batch, err := s.store.GetOpenBatch(ctx, tenant)
	if isNotFound(err) {
		return turn.Batch{}, errors.WithMetadata(errors.CodeNoActiveBatch, "no batch is collecting", map[string]string{"tenant": tenant})
	}
	if err != nil {
		return turn.Batch{}, errors.Wrap(errors.CodePersistenceFailure, "load open batch", err)
	}
	if batch.State != turn.StateCollecting {
		// Intake already closed; idempotent.
		return batch, nil
	}

	if err := batch.Transition(turn.StateDetecting, s.clock()); err != nil {
		return turn.Batch{}, err
	}
	if err := s.retryWrite(ctx, "close intake", func() error {
		return s.store.PutBatch(ctx, batch)
	}); err != nil {
		return turn.Batch{}, err
	}
	return batch, nil
}

// AbortBatch discards the tenant's batch. A batch may be aborted only while
// collecting; once detection has started, individual intents can no longer
// be withdrawn.
func (s *Service) AbortBatch(ctx context.Context, tenant string) error {
	tenant = strings.TrimSpace(tenant)

	release := s.scheduler.Acquire(tenant)
	defer release()

	batch, err := s.store.GetOpenBatch(ctx, tenant)
	if isNotFound(err) {
		return errors.WithMetadata(errors.CodeNoActiveBatch, "no batch is collecting", map[string]string{"tenant": tenant})
	}
	if err != nil {
		return errors.Wrap(errors.CodePersistenceFailure, "load open batch", err)
	}
	if batch.State != turn.StateCollecting {
		return errors.WithMetadata(errors.CodeBatchNotAbortable, "batch is past intake", map[string]string{
			"tenant": tenant,
			"state":  string(batch.State),
		})
	}

	if err := batch.Transition(turn.StateClosed, s.clock()); err != nil {
		return err
	}
	return s.retryWrite(ctx, "abort batch", func() error {
		return s.store.PutBatch(ctx, batch)
	})
}

// ResolveManually applies an arbiter decision to a suspended conflict and
// resumes the owning batch when it was the last one outstanding.
func (s *Service) ResolveManually(ctx context.Context, conflictID, outcomeType string, params conflict.ManualParams) (conflict.Conflict, error) {
	conflictID = strings.TrimSpace(conflictID)

	record, err := s.store.GetConflict(ctx, conflictID)
	if isNotFound(err) {
		return conflict.Conflict{}, errors.WithMetadata(errors.CodeUnknownConflict, "conflict is not awaiting manual resolution", map[string]string{
			"conflict_id": conflictID,
		})
	}
	if err != nil {
		return conflict.Conflict{}, errors.Wrap(errors.CodePersistenceFailure, "load conflict", err)
	}

	release := s.scheduler.Acquire(record.Tenant)
	defer release()

	// Re-read under the tenant slot; the pipeline may have advanced.
	record, err = s.store.GetConflict(ctx, conflictID)
	if isNotFound(err) {
		return conflict.Conflict{}, errors.WithMetadata(errors.CodeUnknownConflict, "conflict is not awaiting manual resolution", map[string]string{
			"conflict_id": conflictID,
		})
	}
	if err != nil {
		return conflict.Conflict{}, errors.Wrap(errors.CodePersistenceFailure, "load conflict", err)
	}

	if err := conflict.ResolveManual(&record, outcomeType, params); err != nil {
		return conflict.Conflict{}, err
	}
	if err := s.retryWrite(ctx, "record manual resolution", func() error {
		return s.store.PutConflict(ctx, record)
	}); err != nil {
		return conflict.Conflict{}, err
	}

	log.Printf("conflict resolved manually tenant=%s conflict_id=%s outcome=%s", record.Tenant, record.ID, outcomeType)

	batch, err := s.store.GetOpenBatch(ctx, record.Tenant)
	if isNotFound(err) {
		return record, nil
	}
	if err != nil {
		return conflict.Conflict{}, errors.Wrap(errors.CodePersistenceFailure, "load open batch", err)
	}
	if batch.Seq != record.BatchSeq || batch.State != turn.StateResolving {
		return record, nil
	}

	if _, err := s.advance(ctx, &batch); err != nil {
		return conflict.Conflict{}, err
	}
	return record, nil
}

// ReloadRules swaps the rule catalog atomically. Reloads are allowed only
// between turns: any batch past intake rejects the swap.
func (s *Service) ReloadRules(ctx context.Context, catalog *rules.Catalog) error {
	if catalog == nil {
		return errors.New(errors.CodeConfigValidation, "rule catalog is required")
	}
	open, err := s.store.ListOpenBatches(ctx)
	if err != nil {
		return errors.Wrap(errors.CodePersistenceFailure, "list open batches", err)
	}
	seen := make(map[string]bool, len(open))
	tenants := make([]string, 0, len(open))
	for _, batch := range open {
		if seen[batch.Tenant] {
			continue
		}
		seen[batch.Tenant] = true
		tenants = append(tenants, batch.Tenant)
	}
	sort.Strings(tenants)

	// Hold every affected tenant's slot across the swap so a concurrent
	// CloseIntake cannot move a batch past intake mid-reload. Slots are
	// taken in sorted order so two concurrent reloads cannot deadlock. A
	// tenant idle at list time may still start a fresh turn during the
	// swap; that turn resolves with whichever catalog its pipeline reads.
	releases := make([]func(), 0, len(tenants))
	defer func() {
		for _, release := range releases {
			release()
		}
	}()
	for _, tenant := range tenants {
		releases = append(releases, s.scheduler.Acquire(tenant))
		batch, err := s.store.GetOpenBatch(ctx, tenant)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return errors.Wrap(errors.CodePersistenceFailure, "load open batch", err)
		}
		if batch.State != turn.StateCollecting {
			return errors.WithMetadata(errors.CodeReloadDuringTurn, "a turn is in flight", map[string]string{
				"tenant": batch.Tenant,
				"state":  string(batch.State),
			})
		}
	}

	s.catalogMu.Lock()
	s.catalog = catalog
	s.catalogMu.Unlock()
	log.Printf("rule catalog reloaded version=%s", catalog.Version())
	return nil
}

// Recover resumes every non-terminal batch from its persisted state after a
// restart. Collecting batches stay open for intake; batches past intake
// re-run their remaining stages, and suspended conflicts keep waiting.
func (s *Service) Recover(ctx context.Context) error {
	open, err := s.store.ListOpenBatches(ctx)
	if err != nil {
		return errors.Wrap(errors.CodePersistenceFailure, "list open batches", err)
	}
	for _, batch := range open {
		if batch.State == turn.StateCollecting {
			continue
		}
		result, err := s.resumeBatch(ctx, batch.Tenant)
		if err != nil {
			return err
		}
		log.Printf("batch recovered tenant=%s seq=%d state=%s awaiting=%d",
			batch.Tenant, batch.Seq, result.Batch.State, len(result.Awaiting))
	}
	return nil
}

func (s *Service) resumeBatch(ctx context.Context, tenant string) (TurnResult, error) {
	release := s.scheduler.Acquire(tenant)
	defer release()

	batch, err := s.store.GetOpenBatch(ctx, tenant)
	if err != nil {
		return TurnResult{}, errors.Wrap(errors.CodePersistenceFailure, "load open batch", err)
	}
	return s.advance(ctx, &batch)
}

// EscalateStale re-emits the notification for conflicts that have been
// awaiting a manual decision longer than the configured escalation window.
// It never resolves anything on its own.
func (s *Service) EscalateStale(ctx context.Context) error {
	if s.escalateAfter <= 0 {
		return nil
	}
	open, err := s.store.ListOpenBatches(ctx)
	if err != nil {
		return errors.Wrap(errors.CodePersistenceFailure, "list open batches", err)
	}
	cutoff := s.clock().UTC().Add(-s.escalateAfter)
	for _, batch := range open {
		if batch.State != turn.StateResolving || batch.UpdatedAt.After(cutoff) {
			continue
		}
		records, err := s.store.ListConflicts(ctx, batch.Tenant, batch.Seq)
		if err != nil {
			return errors.Wrap(errors.CodePersistenceFailure, "list conflicts", err)
		}
		for _, record := range records {
			if record.Status != conflict.StatusAwaitingManual {
				continue
			}
			s.notify(ctx, record, "escalation: conflict still awaiting a decision")
		}
	}
	return nil
}

// Rules returns the current rule catalog.
func (s *Service) Rules() *rules.Catalog {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return s.catalog
}

func (s *Service) notify(ctx context.Context, record conflict.Conflict, summary string) {
	options := []string(nil)
	if rule, ok := s.Rules().ConflictRule(record.Type); ok {
		options = rule.ManualOptions
	}
	notice := ManualConflictNotice{
		ConflictID: record.ID,
		Tenant:     record.Tenant,
		Type:       record.Type,
		Actors:     record.Participants,
		Summary:    summary,
		Options:    options,
	}
	if err := s.notifier.NotifyManualConflict(ctx, notice); err != nil {
		// Delivery is external; the conflict stays suspended either way.
		log.Printf("notify manual conflict tenant=%s conflict_id=%s: %v", record.Tenant, record.ID, err)
	}
}

func isNotFound(err error) bool {
	return err != nil && stderrors.Is(err, storage.ErrNotFound)
}

type logNotifier struct{}

func (logNotifier) NotifyManualConflict(_ context.Context, notice ManualConflictNotice) error {
	log.Printf("manual conflict awaiting decision tenant=%s conflict_id=%s type=%s actors=%s",
		notice.Tenant, notice.ConflictID, notice.Type, strings.Join(notice.Actors, ","))
	return nil
}

type logApplier struct{}

func (logApplier) Apply(_ context.Context, record outcome.Record) error {
	log.Printf("outcome applied tenant=%s seq=%d actor=%s verdict=%s",
		record.Tenant, record.BatchSeq, record.ActorID, record.Verdict)
	return nil
}

type zeroModifiers struct{}

func (zeroModifiers) Modifiers(context.Context, string, string) (map[string]int, error) {
	return nil, nil
}
