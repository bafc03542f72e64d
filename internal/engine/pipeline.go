package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openguild/turnengine/internal/engine/conflict"
	"github.com/openguild/turnengine/internal/engine/intent"
	"github.com/openguild/turnengine/internal/engine/outcome"
	"github.com/openguild/turnengine/internal/engine/rules"
	"github.com/openguild/turnengine/internal/engine/turn"
	"github.com/openguild/turnengine/internal/platform/errors"
	"github.com/openguild/turnengine/internal/platform/timeouts"
)

var tracer = otel.Tracer("github.com/openguild/turnengine/internal/engine")

// TurnResult reports where a pipeline run left the batch. When Awaiting is
// non-empty the batch is suspended in resolving and lists the conflict ids
// still waiting for an arbiter.
type TurnResult struct {
	Batch    turn.Batch
	Awaiting []string
}

// Suspended reports whether the turn stopped for manual resolution.
func (r TurnResult) Suspended() bool {
	return len(r.Awaiting) > 0
}

// RunTurn drives the tenant's batch through detection, resolution, and
// application until the batch reaches a terminal state or suspends on a
// manual conflict. Intake must already be closed.
func (s *Service) RunTurn(ctx context.Context, tenant string) (TurnResult, error) {
	release := s.scheduler.Acquire(tenant)
	defer release()

	batch, err := s.store.GetOpenBatch(ctx, tenant)
	if isNotFound(err) {
		return TurnResult{}, errors.WithMetadata(errors.CodeNoActiveBatch, "no batch to run", map[string]string{"tenant": tenant})
	}
	if err != nil {
		return TurnResult{}, errors.Wrap(errors.CodePersistenceFailure, "load open batch", err)
	}
	if batch.State == turn.StateCollecting {
		return TurnResult{}, errors.WithMetadata(errors.CodeInvalidStateTransition, "intake is still open", map[string]string{
			"tenant": tenant,
			"seq":    fmt.Sprintf("%d", batch.Seq),
		})
	}
	return s.advance(ctx, &batch)
}

// advance runs the remaining stages of a batch already past intake. The
// caller must hold the tenant's scheduler slot.
func (s *Service) advance(ctx context.Context, batch *turn.Batch) (TurnResult, error) {
	catalog := s.Rules()

	for {
		switch batch.State {
		case turn.StateDetecting:
			if err := s.runDetection(ctx, catalog, batch); err != nil {
				return TurnResult{}, s.failBatch(ctx, batch, err)
			}

		case turn.StateResolving:
			awaiting, err := s.runResolution(ctx, catalog, batch)
			if err != nil {
				return TurnResult{}, s.failBatch(ctx, batch, err)
			}
			if len(awaiting) > 0 {
				return TurnResult{Batch: *batch, Awaiting: awaiting}, nil
			}

		case turn.StateApplying:
			if err := s.runApplication(ctx, batch); err != nil {
				// Application retries from persisted outcome records on the
				// next run; the batch stays in applying.
				return TurnResult{}, err
			}

		case turn.StateClosed, turn.StateFailed:
			return TurnResult{Batch: *batch}, nil

		default:
			return TurnResult{}, errors.WithMetadata(errors.CodeInvalidStateTransition, "batch is in an unexpected state", map[string]string{
				"tenant": batch.Tenant,
				"state":  string(batch.State),
			})
		}
	}
}

// failBatch marks the batch failed when the stage error is a configuration
// defect. Persistence and applier errors leave the batch in place so a later
// run can resume it.
func (s *Service) failBatch(ctx context.Context, batch *turn.Batch, cause error) error {
	switch errors.CodeOf(cause) {
	case errors.CodeConfigValidation, errors.CodeDiceInvalidFormula:
	default:
		return cause
	}

	if err := batch.Transition(turn.StateFailed, s.clock()); err != nil {
		return cause
	}
	if err := s.retryWrite(ctx, "mark batch failed", func() error {
		return s.store.PutBatch(ctx, *batch)
	}); err != nil {
		return err
	}
	log.Printf("turn failed tenant=%s seq=%d: %v", batch.Tenant, batch.Seq, cause)
	return errors.Wrap(errors.CodeTurnFailed, "turn abandoned on a rule defect", cause)
}

func (s *Service) runDetection(ctx context.Context, catalog *rules.Catalog, batch *turn.Batch) error {
	ctx, span := tracer.Start(ctx, "turn.detect")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", batch.Tenant),
		attribute.Int64("seq", int64(batch.Seq)),
		attribute.Int("intents", batch.IntentCount()),
	)

	detection, err := conflict.Detect(catalog, batch, s.newID)
	if err != nil {
		return err
	}
	for _, record := range detection.Conflicts {
		if err := s.retryWrite(ctx, "record conflict", func() error {
			return s.store.PutConflict(ctx, record)
		}); err != nil {
			return err
		}
	}
	span.SetAttributes(attribute.Int("conflicts", len(detection.Conflicts)))
	log.Printf("conflicts detected tenant=%s seq=%d count=%d", batch.Tenant, batch.Seq, len(detection.Conflicts))

	if err := batch.Transition(turn.StateResolving, s.clock()); err != nil {
		return err
	}
	return s.retryWrite(ctx, "advance to resolving", func() error {
		return s.store.PutBatch(ctx, *batch)
	})
}

// runResolution resolves every pending conflict of the batch. It returns the
// ids of conflicts suspended for manual resolution; when none remain the
// batch advances to applying.
func (s *Service) runResolution(ctx context.Context, catalog *rules.Catalog, batch *turn.Batch) ([]string, error) {
	ctx, span := tracer.Start(ctx, "turn.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", batch.Tenant),
		attribute.Int64("seq", int64(batch.Seq)),
	)

	records, err := s.store.ListConflicts(ctx, batch.Tenant, batch.Seq)
	if err != nil {
		return nil, errors.Wrap(errors.CodePersistenceFailure, "list conflicts", err)
	}

	var awaiting []string
	for i := range records {
		record := &records[i]
		switch record.Status {
		case conflict.StatusAwaitingManual:
			awaiting = append(awaiting, record.ID)
			continue
		case conflict.StatusAutoResolved, conflict.StatusManuallyResolved:
			continue
		}

		rule, ok := catalog.ConflictRule(record.Type)
		if !ok {
			return nil, errors.WithMetadata(errors.CodeConfigValidation, "conflict references an unknown rule", map[string]string{
				"type": record.Type,
			})
		}

		if rule.Mode == rules.ModeManual {
			record.Status = conflict.StatusAwaitingManual
			if err := s.retryWrite(ctx, "suspend conflict", func() error {
				return s.store.PutConflict(ctx, *record)
			}); err != nil {
				return nil, err
			}
			awaiting = append(awaiting, record.ID)
			s.notify(ctx, *record, "conflict requires a manual decision")
			continue
		}

		seed, err := s.newSeed()
		if err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewSource(seed))
		if err := conflict.ResolveAuto(rng, catalog, record, s.modifierLookup(ctx, batch.Tenant)); err != nil {
			return nil, err
		}
		if err := s.retryWrite(ctx, "record auto resolution", func() error {
			return s.store.PutConflict(ctx, *record)
		}); err != nil {
			return nil, err
		}
		log.Printf("conflict auto-resolved tenant=%s conflict_id=%s winner=%s",
			record.Tenant, record.ID, record.Outcome.Winner)
	}
	span.SetAttributes(attribute.Int("awaiting_manual", len(awaiting)))

	if len(awaiting) > 0 {
		return awaiting, nil
	}

	if err := batch.Transition(turn.StateApplying, s.clock()); err != nil {
		return nil, err
	}
	return nil, s.retryWrite(ctx, "advance to applying", func() error {
		return s.store.PutBatch(ctx, *batch)
	})
}

// runApplication emits one outcome record per staged intent and hands each
// to the applier exactly once. Record ids are deterministic per staged slot,
// so a crash mid-apply resumes without duplicating acknowledged records.
func (s *Service) runApplication(ctx context.Context, batch *turn.Batch) error {
	ctx, span := tracer.Start(ctx, "turn.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", batch.Tenant),
		attribute.Int64("seq", int64(batch.Seq)),
	)

	records, err := s.store.ListConflicts(ctx, batch.Tenant, batch.Seq)
	if err != nil {
		return errors.Wrap(errors.CodePersistenceFailure, "list conflicts", err)
	}
	for _, record := range records {
		if !record.Status.Resolved() {
			return errors.WithMetadata(errors.CodeInvalidStateTransition, "unresolved conflict reached application", map[string]string{
				"conflict_id": record.ID,
			})
		}
	}
	verdicts := verdictIndex(records)

	applied := 0
	for _, actorID := range batch.ActorIDs() {
		for index, in := range batch.Intents[actorID] {
			rec := outcome.Record{
				ID:       fmt.Sprintf("%s/%d/%s/%d", batch.Tenant, batch.Seq, actorID, index),
				Tenant:   batch.Tenant,
				BatchSeq: batch.Seq,
				ActorID:  actorID,
				Intent:   in,
				Verdict:  conflict.VerdictSucceeded,
				Effects:  []conflict.Effect{{ActorID: actorID, Kind: conflict.EffectApplyIntent}},
			}
			if v, ok := verdicts.lookup(actorID, in); ok {
				rec.Verdict = v.verdict
				rec.Effects = v.effects
			}

			acked, err := s.store.IsOutcomeAcked(ctx, rec.ID)
			if err != nil {
				return errors.Wrap(errors.CodePersistenceFailure, "check outcome ack", err)
			}
			if acked {
				continue
			}
			if err := s.retryWrite(ctx, "record outcome", func() error {
				return s.store.PutOutcome(ctx, rec)
			}); err != nil {
				return err
			}
			if err := s.applier.Apply(ctx, rec); err != nil {
				// The applier is retryable: the batch stays in applying and
				// a later run resumes from the unacked records.
				return errors.Wrap(errors.CodePersistenceFailure, "apply outcome", err)
			}
			if err := s.retryWrite(ctx, "acknowledge outcome", func() error {
				return s.store.MarkOutcomeAcked(ctx, rec.ID, s.clock())
			}); err != nil {
				return err
			}
			applied++
		}
	}
	span.SetAttributes(attribute.Int("applied", applied))
	log.Printf("outcomes applied tenant=%s seq=%d count=%d", batch.Tenant, batch.Seq, applied)

	if err := batch.Transition(turn.StateClosed, s.clock()); err != nil {
		return err
	}
	return s.retryWrite(ctx, "close batch", func() error {
		return s.store.PutBatch(ctx, *batch)
	})
}

// intentVerdict is a contested intent's resolved result.
type intentVerdict struct {
	verdict conflict.Verdict
	effects []conflict.Effect
}

// verdictMap keys contested intents by actor id and intent fingerprint.
type verdictMap map[string]map[string]intentVerdict

func (m verdictMap) lookup(actorID string, in intent.Intent) (intentVerdict, bool) {
	v, ok := m[actorID][fingerprint(in)]
	return v, ok
}

// verdictIndex maps each conflict's snapshotted intents back to per-intent
// verdicts and effects. Conflict-level effects attach to the participant's
// first snapshotted intent; effects without an actor go to the first
// participant.
func verdictIndex(records []conflict.Conflict) verdictMap {
	index := verdictMap{}
	for _, record := range records {
		if record.Outcome == nil {
			continue
		}
		effectsByActor := map[string][]conflict.Effect{}
		for _, effect := range record.Outcome.Effects {
			actorID := effect.ActorID
			if actorID == "" && len(record.Participants) > 0 {
				actorID = record.Participants[0]
			}
			effectsByActor[actorID] = append(effectsByActor[actorID], effect)
		}

		carried := map[string]bool{}
		for _, in := range record.Intents {
			if index[in.ActorID] == nil {
				index[in.ActorID] = map[string]intentVerdict{}
			}
			fp := fingerprint(in)
			if _, exists := index[in.ActorID][fp]; exists {
				continue
			}
			v := intentVerdict{verdict: record.Outcome.Results[in.ActorID]}
			if !carried[in.ActorID] {
				carried[in.ActorID] = true
				v.effects = effectsByActor[in.ActorID]
			}
			index[in.ActorID][fp] = v
		}
	}
	return index
}

// fingerprint identifies an intent by value. JSON encoding sorts parameter
// keys, so equal intents always share a fingerprint.
func fingerprint(in intent.Intent) string {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Sprintf("%s/%s", in.ActorID, in.Kind)
	}
	return string(raw)
}

// modifierLookup adapts the modifier source to the resolver's callback,
// swallowing lookup failures into zero modifiers.
func (s *Service) modifierLookup(ctx context.Context, tenant string) func(actorID string) map[string]int {
	return func(actorID string) map[string]int {
		mods, err := s.modifiers.Modifiers(ctx, tenant, actorID)
		if err != nil {
			log.Printf("modifier lookup tenant=%s actor=%s: %v", tenant, actorID, err)
			return nil
		}
		return mods
	}
}

// retryWrite retries a durable write with exponential backoff before giving
// up with a persistence failure. Pipeline stages treat the store as flaky
// within the budget and unavailable past it.
func (s *Service) retryWrite(ctx context.Context, op string, write func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, write()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeouts.PersistRetry),
	)
	if err != nil {
		return errors.Wrap(errors.CodePersistenceFailure, op, err)
	}
	return nil
}
