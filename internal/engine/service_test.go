package engine

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openguild/turnengine/internal/engine/conflict"
	"github.com/openguild/turnengine/internal/engine/intent"
	"github.com/openguild/turnengine/internal/engine/outcome"
	"github.com/openguild/turnengine/internal/engine/rules"
	"github.com/openguild/turnengine/internal/engine/turn"
	"github.com/openguild/turnengine/internal/platform/errors"
	"github.com/openguild/turnengine/internal/storage"
	"github.com/openguild/turnengine/internal/storage/sqlite"
)

const testCatalog = `
version: "1"
checks:
  athletics:
    formula: 1d20
    affected_by_stats: [strength]
    opposed_check_type: athletics
action_conflicts:
  - type: contested_move
    intent_kinds: [move]
    group_by: target_space
    mode: auto
    check_type: athletics
  - type: contested_pickup
    intent_kinds: [pickup]
    group_by: item_id
    mode: manual
    manual_resolution_options: [actor_wins, target_wins, custom_outcome]
`

type recordingNotifier struct {
	notices []ManualConflictNotice
}

func (n *recordingNotifier) NotifyManualConflict(_ context.Context, notice ManualConflictNotice) error {
	n.notices = append(n.notices, notice)
	return nil
}

type recordingApplier struct {
	records []outcome.Record
	failOn  string
}

func (a *recordingApplier) Apply(_ context.Context, record outcome.Record) error {
	if a.failOn != "" && record.ActorID == a.failOn {
		return stderrors.New("world state unavailable")
	}
	a.records = append(a.records, record)
	return nil
}

func (a *recordingApplier) verdictOf(actorID string) (conflict.Verdict, bool) {
	for _, record := range a.records {
		if record.ActorID == actorID {
			return record.Verdict, true
		}
	}
	return "", false
}

type testHarness struct {
	service  *Service
	store    *sqlite.Store
	notifier *recordingNotifier
	applier  *recordingApplier
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return newHarnessAt(t, filepath.Join(t.TempDir(), "engine.db"))
}

func newHarnessAt(t *testing.T, dbPath string) *testHarness {
	t.Helper()
	catalog, err := rules.Load(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	notifier := &recordingNotifier{}
	applier := &recordingApplier{}
	service := New(store, catalog, Deps{Notifier: notifier, Applier: applier})
	return &testHarness{service: service, store: store, notifier: notifier, applier: applier}
}

func moveIntent(actorID, space string) intent.Intent {
	return intent.Intent{ActorID: actorID, Kind: "move", Parameters: map[string]string{"target_space": space}}
}

func pickupIntent(actorID, itemID string) intent.Intent {
	return intent.Intent{ActorID: actorID, Kind: "pickup", Parameters: map[string]string{"item_id": itemID}}
}

func TestStageCreatesBatchAndReplacesIntents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	batch, err := h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{moveIntent("p1", "c3")})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if batch.Seq != 1 || batch.State != turn.StateCollecting {
		t.Fatalf("batch = %+v", batch)
	}

	batch, err = h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{moveIntent("p1", "d4")})
	if err != nil {
		t.Fatalf("restage: %v", err)
	}
	if got := len(batch.Intents["p1"]); got != 1 {
		t.Fatalf("staged = %d, want the replacement list of 1", got)
	}
	if got := batch.Intents["p1"][0].Parameter("target_space"); got != "d4" {
		t.Fatalf("target_space = %q, want d4", got)
	}

	// The staged batch is durable before Stage returns.
	persisted, err := h.store.GetOpenBatch(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get persisted batch: %v", err)
	}
	if persisted.IntentCount() != 1 {
		t.Fatalf("persisted intents = %d, want 1", persisted.IntentCount())
	}
}

func TestStageRejectedOnceIntakeCloses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{moveIntent("p1", "c3")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := h.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}

	_, err := h.service.Stage(ctx, "tenant-1", "p2", []intent.Intent{moveIntent("p2", "c3")})
	if code := errors.CodeOf(err); code != errors.CodeNoActiveBatch {
		t.Fatalf("stage after close error = %v, want %s", err, errors.CodeNoActiveBatch)
	}
}

func TestCloseIntakeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{moveIntent("p1", "c3")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	first, err := h.service.CloseIntake(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("close intake: %v", err)
	}
	second, err := h.service.CloseIntake(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("repeat close intake: %v", err)
	}
	if first.State != turn.StateDetecting || second.State != turn.StateDetecting {
		t.Fatalf("states = %s then %s, want detecting both times", first.State, second.State)
	}
}

func TestAbortBatchOnlyWhileCollecting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{moveIntent("p1", "c3")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := h.service.AbortBatch(ctx, "tenant-1"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := h.store.GetOpenBatch(ctx, "tenant-1"); !stderrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("open batch after abort = %v, want ErrNotFound", err)
	}

	// A new batch past intake can no longer be aborted.
	if _, err := h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{moveIntent("p1", "c3")}); err != nil {
		t.Fatalf("restage: %v", err)
	}
	if _, err := h.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}
	err := h.service.AbortBatch(ctx, "tenant-1")
	if code := errors.CodeOf(err); code != errors.CodeBatchNotAbortable {
		t.Fatalf("abort past intake error = %v, want %s", err, errors.CodeBatchNotAbortable)
	}
}

func TestRunTurnResolvesContestedMove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, in := range []intent.Intent{moveIntent("p1", "c3"), moveIntent("p2", "c3"), moveIntent("p3", "b7")} {
		if _, err := h.service.Stage(ctx, "tenant-1", in.ActorID, []intent.Intent{in}); err != nil {
			t.Fatalf("stage %s: %v", in.ActorID, err)
		}
	}
	if _, err := h.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}

	result, err := h.service.RunTurn(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if result.Suspended() {
		t.Fatalf("auto-only batch suspended on %v", result.Awaiting)
	}
	if result.Batch.State != turn.StateClosed {
		t.Fatalf("batch state = %s, want closed", result.Batch.State)
	}

	conflicts, err := h.store.ListConflicts(ctx, "tenant-1", 1)
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Status != conflict.StatusAutoResolved {
		t.Fatalf("conflicts = %+v", conflicts)
	}
	winner := conflicts[0].Outcome.Winner

	// Exactly one contested mover succeeds and the other fails.
	for _, actorID := range []string{"p1", "p2"} {
		verdict, ok := h.applier.verdictOf(actorID)
		if !ok {
			t.Fatalf("no outcome applied for %s", actorID)
		}
		want := conflict.VerdictFailed
		if actorID == winner {
			want = conflict.VerdictSucceeded
		}
		if verdict != want {
			t.Fatalf("verdict[%s] = %s, want %s", actorID, verdict, want)
		}
	}

	// The uncontested mover succeeds without any check.
	verdict, ok := h.applier.verdictOf("p3")
	if !ok || verdict != conflict.VerdictSucceeded {
		t.Fatalf("verdict[p3] = %s ok=%v, want uncontested success", verdict, ok)
	}

	unacked, err := h.store.ListUnackedOutcomes(ctx, "tenant-1", 1)
	if err != nil {
		t.Fatalf("list unacked: %v", err)
	}
	if len(unacked) != 0 {
		t.Fatalf("unacked outcomes = %d, want 0 after close", len(unacked))
	}
}

func TestRunTurnSuspendsOnManualConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, in := range []intent.Intent{pickupIntent("p1", "crown"), pickupIntent("p2", "crown")} {
		if _, err := h.service.Stage(ctx, "tenant-1", in.ActorID, []intent.Intent{in}); err != nil {
			t.Fatalf("stage %s: %v", in.ActorID, err)
		}
	}
	if _, err := h.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}

	result, err := h.service.RunTurn(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if !result.Suspended() || len(result.Awaiting) != 1 {
		t.Fatalf("result = %+v, want one awaiting conflict", result)
	}
	if result.Batch.State != turn.StateResolving {
		t.Fatalf("batch state = %s, want resolving while suspended", result.Batch.State)
	}

	// Nothing may be applied while a conflict is awaiting an arbiter.
	if len(h.applier.records) != 0 {
		t.Fatalf("applied records = %d, want 0 while suspended", len(h.applier.records))
	}
	if len(h.notifier.notices) != 1 {
		t.Fatalf("notices = %d, want 1", len(h.notifier.notices))
	}
	notice := h.notifier.notices[0]
	if notice.ConflictID != result.Awaiting[0] || notice.Type != "contested_pickup" {
		t.Fatalf("notice = %+v", notice)
	}
	if len(notice.Options) != 3 {
		t.Fatalf("notice options = %v, want the rule's manual options", notice.Options)
	}

	// Re-running must not resolve, re-notify, or advance anything.
	again, err := h.service.RunTurn(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("re-run turn: %v", err)
	}
	if !again.Suspended() || len(h.notifier.notices) != 1 {
		t.Fatalf("re-run result = %+v, notices = %d", again, len(h.notifier.notices))
	}
}

func TestResolveManuallyCompletesSuspendedTurn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, in := range []intent.Intent{pickupIntent("p1", "crown"), pickupIntent("p2", "crown")} {
		if _, err := h.service.Stage(ctx, "tenant-1", in.ActorID, []intent.Intent{in}); err != nil {
			t.Fatalf("stage %s: %v", in.ActorID, err)
		}
	}
	if _, err := h.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}
	result, err := h.service.RunTurn(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}

	record, err := h.service.ResolveManually(ctx, result.Awaiting[0], conflict.OutcomeActorWins, conflict.ManualParams{WinnerActorID: "p1"})
	if err != nil {
		t.Fatalf("resolve manually: %v", err)
	}
	if record.Status != conflict.StatusManuallyResolved {
		t.Fatalf("conflict status = %s, want %s", record.Status, conflict.StatusManuallyResolved)
	}

	if verdict, _ := h.applier.verdictOf("p1"); verdict != conflict.VerdictSucceeded {
		t.Fatalf("verdict[p1] = %s, want %s", verdict, conflict.VerdictSucceeded)
	}
	if verdict, _ := h.applier.verdictOf("p2"); verdict != conflict.VerdictFailed {
		t.Fatalf("verdict[p2] = %s, want %s", verdict, conflict.VerdictFailed)
	}

	// The batch resumed and closed once its last conflict resolved.
	if _, err := h.store.GetOpenBatch(ctx, "tenant-1"); !stderrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("open batch after resolution = %v, want ErrNotFound", err)
	}
}

func TestResolveManuallyRejectsUnknownOrPendingConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.ResolveManually(ctx, "ghost", conflict.OutcomeActorWins, conflict.ManualParams{})
	if code := errors.CodeOf(err); code != errors.CodeUnknownConflict {
		t.Fatalf("unknown conflict error = %v, want %s", err, errors.CodeUnknownConflict)
	}
}

func TestRunTurnRequiresClosedIntake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.RunTurn(ctx, "tenant-1")
	if code := errors.CodeOf(err); code != errors.CodeNoActiveBatch {
		t.Fatalf("no batch error = %v, want %s", err, errors.CodeNoActiveBatch)
	}

	if _, err := h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{moveIntent("p1", "c3")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	_, err = h.service.RunTurn(ctx, "tenant-1")
	if code := errors.CodeOf(err); code != errors.CodeInvalidStateTransition {
		t.Fatalf("open intake error = %v, want %s", err, errors.CodeInvalidStateTransition)
	}
}

func TestRunTurnResumesAfterApplierOutage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, in := range []intent.Intent{moveIntent("p1", "c3"), moveIntent("p2", "d4")} {
		if _, err := h.service.Stage(ctx, "tenant-1", in.ActorID, []intent.Intent{in}); err != nil {
			t.Fatalf("stage %s: %v", in.ActorID, err)
		}
	}
	if _, err := h.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}

	h.applier.failOn = "p2"
	if _, err := h.service.RunTurn(ctx, "tenant-1"); err == nil {
		t.Fatal("expected an applier failure")
	}

	// The batch stays in applying and a later run picks up where it left
	// off without re-applying p1's acknowledged record.
	batch, err := h.store.GetOpenBatch(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get open batch: %v", err)
	}
	if batch.State != turn.StateApplying {
		t.Fatalf("batch state = %s, want applying", batch.State)
	}

	h.applier.failOn = ""
	result, err := h.service.RunTurn(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if result.Batch.State != turn.StateClosed {
		t.Fatalf("batch state = %s, want closed", result.Batch.State)
	}

	applied := map[string]int{}
	for _, record := range h.applier.records {
		applied[record.ActorID]++
	}
	if applied["p1"] != 1 || applied["p2"] != 1 {
		t.Fatalf("applied = %v, want each actor exactly once", applied)
	}
}

func TestRecoverResumesSuspendedBatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	ctx := context.Background()

	first := newHarnessAt(t, dbPath)
	for _, in := range []intent.Intent{pickupIntent("p1", "crown"), pickupIntent("p2", "crown")} {
		if _, err := first.service.Stage(ctx, "tenant-1", in.ActorID, []intent.Intent{in}); err != nil {
			t.Fatalf("stage %s: %v", in.ActorID, err)
		}
	}
	if _, err := first.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}
	result, err := first.service.RunTurn(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if err := first.store.Close(); err != nil {
		t.Fatalf("simulate crash: %v", err)
	}

	second := newHarnessAt(t, dbPath)
	if err := second.service.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	// The suspended conflict survived the restart and still blocks the batch.
	batch, err := second.store.GetOpenBatch(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get open batch: %v", err)
	}
	if batch.State != turn.StateResolving {
		t.Fatalf("batch state = %s, want resolving after recovery", batch.State)
	}

	if _, err := second.service.ResolveManually(ctx, result.Awaiting[0], conflict.OutcomeBothFail, conflict.ManualParams{}); err != nil {
		t.Fatalf("resolve after recovery: %v", err)
	}
	if _, err := second.store.GetOpenBatch(ctx, "tenant-1"); !stderrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("open batch after resolution = %v, want ErrNotFound", err)
	}
}

func TestReloadRulesOnlyBetweenTurns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	replacement, err := rules.Load(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("load replacement: %v", err)
	}

	// Collecting batches do not block a reload.
	if _, err := h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{pickupIntent("p1", "crown")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := h.service.ReloadRules(ctx, replacement); err != nil {
		t.Fatalf("reload while collecting: %v", err)
	}

	if _, err := h.service.Stage(ctx, "tenant-1", "p2", []intent.Intent{pickupIntent("p2", "crown")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := h.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}
	result, err := h.service.RunTurn(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}

	err = h.service.ReloadRules(ctx, replacement)
	if code := errors.CodeOf(err); code != errors.CodeReloadDuringTurn {
		t.Fatalf("mid-turn reload error = %v, want %s", err, errors.CodeReloadDuringTurn)
	}

	if _, err := h.service.ResolveManually(ctx, result.Awaiting[0], conflict.OutcomeBothFail, conflict.ManualParams{}); err != nil {
		t.Fatalf("resolve manually: %v", err)
	}
	if err := h.service.ReloadRules(ctx, replacement); err != nil {
		t.Fatalf("reload between turns: %v", err)
	}
}

func TestEscalateStaleRenotifiesSuspendedConflicts(t *testing.T) {
	ctx := context.Background()
	catalog, err := rules.Load(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	service := New(store, catalog, Deps{
		Notifier:              notifier,
		Clock:                 func() time.Time { return now },
		ManualEscalationAfter: time.Hour,
	})

	for _, in := range []intent.Intent{pickupIntent("p1", "crown"), pickupIntent("p2", "crown")} {
		if _, err := service.Stage(ctx, "tenant-1", in.ActorID, []intent.Intent{in}); err != nil {
			t.Fatalf("stage %s: %v", in.ActorID, err)
		}
	}
	if _, err := service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}
	if _, err := service.RunTurn(ctx, "tenant-1"); err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if len(notifier.notices) != 1 {
		t.Fatalf("notices = %d, want the initial notification", len(notifier.notices))
	}

	// Inside the window nothing escalates.
	now = now.Add(30 * time.Minute)
	if err := service.EscalateStale(ctx); err != nil {
		t.Fatalf("escalate inside window: %v", err)
	}
	if len(notifier.notices) != 1 {
		t.Fatalf("notices = %d, want no escalation yet", len(notifier.notices))
	}

	now = now.Add(time.Hour)
	if err := service.EscalateStale(ctx); err != nil {
		t.Fatalf("escalate past window: %v", err)
	}
	if len(notifier.notices) != 2 {
		t.Fatalf("notices = %d, want a re-notification", len(notifier.notices))
	}
}

// conflictVanishingStore drops the conflict after its first read, standing in
// for a pipeline that finishes the batch between the discovery read and the
// re-read under the tenant slot.
type conflictVanishingStore struct {
	storage.Store
	reads int
}

func (s *conflictVanishingStore) GetConflict(ctx context.Context, id string) (conflict.Conflict, error) {
	s.reads++
	if s.reads > 1 {
		return conflict.Conflict{}, storage.ErrNotFound
	}
	return s.Store.GetConflict(ctx, id)
}

func TestResolveManuallyConflictGoneOnSlotReread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, in := range []intent.Intent{pickupIntent("p1", "crown"), pickupIntent("p2", "crown")} {
		if _, err := h.service.Stage(ctx, "tenant-1", in.ActorID, []intent.Intent{in}); err != nil {
			t.Fatalf("stage %s: %v", in.ActorID, err)
		}
	}
	if _, err := h.service.CloseIntake(ctx, "tenant-1"); err != nil {
		t.Fatalf("close intake: %v", err)
	}
	result, err := h.service.RunTurn(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if !result.Suspended() {
		t.Fatalf("result = %+v, want a suspended conflict", result)
	}

	// Losing the conflict between the two reads is caller-visible misuse,
	// not a store outage.
	racing := New(&conflictVanishingStore{Store: h.store}, h.service.Rules(), Deps{})
	_, err = racing.ResolveManually(ctx, result.Awaiting[0], conflict.OutcomeActorWins, conflict.ManualParams{})
	if code := errors.CodeOf(err); code != errors.CodeUnknownConflict {
		t.Fatalf("vanished-conflict error = %v, want %s", err, errors.CodeUnknownConflict)
	}
}

// intakeClosingStore reports every collecting batch as already detecting,
// standing in for a CloseIntake that lands between the open-batch listing and
// the recheck under the tenant slot.
type intakeClosingStore struct {
	storage.Store
}

func (s *intakeClosingStore) GetOpenBatch(ctx context.Context, tenant string) (turn.Batch, error) {
	batch, err := s.Store.GetOpenBatch(ctx, tenant)
	if err == nil && batch.State == turn.StateCollecting {
		batch.State = turn.StateDetecting
	}
	return batch, err
}

func TestReloadRulesRechecksBatchesUnderTenantSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.service.Stage(ctx, "tenant-1", "p1", []intent.Intent{pickupIntent("p1", "crown")}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	replacement, err := rules.Load(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("load replacement: %v", err)
	}

	racing := New(&intakeClosingStore{Store: h.store}, h.service.Rules(), Deps{})
	err = racing.ReloadRules(ctx, replacement)
	if code := errors.CodeOf(err); code != errors.CodeReloadDuringTurn {
		t.Fatalf("racing reload error = %v, want %s", err, errors.CodeReloadDuringTurn)
	}
}
