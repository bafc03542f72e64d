package conflict

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/openguild/turnengine/internal/core/check"
	"github.com/openguild/turnengine/internal/engine/rules"
	"github.com/openguild/turnengine/internal/platform/errors"
)

// Manual outcome types accepted by ResolveManual.
const (
	OutcomeActorWins           = "actor_wins"
	OutcomeTargetWins          = "target_wins"
	OutcomeBothSucceedModified = "both_succeed_modified"
	OutcomeBothFail            = "both_fail"
	OutcomeCustom              = "custom_outcome"
)

// ManualParams carries the arbiter's decision details.
type ManualParams struct {
	// WinnerActorID selects the winner for actor_wins/target_wins when the
	// default (first/second participant) is not intended.
	WinnerActorID string
	// Effects is required for custom_outcome and applied verbatim.
	Effects []Effect
	// Description optionally overrides the generated summary.
	Description string
}

// ResolveAuto decides the conflict with its rule's configured check and
// moves it to auto_resolved.
//
// Two participants resolve as an opposed check when the rule's check names
// an opposing side, or as a single check against the fixed difficulty class
// with the second participant as defender. More than two participants
// resolve as a symmetric contest on the same check. The winner's intent
// succeeds and every loser's intent fails, unless the rule's tie fallback
// turns an exact tie into both_succeed_modified.
func ResolveAuto(rng *rand.Rand, catalog *rules.Catalog, c *Conflict, modifiers func(actorID string) map[string]int) error {
	if c.Status != StatusIdentified {
		return errors.WithMetadata(errors.CodeUnknownConflict, "conflict is not pending auto resolution", map[string]string{
			"conflict_id": c.ID,
			"status":      string(c.Status),
		})
	}
	rule, ok := catalog.ConflictRule(c.Type)
	if !ok || rule.Mode != rules.ModeAuto {
		return errors.WithMetadata(errors.CodeConfigValidation, "conflict type has no auto rule", map[string]string{
			"type": c.Type,
		})
	}
	def, ok := catalog.Check(rule.CheckType)
	if !ok {
		return errors.WithMetadata(errors.CodeConfigValidation, "conflict rule check is missing", map[string]string{
			"type":  c.Type,
			"check": rule.CheckType,
		})
	}
	if len(c.Participants) < 2 {
		return errors.New(errors.CodeUnknownConflict, "conflict needs at least two participants")
	}
	if modifiers == nil {
		modifiers = func(string) map[string]int { return nil }
	}

	outcome, err := runAutoCheck(rng, catalog, rule, def, c, modifiers)
	if err != nil {
		return err
	}

	c.Outcome = outcome
	c.Status = StatusAutoResolved
	return nil
}

func runAutoCheck(rng *rand.Rand, catalog *rules.Catalog, rule rules.ConflictRule, def check.Definition, c *Conflict, modifiers func(string) map[string]int) (*Outcome, error) {
	switch {
	case def.OpposedCheckType != "" && len(c.Participants) == 2:
		opposing, ok := catalog.Check(def.OpposedCheckType)
		if !ok {
			return nil, errors.WithMetadata(errors.CodeConfigValidation, "opposed check is missing", map[string]string{
				"check": def.OpposedCheckType,
			})
		}
		if rule.Tie == rules.TieBothSucceedModified {
			// The fallback fires on the first tie, so both sides roll
			// exactly once instead of entering the re-roll loop. Crits
			// still decide first: a one-sided crit never falls back and
			// never loses to a bigger modifier.
			a := check.Resolve(rng, def, modifiers(c.Participants[0]), 0)
			b := check.Resolve(rng, opposing, modifiers(c.Participants[1]), 0)
			if decided, w := check.CritDecision(a, b); decided {
				return winnerOutcome(c, c.Participants[w], fmt.Sprintf("%d vs %d", a.Total, b.Total)), nil
			}
			if a.Total == b.Total {
				return bothModifiedOutcome(c), nil
			}
			winnerID := c.Participants[0]
			if b.Total > a.Total {
				winnerID = c.Participants[1]
			}
			return winnerOutcome(c, winnerID, fmt.Sprintf("%d vs %d", a.Total, b.Total)), nil
		}
		winner, a, b := check.ResolveOpposed(rng, def, opposing, modifiers(c.Participants[0]), modifiers(c.Participants[1]))
		return winnerOutcome(c, c.Participants[winner], fmt.Sprintf("%d vs %d", a.Total, b.Total)), nil

	case def.OpposedCheckType == "" && def.BaseDC != nil && len(c.Participants) == 2:
		// The rule designates the second participant as defender: the
		// first rolls against the fixed difficulty class.
		result := check.Resolve(rng, def, modifiers(c.Participants[0]), *def.BaseDC)
		winnerID := c.Participants[1]
		if result.Success {
			winnerID = c.Participants[0]
		}
		return winnerOutcome(c, winnerID, fmt.Sprintf("%d vs DC %d", result.Total, result.DC)), nil

	default:
		mods := make([]map[string]int, len(c.Participants))
		for i, actorID := range c.Participants {
			mods[i] = modifiers(actorID)
		}
		if rule.Tie == rules.TieBothSucceedModified {
			results := make([]check.Result, len(mods))
			for i := range mods {
				results[i] = check.Resolve(rng, def, mods[i], 0)
			}
			// Crit elimination runs before the tie test, same as in
			// ResolveContest: a lone critical success wins outright.
			contenders := check.Contenders(results)
			tied := topTied(results, contenders)
			if len(tied) > 1 {
				return topModifiedOutcome(c, tied), nil
			}
			return winnerOutcome(c, c.Participants[tied[0]], contestSummary(results)), nil
		}
		winner, results := check.ResolveContest(rng, def, mods)
		return winnerOutcome(c, c.Participants[winner], contestSummary(results)), nil
	}
}

// topTied returns the contender indices tied at the highest total.
func topTied(results []check.Result, contenders []int) []int {
	top := results[contenders[0]].Total
	for _, i := range contenders[1:] {
		if results[i].Total > top {
			top = results[i].Total
		}
	}
	var tied []int
	for _, i := range contenders {
		if results[i].Total == top {
			tied = append(tied, i)
		}
	}
	return tied
}

// topModifiedOutcome marks the tied-at-top participants modified and the
// rest failed.
func topModifiedOutcome(c *Conflict, tied []int) *Outcome {
	modified := map[string]bool{}
	for _, i := range tied {
		modified[c.Participants[i]] = true
	}
	outcome := &Outcome{
		Results:     map[string]Verdict{},
		Description: fmt.Sprintf("tied participants proceed modified in %s on %s", c.Type, c.ResourceKey),
	}
	for _, actorID := range c.Participants {
		if modified[actorID] {
			outcome.Results[actorID] = VerdictModified
			outcome.Effects = append(outcome.Effects, Effect{ActorID: actorID, Kind: EffectApplyIntentModified})
			continue
		}
		outcome.Results[actorID] = VerdictFailed
	}
	return outcome
}

// ResolveManual applies an arbiter decision and moves the conflict to
// manually_resolved. The conflict must be awaiting_manual.
func ResolveManual(c *Conflict, outcomeType string, params ManualParams) error {
	if c.Status != StatusAwaitingManual {
		return errors.WithMetadata(errors.CodeUnknownConflict, "conflict is not awaiting manual resolution", map[string]string{
			"conflict_id": c.ID,
			"status":      string(c.Status),
		})
	}

	var outcome *Outcome
	switch outcomeType {
	case OutcomeActorWins:
		outcome = winnerOutcome(c, manualWinner(c, params, 0), "arbiter ruled for the actor")
	case OutcomeTargetWins:
		outcome = winnerOutcome(c, manualWinner(c, params, 1), "arbiter ruled for the target")
	case OutcomeBothSucceedModified:
		outcome = bothModifiedOutcome(c)
	case OutcomeBothFail:
		outcome = bothFailOutcome(c)
	case OutcomeCustom:
		if len(params.Effects) == 0 {
			return errors.WithMetadata(errors.CodeManualOptionInvalid, "custom outcome requires effects", map[string]string{
				"conflict_id":  c.ID,
				"outcome_type": outcomeType,
			})
		}
		outcome = customOutcome(c, params.Effects)
	default:
		return errors.WithMetadata(errors.CodeManualOptionInvalid, "unsupported manual outcome type", map[string]string{
			"conflict_id":  c.ID,
			"outcome_type": outcomeType,
		})
	}

	if params.Description != "" {
		outcome.Description = params.Description
	}

	c.Outcome = outcome
	c.Status = StatusManuallyResolved
	return nil
}

func manualWinner(c *Conflict, params ManualParams, defaultIndex int) string {
	winner := strings.TrimSpace(params.WinnerActorID)
	if winner != "" {
		for _, actorID := range c.Participants {
			if actorID == winner {
				return winner
			}
		}
	}
	if defaultIndex < len(c.Participants) {
		return c.Participants[defaultIndex]
	}
	return c.Participants[0]
}

func winnerOutcome(c *Conflict, winnerID, detail string) *Outcome {
	outcome := &Outcome{
		Winner:  winnerID,
		Results: map[string]Verdict{},
		Description: fmt.Sprintf(
			"%s wins %s on %s (%s)", winnerID, c.Type, c.ResourceKey, detail,
		),
	}
	for _, actorID := range c.Participants {
		if actorID == winnerID {
			outcome.Results[actorID] = VerdictSucceeded
			outcome.Effects = append(outcome.Effects, Effect{ActorID: actorID, Kind: EffectApplyIntent})
			continue
		}
		outcome.Results[actorID] = VerdictFailed
	}
	return outcome
}

func bothModifiedOutcome(c *Conflict) *Outcome {
	outcome := &Outcome{
		Results:     map[string]Verdict{},
		Description: fmt.Sprintf("all participants proceed modified in %s on %s", c.Type, c.ResourceKey),
	}
	for _, actorID := range c.Participants {
		outcome.Results[actorID] = VerdictModified
		outcome.Effects = append(outcome.Effects, Effect{ActorID: actorID, Kind: EffectApplyIntentModified})
	}
	return outcome
}

func bothFailOutcome(c *Conflict) *Outcome {
	outcome := &Outcome{
		Results:     map[string]Verdict{},
		Description: fmt.Sprintf("no participant prevails in %s on %s", c.Type, c.ResourceKey),
	}
	for _, actorID := range c.Participants {
		outcome.Results[actorID] = VerdictFailed
	}
	return outcome
}

func customOutcome(c *Conflict, effects []Effect) *Outcome {
	outcome := &Outcome{
		Results:     map[string]Verdict{},
		Effects:     append([]Effect(nil), effects...),
		Description: fmt.Sprintf("arbiter applied a custom outcome in %s on %s", c.Type, c.ResourceKey),
	}
	// Custom effects speak for themselves; participants whose effects
	// mention them count as modified, the rest as failed.
	mentioned := map[string]bool{}
	for _, effect := range effects {
		mentioned[effect.ActorID] = true
	}
	for _, actorID := range c.Participants {
		if mentioned[actorID] {
			outcome.Results[actorID] = VerdictModified
		} else {
			outcome.Results[actorID] = VerdictFailed
		}
	}
	return outcome
}

func contestSummary(results []check.Result) string {
	totals := make([]string, len(results))
	for i, r := range results {
		totals[i] = fmt.Sprintf("%d", r.Total)
	}
	return strings.Join(totals, " vs ")
}
