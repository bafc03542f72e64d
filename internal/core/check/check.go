// Package check provides generic difficulty check primitives.
//
// This package contains rule-agnostic checking functionality used by the
// conflict resolver. It provides:
//
//   - Basic difficulty comparison (total vs target, strict or not)
//   - Margin of success/failure calculations
//   - Single checks against a difficulty class with crit overrides
//   - Opposed checks resolved by comparing two independent rolls
//
// Rule-specific interpretation (which stats feed a check, which conflicts
// trigger one) lives in the rules catalog and the conflict packages.
package check

import (
	"math/rand"
	"sort"

	"github.com/openguild/turnengine/internal/core/dice"
)

// maxTieRerolls bounds opposed-check re-rolls so a pathological random
// source cannot loop forever. After the budget is spent the lower
// participant index wins.
const maxTieRerolls = 8

// Definition describes a configured check.
type Definition struct {
	// ID is the catalog identifier of this check.
	ID string
	// Formula is the dice expression rolled for the check.
	Formula dice.Formula
	// BaseDC is the fixed difficulty class, when the check has one.
	// Ignored at resolution time when OpposedCheckType is set.
	BaseDC *int
	// AffectedByStats lists the modifier identifiers summed into the roll.
	AffectedByStats []string
	// CritSuccess is the natural-roll threshold that forces success.
	// Zero disables critical successes.
	CritSuccess int
	// CritFailure is the natural-roll threshold that forces failure.
	// Zero disables critical failures.
	CritFailure int
	// StrictBeat requires the total to strictly beat the difficulty class
	// rather than merely meet it.
	StrictBeat bool
	// OpposedCheckType names the check rolled by the opposing side in a
	// contested check. A check may oppose itself for symmetric contests.
	OpposedCheckType string
}

// Result captures one resolved check.
type Result struct {
	CheckID     string
	Faces       []int
	Natural     int
	Total       int
	DC          int
	Success     bool
	CritSuccess bool
	CritFailure bool
	Margin      int
}

// MeetsDifficulty reports whether total meets difficulty. With strict set,
// the total must exceed the difficulty instead of meeting it.
func MeetsDifficulty(total, difficulty int, strict bool) bool {
	if strict {
		return total > difficulty
	}
	return total >= difficulty
}

// Margin calculates the margin of success or failure.
// Positive values indicate success, negative indicate failure.
func Margin(total, difficulty int) int {
	return total - difficulty
}

// Resolve rolls the definition's formula, sums the selected actor modifiers,
// and compares the total against difficulty.
//
// A natural roll at or above CritSuccess forces success and one at or below
// CritFailure forces failure, regardless of the total: a natural twenty
// succeeds against an impossible target and a natural one fails against a
// trivial one. Missing modifier identifiers contribute zero.
func Resolve(rng *rand.Rand, def Definition, modifiers map[string]int, difficulty int) Result {
	rolled := dice.Roll(rng, def.Formula)

	total := rolled.Total
	for _, stat := range def.AffectedByStats {
		total += modifiers[stat]
	}

	result := Result{
		CheckID: def.ID,
		Faces:   rolled.Faces,
		Natural: rolled.Natural,
		Total:   total,
		DC:      difficulty,
		Success: MeetsDifficulty(total, difficulty, def.StrictBeat),
		Margin:  Margin(total, difficulty),
	}

	if def.CritSuccess > 0 && rolled.Natural >= def.CritSuccess {
		result.CritSuccess = true
		result.Success = true
	}
	if def.CritFailure > 0 && rolled.Natural <= def.CritFailure {
		result.CritFailure = true
		result.Success = false
		// A face can't satisfy both thresholds in a validated catalog.
		result.CritSuccess = false
	}

	return result
}

// ResolveOpposed rolls both sides of a contested check independently and
// compares totals. The returned winner is 0 for side A and 1 for side B.
//
// A critical success on exactly one side wins immediately, and a critical
// failure on exactly one side loses immediately, regardless of totals.
// Exact ties re-roll both sides; after maxTieRerolls attempts side A wins,
// which keeps resolution terminal under any random source.
func ResolveOpposed(rng *rand.Rand, defA, defB Definition, modsA, modsB map[string]int) (winner int, a, b Result) {
	for attempt := 0; ; attempt++ {
		a = resolveSide(rng, defA, modsA)
		b = resolveSide(rng, defB, modsB)

		if decided, w := CritDecision(a, b); decided {
			return w, a, b
		}
		if a.Total != b.Total {
			if a.Total > b.Total {
				return 0, a, b
			}
			return 1, a, b
		}
		if attempt >= maxTieRerolls {
			return 0, a, b
		}
	}
}

// ResolveContest generalizes an opposed check to any number of sides, all
// rolling the same definition. Sides with a critical failure are eliminated
// first; if any side crits, only critical successes stay in contention. The
// highest remaining total wins and exact ties re-roll the tied subset, with
// the same re-roll budget as ResolveOpposed; an exhausted budget awards the
// lowest surviving index.
func ResolveContest(rng *rand.Rand, def Definition, mods []map[string]int) (winner int, results []Result) {
	results = make([]Result, len(mods))
	for i := range mods {
		results[i] = resolveSide(rng, def, mods[i])
	}

	contenders := Contenders(results)
	for attempt := 0; len(contenders) > 1 && attempt < maxTieRerolls; attempt++ {
		top := topTotal(results, contenders)
		tied := tiedAt(results, contenders, top)
		if len(tied) == 1 {
			return tied[0], results
		}
		for _, i := range tied {
			results[i] = resolveSide(rng, def, mods[i])
		}
		contenders = tied
	}

	top := topTotal(results, contenders)
	tied := tiedAt(results, contenders, top)
	sort.Ints(tied)
	return tied[0], results
}

func resolveSide(rng *rand.Rand, def Definition, mods map[string]int) Result {
	// Opposed sides have no fixed DC; the opposing total decides.
	return Resolve(rng, def, mods, 0)
}

// CritDecision resolves a two-sided contest when crits make totals
// irrelevant: a critical success on exactly one side wins and a critical
// failure on exactly one side loses. The second return value is the winning
// side when decided is true.
func CritDecision(a, b Result) (decided bool, winner int) {
	switch {
	case a.CritSuccess && !b.CritSuccess:
		return true, 0
	case b.CritSuccess && !a.CritSuccess:
		return true, 1
	case a.CritFailure && !b.CritFailure:
		return true, 1
	case b.CritFailure && !a.CritFailure:
		return true, 0
	default:
		return false, 0
	}
}

// Contenders returns the result indices still in contention after crit
// elimination: critical failures are out, and if any side rolled a critical
// success only those sides remain. With every side crit-failed, all stay in.
func Contenders(results []Result) []int {
	var crits, clean, all []int
	for i, r := range results {
		all = append(all, i)
		if r.CritFailure {
			continue
		}
		clean = append(clean, i)
		if r.CritSuccess {
			crits = append(crits, i)
		}
	}
	if len(crits) > 0 {
		return crits
	}
	if len(clean) > 0 {
		return clean
	}
	return all
}

func topTotal(results []Result, indices []int) int {
	top := results[indices[0]].Total
	for _, i := range indices[1:] {
		if results[i].Total > top {
			top = results[i].Total
		}
	}
	return top
}

func tiedAt(results []Result, indices []int, total int) []int {
	var tied []int
	for _, i := range indices {
		if results[i].Total == total {
			tied = append(tied, i)
		}
	}
	return tied
}
