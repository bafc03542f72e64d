package conflict

import (
	"sort"

	"github.com/openguild/turnengine/internal/engine/intent"
	"github.com/openguild/turnengine/internal/engine/rules"
	"github.com/openguild/turnengine/internal/engine/turn"
)

// Detection is the result of scanning one staged batch.
type Detection struct {
	// Conflicts lists detected conflicts in deterministic order
	// (rule document order, then resource key).
	Conflicts []Conflict
	// Contested marks staged intent positions claimed by a conflict,
	// keyed by actor id and intent index. Contested intents are excluded
	// from independent application until their conflict resolves.
	Contested map[string]map[int]bool
}

// IsContested reports whether the actor's intent at index is claimed.
func (d Detection) IsContested(actorID string, index int) bool {
	return d.Contested[actorID][index]
}

type candidate struct {
	actorID string
	index   int
	in      intent.Intent
}

// Detect scans the staged batch for every configured conflict rule.
//
// For each rule, intents whose kind matches the rule's pattern (and whose
// parameters satisfy its conditions) are grouped by the value of the rule's
// group_by parameter; each group with more than one distinct actor raises
// one conflict. Grouping key equality, not arrival order, determines
// membership, so the same batch always yields the same set of conflicts
// regardless of iteration order.
func Detect(catalog *rules.Catalog, batch *turn.Batch, newID func() (string, error)) (Detection, error) {
	detection := Detection{Contested: map[string]map[int]bool{}}

	actorIDs := batch.ActorIDs()

	for _, rule := range catalog.ConflictRules() {
		groups := map[string][]candidate{}
		for _, actorID := range actorIDs {
			for index, in := range batch.Intents[actorID] {
				if !ruleMatches(rule, in) {
					continue
				}
				key := in.Parameter(rule.GroupBy)
				if key == "" {
					continue
				}
				groups[key] = append(groups[key], candidate{actorID: actorID, index: index, in: in})
			}
		}

		keys := make([]string, 0, len(groups))
		for key := range groups {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			members := groups[key]
			if len(distinctActors(members)) < 2 {
				continue
			}

			id, err := newID()
			if err != nil {
				return Detection{}, err
			}

			conflictRecord := Conflict{
				ID:          id,
				Tenant:      batch.Tenant,
				BatchSeq:    batch.Seq,
				Type:        rule.Type,
				ResourceKey: key,
				Status:      StatusIdentified,
			}
			seen := map[string]bool{}
			for _, member := range members {
				if !seen[member.actorID] {
					seen[member.actorID] = true
					conflictRecord.Participants = append(conflictRecord.Participants, member.actorID)
				}
				conflictRecord.Intents = append(conflictRecord.Intents, member.in)
				markContested(detection.Contested, member.actorID, member.index)
			}
			detection.Conflicts = append(detection.Conflicts, conflictRecord)
		}
	}

	return detection, nil
}

func ruleMatches(rule rules.ConflictRule, in intent.Intent) bool {
	kindMatched := false
	for _, kind := range rule.IntentKinds {
		if kind == in.Kind {
			kindMatched = true
			break
		}
	}
	if !kindMatched {
		return false
	}
	for _, cond := range rule.Conditions {
		if !cond.Matches(in.Parameters) {
			return false
		}
	}
	return true
}

func distinctActors(members []candidate) map[string]bool {
	actors := map[string]bool{}
	for _, member := range members {
		actors[member.actorID] = true
	}
	return actors
}

func markContested(contested map[string]map[int]bool, actorID string, index int) {
	if contested[actorID] == nil {
		contested[actorID] = map[int]bool{}
	}
	contested[actorID][index] = true
}
