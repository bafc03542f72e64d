// Package rules loads and validates the immutable rule catalog.
//
// A catalog is a versioned YAML document with a checks map and an
// action_conflicts list. It is loaded once at process start, or reloaded
// between turns, and is safely shared read-only by all tenant pipelines.
package rules

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openguild/turnengine/internal/core/check"
	"github.com/openguild/turnengine/internal/core/dice"
	"github.com/openguild/turnengine/internal/platform/errors"
)

// Mode selects how a conflict rule resolves.
type Mode string

const (
	// ModeAuto resolves the conflict with a configured check.
	ModeAuto Mode = "auto"
	// ModeManual suspends the conflict until an arbiter decides.
	ModeManual Mode = "manual"
)

// TieFallback selects how an auto rule handles exact ties.
type TieFallback string

const (
	// TieReroll re-rolls tied sides until one wins.
	TieReroll TieFallback = "reroll"
	// TieBothSucceedModified lets every tied participant proceed with
	// altered parameters instead of picking a winner.
	TieBothSucceedModified TieFallback = "both_succeed_modified"
)

// ConflictRule describes one configured conflict pattern.
type ConflictRule struct {
	// Type is the rule identifier referenced by detected conflicts.
	Type string
	// IntentKinds lists the intent kinds whose co-occurrence can trigger
	// the rule.
	IntentKinds []string
	// GroupBy names the intent parameter whose value is the contested
	// resource key (e.g. target_space for movement).
	GroupBy string
	// Mode is auto or manual; exactly one of CheckType/ManualOptions is
	// populated accordingly.
	Mode Mode
	// CheckType references the check used to pick a winner (auto only).
	CheckType string
	// ManualOptions lists human-readable outcome suggestions (manual only).
	ManualOptions []string
	// Tie selects tie handling for auto rules; empty means reroll.
	Tie TieFallback
	// Conditions further restrict which intents participate.
	Conditions []Condition
}

// Catalog exposes read-only lookup of checks and conflict rules.
type Catalog struct {
	version   string
	checks    map[string]check.Definition
	conflicts map[string]ConflictRule
	// order preserves document order for deterministic rule iteration.
	order []string
}

type documentYAML struct {
	Version         string               `yaml:"version"`
	Checks          map[string]checkYAML `yaml:"checks"`
	ActionConflicts []conflictRuleYAML   `yaml:"action_conflicts"`
}

type checkYAML struct {
	Formula          string   `yaml:"formula"`
	BaseDC           *int     `yaml:"base_dc"`
	AffectedByStats  []string `yaml:"affected_by_stats"`
	CritSuccess      int      `yaml:"crit_success"`
	CritFailure      int      `yaml:"crit_failure"`
	StrictBeat       bool     `yaml:"strict_beat"`
	OpposedCheckType string   `yaml:"opposed_check_type"`
}

type conflictRuleYAML struct {
	Type          string          `yaml:"type"`
	IntentKinds   []string        `yaml:"intent_kinds"`
	GroupBy       string          `yaml:"group_by"`
	Mode          string          `yaml:"mode"`
	CheckType     string          `yaml:"check_type"`
	ManualOptions []string        `yaml:"manual_resolution_options"`
	Tie           string          `yaml:"tie_fallback"`
	Conditions    []conditionYAML `yaml:"conditions"`
}

type conditionYAML struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

// LoadFile reads and validates a rule catalog document from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rule catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a rule catalog document.
//
// Load fails fast with a CONFIG_VALIDATION error when the document is
// self-contradictory; a process must refuse to serve tenants on a catalog
// that did not validate.
func Load(r io.Reader) (*Catalog, error) {
	var doc documentYAML
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.CodeConfigValidation, "decode rule catalog", err)
	}

	catalog := &Catalog{
		version:   doc.Version,
		checks:    make(map[string]check.Definition, len(doc.Checks)),
		conflicts: make(map[string]ConflictRule, len(doc.ActionConflicts)),
	}

	for id, raw := range doc.Checks {
		def, err := buildCheck(id, raw)
		if err != nil {
			return nil, err
		}
		catalog.checks[id] = def
	}

	if err := validateOppositions(catalog.checks); err != nil {
		return nil, err
	}

	for _, raw := range doc.ActionConflicts {
		rule, err := buildConflictRule(raw, catalog.checks)
		if err != nil {
			return nil, err
		}
		if _, dup := catalog.conflicts[rule.Type]; dup {
			return nil, validationError("duplicate conflict rule type", map[string]string{"type": rule.Type})
		}
		catalog.conflicts[rule.Type] = rule
		catalog.order = append(catalog.order, rule.Type)
	}

	return catalog, nil
}

// Version returns the catalog document version string.
func (c *Catalog) Version() string {
	return c.version
}

// Check returns the check definition for id.
func (c *Catalog) Check(id string) (check.Definition, bool) {
	def, ok := c.checks[id]
	return def, ok
}

// ConflictRule returns the conflict rule for the given type.
func (c *Catalog) ConflictRule(ruleType string) (ConflictRule, bool) {
	rule, ok := c.conflicts[ruleType]
	return rule, ok
}

// ConflictRules returns all conflict rules in document order.
func (c *Catalog) ConflictRules() []ConflictRule {
	out := make([]ConflictRule, 0, len(c.order))
	for _, ruleType := range c.order {
		out = append(out, c.conflicts[ruleType])
	}
	return out
}

func buildCheck(id string, raw checkYAML) (check.Definition, error) {
	formula, err := dice.ParseFormula(raw.Formula)
	if err != nil {
		return check.Definition{}, errors.Wrap(
			errors.CodeConfigValidation,
			fmt.Sprintf("check %s: invalid formula %q", id, raw.Formula),
			err,
		)
	}

	if raw.CritSuccess < 0 || raw.CritSuccess > formula.Sides {
		return check.Definition{}, validationError("crit_success outside die face range", map[string]string{"check": id})
	}
	if raw.CritFailure < 0 || raw.CritFailure > formula.Sides {
		return check.Definition{}, validationError("crit_failure outside die face range", map[string]string{"check": id})
	}
	if raw.CritSuccess > 0 && raw.CritFailure >= raw.CritSuccess {
		return check.Definition{}, validationError("crit_failure overlaps crit_success", map[string]string{"check": id})
	}

	return check.Definition{
		ID:               id,
		Formula:          formula,
		BaseDC:           raw.BaseDC,
		AffectedByStats:  append([]string(nil), raw.AffectedByStats...),
		CritSuccess:      raw.CritSuccess,
		CritFailure:      raw.CritFailure,
		StrictBeat:       raw.StrictBeat,
		OpposedCheckType: raw.OpposedCheckType,
	}, nil
}

// validateOppositions rejects dangling opposed references and opposition
// cycles longer than one. A check may legally oppose itself for symmetric
// contests; A opposing B while B opposes A cannot terminate and is refused.
func validateOppositions(checks map[string]check.Definition) error {
	for id, def := range checks {
		if def.OpposedCheckType == "" {
			continue
		}
		seen := map[string]bool{id: true}
		current := def.OpposedCheckType
		for current != "" {
			next, ok := checks[current]
			if !ok {
				return validationError("opposed_check_type references unknown check", map[string]string{
					"check":   id,
					"opposed": current,
				})
			}
			if current == next.OpposedCheckType {
				// Terminal self-opposition: a symmetric contest.
				break
			}
			if seen[current] {
				return validationError("opposed_check_type cycle", map[string]string{"check": id})
			}
			seen[current] = true
			current = next.OpposedCheckType
		}
	}
	return nil
}

func buildConflictRule(raw conflictRuleYAML, checks map[string]check.Definition) (ConflictRule, error) {
	if raw.Type == "" {
		return ConflictRule{}, validationError("conflict rule type is required", nil)
	}
	meta := map[string]string{"type": raw.Type}

	if len(raw.IntentKinds) == 0 {
		return ConflictRule{}, validationError("conflict rule needs at least one intent kind", meta)
	}
	if raw.GroupBy == "" {
		return ConflictRule{}, validationError("conflict rule group_by is required", meta)
	}

	mode := Mode(raw.Mode)
	switch mode {
	case ModeAuto:
		if raw.CheckType == "" {
			return ConflictRule{}, validationError("auto conflict rule needs check_type", meta)
		}
		if len(raw.ManualOptions) > 0 {
			return ConflictRule{}, validationError("auto conflict rule cannot list manual options", meta)
		}
		if _, ok := checks[raw.CheckType]; !ok {
			return ConflictRule{}, validationError("conflict rule references unknown check", map[string]string{
				"type":  raw.Type,
				"check": raw.CheckType,
			})
		}
	case ModeManual:
		if len(raw.ManualOptions) == 0 {
			return ConflictRule{}, validationError("manual conflict rule needs manual_resolution_options", meta)
		}
		if raw.CheckType != "" {
			return ConflictRule{}, validationError("manual conflict rule cannot reference a check", meta)
		}
	default:
		return ConflictRule{}, validationError("conflict rule mode must be auto or manual", meta)
	}

	tie := TieFallback(raw.Tie)
	switch tie {
	case "", TieReroll, TieBothSucceedModified:
	default:
		return ConflictRule{}, validationError("unknown tie_fallback", meta)
	}
	if tie == "" {
		tie = TieReroll
	}

	conditions := make([]Condition, 0, len(raw.Conditions))
	for _, cond := range raw.Conditions {
		built, err := buildCondition(raw.Type, cond)
		if err != nil {
			return ConflictRule{}, err
		}
		conditions = append(conditions, built)
	}

	return ConflictRule{
		Type:          raw.Type,
		IntentKinds:   append([]string(nil), raw.IntentKinds...),
		GroupBy:       raw.GroupBy,
		Mode:          mode,
		CheckType:     raw.CheckType,
		ManualOptions: append([]string(nil), raw.ManualOptions...),
		Tie:           tie,
		Conditions:    conditions,
	}, nil
}

func validationError(reason string, metadata map[string]string) *errors.Error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["reason"] = reason
	return errors.WithMetadata(errors.CodeConfigValidation, reason, metadata)
}
