package rules

import "strconv"

// Op is one of the closed set of condition operators.
//
// Conditions are structured (field, operator, value) triples evaluated
// against intent parameters. They deliberately replace free-form expression
// evaluation: the operator set is closed and no embedded language runs.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpLt     Op = "lt"
	OpLe     Op = "le"
	OpGt     Op = "gt"
	OpGe     Op = "ge"
	OpExists Op = "exists"
)

// Condition restricts which intents a conflict rule applies to.
type Condition struct {
	Field string
	Op    Op
	Value string
}

// Matches evaluates the condition against intent parameters. Ordered
// comparisons are numeric when both sides parse as numbers and fall back to
// lexicographic comparison otherwise. A missing field only satisfies ne.
func (c Condition) Matches(params map[string]string) bool {
	got, present := params[c.Field]

	switch c.Op {
	case OpExists:
		return present
	case OpEq:
		return present && compare(got, c.Value) == 0
	case OpNe:
		return !present || compare(got, c.Value) != 0
	case OpLt:
		return present && compare(got, c.Value) < 0
	case OpLe:
		return present && compare(got, c.Value) <= 0
	case OpGt:
		return present && compare(got, c.Value) > 0
	case OpGe:
		return present && compare(got, c.Value) >= 0
	default:
		return false
	}
}

func compare(a, b string) int {
	na, errA := strconv.ParseFloat(a, 64)
	nb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func buildCondition(ruleType string, raw conditionYAML) (Condition, error) {
	meta := map[string]string{"type": ruleType, "field": raw.Field}
	if raw.Field == "" {
		return Condition{}, validationError("condition field is required", meta)
	}
	op := Op(raw.Op)
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpExists:
	default:
		return Condition{}, validationError("unknown condition operator", meta)
	}
	if op != OpExists && raw.Value == "" {
		return Condition{}, validationError("condition value is required", meta)
	}
	return Condition{Field: raw.Field, Op: op, Value: raw.Value}, nil
}
