package dice

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFormula indicates a dice formula string could not be parsed.
var ErrInvalidFormula = errors.New("dice formula must be of the form NdX, NdX+M, or NdX-M")

// Formula is a parsed dice expression: Count dice of Sides faces plus a
// flat Modifier.
type Formula struct {
	Count    int
	Sides    int
	Modifier int
}

// ParseFormula parses an "NdX+M" dice expression.
//
// N may be omitted ("d20" reads as "1d20"). The modifier is optional and
// may be negative ("2d6-1"). Count must be at least 1 and Sides at least 2.
func ParseFormula(raw string) (Formula, error) {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if s == "" {
		return Formula{}, fmt.Errorf("%w: empty input", ErrInvalidFormula)
	}

	dIdx := strings.IndexByte(s, 'd')
	if dIdx < 0 {
		return Formula{}, fmt.Errorf("%w: %q", ErrInvalidFormula, raw)
	}

	count := 1
	if dIdx > 0 {
		n, err := strconv.Atoi(s[:dIdx])
		if err != nil {
			return Formula{}, fmt.Errorf("%w: %q", ErrInvalidFormula, raw)
		}
		count = n
	}

	rest := s[dIdx+1:]
	modifier := 0
	if signIdx := strings.IndexAny(rest, "+-"); signIdx >= 0 {
		m, err := strconv.Atoi(rest[signIdx:])
		if err != nil {
			return Formula{}, fmt.Errorf("%w: %q", ErrInvalidFormula, raw)
		}
		modifier = m
		rest = rest[:signIdx]
	}

	sides, err := strconv.Atoi(rest)
	if err != nil {
		return Formula{}, fmt.Errorf("%w: %q", ErrInvalidFormula, raw)
	}

	f := Formula{Count: count, Sides: sides, Modifier: modifier}
	if f.Count < 1 || f.Sides < 2 {
		return Formula{}, fmt.Errorf("%w: %q", ErrInvalidFormula, raw)
	}
	return f, nil
}

// String renders the formula in canonical "NdX+M" form.
func (f Formula) String() string {
	switch {
	case f.Modifier > 0:
		return fmt.Sprintf("%dd%d+%d", f.Count, f.Sides, f.Modifier)
	case f.Modifier < 0:
		return fmt.Sprintf("%dd%d%d", f.Count, f.Sides, f.Modifier)
	default:
		return fmt.Sprintf("%dd%d", f.Count, f.Sides)
	}
}

// Min returns the lowest total the formula can produce.
func (f Formula) Min() int {
	return f.Count + f.Modifier
}

// Max returns the highest total the formula can produce.
func (f Formula) Max() int {
	return f.Count*f.Sides + f.Modifier
}
