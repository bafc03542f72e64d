// Package dice implements deterministic dice formula parsing and rolling.
package dice

import "math/rand"

// Result captures one evaluation of a formula.
type Result struct {
	// Faces holds each die's raw face value in roll order.
	Faces []int
	// Total is the sum of all faces plus the formula modifier.
	Total int
	// Natural is the highest raw face rolled, used for crit detection.
	Natural int
}

// Roll evaluates the formula with the provided random source.
//
// # Determinism
//
// Roll is deterministic with respect to the state of rng: the same source
// state and formula always produce the same Result. Faces appear in the
// order the dice were drawn.
func Roll(rng *rand.Rand, f Formula) Result {
	faces := make([]int, f.Count)
	total := f.Modifier
	natural := 0

	for i := 0; i < f.Count; i++ {
		value := rollDie(rng, f.Sides)
		faces[i] = value
		total += value
		if value > natural {
			natural = value
		}
	}

	return Result{
		Faces:   faces,
		Total:   total,
		Natural: natural,
	}
}

// RollSeeded evaluates the formula with a fresh source seeded by seed.
// Given the same seed and formula, RollSeeded always produces the same
// Result, which makes rolls replayable from persisted state.
func RollSeeded(seed int64, f Formula) Result {
	return Roll(rand.New(rand.NewSource(seed)), f)
}

// rollDie rolls a single die with the provided number of sides.
func rollDie(rng *rand.Rand, sides int) int {
	return rng.Intn(sides) + 1
}
