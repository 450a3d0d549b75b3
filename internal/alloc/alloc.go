// Package alloc turns a ranked candidate list and deployable cash into
// concrete order sizes using an exponential weighting: the top-ranked pair
// receives half the pool, the next a quarter, and so on, normalized so the
// whole pool is assigned.
package alloc

import "math"

// Entry is one funded candidate in an allocation plan.
type Entry struct {
	Pair     string
	Notional float64
}

// Plan sizes each candidate as weight 2^(n-1-i) over the candidate set,
// scaled to available. Candidates must already be ranked best-first. An empty
// candidate list or non-positive available yields no plan; a single candidate
// receives everything. For fixed inputs the output is bit-reproducible.
func Plan(candidates []string, available float64) []Entry {
	n := len(candidates)
	if n == 0 || available <= 0 {
		return nil
	}
	if n == 1 {
		return []Entry{{Pair: candidates[0], Notional: available}}
	}

	weights := make([]float64, n)
	var total float64
	for i := range candidates {
		weights[i] = math.Pow(2, float64(n-i-1))
		total += weights[i]
	}

	plan := make([]Entry, n)
	for i, pair := range candidates {
		plan[i] = Entry{Pair: pair, Notional: available * weights[i] / total}
	}
	return plan
}
