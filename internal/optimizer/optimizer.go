// Package optimizer provides multi-objective decision support over
// candidates scored on "higher is better" objectives.
package optimizer

import (
	"log"
	"math"
)

// Candidate is one option under comparison. Objectives are all oriented so
// that higher is better; callers invert naturally-lower-is-better metrics
// themselves (speed as 1/seconds, cost as 1/cost).
type Candidate struct {
	ID         string
	Objectives map[string]float64
	Metadata   map[string]string
}

// Dominates reports whether c1 dominates c2: over the intersection of their
// objective keys, c1 is >= on every key and strictly > on at least one.
// Non-finite values are skipped with a warning. No common key is
// incomparable (false).
func Dominates(c1, c2 Candidate) bool {
	atLeastOneStrictlyGreater := false
	comparedAny := false

	for key, v1 := range c1.Objectives {
		v2, ok := c2.Objectives[key]
		if !ok {
			continue
		}
		if !finite(v1) || !finite(v2) {
			log.Printf("[OPTIMIZER] warning: skipping non-finite objective %q comparing %s/%s", key, c1.ID, c2.ID)
			continue
		}
		comparedAny = true
		if v1 < v2 {
			return false
		}
		if v1 > v2 {
			atLeastOneStrictlyGreater = true
		}
	}

	if !comparedAny {
		return false
	}
	return atLeastOneStrictlyGreater
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ParetoFront returns the non-dominated subset of candidates.
func ParetoFront(candidates []Candidate) []Candidate {
	if len(candidates) <= 1 {
		return append([]Candidate{}, candidates...)
	}

	var front []Candidate
	for i, c := range candidates {
		dominated := false
		for j, other := range candidates {
			if i == j {
				continue
			}
			if Dominates(other, c) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, c)
		}
	}
	return front
}

// SelectBest picks the candidate maximizing the weighted sum Σ wᵢ·oᵢ over
// shared objective keys. weights must be finite and non-negative. Returns
// false when candidates or weights are empty.
func SelectBest(candidates []Candidate, weights map[string]float64) (Candidate, bool) {
	if len(candidates) == 0 || len(weights) == 0 {
		return Candidate{}, false
	}

	var best Candidate
	bestScore := math.Inf(-1)
	found := false

	for _, c := range candidates {
		score := 0.0
		for key, w := range weights {
			if !finite(w) || w < 0 {
				log.Printf("[OPTIMIZER] warning: skipping invalid weight %q=%v", key, w)
				continue
			}
			v, ok := c.Objectives[key]
			if !ok || !finite(v) {
				continue
			}
			score += w * v
		}
		if !found || score > bestScore {
			best = c
			bestScore = score
			found = true
		}
	}
	return best, found
}
