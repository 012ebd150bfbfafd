// Package rng provides the single seedable randomness source a Team
// Collection routes every non-deterministic choice through.
//
// The builder's correctness depends on deterministic randomness in
// tests: every random choice must route through a seedable source
// supplied by the collection, not a package-level math/rand. Two Source
// values constructed with the same seed must make the same sequence of
// choices regardless of what else is going on in the process.
package rng

import (
	"math/rand"
	"sync"
)

// Source is a goroutine-safe seedable randomness source. The Team
// Collection owns exactly one per region and hands it to every component
// that needs to break ties or sample candidates (policy evaluator, team
// builder, getTeam).
type Source struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a Source seeded with seed. Two Sources built from the same
// seed and driven with the same call sequence produce identical output.
func New(seed int64) *Source {
	return &Source{r: rand.New(rand.NewSource(seed))}
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (s *Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Shuffle randomizes the order of n elements via swap(i,j), Fisher-Yates.
func (s *Source) Shuffle(n int, swap func(i, j int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r.Shuffle(n, swap)
}

// Choice returns a uniformly random element of candidates, or -1 if empty.
func (s *Source) Choice(candidates []int) int {
	if len(candidates) == 0 {
		return -1
	}
	return candidates[s.Intn(len(candidates))]
}
