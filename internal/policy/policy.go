// Package policy implements the replication policy evaluator: a pure
// function of a policy tree and a set of locality records, exposing
// Satisfies and SelectReplicas as separate entry points rather than
// flags.
//
// The tree/visitor structure here is original, built as a small,
// focused, interface-driven package: one interface, a handful of tiny
// unexported node implementations.
package policy

import (
	"fmt"
	"sort"

	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/rng"
)

// Policy is a node in a replication-policy tree.
type Policy interface {
	// Satisfies reports whether entries, taken together, satisfy this
	// policy node.
	Satisfies(entries []locality.Record) bool

	// selectReplicas returns the indices (into entries) of a minimal
	// subset that includes every index in forced and satisfies this
	// policy node, or ok=false if impossible.
	selectReplicas(entries []locality.Record, forced []int, r *rng.Source) (chosen []int, ok bool)

	String() string
}

// SelectReplicas returns a minimal subset of entries that includes forced
// and satisfies p, or ok=false if impossible.
func SelectReplicas(p Policy, entries []locality.Record, forced []int, r *rng.Source) (result []locality.Record, ok bool) {
	idx, ok := p.selectReplicas(entries, forced, r)
	if !ok {
		return nil, false
	}
	sort.Ints(idx)
	out := make([]locality.Record, 0, len(idx))
	for _, i := range idx {
		out = append(out, entries[i])
	}
	return out, true
}

// Satisfies reports whether entries satisfy p.
func Satisfies(p Policy, entries []locality.Record) bool {
	return p.Satisfies(entries)
}

// ---- One: select exactly one entry from the set. ----

type onePolicy struct{}

// One is satisfied by any non-empty set, and selects a single entry
// unless more are forced; used as the leaf of an Across tree
// ("...choose one").
func One() Policy { return onePolicy{} }

func (onePolicy) String() string { return "One()" }

func (onePolicy) Satisfies(entries []locality.Record) bool {
	return len(entries) >= 1
}

func (onePolicy) selectReplicas(entries []locality.Record, forced []int, r *rng.Source) ([]int, bool) {
	if len(forced) > 0 {
		return append([]int{}, forced...), true
	}
	if len(entries) == 0 {
		return nil, false
	}
	return []int{r.Intn(len(entries))}, true
}

// ---- Across: partition by attribute, require `count` distinct groups
// each satisfying sub. ----

type acrossPolicy struct {
	attribute string
	count     int
	sub       Policy
}

// Across requires selecting entries spread across at least count distinct
// values of attribute, with the entries contributed by each chosen value
// satisfying sub — e.g. Across("zoneId", 3, One()) is ordinary triple
// replication: one server from each of three distinct zones.
func Across(attribute string, count int, sub Policy) Policy {
	return acrossPolicy{attribute: attribute, count: count, sub: sub}
}

func (a acrossPolicy) String() string {
	return fmt.Sprintf("Across(%s, %d, %s)", a.attribute, a.count, a.sub)
}

func (a acrossPolicy) groupsOf(entries []locality.Record) map[string][]int {
	groups := make(map[string][]int)
	for i, e := range entries {
		v := e.Get(a.attribute)
		groups[v] = append(groups[v], i)
	}
	return groups
}

func (a acrossPolicy) Satisfies(entries []locality.Record) bool {
	groups := a.groupsOf(entries)
	satisfied := 0
	for _, idxs := range groups {
		sub := make([]locality.Record, len(idxs))
		for j, i := range idxs {
			sub[j] = entries[i]
		}
		if a.sub.Satisfies(sub) {
			satisfied++
		}
	}
	return satisfied >= a.count
}

func (a acrossPolicy) selectReplicas(entries []locality.Record, forced []int, r *rng.Source) ([]int, bool) {
	groups := a.groupsOf(entries)

	// Groups touched by a forced index must be used, and must themselves
	// satisfy sub with those indices forced.
	forcedByGroup := make(map[string][]int)
	for _, f := range forced {
		v := entries[f].Get(a.attribute)
		forcedByGroup[v] = append(forcedByGroup[v], f)
	}

	used := make(map[string]bool)
	var chosen []int

	for v, fIdx := range forcedByGroup {
		members := groups[v]
		subEntries, localForced := localize(entries, members, fIdx)
		sel, ok := a.sub.selectReplicas(subEntries, localForced, r)
		if !ok {
			return nil, false
		}
		used[v] = true
		chosen = append(chosen, remap(members, sel)...)
	}

	if len(used) > a.count {
		// Forced indices already span more groups than required; that's
		// fine, the policy is about a lower bound on distinct groups.
	}

	need := a.count - len(used)
	if need > 0 {
		// Candidate groups not already used, order randomized for
		// diversity rather than always picking the least-used candidate.
		var candidates []string
		for v := range groups {
			if !used[v] {
				candidates = append(candidates, v)
			}
		}
		sort.Strings(candidates) // deterministic base order before shuffle
		r.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})

		for _, v := range candidates {
			if need == 0 {
				break
			}
			members := groups[v]
			subEntries, _ := localize(entries, members, nil)
			sel, ok := a.sub.selectReplicas(subEntries, nil, r)
			if !ok {
				continue
			}
			used[v] = true
			chosen = append(chosen, remap(members, sel)...)
			need--
		}
	}

	if need > 0 {
		return nil, false
	}
	return dedup(chosen), true
}

func localize(entries []locality.Record, members []int, forced []int) ([]locality.Record, []int) {
	sub := make([]locality.Record, len(members))
	posOf := make(map[int]int, len(members))
	for j, i := range members {
		sub[j] = entries[i]
		posOf[i] = j
	}
	local := make([]int, 0, len(forced))
	for _, f := range forced {
		local = append(local, posOf[f])
	}
	return sub, local
}

func remap(members []int, localIdx []int) []int {
	out := make([]int, len(localIdx))
	for j, li := range localIdx {
		out[j] = members[li]
	}
	return out
}

func dedup(idx []int) []int {
	seen := make(map[int]bool, len(idx))
	out := idx[:0]
	for _, i := range idx {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}

// ---- And: every sub-policy must be satisfied by the same final set. ----

type andPolicy struct {
	policies []Policy
}

// And requires the same selected set to satisfy every sub-policy
// simultaneously. Its selectReplicas is a bounded fixed-point expansion
// (iteratively union in whatever each sub-policy still needs) rather than
// an exhaustive search — sufficient for the disjoint-attribute policies
// this control plane actually uses (e.g. "across zoneId choose one" AND
// "across dataHallId choose three" over independent attributes), not a
// general CSP solver.
func And(policies ...Policy) Policy {
	return andPolicy{policies: policies}
}

func (a andPolicy) String() string {
	return fmt.Sprintf("And(%v)", a.policies)
}

func (a andPolicy) Satisfies(entries []locality.Record) bool {
	for _, p := range a.policies {
		if !p.Satisfies(entries) {
			return false
		}
	}
	return true
}

func (a andPolicy) selectReplicas(entries []locality.Record, forced []int, r *rng.Source) ([]int, bool) {
	chosen := append([]int{}, forced...)
	const maxRounds = 8
	for round := 0; round < maxRounds; round++ {
		progressed := false
		for _, p := range a.policies {
			sel, ok := p.selectReplicas(entries, chosen, r)
			if !ok {
				return nil, false
			}
			before := len(chosen)
			chosen = dedup(append(chosen, sel...))
			if len(chosen) != before {
				progressed = true
			}
		}
		if !progressed {
			// Fixed point: verify the final set actually satisfies every
			// policy (it should, since each contributed its own minimal
			// selection, but confirm rather than assume).
			sub := make([]locality.Record, len(chosen))
			for i, c := range chosen {
				sub[i] = entries[c]
			}
			if a.Satisfies(sub) {
				return chosen, true
			}
			return nil, false
		}
	}
	return nil, false
}
