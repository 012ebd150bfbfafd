// Package selection implements getTeam: the Team Collection's single
// request surface consumed by the external move-queue, "pick the best
// team for this move".
package selection

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/rng"
	"github.com/aerokv/teamcollection/internal/sched"
	"github.com/aerokv/teamcollection/internal/team"
)

// Request bundles getTeam's inputs.
type Request struct {
	Src                   []ids.ServerID
	CompleteSources       []ids.ServerID
	WantsTrueBest         bool
	PreferLowerUtilization bool
	WantsNewServers       bool
	TeamMustHaveShards    func(ids.ServerTeamID) bool
	InflightPenalty       float64
}

// Result is getTeam's output: an optional team plus a "found-source"
// hint used by the move-queue to decide whether to widen its search.
type Result struct {
	Team      *team.ServerTeam
	FoundSrc  bool
}

// MemberLoad is one team member's reported load, the input to
// loadBytes.
type MemberLoad struct {
	Replied        bool
	Bytes          int64
	AvailableBytes int64
	CapacityBytes  int64
	InFlightBytes  int64
}

// LoadSource supplies each member's last reported load for a team.
type LoadSource interface {
	MemberLoad(ids.ServerID) MemberLoad
}

// Selector answers getTeam requests over a Store/Registry pair, caching
// medianAvailableSpace on a refresh timer.
type Selector struct {
	Registry *registry.Registry
	Store    *team.Store
	Load     LoadSource
	RNG      *rng.Source

	BestTeamOptionCount  int
	BestTeamMaxTeamTries int
	MinAvailableRatio    float64
	TargetAvailableRatio float64
	RefreshInterval      time.Duration

	mu                  sync.RWMutex
	medianAvailableSpace float64
	rotatingIndex       int
	stuckCount          int
}

// NewSelector returns a ready Selector. Call RunMedianRefresh in its own
// goroutine to keep medianAvailableSpace current.
func NewSelector(reg *registry.Registry, store *team.Store, load LoadSource, r *rng.Source) *Selector {
	return &Selector{
		Registry:             reg,
		Store:                store,
		Load:                 load,
		RNG:                  r,
		BestTeamOptionCount:  4,
		BestTeamMaxTeamTries: 100,
		MinAvailableRatio:    0.05,
		TargetAvailableRatio: 0.2,
		RefreshInterval:      60 * time.Second,
		medianAvailableSpace: 1,
	}
}

// RunMedianRefresh recomputes medianAvailableSpace every RefreshInterval
// until ctx is cancelled.
func (s *Selector) RunMedianRefresh(ctx context.Context) error {
	for {
		s.refreshMedianAvailableSpace()
		if err := sched.Delay(ctx, s.RefreshInterval); err != nil {
			return err
		}
	}
}

func (s *Selector) refreshMedianAvailableSpace() {
	var ratios []float64
	for _, id := range s.Store.AllServerTeamIDs() {
		t := s.Store.ServerTeam(id)
		if t == nil || !t.Healthy {
			continue
		}
		ratios = append(ratios, s.minAvailableRatio(t))
	}
	median := 1.0
	if len(ratios) > 0 {
		sort.Float64s(ratios)
		median = ratios[len(ratios)/2]
	}
	if median < s.MinAvailableRatio {
		median = s.MinAvailableRatio
	}
	if median > s.TargetAvailableRatio {
		median = s.TargetAvailableRatio
	}
	s.mu.Lock()
	s.medianAvailableSpace = median
	s.mu.Unlock()
}

func (s *Selector) medianSpace() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.medianAvailableSpace
}

// BestTeamStuckCount reports how many consecutive sampleBest calls have
// failed to find any healthy candidate while healthy teams existed —
// the perpetual wiggle's third pause condition reads this to hold off
// wiggling a process while team selection itself is struggling.
func (s *Selector) BestTeamStuckCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stuckCount
}

// GetTeam picks the best team for a move request.
func (s *Selector) GetTeam(req Request) Result {
	if !req.WantsNewServers {
		if t, ok := s.completeSourcesTeam(req.CompleteSources, true); ok {
			return Result{Team: t, FoundSrc: true}
		}
	}

	if s.Store.ZeroHealthyTeams() {
		if t, ok := s.completeSourcesTeam(req.CompleteSources, false); ok {
			return Result{Team: t, FoundSrc: true}
		}
		return Result{}
	}

	if req.WantsTrueBest {
		if t := s.scanTrueBest(req); t != nil {
			return Result{Team: t, FoundSrc: false}
		}
		return Result{}
	}

	t := s.sampleBest(req)
	if t != nil {
		s.resetStuckCount()
		return Result{Team: t, FoundSrc: false}
	}
	s.bumpStuckCount()
	return Result{}
}

// resetStuckCount and bumpStuckCount track BestTeamStuckCount: reset
// whenever sampleBest finds a candidate, bumped whenever it draws
// BestTeamMaxTeamTries times without finding one despite the cluster
// not being ZeroHealthyTeams.
func (s *Selector) resetStuckCount() {
	s.mu.Lock()
	s.stuckCount = 0
	s.mu.Unlock()
}

func (s *Selector) bumpStuckCount() {
	s.mu.Lock()
	s.stuckCount++
	s.mu.Unlock()
}

// completeSourcesTeam finds a team containing a completeSources member
// whose every member is itself in completeSources, optionally requiring
// health — used both as the first preference and as the zero-healthy
// fallback.
func (s *Selector) completeSourcesTeam(completeSources []ids.ServerID, requireHealthy bool) (*team.ServerTeam, bool) {
	in := make(map[ids.ServerID]bool, len(completeSources))
	for _, id := range completeSources {
		in[id] = true
	}
	for _, src := range completeSources {
		rec := s.Registry.Server(src)
		if rec == nil {
			continue
		}
		for tID := range rec.Teams {
			t := s.Store.ServerTeam(tID)
			if t == nil {
				continue
			}
			if requireHealthy && !t.Healthy {
				continue
			}
			if allIn(t.Members, in) {
				return t, true
			}
		}
	}
	return nil, false
}

func allIn(members []ids.ServerID, set map[ids.ServerID]bool) bool {
	for _, m := range members {
		if !set[m] {
			return false
		}
	}
	return true
}

// scanTrueBest scans from a rotating index among healthy teams meeting
// the space floor and shard predicate, returning the best loadBytes.
func (s *Selector) scanTrueBest(req Request) *team.ServerTeam {
	all := s.Store.AllServerTeamIDs()
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].String() < all[j].String() })

	s.mu.Lock()
	if s.rotatingIndex >= len(all) {
		s.rotatingIndex = 0
	}
	start := s.rotatingIndex
	s.rotatingIndex = (s.rotatingIndex + 1) % len(all)
	s.mu.Unlock()

	var best *team.ServerTeam
	bestLoad := math.Inf(1)
	for i := 0; i < len(all); i++ {
		idx := (start + i) % len(all)
		t := s.Store.ServerTeam(all[idx])
		if t == nil || !t.Healthy {
			continue
		}
		if req.TeamMustHaveShards != nil && !req.TeamMustHaveShards(t.ID) {
			continue
		}
		if req.PreferLowerUtilization && s.minAvailableRatio(t) < s.MinAvailableRatio {
			continue
		}
		load := s.loadBytes(t, req.InflightPenalty)
		if load < bestLoad {
			bestLoad = load
			best = t
		}
	}
	return best
}

// sampleBest draws up to BestTeamOptionCount distinct random healthy
// teams (bounded by BestTeamMaxTeamTries draws) and picks the best
// loadBytes.
func (s *Selector) sampleBest(req Request) *team.ServerTeam {
	all := s.Store.AllServerTeamIDs()
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].String() < all[j].String() })

	seen := make(map[int]bool)
	var best *team.ServerTeam
	bestLoad := math.Inf(1)
	found := 0
	tries := 0

	for found < s.BestTeamOptionCount && tries < s.BestTeamMaxTeamTries {
		tries++
		idx := s.RNG.Intn(len(all))
		if seen[idx] {
			continue
		}
		seen[idx] = true

		t := s.Store.ServerTeam(all[idx])
		if t == nil || !t.Healthy {
			continue
		}
		if req.TeamMustHaveShards != nil && !req.TeamMustHaveShards(t.ID) {
			continue
		}
		found++
		load := s.loadBytes(t, req.InflightPenalty)
		if load < bestLoad {
			bestLoad = load
			best = t
		}
	}
	return best
}

// loadBytes computes:
// loadBytes = (loadAverage + inflightPenalty*mean_inflight) * availableMultiplier.
func (s *Selector) loadBytes(t *team.ServerTeam, inflightPenalty float64) float64 {
	if s.Load == nil || len(t.Members) == 0 {
		return 0
	}

	var sum, inflightSum float64
	anyMissing := false
	for _, m := range t.Members {
		l := s.Load.MemberLoad(m)
		if !l.Replied {
			anyMissing = true
		}
		sum += float64(l.Bytes)
		inflightSum += float64(l.InFlightBytes)
	}
	loadAverage := sum / float64(len(t.Members))
	if anyMissing {
		loadAverage *= 2
	}
	meanInflight := inflightSum / float64(len(t.Members))

	ratio := s.minAvailableRatio(t)
	cutoff := s.medianSpace()
	denom := math.Max(math.Min(cutoff, ratio), 1e-9)
	multiplier := cutoff / denom
	if len(t.Members) > 2 {
		multiplier *= multiplier
	}

	return (loadAverage + inflightPenalty*meanInflight) * multiplier
}

// minAvailableRatio returns the minimum over members of
// (available-inflight)/capacity.
func (s *Selector) minAvailableRatio(t *team.ServerTeam) float64 {
	if s.Load == nil {
		return 1
	}
	min := math.Inf(1)
	for _, m := range t.Members {
		l := s.Load.MemberLoad(m)
		if l.CapacityBytes <= 0 {
			continue
		}
		ratio := float64(l.AvailableBytes-l.InFlightBytes) / float64(l.CapacityBytes)
		if ratio < min {
			min = ratio
		}
	}
	if math.IsInf(min, 1) {
		return 1
	}
	return min
}
