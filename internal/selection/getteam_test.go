package selection

import (
	"testing"

	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/rng"
	"github.com/aerokv/teamcollection/internal/team"
)

type fakeLoadSource struct {
	loads map[ids.ServerID]MemberLoad
}

func newFakeLoadSource() *fakeLoadSource {
	return &fakeLoadSource{loads: make(map[ids.ServerID]MemberLoad)}
}

func (f *fakeLoadSource) MemberLoad(id ids.ServerID) MemberLoad {
	return f.loads[id]
}

func (f *fakeLoadSource) set(id ids.ServerID, l MemberLoad) {
	f.loads[id] = l
}

func addHealthyTeam(reg *registry.Registry, store *team.Store, members []ids.ServerID) ids.ServerTeamID {
	for _, m := range members {
		reg.AddServer(&registry.Server{ID: m})
	}
	st := &team.ServerTeam{ID: ids.NewServerTeamID(), Members: members, Healthy: true}
	store.AddServerTeam(st)
	for _, m := range members {
		reg.AddTeamToServer(m, st.ID)
	}
	return st.ID
}

func threeServers() []ids.ServerID {
	return []ids.ServerID{ids.NewServerID(), ids.NewServerID(), ids.NewServerID()}
}

func newTestSelector(load LoadSource) (*Selector, *registry.Registry, *team.Store) {
	reg := registry.New()
	store := team.New()
	return NewSelector(reg, store, load, rng.New(1)), reg, store
}

func TestGetTeamReturnsNoResultWhenStoreEmpty(t *testing.T) {
	s, _, _ := newTestSelector(newFakeLoadSource())
	res := s.GetTeam(Request{})
	if res.Team != nil {
		t.Fatalf("expected no team from an empty store, got %+v", res.Team)
	}
}

func TestGetTeamPrefersCompleteSourcesTeam(t *testing.T) {
	load := newFakeLoadSource()
	s, reg, store := newTestSelector(load)

	members := threeServers()
	want := addHealthyTeam(reg, store, members)
	// a second, unrelated healthy team that should not be picked
	addHealthyTeam(reg, store, threeServers())

	res := s.GetTeam(Request{CompleteSources: members})
	if res.Team == nil || res.Team.ID != want {
		t.Fatalf("expected the completeSources team %v, got %+v", want, res.Team)
	}
	if !res.FoundSrc {
		t.Fatal("expected FoundSrc to be true for a completeSources match")
	}
}

func TestGetTeamScanTrueBestPicksLowestLoad(t *testing.T) {
	load := newFakeLoadSource()
	s, reg, store := newTestSelector(load)

	lowMembers := threeServers()
	highMembers := threeServers()
	low := addHealthyTeam(reg, store, lowMembers)
	addHealthyTeam(reg, store, highMembers)

	for _, m := range lowMembers {
		load.set(m, MemberLoad{Replied: true, Bytes: 10, AvailableBytes: 100, CapacityBytes: 100})
	}
	for _, m := range highMembers {
		load.set(m, MemberLoad{Replied: true, Bytes: 1000, AvailableBytes: 100, CapacityBytes: 100})
	}

	res := s.GetTeam(Request{WantsTrueBest: true, WantsNewServers: true})
	if res.Team == nil || res.Team.ID != low {
		t.Fatalf("expected the lower-load team %v, got %+v", low, res.Team)
	}
}

func TestGetTeamRespectsTeamMustHaveShardsPredicate(t *testing.T) {
	load := newFakeLoadSource()
	s, reg, store := newTestSelector(load)

	excluded := threeServers()
	allowed := threeServers()
	excludedID := addHealthyTeam(reg, store, excluded)
	allowedID := addHealthyTeam(reg, store, allowed)

	req := Request{
		WantsTrueBest:   true,
		WantsNewServers: true,
		TeamMustHaveShards: func(id ids.ServerTeamID) bool {
			return id == allowedID
		},
	}
	res := s.GetTeam(req)
	if res.Team == nil || res.Team.ID != allowedID {
		t.Fatalf("expected only the allowed team %v to be eligible, got %+v (excluded was %v)", allowedID, res.Team, excludedID)
	}
}

func TestGetTeamFallsBackToCompleteSourcesWhenZeroHealthy(t *testing.T) {
	load := newFakeLoadSource()
	s, reg, store := newTestSelector(load)

	members := threeServers()
	for _, m := range members {
		reg.AddServer(&registry.Server{ID: m})
	}
	// Unhealthy team: present, but not counted by ZeroHealthyTeams.
	want := ids.NewServerTeamID()
	store.AddServerTeam(&team.ServerTeam{ID: want, Members: members, Healthy: false})
	for _, m := range members {
		reg.AddTeamToServer(m, want)
	}

	if !store.ZeroHealthyTeams() {
		t.Fatal("expected zero healthy teams for this fixture")
	}

	res := s.GetTeam(Request{CompleteSources: members})
	if res.Team == nil || res.Team.ID != want {
		t.Fatalf("expected the degraded fallback to still return the unhealthy completeSources team %v, got %+v", want, res.Team)
	}
}

func TestBestTeamStuckCountTracksSampleBestMisses(t *testing.T) {
	load := newFakeLoadSource()
	s, reg, store := newTestSelector(load)
	addHealthyTeam(reg, store, threeServers())

	s.BestTeamMaxTeamTries = 0
	res := s.GetTeam(Request{WantsNewServers: true})
	if res.Team != nil {
		t.Fatalf("expected no team once BestTeamMaxTeamTries is exhausted before any draw, got %+v", res.Team)
	}
	if got := s.BestTeamStuckCount(); got != 1 {
		t.Fatalf("expected BestTeamStuckCount to be 1 after one failed sample, got %d", got)
	}

	res = s.GetTeam(Request{WantsNewServers: true})
	if got := s.BestTeamStuckCount(); got != 2 {
		t.Fatalf("expected BestTeamStuckCount to keep climbing on repeated misses, got %d", got)
	}

	s.BestTeamMaxTeamTries = 100
	res = s.GetTeam(Request{WantsNewServers: true})
	if res.Team == nil {
		t.Fatal("expected a team once sampling is allowed to retry")
	}
	if got := s.BestTeamStuckCount(); got != 0 {
		t.Fatalf("expected BestTeamStuckCount to reset to 0 once a candidate is found, got %d", got)
	}
}

func TestMinAvailableRatioIgnoresZeroCapacityMembers(t *testing.T) {
	load := newFakeLoadSource()
	s, reg, store := newTestSelector(load)

	members := threeServers()
	id := addHealthyTeam(reg, store, members)
	load.set(members[0], MemberLoad{CapacityBytes: 0})
	load.set(members[1], MemberLoad{AvailableBytes: 50, CapacityBytes: 100})
	load.set(members[2], MemberLoad{AvailableBytes: 80, CapacityBytes: 100})

	st := store.ServerTeam(id)
	if got := s.minAvailableRatio(st); got != 0.5 {
		t.Fatalf("expected the zero-capacity member to be skipped, leaving the min ratio 0.5, got %v", got)
	}
}
