package team

import (
	"context"
	"testing"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/registry"
)

type fakeShards struct {
	ranges []ShardRange
	bytes  int64
}

func (f *fakeShards) ShardsForTeam(ids.ServerTeamID) []ShardRange { return f.ranges }
func (f *fakeShards) BytesHeld(context.Context, ShardRange) (int64, error) { return f.bytes, nil }

type fakeRelocator struct {
	requests []RelocationRequest
}

func (f *fakeRelocator) RequestRelocation(_ context.Context, req RelocationRequest) error {
	f.requests = append(f.requests, req)
	return nil
}

type fakeRecorder struct {
	recorded map[string]Priority
}

func (f *fakeRecorder) RecordPriority(r ShardRange, p Priority) {
	if f.recorded == nil {
		f.recorded = make(map[string]Priority)
	}
	f.recorded[string(r.Start)+".."+string(r.End)] = p
}

func newTestHealthTracker(t *testing.T, members []ids.ServerID) (*HealthTracker, *Store, *registry.Registry, *fakeRelocator) {
	t.Helper()
	reg := registry.New()
	store := New()
	relocator := &fakeRelocator{}

	for _, m := range members {
		reg.AddServer(&registry.Server{ID: m})
	}

	st := &ServerTeam{ID: ids.NewServerTeamID(), Members: members}
	store.AddServerTeam(st)

	cfg := HealthTrackerConfig{
		Registry:  reg,
		Store:     store,
		Knobs:     config.Default(),
		Shards:    &fakeShards{ranges: []ShardRange{{Start: []byte("a"), End: []byte("b")}}},
		Relocator: relocator,
	}
	return NewHealthTracker(cfg, st.ID, 3), store, reg, relocator
}

func threeMembers() []ids.ServerID {
	return []ids.ServerID{ids.NewServerID(), ids.NewServerID(), ids.NewServerID()}
}

func TestComputePriorityHealthyTeam(t *testing.T) {
	members := threeMembers()
	h, _, _, _ := newTestHealthTracker(t, members)
	st := &ServerTeam{Members: members}

	p := h.computePriority(st, 3, 0, 0, 0)
	if p != PriorityTeamHealthy {
		t.Fatalf("expected TEAM_HEALTHY, got %v", p)
	}
}

func TestComputePriorityServersLeftLadder(t *testing.T) {
	members := threeMembers()
	h, _, _, _ := newTestHealthTracker(t, members)
	st := &ServerTeam{Members: members}

	cases := []struct {
		left int
		want Priority
	}{
		{0, PriorityTeam0Left},
		{1, PriorityTeam1Left},
		{2, PriorityTeam2Left},
	}
	for _, c := range cases {
		if got := h.computePriority(st, c.left, 0, 0, 0); got != c.want {
			t.Fatalf("serversLeft=%d: expected %v, got %v", c.left, c.want, got)
		}
	}
}

func TestComputePriorityRedundantBeatsUnhealthyOnlyWhenBothSet(t *testing.T) {
	members := threeMembers()
	h, _, _, _ := newTestHealthTracker(t, members)

	bad := &ServerTeam{Members: members, Bad: true}
	if got := h.computePriority(bad, 3, 0, 0, 0); got != PriorityTeamUnhealthy {
		t.Fatalf("expected TEAM_UNHEALTHY for a bad, non-redundant team, got %v", got)
	}

	redundant := &ServerTeam{Members: members, Bad: true, Redundant: true}
	if got := h.computePriority(redundant, 3, 0, 0, 0); got != PriorityTeamRedundant {
		t.Fatalf("expected TEAM_REDUNDANT once Redundant is also set, got %v", got)
	}
}

func TestComputePriorityPerpetualWiggleRequiresMatchingMemberCounts(t *testing.T) {
	members := threeMembers()
	h, _, _, _ := newTestHealthTracker(t, members)
	st := &ServerTeam{Members: members}

	// Two members undesired and wrong-configuration but only one of them
	// wiggling: the counts disagree, so this must not read as
	// PERPETUAL_WIGGLE even though every count is nonzero.
	if got := h.computePriority(st, 3, 2, 2, 1); got == PriorityPerpetualWiggle {
		t.Fatalf("expected mismatched undesired/wrongConfig/wiggling counts not to trigger PERPETUAL_WIGGLE, got %v", got)
	}

	if got := h.computePriority(st, 3, 1, 0, 0); got != PriorityContainsUndesiredServer {
		t.Fatalf("expected CONTAINS_UNDESIRED_SERVER without any wiggling member, got %v", got)
	}

	// All three counts equal and nonzero: this is the real PERPETUAL_WIGGLE
	// trigger, since computePriority only has counts to work with.
	if got := h.computePriority(st, 3, 1, 1, 1); got != PriorityPerpetualWiggle {
		t.Fatalf("expected matching nonzero undesired/wrongConfig/wiggling counts to trigger PERPETUAL_WIGGLE, got %v", got)
	}

	bad := &ServerTeam{Members: members, Bad: true}
	if got := h.computePriority(bad, 3, 2, 2, 2); got == PriorityPerpetualWiggle {
		t.Fatalf("expected a bad team never to report PERPETUAL_WIGGLE, got %v", got)
	}
}

func TestRecheckUpdatesStoreHealthAndPriority(t *testing.T) {
	members := threeMembers()
	h, store, reg, _ := newTestHealthTracker(t, members)
	st := store.ServerTeam(h.id)

	h.recheck(context.Background(), st)

	got := store.ServerTeam(h.id)
	if !got.Healthy || !got.Optimal {
		t.Fatalf("expected a team with all-healthy members to be healthy and optimal, got %+v", got)
	}
	if got.Priority != PriorityTeamHealthy {
		t.Fatalf("expected TEAM_HEALTHY priority, got %v", got.Priority)
	}

	reg.SetStatus(members[0], registry.Status{Failed: true})
	h.recheck(context.Background(), store.ServerTeam(h.id))

	got = store.ServerTeam(h.id)
	if got.Healthy {
		t.Fatal("expected the team to become unhealthy once a member fails")
	}
	if got.Priority != PriorityTeam2Left {
		t.Fatalf("expected TEAM_2_LEFT after one of three members fails, got %v", got.Priority)
	}
}

func TestEmitRelocationsSuppressedBeforeRecoveryDelayUnlessFailed(t *testing.T) {
	members := threeMembers()
	h, store, _, relocator := newTestHealthTracker(t, members)
	h.cfg.RecoveryPastInitialDelay = func() bool { return false }

	st := store.ServerTeam(h.id)
	h.emitRelocations(context.Background(), st, PriorityTeamHealthy, false)
	if len(relocator.requests) != 0 {
		t.Fatal("expected relocations to be suppressed before the recovery delay elapses")
	}

	h.emitRelocations(context.Background(), st, PriorityTeamUnhealthy, true)
	if len(relocator.requests) != 1 {
		t.Fatalf("expected a relocation request once a failed member is present, got %d", len(relocator.requests))
	}
	if relocator.requests[0].Priority != PriorityFailed {
		t.Fatalf("expected the failed floor to apply, got priority %v", relocator.requests[0].Priority)
	}
}

func TestEmitRelocationsRecordsOwnPriorityBeforePeerMax(t *testing.T) {
	members := threeMembers()
	h, store, _, _ := newTestHealthTracker(t, members)
	recorder := &fakeRecorder{}
	h.cfg.Recorder = recorder
	h.cfg.RecoveryPastInitialDelay = func() bool { return true }

	st := store.ServerTeam(h.id)
	h.emitRelocations(context.Background(), st, PriorityTeamUnhealthy, false)

	got, ok := recorder.recorded["a..b"]
	if !ok {
		t.Fatal("expected the team's own priority to be recorded for its shard range")
	}
	if got != PriorityTeamUnhealthy {
		t.Fatalf("expected the recorded priority to be the team's own (pre-peer-max) priority, got %v", got)
	}
}
