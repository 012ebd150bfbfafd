package collection

import (
	"context"
	"testing"

	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/loader"
	"github.com/aerokv/teamcollection/internal/policy"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/selection"
	"github.com/aerokv/teamcollection/internal/team"
	"github.com/aerokv/teamcollection/internal/wiggle"
)

func newTestShardIndex() *shardIndex {
	return newShardIndex("primary", nil)
}

func rangeOf(start, end string) team.ShardRange {
	return team.ShardRange{Start: []byte(start), End: []byte(end)}
}

func TestShardIndexSeedPopulatesByTeam(t *testing.T) {
	si := newTestShardIndex()
	tid := ids.NewServerTeamID()
	a, b := ids.NewServerID(), ids.NewServerID()

	dest := []loader.ShardDestination{
		{Range: rangeOf("a", "b"), HasDest: true, PrimaryDest: []ids.ServerID{a, b}},
		{Range: rangeOf("b", "c"), HasDest: false, PrimaryDest: []ids.ServerID{a, b}},
	}
	teamOf := func(members []ids.ServerID) (ids.ServerTeamID, bool) { return tid, true }

	si.Seed(dest, teamOf)

	shards := si.ShardsForTeam(tid)
	if len(shards) != 1 {
		t.Fatalf("expected only the HasDest range to be seeded, got %v", shards)
	}
	if string(shards[0].Start) != "a" || string(shards[0].End) != "b" {
		t.Fatalf("unexpected seeded range %+v", shards[0])
	}
}

func TestShardIndexBytesHeldRoundTrip(t *testing.T) {
	si := newTestShardIndex()
	r := rangeOf("x", "y")

	if n, err := si.BytesHeld(context.Background(), r); err != nil || n != 0 {
		t.Fatalf("expected zero bytes for an unrecorded range, got %d err=%v", n, err)
	}

	si.RecordBytes(r, 4096)
	if n, err := si.BytesHeld(context.Background(), r); err != nil || n != 4096 {
		t.Fatalf("expected recorded bytes to round-trip, got %d err=%v", n, err)
	}
}

func TestShardIndexRequestRelocationNoopsWithoutPublisher(t *testing.T) {
	si := newTestShardIndex()
	req := team.RelocationRequest{Range: rangeOf("a", "b"), Priority: team.PriorityTeamUnhealthy}

	if err := si.RequestRelocation(context.Background(), req); err != nil {
		t.Fatalf("expected a nil publisher to make RequestRelocation a no-op, got %v", err)
	}
}

func TestShardIndexWarnLastReplicaLostNoopsWithoutPublisher(t *testing.T) {
	si := newTestShardIndex()
	// Must not panic with a nil publisher.
	si.WarnLastReplicaLost(context.Background(), ids.NewServerTeamID(), []team.ShardRange{rangeOf("a", "b")}, 10)
}

func TestShardIndexOtherTeamPriorityWithoutPeerIsNone(t *testing.T) {
	si := newTestShardIndex()
	if got := si.OtherTeamPriority(rangeOf("a", "b")); got != team.PriorityNone {
		t.Fatalf("expected PriorityNone with no peer wired, got %v", got)
	}
}

func TestShardIndexOtherTeamPriorityReadsFromPeer(t *testing.T) {
	primary := newTestShardIndex()
	secondary := newTestShardIndex()
	primary.SetPeer(secondary)

	r := rangeOf("a", "b")
	secondary.RecordPriority(r, team.PriorityTeamUnhealthy)

	if got := primary.OtherTeamPriority(r); got != team.PriorityTeamUnhealthy {
		t.Fatalf("expected the peer's recorded priority, got %v", got)
	}
	// A range the peer never recorded stays PriorityNone.
	if got := primary.OtherTeamPriority(rangeOf("c", "d")); got != team.PriorityNone {
		t.Fatalf("expected PriorityNone for an unrecorded range, got %v", got)
	}
}

func TestShardIndexRecordAndFetchLoad(t *testing.T) {
	si := newTestShardIndex()
	id := ids.NewServerID()

	if got := si.MemberLoad(id); got.Replied {
		t.Fatalf("expected a zero-value load for an unrecorded server, got %+v", got)
	}

	want := selection.MemberLoad{Replied: true, Bytes: 10, AvailableBytes: 90, CapacityBytes: 100}
	si.RecordLoad(id, want)

	if got := si.MemberLoad(id); got != want {
		t.Fatalf("expected recorded load to round-trip, got %+v want %+v", got, want)
	}
}

func TestShardCounterCountsOnlySeededShards(t *testing.T) {
	reg := registry.New()
	si := newTestShardIndex()
	sc := &shardCounter{reg: reg, idx: si}

	s := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z1"}}
	reg.AddServer(s)

	tid := ids.NewServerTeamID()
	reg.AddTeamToServer(s.ID, tid)
	si.byTeam[tid] = []team.ShardRange{rangeOf("a", "b"), rangeOf("b", "c")}

	n, err := sc.NumberOfShards(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("NumberOfShards: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 shards, got %d", n)
	}
	if sc.Drained(context.Background(), s.ID) {
		t.Fatalf("expected a server holding shards to not be drained")
	}
}

func TestShardCounterDrainedForUnknownServer(t *testing.T) {
	reg := registry.New()
	si := newTestShardIndex()
	sc := &shardCounter{reg: reg, idx: si}

	if !sc.Drained(context.Background(), ids.NewServerID()) {
		t.Fatalf("expected an unregistered server to report drained")
	}
}

func TestReevaluatorMarksBadOnPolicyViolation(t *testing.T) {
	reg := registry.New()
	st := team.New()
	re := &reevaluator{store: st, reg: reg, policy: policy.Across(locality.KeyZoneID, 3, policy.One())}

	a := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z1"}}
	b := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z1"}}
	c := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z1"}}
	reg.AddServer(a)
	reg.AddServer(b)
	reg.AddServer(c)

	tid := ids.NewServerTeamID()
	members := []ids.ServerID{a.ID, b.ID, c.ID}
	st.AddServerTeam(&team.ServerTeam{ID: tid, Members: members, Healthy: true, Optimal: true})
	reg.AddTeamToServer(a.ID, tid)
	reg.AddTeamToServer(b.ID, tid)
	reg.AddTeamToServer(c.ID, tid)

	re.ReevaluateServerTeams(a.ID)

	got := st.ServerTeam(tid)
	if got == nil || !got.Bad {
		t.Fatalf("expected a same-zone team to be marked bad once all three members share a zone, got %+v", got)
	}
}

func TestReevaluatorLeavesSatisfyingTeamAlone(t *testing.T) {
	reg := registry.New()
	st := team.New()
	re := &reevaluator{store: st, reg: reg, policy: policy.Across(locality.KeyZoneID, 3, policy.One())}

	a := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z1"}}
	b := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z2"}}
	c := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z3"}}
	reg.AddServer(a)
	reg.AddServer(b)
	reg.AddServer(c)

	tid := ids.NewServerTeamID()
	members := []ids.ServerID{a.ID, b.ID, c.ID}
	st.AddServerTeam(&team.ServerTeam{ID: tid, Members: members, Healthy: true, Optimal: true})
	reg.AddTeamToServer(a.ID, tid)

	re.ReevaluateServerTeams(a.ID)

	got := st.ServerTeam(tid)
	if got == nil || got.Bad {
		t.Fatalf("expected a cross-zone team to stay un-bad, got %+v", got)
	}
}

func TestReevaluatorNoopForUnknownServer(t *testing.T) {
	reg := registry.New()
	st := team.New()
	re := &reevaluator{store: st, reg: reg, policy: policy.Across(locality.KeyZoneID, 3, policy.One())}
	// Must not panic when the server was never registered.
	re.ReevaluateServerTeams(ids.NewServerID())
}

func TestFailedHandlerNoopsWithoutPublisher(t *testing.T) {
	fh := &failedHandler{region: "primary"}
	if err := fh.HandleFailedServer(context.Background(), ids.NewServerID()); err != nil {
		t.Fatalf("expected a nil publisher to make HandleFailedServer a no-op, got %v", err)
	}
}

func TestDesiredEngineFuncReturnsFixedEngine(t *testing.T) {
	de := desiredEngineFunc(registry.EngineSSD)
	if got := de(); got != registry.EngineSSD {
		t.Fatalf("expected EngineSSD, got %v", got)
	}
}

func TestProcessSetOrdersByFirstSightAndWalksSuccessors(t *testing.T) {
	reg := registry.New()
	mk := func(pid string) *registry.Server {
		return &registry.Server{
			ID:       ids.NewServerID(),
			Locality: locality.Record{locality.KeyZoneID: "z1", locality.KeyProcessID: pid},
		}
	}
	p1, p2, p3 := mk("p1"), mk("p2"), mk("p3")
	reg.AddServer(p1)
	reg.AddServer(p2)
	reg.AddServer(p3)

	ps := newProcessSet(reg)

	if got := ps.Count(); got != 3 {
		t.Fatalf("expected 3 distinct processes, got %d", got)
	}

	first, ok := ps.First()
	if !ok {
		t.Fatalf("expected a first process")
	}

	next, ok := ps.Successor(first)
	if !ok {
		t.Fatalf("expected a successor after the first process")
	}
	if next == first {
		t.Fatalf("expected the successor to differ from the first process")
	}

	last, ok := ps.Successor(next)
	if !ok {
		t.Fatalf("expected a third process")
	}
	if _, ok := ps.Successor(last); ok {
		t.Fatalf("expected no successor after the last process")
	}
}

func TestProcessSetServersOnProcessGroupsByProcessID(t *testing.T) {
	reg := registry.New()
	a := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z1", locality.KeyProcessID: "p1"}}
	b := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z1", locality.KeyProcessID: "p1"}}
	c := &registry.Server{ID: ids.NewServerID(), Locality: locality.Record{locality.KeyZoneID: "z1", locality.KeyProcessID: "p2"}}
	reg.AddServer(a)
	reg.AddServer(b)
	reg.AddServer(c)

	ps := newProcessSet(reg)

	onP1 := ps.ServersOnProcess(wiggle.ProcessID("p1"))
	if len(onP1) != 2 {
		t.Fatalf("expected 2 servers on p1, got %d", len(onP1))
	}
	onP2 := ps.ServersOnProcess(wiggle.ProcessID("p2"))
	if len(onP2) != 1 {
		t.Fatalf("expected 1 server on p2, got %d", len(onP2))
	}
}

func TestProcessSetEmptyReportsNoFirst(t *testing.T) {
	reg := registry.New()
	ps := newProcessSet(reg)
	if _, ok := ps.First(); ok {
		t.Fatalf("expected no first process on an empty registry")
	}
	if got := ps.Count(); got != 0 {
		t.Fatalf("expected a count of 0, got %d", got)
	}
}
