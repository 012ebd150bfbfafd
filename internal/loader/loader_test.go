package loader

import (
	"context"
	"testing"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/policy"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/rng"
	"github.com/aerokv/teamcollection/internal/team"
)

type fakeSource struct {
	servers []ServerListEntry
	shards  []ShardDestination
	mode    config.DataDistributionMode
}

func (f *fakeSource) ServerList(context.Context) ([]ServerListEntry, error) { return f.servers, nil }
func (f *fakeSource) ShardMapping(context.Context) ([]ShardDestination, error) { return f.shards, nil }
func (f *fakeSource) DataDistributionMode(context.Context) (config.DataDistributionMode, error) {
	return f.mode, nil
}
func (f *fakeSource) HealthyZone(context.Context) (string, int64, bool, error) {
	return "", 0, false, nil
}

func zoneServer(zone string) ServerListEntry {
	return ServerListEntry{
		ID:       ids.NewServerID(),
		Locality: locality.Record{locality.KeyZoneID: zone},
	}
}

func newTestLoader(src *fakeSource) *Loader {
	reg := registry.New()
	store := team.New()
	pol := policy.Across(locality.KeyZoneID, 3, policy.One())
	knobs := config.Default()
	knobs.TeamSize = 3
	return New(reg, store, pol, knobs, src, rng.New(1))
}

func TestLoadPromotesASatisfyingSubsetOfAnOversizedHistoricalTeam(t *testing.T) {
	// Four members (more than teamSize) across four distinct zones: the
	// full set is seeded bad, then promoteSubsets should carve out a
	// healthy, optimal 3-member team distinct from the full set.
	a, b, c, d := zoneServer("a"), zoneServer("b"), zoneServer("c"), zoneServer("d")
	src := &fakeSource{
		servers: []ServerListEntry{a, b, c, d},
		shards: []ShardDestination{{
			Range:      team.ShardRange{Start: []byte("a"), End: []byte("z")},
			PrimarySrc: []ids.ServerID{a.ID, b.ID, c.ID, d.ID},
		}},
	}
	l := newTestLoader(src)

	dd, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(dd.Teams) != 1 {
		t.Fatalf("expected one deduplicated historical team, got %d", len(dd.Teams))
	}
	if !l.BootstrapDone() {
		t.Fatal("expected BootstrapDone to be true after Load")
	}

	if l.Store.ServerTeamCount() != 2 {
		t.Fatalf("expected the seeded bad 4-member team plus one promoted 3-member team, got %d", l.Store.ServerTeamCount())
	}

	var promoted *team.ServerTeam
	for _, id := range l.Store.AllServerTeamIDs() {
		if st := l.Store.ServerTeam(id); st.Healthy {
			promoted = st
		}
	}
	if promoted == nil {
		t.Fatal("expected one promoted, healthy team among the surviving teams")
	}
	if !promoted.Optimal || len(promoted.Members) != 3 {
		t.Fatalf("expected the promoted team to be optimal with 3 members, got %+v", promoted)
	}
}

func TestLoadDedupsIdenticalMemberSetsAcrossShards(t *testing.T) {
	a, b, c := zoneServer("a"), zoneServer("b"), zoneServer("c")
	members := []ids.ServerID{a.ID, b.ID, c.ID}
	src := &fakeSource{
		servers: []ServerListEntry{a, b, c},
		shards: []ShardDestination{
			{Range: team.ShardRange{Start: []byte("a"), End: []byte("m")}, PrimarySrc: members},
			{Range: team.ShardRange{Start: []byte("m"), End: []byte("z")}, PrimarySrc: members},
		},
	}
	l := newTestLoader(src)

	dd, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(dd.Teams) != 1 {
		t.Fatalf("expected the two shards' identical member set to dedup to one team, got %d", len(dd.Teams))
	}
}

func TestPromoteSubsetsLeavesBadTeamWhenNoSubsetSatisfiesPolicy(t *testing.T) {
	// All three servers share the same zone, so no 3-subset can satisfy
	// a policy requiring 3 distinct zones.
	a, b, c := zoneServer("a"), zoneServer("a"), zoneServer("a")
	members := []ids.ServerID{a.ID, b.ID, c.ID}
	src := &fakeSource{
		servers: []ServerListEntry{a, b, c},
		shards:  []ShardDestination{{PrimarySrc: members}},
	}
	l := newTestLoader(src)

	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	bad := l.Store.BadServerTeamIDs()
	if len(bad) != 1 {
		t.Fatalf("expected the seeded team to remain bad since no subset satisfies the policy, got %d bad teams", len(bad))
	}
}

func TestLoadSkipsPromotionWhenFewerThanTeamSizeMembers(t *testing.T) {
	a, b := zoneServer("a"), zoneServer("b")
	members := []ids.ServerID{a.ID, b.ID}
	src := &fakeSource{
		servers: []ServerListEntry{a, b},
		shards:  []ShardDestination{{PrimarySrc: members}},
	}
	l := newTestLoader(src)

	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(l.Store.BadServerTeamIDs()) != 1 {
		t.Fatal("expected the seeded team to remain bad when it has fewer members than teamSize")
	}
}
