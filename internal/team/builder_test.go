package team

import (
	"testing"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/policy"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/rng"
)

func newTestBuilder(t *testing.T, zones int) (*Builder, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	for i := 0; i < zones; i++ {
		zone := string(rune('a' + i))
		reg.AddServer(&registry.Server{
			ID:       ids.NewServerID(),
			Locality: locality.Record{locality.KeyZoneID: zone},
		})
	}
	knobs := config.Default()
	knobs.TeamSize = 3
	knobs.DesiredPerServer = 2
	knobs.MaxPerServer = 4
	pol := policy.Across(locality.KeyZoneID, 3, policy.One())
	b := NewBuilder(reg, New(), pol, knobs, rng.New(1))
	return b, reg
}

func TestBuildCreatesMachineAndServerTeams(t *testing.T) {
	b, _ := newTestBuilder(t, 6)
	b.Build()

	if b.Store.MachineTeamCount() == 0 {
		t.Fatal("expected at least one machine team")
	}
	if b.Store.ServerTeamCount() == 0 {
		t.Fatal("expected at least one server team")
	}
	for _, id := range b.Store.AllServerTeamIDs() {
		st := b.Store.ServerTeam(id)
		if len(st.Members) != 3 {
			t.Fatalf("expected team size 3, got %d", len(st.Members))
		}
	}
}

func TestBuildFailsGracefullyWithTooFewZones(t *testing.T) {
	b, _ := newTestBuilder(t, 2) // policy needs 3 distinct zones
	b.Build()

	if b.Store.MachineTeamCount() != 0 {
		t.Fatalf("expected no machine teams to form, got %d", b.Store.MachineTeamCount())
	}
	if !b.LastBuildFailed {
		t.Fatal("expected LastBuildFailed to be set")
	}
}

func TestBuildNeverExceedsMaxPerServerBound(t *testing.T) {
	b, _ := newTestBuilder(t, 6)
	for i := 0; i < 5; i++ {
		b.Build()
	}

	maxTeams := int(b.Knobs.MaxPerServer * 6)
	if got := b.Store.MachineTeamCount(); got > maxTeams {
		t.Fatalf("machine team count %d exceeded bound %d", got, maxTeams)
	}
	if got := b.Store.ServerTeamCount(); got > maxTeams {
		t.Fatalf("server team count %d exceeded bound %d", got, maxTeams)
	}
}
