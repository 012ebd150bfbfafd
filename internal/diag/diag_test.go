package diag

import (
	"testing"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/team"
)

func TestServerTeamInfoOfCopiesFields(t *testing.T) {
	members := []ids.ServerID{ids.NewServerID(), ids.NewServerID()}
	st := &team.ServerTeam{
		ID:       ids.NewServerTeamID(),
		Members:  members,
		Healthy:  true,
		Optimal:  false,
		Bad:      false,
		Priority: team.PriorityTeamHealthy,
	}

	info := ServerTeamInfoOf(st)

	if info.ID != st.ID.String() {
		t.Fatalf("expected ID %s, got %s", st.ID.String(), info.ID)
	}
	if info.Size != 2 {
		t.Fatalf("expected size 2, got %d", info.Size)
	}
	if !info.Healthy || info.Optimal {
		t.Fatalf("expected healthy=true optimal=false, got healthy=%v optimal=%v", info.Healthy, info.Optimal)
	}
	if info.Priority != "TEAM_HEALTHY" {
		t.Fatalf("expected priority TEAM_HEALTHY, got %s", info.Priority)
	}
	if len(info.Members) != 2 {
		t.Fatalf("expected 2 rendered member IDs, got %d", len(info.Members))
	}
}

func TestModeString(t *testing.T) {
	cases := map[config.DataDistributionMode]string{
		config.ModeDisabled:     "disabled",
		config.ModePausedForTest: "pausedForTest",
		config.ModeEnabled:      "enabled",
	}
	for mode, want := range cases {
		if got := ModeString(mode); got != want {
			t.Fatalf("ModeString(%v): expected %q, got %q", mode, want, got)
		}
	}
}
