// Package diag defines the structured diagnostic records
// (TeamCollectionInfo / ServerTeamInfo / MachineInfo) an operator
// queries to inspect a running region: at minimum ID, size, health, and
// priority counts. There is no prescribed wire format beyond JSON tags.
package diag

import (
	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/team"
)

// ServerTeamInfo summarizes one server team.
type ServerTeamInfo struct {
	ID       string   `json:"id"`
	Members  []string `json:"members"`
	Size     int      `json:"size"`
	Healthy  bool     `json:"healthy"`
	Optimal  bool     `json:"optimal"`
	Bad      bool     `json:"bad"`
	Priority string   `json:"priority"`
}

// MachineInfo summarizes one machine.
type MachineInfo struct {
	ID           string `json:"id"`
	ServerCount  int    `json:"serverCount"`
	MachineTeams int    `json:"machineTeams"`
}

// TeamCollectionInfo is the top-level diagnostic dump for one region.
type TeamCollectionInfo struct {
	Region           string           `json:"region"`
	HealthyTeamCount int              `json:"healthyTeamCount"`
	OptimalTeamCount int              `json:"optimalTeamCount"`
	ZeroHealthyTeams bool             `json:"zeroHealthyTeams"`
	UnhealthyServers int              `json:"unhealthyServers"`
	ServerTeams      []ServerTeamInfo `json:"serverTeams"`
	Machines         []MachineInfo    `json:"machines"`
}

// ServerTeamInfoOf builds a ServerTeamInfo from a live team.ServerTeam.
func ServerTeamInfoOf(t *team.ServerTeam) ServerTeamInfo {
	members := make([]string, len(t.Members))
	for i, m := range t.Members {
		members[i] = m.String()
	}
	return ServerTeamInfo{
		ID:       t.ID.String(),
		Members:  members,
		Size:     len(t.Members),
		Healthy:  t.Healthy,
		Optimal:  t.Optimal,
		Bad:      t.Bad,
		Priority: t.Priority.String(),
	}
}

// BuildTeamCollectionInfo assembles a full diagnostic snapshot from a
// live registry and team store, including per-team and per-machine
// detail — the data the Diag gRPC method and ddctl status both report.
func BuildTeamCollectionInfo(region string, store *team.Store, reg *registry.Registry) TeamCollectionInfo {
	var teams []ServerTeamInfo
	for _, id := range store.AllServerTeamIDs() {
		if t := store.ServerTeam(id); t != nil {
			teams = append(teams, ServerTeamInfoOf(t))
		}
	}

	var machines []MachineInfo
	for _, id := range reg.AllMachineIDs() {
		m := reg.Machine(id)
		if m == nil {
			continue
		}
		machines = append(machines, MachineInfo{
			ID:           string(id),
			ServerCount:  len(m.Servers),
			MachineTeams: len(m.MachineTeams),
		})
	}

	return TeamCollectionInfo{
		Region:           region,
		HealthyTeamCount: store.HealthyTeamCount(),
		OptimalTeamCount: store.OptimalTeamCount(),
		ZeroHealthyTeams: store.ZeroHealthyTeams(),
		UnhealthyServers: reg.UnhealthyServerCount(),
		ServerTeams:      teams,
		Machines:         machines,
	}
}

// HealthReport is a health report to the cluster controller for when
// peer latencies cross thresholds, specified for completeness though
// peer-latency measurement itself is out of scope.
type HealthReport struct {
	Region   string   `json:"region"`
	Degraded bool     `json:"degraded"`
	Reasons  []string `json:"reasons,omitempty"`
}

// QuietCheckResult is the result of internal/loader.QuietCheck: is it
// safe to snapshot/restart right now.
type QuietCheckResult struct {
	Quiet               bool `json:"quiet"`
	InFlightRelocations int  `json:"inFlightRelocations"`
	BadTeams            int  `json:"badTeams"`
	UnhealthyServers    int  `json:"unhealthyServers"`
}

// ModeString renders a config.DataDistributionMode for diagnostics.
func ModeString(m config.DataDistributionMode) string {
	switch m {
	case config.ModeDisabled:
		return "disabled"
	case config.ModePausedForTest:
		return "pausedForTest"
	case config.ModeEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}
