// Package team owns server teams and machine teams: the team store,
// builder, remover, and per-team health tracker.
package team

// Priority is a team's relocation urgency bucket, consumed by the
// external move-queue. Larger values are more urgent; PriorityNone
// means "no relocation needed; this team is healthy."
type Priority int

const (
	PriorityNone Priority = iota

	PriorityTeamHealthy
	PriorityContainsUndesiredServer
	PriorityTeamRedundant
	PriorityTeamUnhealthy
	PriorityPerpetualWiggle
	PriorityTeam2Left
	PriorityTeam1Left
	PriorityTeam0Left
	PriorityPopulateRegion

	// PriorityFailed is not itself a row of the priority table above; it
	// is the floor applied whenever a team contains a failed member:
	// priority = max(team priority, other team's priority, FAILED). It
	// ranks above every other priority, including PopulateRegion, or a
	// failed-member relocation can starve behind an empty-region fill.
	PriorityFailed
)

func (p Priority) String() string {
	switch p {
	case PriorityFailed:
		return "TEAM_FAILED"
	case PriorityPopulateRegion:
		return "POPULATE_REGION"
	case PriorityTeam0Left:
		return "TEAM_0_LEFT"
	case PriorityTeam1Left:
		return "TEAM_1_LEFT"
	case PriorityTeam2Left:
		return "TEAM_2_LEFT"
	case PriorityTeamUnhealthy:
		return "TEAM_UNHEALTHY"
	case PriorityPerpetualWiggle:
		return "PERPETUAL_WIGGLE"
	case PriorityTeamRedundant:
		return "TEAM_REDUNDANT"
	case PriorityContainsUndesiredServer:
		return "CONTAINS_UNDESIRED_SERVER"
	case PriorityTeamHealthy:
		return "TEAM_HEALTHY"
	default:
		return "NONE"
	}
}

// Max returns the more urgent of p and other.
func Max(p, other Priority) Priority {
	if other > p {
		return other
	}
	return p
}
