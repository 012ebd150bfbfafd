// builder.go implements the team builder: machine teams first, then
// server teams, each scored by an overlap-penalized "least loaded"
// metric and chosen best-of-N.
package team

import (
	"math"
	"sort"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/policy"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/rng"
)

// Builder runs build passes that bring the Store's machine/server team
// density up to the targets derived from config.Knobs.
type Builder struct {
	Registry *registry.Registry
	Store    *Store
	Policy   policy.Policy
	Knobs    config.Knobs
	RNG      *rng.Source

	// LastBuildFailed is set when a build pass could not produce a
	// candidate machine team and stopped adding machine teams early; the
	// pass still goes on to build server teams.
	LastBuildFailed bool
}

// NewBuilder returns a Builder over the given collaborators.
func NewBuilder(reg *registry.Registry, store *Store, pol policy.Policy, knobs config.Knobs, r *rng.Source) *Builder {
	return &Builder{Registry: reg, Store: store, Policy: pol, Knobs: knobs, RNG: r}
}

// healthyServerIDs returns every healthy server ID, per the registry's
// current status cache.
func (b *Builder) healthyServerIDs() []ids.ServerID {
	var out []ids.ServerID
	for _, id := range b.Registry.AllServerIDs() {
		if b.Registry.IsHealthy(id) {
			out = append(out, id)
		}
	}
	return out
}

// healthyMachineIDs returns every machine that contains at least one
// healthy server.
func (b *Builder) healthyMachineIDs() []ids.MachineID {
	var out []ids.MachineID
	for _, id := range b.Registry.AllMachineIDs() {
		m := b.Registry.Machine(id)
		if m == nil {
			continue
		}
		for _, s := range m.Servers {
			if b.Registry.IsHealthy(s) {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// machineLocality derives a locality.Record for a machine from one of its
// member servers — every server on a machine shares the same zoneId by
// construction, and in practice shares dcId/dataHallId too.
func (b *Builder) machineLocality(id ids.MachineID) locality.Record {
	m := b.Registry.Machine(id)
	if m == nil || len(m.Servers) == 0 {
		return locality.Record{locality.KeyZoneID: string(id)}
	}
	s := b.Registry.Server(m.Servers[0])
	if s == nil {
		return locality.Record{locality.KeyZoneID: string(id)}
	}
	return s.Locality
}

// Build runs one build pass: machine teams first, then server teams.
func (b *Builder) Build() {
	b.LastBuildFailed = false
	b.buildMachineTeams()
	b.buildServerTeams()
}

func (b *Builder) buildMachineTeams() {
	healthyMachines := b.healthyMachineIDs()
	healthy := float64(len(b.healthyServerIDs()))

	desired := int(math.Ceil(b.Knobs.DesiredPerServer * healthy))
	maxTeams := int(math.Ceil(b.Knobs.MaxPerServer * healthy))
	current := b.Store.MachineTeamCount()

	toAdd := desired - current
	if toAdd <= 0 {
		return
	}
	if current+toAdd > maxTeams {
		toAdd = maxTeams - current
	}

	for i := 0; i < toAdd; i++ {
		if !b.addOneMachineTeam(healthyMachines) {
			b.LastBuildFailed = true
			return
		}
	}
}

// addOneMachineTeam runs the scored best-of-N attempt loop and adds
// the winner, returning false if no attempt produced a usable
// candidate.
func (b *Builder) addOneMachineTeam(healthyMachines []ids.MachineID) bool {
	if len(healthyMachines) == 0 {
		return false
	}

	forced := b.leastUsedMachine(healthyMachines)
	if forced == "" {
		return false
	}

	entries := make([]locality.Record, len(healthyMachines))
	indexOf := make(map[ids.MachineID]int, len(healthyMachines))
	for i, m := range healthyMachines {
		entries[i] = b.machineLocality(m)
		indexOf[m] = i
	}
	forcedIdx := []int{indexOf[forced]}

	attempts := b.Knobs.MaxMachineTeamBuildAttempts
	var best []ids.MachineID
	bestScore := math.Inf(1)
	sawOverlap := false

	for attempt := 0; attempt < attempts; attempt++ {
		sel, ok := policy.SelectReplicas(b.Policy, entries, forcedIdx, b.RNG)
		if !ok {
			continue
		}
		candidate := make([]ids.MachineID, 0, len(sel))
		for _, e := range sel {
			candidate = append(candidate, ids.MachineID(e.Zone()))
		}
		sort.Slice(candidate, func(i, j int) bool { return candidate[i] < candidate[j] })

		if _, exists := b.Store.FindMachineTeam(candidate); exists {
			// Complete overlap of an existing machine team: reject, but
			// extend the attempt budget once per the overlap extension
			// rule.
			if !sawOverlap {
				sawOverlap = true
				if attempts < b.Knobs.MaxMachineTeamBuildAttemptsOnOverlap {
					attempts = b.Knobs.MaxMachineTeamBuildAttemptsOnOverlap
				}
			}
			continue
		}

		score := b.machineTeamScore(candidate)
		if score < bestScore {
			bestScore = score
			best = candidate
		}
	}

	if best == nil {
		return false
	}

	mt, created := b.Store.GetOrCreateMachineTeam(best)
	if created {
		for _, m := range mt.Machines {
			b.Registry.AddMachineTeamToMachine(m, mt.ID)
		}
	}
	return true
}

// machineTeamScore computes
// score = Σ(member.machineTeams.size) + overlapPenalty*overlap, where
// overlap is counted by two-pointer merge against every existing machine
// team sharing at least one machine.
func (b *Builder) machineTeamScore(candidate []ids.MachineID) float64 {
	score := 0.0
	for _, m := range candidate {
		if rec := b.Registry.Machine(m); rec != nil {
			score += float64(len(rec.MachineTeams))
		}
	}
	score += b.Knobs.OverlapPenalty * float64(b.maxOverlapAgainstExisting(candidate))
	return score
}

// maxOverlapAgainstExisting returns the largest number of shared machines
// between candidate and any existing machine team that shares at least
// one machine, via a sorted two-pointer merge.
func (b *Builder) maxOverlapAgainstExisting(candidate []ids.MachineID) int {
	sorted := append([]ids.MachineID{}, candidate...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	seen := make(map[ids.MachineTeamID]struct{})
	for _, m := range candidate {
		rec := b.Registry.Machine(m)
		if rec == nil {
			continue
		}
		for mt := range rec.MachineTeams {
			seen[mt] = struct{}{}
		}
	}

	maxOverlap := 0
	for mt := range seen {
		existing := b.Store.MachineTeam(mt)
		if existing == nil {
			continue
		}
		overlap := twoPointerOverlap(sorted, existing.Machines)
		if overlap > maxOverlap {
			maxOverlap = overlap
		}
	}
	return maxOverlap
}

func twoPointerOverlap(a, b []ids.MachineID) int {
	i, j, n := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

// leastUsedMachine picks, uniformly at random, one of the healthy
// machines with the fewest machine-team memberships.
func (b *Builder) leastUsedMachine(healthyMachines []ids.MachineID) ids.MachineID {
	minCount := math.MaxInt32
	var minima []ids.MachineID
	for _, m := range healthyMachines {
		rec := b.Registry.Machine(m)
		if rec == nil {
			continue
		}
		n := len(rec.MachineTeams)
		if n < minCount {
			minCount = n
			minima = []ids.MachineID{m}
		} else if n == minCount {
			minima = append(minima, m)
		}
	}
	if len(minima) == 0 {
		return ""
	}
	sort.Slice(minima, func(i, j int) bool { return minima[i] < minima[j] }) // deterministic base order
	return minima[b.RNG.Intn(len(minima))]
}

func (b *Builder) buildServerTeams() {
	healthyServers := b.healthyServerIDs()
	healthy := float64(len(healthyServers))
	if healthy == 0 {
		return
	}

	desired := int(math.Ceil(b.Knobs.DesiredPerServer * healthy))
	maxTeams := int(math.Ceil(b.Knobs.MaxPerServer * healthy))
	targetPerServer := b.Knobs.TargetPerServer()

	toBuild := desired - b.Store.ServerTeamCount()
	if toBuild < 0 {
		toBuild = 0
	}
	if b.Store.ServerTeamCount()+toBuild > maxTeams {
		toBuild = maxTeams - b.Store.ServerTeamCount()
	}

	added := 0
	// Bound total iterations generously; a cluster that cannot make
	// progress (too few distinct machines for the policy) must not spin
	// forever.
	maxIterations := (toBuild + len(healthyServers)*2 + 8) * 4
	for iter := 0; iter < maxIterations; iter++ {
		if added >= toBuild && !b.anyServerBelowTarget(healthyServers, targetPerServer) {
			return
		}
		if !b.addOneServerTeam(healthyServers) {
			return
		}
		added++
	}
}

func (b *Builder) anyServerBelowTarget(healthyServers []ids.ServerID, target float64) bool {
	for _, id := range healthyServers {
		s := b.Registry.Server(id)
		if s != nil && float64(len(s.Teams)) < target {
			return true
		}
	}
	return false
}

func (b *Builder) addOneServerTeam(healthyServers []ids.ServerID) bool {
	if len(healthyServers) == 0 {
		return false
	}

	forced := b.leastUsedServer(healthyServers)
	if forced.IsZero() {
		return false
	}
	forcedRec := b.Registry.Server(forced)
	if forcedRec == nil {
		return false
	}

	mt := b.randomHealthyMachineTeamContaining(forcedRec.Machine)
	if mt == nil {
		return false
	}

	attempts := b.Knobs.MaxMachineTeamBuildAttempts
	var best []ids.ServerID
	bestScore := math.Inf(1)

	for attempt := 0; attempt < attempts; attempt++ {
		candidate := b.pickServerPerMachine(mt, forced, forcedRec.Machine)
		if candidate == nil {
			continue
		}
		if _, exists := b.Store.FindServerTeam(candidate); exists {
			continue
		}
		score := b.serverTeamScore(candidate)
		if score < bestScore {
			bestScore = score
			best = candidate
		}
	}

	if best == nil {
		return false
	}

	t := &ServerTeam{
		ID:          ids.NewServerTeamID(),
		Members:     best,
		MachineTeam: mt.ID,
		Healthy:     true,
		Optimal:     true,
	}
	b.Store.AddServerTeam(t)
	for _, s := range best {
		b.Registry.AddTeamToServer(s, t.ID)
	}
	return true
}

// pickServerPerMachine picks, for each machine in mt, a random healthy
// server on it — except for forcedMachine, where the already-chosen
// forced server is used.
func (b *Builder) pickServerPerMachine(mt *MachineTeam, forced ids.ServerID, forcedMachine ids.MachineID) []ids.ServerID {
	out := make([]ids.ServerID, 0, len(mt.Machines))
	for _, m := range mt.Machines {
		if m == forcedMachine {
			out = append(out, forced)
			continue
		}
		rec := b.Registry.Machine(m)
		if rec == nil {
			return nil
		}
		var candidates []ids.ServerID
		for _, s := range rec.Servers {
			if b.Registry.IsHealthy(s) {
				candidates = append(candidates, s)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].String() < candidates[j].String() })
		out = append(out, candidates[b.RNG.Intn(len(candidates))])
	}
	return out
}

// serverTeamScore computes
// score = overlapPenalty*memberOverlap + Σ(member.teams.size).
func (b *Builder) serverTeamScore(candidate []ids.ServerID) float64 {
	score := 0.0
	for _, s := range candidate {
		if rec := b.Registry.Server(s); rec != nil {
			score += float64(len(rec.Teams))
		}
	}
	score += b.Knobs.OverlapPenalty * float64(b.maxServerOverlapAgainstExisting(candidate))
	return score
}

func (b *Builder) maxServerOverlapAgainstExisting(candidate []ids.ServerID) int {
	sorted := append([]ids.ServerID{}, candidate...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	seen := make(map[ids.ServerTeamID]struct{})
	for _, s := range candidate {
		rec := b.Registry.Server(s)
		if rec == nil {
			continue
		}
		for t := range rec.Teams {
			seen[t] = struct{}{}
		}
	}

	maxOverlap := 0
	for t := range seen {
		existing := b.Store.ServerTeam(t)
		if existing == nil {
			continue
		}
		sortedExisting := append([]ids.ServerID{}, existing.Members...)
		sort.Slice(sortedExisting, func(i, j int) bool { return sortedExisting[i].String() < sortedExisting[j].String() })
		overlap := twoPointerOverlapServer(sorted, sortedExisting)
		if overlap > maxOverlap {
			maxOverlap = overlap
		}
	}
	return maxOverlap
}

func twoPointerOverlapServer(a, b []ids.ServerID) int {
	i, j, n := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i].String() < b[j].String():
			i++
		default:
			j++
		}
	}
	return n
}

// leastUsedServer picks, uniformly among the minimum-team-count healthy
// servers.
func (b *Builder) leastUsedServer(healthyServers []ids.ServerID) ids.ServerID {
	minCount := math.MaxInt32
	var minima []ids.ServerID
	for _, id := range healthyServers {
		rec := b.Registry.Server(id)
		if rec == nil {
			continue
		}
		n := len(rec.Teams)
		if n < minCount {
			minCount = n
			minima = []ids.ServerID{id}
		} else if n == minCount {
			minima = append(minima, id)
		}
	}
	if len(minima) == 0 {
		return ids.ServerID{}
	}
	sort.Slice(minima, func(i, j int) bool { return minima[i].String() < minima[j].String() })
	return minima[b.RNG.Intn(len(minima))]
}

// randomHealthyMachineTeamContaining picks one random machine team that
// contains machine m and whose every machine is currently healthy.
func (b *Builder) randomHealthyMachineTeamContaining(m ids.MachineID) *MachineTeam {
	rec := b.Registry.Machine(m)
	if rec == nil {
		return nil
	}
	var candidates []*MachineTeam
	for mtID := range rec.MachineTeams {
		mt := b.Store.MachineTeam(mtID)
		if mt == nil {
			continue
		}
		if b.machineTeamHealthy(mt) {
			candidates = append(candidates, mt)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID.String() < candidates[j].ID.String() })
	return candidates[b.RNG.Intn(len(candidates))]
}

// machineTeamHealthy reports whether every machine in mt currently has
// at least one healthy server.
func (b *Builder) machineTeamHealthy(mt *MachineTeam) bool {
	for _, m := range mt.Machines {
		rec := b.Registry.Machine(m)
		if rec == nil {
			return false
		}
		ok := false
		for _, s := range rec.Servers {
			if b.Registry.IsHealthy(s) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
