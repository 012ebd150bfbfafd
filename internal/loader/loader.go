// Package loader implements the initial-state loader: reads the
// existing shard→team mapping and server list on startup and seeds the
// registries, then attempts to promote good subsets out of bad initial
// teams.
package loader

import (
	"context"
	"sort"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/diag"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/policy"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/rng"
	"github.com/aerokv/teamcollection/internal/team"
)

// ServerListEntry is one row of the server registry: a server ID
// mapped to its storage interface and process class.
type ServerListEntry struct {
	ID           ids.ServerID
	Addresses    registry.Addresses
	Locality     locality.Record
	ProcessClass string
	EngineType   registry.EngineType
	AddedVersion int64
}

// ShardDestination is one row of the shard mapping: a key range mapped
// to its primary/remote source and destination teams.
type ShardDestination struct {
	Range       team.ShardRange
	PrimarySrc  []ids.ServerID
	PrimaryDest []ids.ServerID
	RemoteSrc   []ids.ServerID
	RemoteDest  []ids.ServerID
	HasDest     bool
}

// Source is the external collaborator the loader reads from.
type Source interface {
	ServerList(ctx context.Context) ([]ServerListEntry, error)
	ShardMapping(ctx context.Context) ([]ShardDestination, error)
	DataDistributionMode(ctx context.Context) (config.DataDistributionMode, error)
	HealthyZone(ctx context.Context) (zoneID string, endVersion int64, ignoring bool, err error)
}

// InitialDataDistribution is the seeded snapshot: every shard and every
// historical (deduplicated) team.
type InitialDataDistribution struct {
	Shards []ShardDestination
	Teams  [][]ids.ServerID // deduplicated historical member sets
	Mode   config.DataDistributionMode
}

// Loader runs the one-shot bootstrap.
type Loader struct {
	Registry *registry.Registry
	Store    *team.Store
	Policy   policy.Policy
	Knobs    config.Knobs
	Source   Source
	RNG      *rng.Source

	done bool
}

// New returns a ready Loader.
func New(reg *registry.Registry, store *team.Store, pol policy.Policy, knobs config.Knobs, src Source, r *rng.Source) *Loader {
	return &Loader{Registry: reg, Store: store, Policy: pol, Knobs: knobs, Source: src, RNG: r}
}

// BootstrapDone reports whether Load has completed, for the bad-team
// remover's gate.
func (l *Loader) BootstrapDone() bool { return l.done }

// QuietCheck reports whether the region is quiet enough to safely
// snapshot or restart right now: no bad teams, no team actively above
// TEAM_HEALTHY priority (the proxy for relocations believed in
// flight), and no unhealthy servers.
func QuietCheck(reg *registry.Registry, store *team.Store) diag.QuietCheckResult {
	bad := len(store.BadServerTeamIDs())
	relocating := store.RelocatingTeamCount()
	unhealthy := reg.UnhealthyServerCount()
	return diag.QuietCheckResult{
		Quiet:               bad == 0 && relocating == 0 && unhealthy == 0,
		InFlightRelocations: relocating,
		BadTeams:            bad,
		UnhealthyServers:    unhealthy,
	}
}

// Load runs the bootstrap end to end: reads the server list and shard
// mapping, seeds the registry and an initial (likely-bad) team for each
// distinct historical member set, then attempts to promote good
// subsets out of the bad ones.
func (l *Loader) Load(ctx context.Context) (*InitialDataDistribution, error) {
	entries, err := l.Source.ServerList(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		l.Registry.AddServer(&registry.Server{
			ID:           e.ID,
			Addresses:    e.Addresses,
			Locality:     e.Locality,
			ProcessClass: e.ProcessClass,
			EngineType:   e.EngineType,
			AddedVersion: e.AddedVersion,
		})
	}

	shards, err := l.Source.ShardMapping(ctx)
	if err != nil {
		return nil, err
	}
	mode, err := l.Source.DataDistributionMode(ctx)
	if err != nil {
		return nil, err
	}

	dedup := make(map[string][]ids.ServerID)
	for _, sh := range shards {
		for _, members := range [][]ids.ServerID{sh.PrimarySrc, sh.PrimaryDest, sh.RemoteSrc, sh.RemoteDest} {
			if len(members) == 0 {
				continue
			}
			dedup[teamKey(members)] = members
		}
	}

	var teams [][]ids.ServerID
	for _, members := range dedup {
		teams = append(teams, members)
		l.seedBadTeam(members)
	}

	l.promoteSubsets()
	l.done = true

	return &InitialDataDistribution{Shards: shards, Teams: teams, Mode: mode}, nil
}

func teamKey(members []ids.ServerID) string {
	sorted := append([]ids.ServerID{}, members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	var b []byte
	for _, m := range sorted {
		b = append(b, []byte(m.String())...)
		b = append(b, ',')
	}
	return string(b)
}

// seedBadTeam inserts a bad team for a historical member set not already
// represented, so the remover and builder can see it.
func (l *Loader) seedBadTeam(members []ids.ServerID) {
	if _, exists := l.Store.FindServerTeam(members); exists {
		return
	}
	t := &team.ServerTeam{
		ID:      ids.NewServerTeamID(),
		Members: members,
		Bad:     true,
	}
	l.Store.AddServerTeam(t)
	for _, m := range members {
		l.Registry.AddTeamToServer(m, t.ID)
	}
}

// promoteSubsets runs the "addSubset" pass: for each bad initial team
// whose members include enough healthy servers, try to promote a
// teamSize subset that satisfies the replication policy.
func (l *Loader) promoteSubsets() {
	for _, id := range l.Store.BadServerTeamIDs() {
		t := l.Store.ServerTeam(id)
		if t == nil {
			continue
		}
		l.tryPromote(t)
	}
}

func (l *Loader) tryPromote(bad *team.ServerTeam) {
	var healthy []ids.ServerID
	for _, m := range bad.Members {
		if l.Registry.IsHealthy(m) {
			healthy = append(healthy, m)
		}
	}
	if len(healthy) < l.Knobs.TeamSize {
		return
	}

	subset := l.findSatisfyingSubset(healthy)
	if subset == nil {
		return
	}
	if _, exists := l.Store.FindServerTeam(subset); exists {
		return
	}

	mt := l.machineTeamFor(subset)
	if mt == nil {
		return
	}

	t := &team.ServerTeam{
		ID:          ids.NewServerTeamID(),
		Members:     subset,
		MachineTeam: mt.ID,
		Healthy:     true,
		Optimal:     true,
	}
	l.Store.AddServerTeam(t)
	for _, m := range subset {
		l.Registry.AddTeamToServer(m, t.ID)
	}
}

// findSatisfyingSubset enumerates teamSize-sized subsets of healthy in a
// deterministic order and returns the first that satisfies the policy,
// or nil if none does.
func (l *Loader) findSatisfyingSubset(healthy []ids.ServerID) []ids.ServerID {
	sorted := append([]ids.ServerID{}, healthy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	n := l.Knobs.TeamSize
	var result []ids.ServerID
	var combo []int
	var rec func(start int)
	rec = func(start int) {
		if result != nil {
			return
		}
		if len(combo) == n {
			candidate := make([]ids.ServerID, n)
			entries := make([]locality.Record, n)
			for i, idx := range combo {
				candidate[i] = sorted[idx]
				entries[i] = l.localityOf(sorted[idx])
			}
			if policy.Satisfies(l.Policy, entries) {
				result = candidate
			}
			return
		}
		for i := start; i < len(sorted); i++ {
			combo = append(combo, i)
			rec(i + 1)
			combo = combo[:len(combo)-1]
			if result != nil {
				return
			}
		}
	}
	rec(0)
	return result
}

func (l *Loader) localityOf(id ids.ServerID) locality.Record {
	s := l.Registry.Server(id)
	if s == nil {
		return locality.Record{}
	}
	return s.Locality
}

func (l *Loader) machineTeamFor(members []ids.ServerID) *team.MachineTeam {
	machineSet := make(map[ids.MachineID]struct{})
	var machines []ids.MachineID
	for _, m := range members {
		s := l.Registry.Server(m)
		if s == nil {
			return nil
		}
		if _, ok := machineSet[s.Machine]; !ok {
			machineSet[s.Machine] = struct{}{}
			machines = append(machines, s.Machine)
		}
	}
	mt, created := l.Store.GetOrCreateMachineTeam(machines)
	if created {
		for _, m := range mt.Machines {
			l.Registry.AddMachineTeamToMachine(m, mt.ID)
		}
	}
	return mt
}
