// remover.go implements the team remover: three cooperating sweepers
// (bad-team, machine-team, server-team) that each run after a delay,
// only while the cluster is healthy.
package team

import (
	"context"
	"sort"
	"time"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/sched"
)

// ClusterHealthy reports whether the cluster is currently healthy enough
// to run a removal sweep — the remover never deletes teams while the
// collection is already degraded.
type ClusterHealthy func() bool

// Remover runs the three sweepers.
type Remover struct {
	Registry *registry.Registry
	Store    *Store
	Knobs    config.Knobs
	Healthy  ClusterHealthy

	// UseServerTeamCountHeuristic selects between the two machine-team
	// removal heuristics: false (the default) picks the machine team whose
	// machines belong to the most machine teams; true picks the machine
	// team with the fewest server teams.
	UseServerTeamCountHeuristic bool

	// BootstrapDone gates the bad-team remover: it only cancels bad-team
	// trackers after the initial loader's "addSubset" pass completes.
	BootstrapDone func() bool

	// OnTeamBad is invoked for every server team the machine-team sweep
	// marks bad, so the builder can rebuild an equivalent on its next
	// pass.
	OnTeamBad func(ids.ServerTeamID)
	// OnBadTeamRemoved is invoked once a bad team's tracker has actually
	// been torn down.
	OnBadTeamRemoved func(ids.ServerTeamID)
}

// RemoveBadTeams cancels every currently-tracked bad team, once the
// initial-state loader's addSubset bootstrap has completed.
func (r *Remover) RemoveBadTeams(ctx context.Context) {
	if r.BootstrapDone != nil && !r.BootstrapDone() {
		return
	}
	for _, id := range r.Store.BadServerTeamIDs() {
		r.removeServerTeam(id)
		if r.OnBadTeamRemoved != nil {
			r.OnBadTeamRemoved(id)
		}
	}
}

// RemoveExcessMachineTeams is the machine-team sweeper: if total
// machine teams exceeds the per-entity target, delete the
// highest-scoring one (by the configured heuristic) and mark all of
// its server teams bad.
func (r *Remover) RemoveExcessMachineTeams() {
	if r.Healthy != nil && !r.Healthy() {
		return
	}
	target := r.target()
	if r.Store.MachineTeamCount() <= target {
		return
	}

	worst := r.worstMachineTeam()
	if worst == nil {
		return
	}
	for st := range worst.ServerTeams {
		r.Store.MarkRedundant(st)
		if r.OnTeamBad != nil {
			r.OnTeamBad(st)
		}
	}
	for _, m := range worst.Machines {
		r.Registry.RemoveMachineTeamFromMachine(m, worst.ID)
	}
	r.Store.RemoveMachineTeam(worst.ID)
}

// RemoveExcessServerTeams is the server-team sweeper, symmetric to
// RemoveExcessMachineTeams but at the server-team layer: pick the team
// whose members sit on the most server teams.
func (r *Remover) RemoveExcessServerTeams() {
	if r.Healthy != nil && !r.Healthy() {
		return
	}
	target := r.target()
	if r.Store.ServerTeamCount() <= target {
		return
	}

	worst := r.worstServerTeam()
	if worst.IsZero() {
		return
	}
	r.Store.MarkRedundant(worst)
	if r.OnTeamBad != nil {
		r.OnTeamBad(worst)
	}
}

// target is the shared cap: (DESIRED_PER_SERVER * (teamSize+1)) / 2,
// matching the builder's targetPerServer so removal doesn't
// immediately re-trigger a build.
func (r *Remover) target() int {
	return int(r.Knobs.TargetPerServer())
}

func (r *Remover) worstMachineTeam() *MachineTeam {
	var candidates []*MachineTeam
	for _, id := range r.Store.AllMachineTeamIDs() {
		if mt := r.Store.MachineTeam(id); mt != nil {
			candidates = append(candidates, mt)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID.String() < candidates[j].ID.String() })

	// UseServerTeamCountHeuristic picks the machine team with the fewest
	// server teams (minimize); the default heuristic picks the one whose
	// members sit on the most machine teams (maximize).
	var worst *MachineTeam
	var worstScore int
	first := true
	for _, mt := range candidates {
		score := r.machineTeamLoadScore(mt)
		better := first
		if !first {
			if r.UseServerTeamCountHeuristic {
				better = score < worstScore
			} else {
				better = score > worstScore
			}
		}
		if better {
			worstScore = score
			worst = mt
			first = false
		}
	}
	return worst
}

// machineTeamLoadScore returns "how many machine teams" (default
// heuristic) or "how many server teams" (UseServerTeamCountHeuristic)
// its members collectively sit on.
func (r *Remover) machineTeamLoadScore(mt *MachineTeam) int {
	if r.UseServerTeamCountHeuristic {
		return len(mt.ServerTeams)
	}
	total := 0
	for _, m := range mt.Machines {
		if rec := r.Registry.Machine(m); rec != nil {
			total += len(rec.MachineTeams)
		}
	}
	return total
}

func (r *Remover) worstServerTeam() ids.ServerTeamID {
	var candidates []*ServerTeam
	for _, id := range r.Store.AllServerTeamIDs() {
		if t := r.Store.ServerTeam(id); t != nil && !t.Bad {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return ids.ServerTeamID{}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID.String() < candidates[j].ID.String() })

	var worst ids.ServerTeamID
	worstScore := -1
	for _, t := range candidates {
		score := 0
		for _, s := range t.Members {
			if rec := r.Registry.Server(s); rec != nil {
				score += len(rec.Teams)
			}
		}
		if score > worstScore {
			worstScore = score
			worst = t.ID
		}
	}
	return worst
}

func (r *Remover) removeServerTeam(id ids.ServerTeamID) {
	t := r.Store.ServerTeam(id)
	if t == nil {
		return
	}
	for _, s := range t.Members {
		r.Registry.RemoveTeamFromServer(s, id)
	}
	r.Store.RemoveServerTeam(id)
}

// Run drives the three sweepers on their own delay loop until ctx is
// cancelled.
func (r *Remover) Run(ctx context.Context, delay time.Duration, jitter float64) error {
	for {
		if err := sched.DelayJittered(ctx, delay, jitter); err != nil {
			return err
		}
		r.RemoveBadTeams(ctx)
		r.RemoveExcessMachineTeams()
		r.RemoveExcessServerTeams()
	}
}
