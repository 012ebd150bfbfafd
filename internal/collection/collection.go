package collection

import (
	"context"
	"sync"
	"time"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/eventbus"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/loader"
	"github.com/aerokv/teamcollection/internal/policy"
	"github.com/aerokv/teamcollection/internal/recruit"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/rng"
	"github.com/aerokv/teamcollection/internal/sched"
	"github.com/aerokv/teamcollection/internal/selection"
	"github.com/aerokv/teamcollection/internal/store"
	"github.com/aerokv/teamcollection/internal/team"
	"github.com/aerokv/teamcollection/internal/wiggle"
)

// Deps bundles every collaborator a TeamCollection needs that this
// module does not itself own: persistence, the event bus, the
// replication policy, and the recruiter's RPC client.
type Deps struct {
	Region    config.Region
	Knobs     config.Knobs
	Policy    policy.Policy
	Store     *store.Store
	Publisher *eventbus.Publisher

	Worker      recruit.WorkerRecruiter
	Initializer recruit.StorageInitializer
	FailureMon  registry.FailureMonitor

	DesiredEngine registry.EngineType
}

// TeamCollection is the top-level per-region supervisor: it owns one
// Registry, one team.Store, and every background task, and tears them
// down in a fixed cancellation order — team builder first, then team
// trackers, then server trackers; the registries hold no tasks of their
// own to cancel.
type TeamCollection struct {
	deps Deps

	Registry   *registry.Registry
	Exclusions *registry.ExclusionMap
	TeamStore  *team.Store
	RNG        *rng.Source

	builder   *team.Builder
	remover   *team.Remover
	recruiter *recruit.Recruiter
	wiggler   *wiggle.Wiggler
	selector  *selection.Selector
	loader    *loader.Loader
	shards    *shardIndex

	// peer is the sibling region's collection, wired after both are
	// constructed, as a non-owning back-pointer for cross-region
	// priority comparison.
	peer *TeamCollection

	buildRunner   *sched.Runner // team builder + remover sweeps
	teamRunner    *sched.Runner // per-team health trackers
	serverRunner  *sched.Runner // per-server health trackers + recruiter + wiggler
	registryMu    sync.Mutex
	trackedTeams  map[ids.ServerTeamID]struct{}
	trackedServer map[ids.ServerID]struct{}
}

// New constructs a TeamCollection with fresh, empty registries. Call
// Bootstrap once to load initial state, then Start.
func New(deps Deps) *TeamCollection {
	reg := registry.New()
	excl := registry.NewExclusionMap()
	ts := team.New()
	r := rng.New(deps.Knobs.RandomSeed)
	shards := newShardIndex(deps.Region, deps.Publisher)

	tc := &TeamCollection{
		deps:          deps,
		Registry:      reg,
		Exclusions:    excl,
		TeamStore:     ts,
		RNG:           r,
		shards:        shards,
		trackedTeams:  make(map[ids.ServerTeamID]struct{}),
		trackedServer: make(map[ids.ServerID]struct{}),
	}

	tc.builder = team.NewBuilder(reg, ts, deps.Policy, deps.Knobs, r)
	tc.remover = &team.Remover{
		Registry:      reg,
		Store:         ts,
		Knobs:         deps.Knobs,
		Healthy:       func() bool { return !ts.ZeroHealthyTeams() },
		BootstrapDone: func() bool { return tc.loader == nil || tc.loader.BootstrapDone() },
		OnTeamBad:     func(ids.ServerTeamID) { tc.builder.Build() },
	}

	tc.selector = selection.NewSelector(reg, ts, shards, r)

	ps := newProcessSet(reg)
	tc.wiggler = &wiggle.Wiggler{
		Registry:   reg,
		Exclusions: excl,
		Knobs:      deps.Knobs,
		Processes:  ps,
		Key:        &wigglingKeyStore{db: deps.Store, region: deps.Region},
		Enable:     &wigglingKeyStore{db: deps.Store, region: deps.Region},
		Servers:    ps,
		Drain:      &shardCounter{reg: reg, idx: shards},
		Guard: wiggle.HealthGuard{
			TooManyUnhealthyRelocations: func() bool { return false },
			HealthyTeamCount:            ts.HealthyTeamCount,
			BestTeamStuckCount:          tc.selector.BestTeamStuckCount,
		},
	}

	tc.recruiter = recruit.New(reg, excl, deps.Knobs)
	tc.recruiter.Worker = deps.Worker
	tc.recruiter.Initializer = deps.Initializer
	tc.recruiter.LiveCount = reg
	tc.recruiter.TargetTSS = func() int { return 0 }
	tc.recruiter.Health = recruit.ClusterHealth{
		ZeroHealthyTeams: ts.ZeroHealthyTeams,
		HasHealthyTeam:   func() bool { return !ts.ZeroHealthyTeams() },
	}

	src := &persistentSource{db: deps.Store, region: deps.Region}
	tc.loader = loader.New(reg, ts, deps.Policy, deps.Knobs, src, r)

	return tc
}

// SetPeer wires the sibling region's collection for cross-region
// shard-priority comparison.
func (tc *TeamCollection) SetPeer(other *TeamCollection) {
	tc.peer = other
	tc.shards.SetPeer(other.shards)
}

// Bootstrap runs the initial-state loader once, before Start.
func (tc *TeamCollection) Bootstrap(ctx context.Context) error {
	dist, err := tc.loader.Load(ctx)
	if err != nil {
		return err
	}
	teamOf := func(members []ids.ServerID) (ids.ServerTeamID, bool) { return tc.TeamStore.FindServerTeam(members) }
	tc.shards.Seed(dist.Shards, teamOf)
	return nil
}

// Start spawns every long-running task, in the reverse of the
// cancellation order Shutdown uses: registries' per-server trackers
// first (they have no dependants), then per-team trackers, then the
// builder/remover/recruiter/wiggler/selector loops that assume the
// trackers are already live.
func (tc *TeamCollection) Start(ctx context.Context) {
	tc.serverRunner = sched.New(ctx)
	tc.teamRunner = sched.New(ctx)
	tc.buildRunner = sched.New(ctx)

	for _, id := range tc.Registry.AllServerIDs() {
		tc.spawnServerTracker(id)
	}
	for _, id := range tc.TeamStore.AllServerTeamIDs() {
		tc.spawnTeamTracker(id)
	}

	tc.buildRunner.Spawn(func(ctx context.Context) error { return tc.runBuildLoop(ctx) })
	tc.buildRunner.Spawn(func(ctx context.Context) error {
		for {
			tc.remover.RemoveBadTeams(ctx)
			tc.remover.RemoveExcessMachineTeams()
			tc.remover.RemoveExcessServerTeams()
			if err := sched.Delay(ctx, 10*time.Second); err != nil {
				return err
			}
		}
	})
	tc.serverRunner.Spawn(tc.recruiter.Run)
	tc.serverRunner.Spawn(tc.wiggler.Run)
	tc.serverRunner.Spawn(tc.selector.RunMedianRefresh)
	tc.serverRunner.Spawn(func(ctx context.Context) error { return tc.reconcileLoop(ctx) })
}

// runBuildLoop reruns the team builder on a fixed cadence — the real
// triggers (a server joining, a team going bad) are edge events, but a
// periodic sweep is the simplest backstop against a missed wakeup.
func (tc *TeamCollection) runBuildLoop(ctx context.Context) error {
	for {
		tc.builder.Build()
		if err := sched.Delay(ctx, 5*time.Second); err != nil {
			return err
		}
	}
}

// reconcileLoop spawns trackers for servers and teams created after
// Start, and lets ones for removed entities return on their own (both
// HealthTracker.Run implementations exit once their entity is gone).
func (tc *TeamCollection) reconcileLoop(ctx context.Context) error {
	for {
		for _, id := range tc.Registry.AllServerIDs() {
			tc.spawnServerTracker(id)
		}
		for _, id := range tc.TeamStore.AllServerTeamIDs() {
			tc.spawnTeamTracker(id)
		}
		if err := sched.Delay(ctx, time.Second); err != nil {
			return err
		}
	}
}

func (tc *TeamCollection) spawnServerTracker(id ids.ServerID) {
	tc.registryMu.Lock()
	if _, ok := tc.trackedServer[id]; ok {
		tc.registryMu.Unlock()
		return
	}
	tc.trackedServer[id] = struct{}{}
	tc.registryMu.Unlock()

	cfg := registry.HealthTrackerConfig{
		Registry:        tc.Registry,
		Exclusions:      tc.Exclusions,
		FailureMonitor:  tc.deps.FailureMon,
		ShardCounter:    &shardCounter{reg: tc.Registry, idx: tc.shards},
		FailedHandler:   &failedHandler{pub: tc.deps.Publisher, region: tc.deps.Region},
		TeamReevaluator: &reevaluator{store: tc.TeamStore, reg: tc.Registry, policy: tc.deps.Policy},
		Policy:          tc.deps.Policy,
		DesiredEngine:   desiredEngineFunc(tc.deps.DesiredEngine),
	}
	ht := registry.NewHealthTracker(cfg, id)
	tc.serverRunner.Spawn(ht.Run)
}

func (tc *TeamCollection) spawnTeamTracker(id ids.ServerTeamID) {
	tc.registryMu.Lock()
	if _, ok := tc.trackedTeams[id]; ok {
		tc.registryMu.Unlock()
		return
	}
	tc.trackedTeams[id] = struct{}{}
	tc.registryMu.Unlock()

	cfg := team.HealthTrackerConfig{
		Registry:                 tc.Registry,
		Store:                    tc.TeamStore,
		Knobs:                    tc.deps.Knobs,
		Shards:                   tc.shards,
		Relocator:                tc.shards,
		Peer:                     tc.shards,
		Recorder:                 tc.shards,
		Warner:                   tc.shards,
		RecoveryPastInitialDelay: func() bool { return true },
	}
	ht := team.NewHealthTracker(cfg, id, tc.deps.Knobs.TeamSize)
	tc.teamRunner.Spawn(ht.Run)
}

// GetTeam answers the module's single team-selection request surface.
func (tc *TeamCollection) GetTeam(req selection.Request) selection.Result {
	return tc.selector.GetTeam(req)
}

// Shutdown cancels every task in a fixed layered order: team
// builder/remover first, then per-team trackers, then per-server
// trackers. The registries themselves are plain in-memory arenas with
// nothing to cancel — they simply go out of scope once every tracker
// referencing them has stopped.
func (tc *TeamCollection) Shutdown() {
	if tc.buildRunner != nil {
		tc.buildRunner.Shutdown()
	}
	if tc.teamRunner != nil {
		tc.teamRunner.Shutdown()
	}
	if tc.serverRunner != nil {
		tc.serverRunner.Shutdown()
	}
}
