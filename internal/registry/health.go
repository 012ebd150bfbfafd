// health.go implements the per-server health tracker: a sched.Runner
// task that continuously recomputes a server's {failed, undesired,
// wrongConfiguration, wiggling} status from failure-monitor state,
// engine-type match, locality validity, address collisions, exclusion
// status, and version-lag thresholds.
package registry

import (
	"context"
	"time"

	"github.com/aerokv/teamcollection/internal/errs"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/policy"
)

// FailureMonitor reports edge-triggered endpoint availability, the
// external failure-monitor collaborator.
type FailureMonitor interface {
	// IsAvailable reports the last-known availability of addr. The health
	// tracker polls it on every re-check rather than blocking on a push,
	// since the production implementation (internal/rpcapi) maintains its
	// own edge-triggered cache and this keeps the tracker's suspension
	// points uniform (timer + notifier only).
	IsAvailable(addr string) bool
}

// ShardCounter answers "how many shards does this server currently
// hold", used for ordering guarantees and collision resolution.
type ShardCounter interface {
	NumberOfShards(ctx context.Context, id ids.ServerID) (int, error)
}

// FailedServerHandler is invoked when a non-TSS server transitions to
// FAILED exclusion, to trigger the external failed-server removal path.
type FailedServerHandler interface {
	HandleFailedServer(ctx context.Context, id ids.ServerID) error
}

// TeamReevaluator re-checks every team containing a server whose zoneId
// just changed, marking any that no longer satisfy the replication
// policy as bad.
type TeamReevaluator interface {
	ReevaluateServerTeams(id ids.ServerID)
}

// DesiredEngine reports the engine type the cluster wants new writes to
// land on, so the health tracker can flag WrongEngineToRemove-equivalent
// mismatches (the aggressive-wiggle migration mode reads this too).
type DesiredEngine func() EngineType

// HealthTrackerConfig bundles a single server health tracker's
// collaborators, passed as explicit handles into the constructor
// rather than globals.
type HealthTrackerConfig struct {
	Registry        *Registry
	Exclusions      *ExclusionMap
	FailureMonitor  FailureMonitor
	ShardCounter    ShardCounter
	FailedHandler   FailedServerHandler
	TeamReevaluator TeamReevaluator
	Policy          policy.Policy
	DesiredEngine   DesiredEngine

	RecheckInterval     time.Duration
	VersionLagThreshold int64
}

// HealthTracker is the per-server health tracker task.
type HealthTracker struct {
	cfg HealthTrackerConfig
	id  ids.ServerID

	lastZone string
}

// NewHealthTracker returns a tracker for server id. Call Run in its own
// goroutine (typically via sched.Runner.Spawn).
func NewHealthTracker(cfg HealthTrackerConfig, id ids.ServerID) *HealthTracker {
	return &HealthTracker{cfg: cfg, id: id}
}

// Run recomputes status on every suspension-point wakeup until ctx is
// cancelled or the server is removed.
func (h *HealthTracker) Run(ctx context.Context) error {
	interval := h.cfg.RecheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		s := h.cfg.Registry.Server(h.id)
		if s == nil {
			return nil // removed; nothing left to track
		}

		if h.lastZone == "" {
			h.lastZone = s.Locality.Zone()
		} else if zone := s.Locality.Zone(); zone != h.lastZone {
			h.handleZoneChange(s.Machine, ids.MachineID(zone))
			h.lastZone = zone
		}

		status := h.computeStatus(ctx, s)
		h.cfg.Registry.SetStatus(h.id, status)

		if status.Failed && !s.IsTSS {
			if err := h.cfg.FailedHandler.HandleFailedServer(ctx, h.id); err != nil {
				return errs.New(errs.KindMoveKeysConflict, "health-tracker: failed-server handoff", err)
			}
		}

		// Suspension points: wake on the next record/status change, or on
		// the recheck timer, whichever comes first.
		changed := make(chan error, 1)
		go func() { changed <- h.cfg.Registry.WaitForChange(ctx, h.id) }()

		select {
		case <-changed:
			// loop immediately to recompute against the new state
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *HealthTracker) handleZoneChange(oldMachine, newMachine ids.MachineID) {
	h.cfg.Registry.DetachFromMachine(h.id)
	h.cfg.Registry.AttachToMachine(h.id, newMachine)
	if h.cfg.TeamReevaluator != nil {
		h.cfg.TeamReevaluator.ReevaluateServerTeams(h.id)
	}
}

func (h *HealthTracker) computeStatus(ctx context.Context, s *Server) Status {
	var st Status
	st.Locality = s.Locality

	worst := h.cfg.Exclusions.Worst(s.Addresses.All())
	switch worst {
	case ExclusionFailed:
		st.Failed = true
	case ExclusionExcluded:
		st.Undesired = true
	case ExclusionWiggling:
		st.Wiggling = true
	}

	if !h.cfg.FailureMonitor.IsAvailable(s.Addresses.Primary) {
		st.Failed = true
	}

	if h.cfg.DesiredEngine != nil {
		if want := h.cfg.DesiredEngine(); want != EngineUnset && s.EngineType != EngineUnset && s.EngineType != want {
			st.WrongConfiguration = true
		}
	}

	if h.cfg.Policy != nil && !s.Locality.Valid() {
		st.WrongConfiguration = true
	}

	if h.cfg.VersionLagThreshold > 0 && s.Metrics.VersionLag > h.cfg.VersionLagThreshold {
		st.Undesired = true
	}

	if s.Addresses.Primary != "" {
		for _, other := range h.cfg.Registry.ServersAtAddress(s.Addresses.Primary, h.id) {
			if h.loses(ctx, h.id, other) {
				st.Undesired = true
				break
			}
		}
	}

	return st
}

// loses reports whether id should be the one marked undesired in an
// address collision against other: the server with fewer shards yields.
// Ties favor the numerically smaller ID so both trackers agree on a
// single loser.
func (h *HealthTracker) loses(ctx context.Context, id, other ids.ServerID) bool {
	if h.cfg.ShardCounter == nil {
		return id.String() > other.String()
	}
	mine, err1 := h.cfg.ShardCounter.NumberOfShards(ctx, id)
	theirs, err2 := h.cfg.ShardCounter.NumberOfShards(ctx, other)
	if err1 != nil || err2 != nil {
		return id.String() > other.String()
	}
	if mine != theirs {
		return mine < theirs
	}
	return id.String() > other.String()
}
