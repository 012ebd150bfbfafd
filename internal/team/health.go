// health.go implements the per-team health tracker: a task that
// recomputes a team's health/priority whenever any member's status
// changes, and emits relocation requests on degradation.
package team

import (
	"context"
	"time"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/sched"
)

// ShardRange is a contiguous key range, the "shard" of the GLOSSARY.
type ShardRange struct {
	Start []byte
	End   []byte
}

// ShardOwnership answers which shards a team currently owns and how many
// bytes they hold — the external shard→team map owned by the move-keys
// subsystem, only read here.
type ShardOwnership interface {
	ShardsForTeam(team ids.ServerTeamID) []ShardRange
	BytesHeld(ctx context.Context, r ShardRange) (int64, error)
}

// RelocationRequest is the "{keyRange, priority}" pair submitted to
// the external move-queue.
type RelocationRequest struct {
	Team     ids.ServerTeamID
	Range    ShardRange
	Priority Priority
}

// Relocator submits relocation requests to the move-queue.
type Relocator interface {
	RequestRelocation(ctx context.Context, req RelocationRequest) error
}

// PeerPriority lets a team health tracker cross-compare its priority
// against the sibling region's team for the same shard range, via
// non-owning back-pointers to each other; the final maxPriority for a
// shard is taken across both at emit time.
type PeerPriority interface {
	OtherTeamPriority(r ShardRange) Priority
}

// PriorityRecorder publishes a team's own just-computed priority for a
// shard range so the sibling region's PeerPriority lookup has something
// to read.
type PriorityRecorder interface {
	RecordPriority(r ShardRange, p Priority)
}

// LastReplicaWarner is invoked once, after the configured delay, when a
// team has transitioned to TEAM_0_LEFT: it emits a single warning
// identifying the team, the shard range, and (after a delay) the
// shard's last known byte count.
type LastReplicaWarner interface {
	WarnLastReplicaLost(ctx context.Context, team ids.ServerTeamID, ranges []ShardRange, totalBytes int64)
}

// HealthTrackerConfig bundles one team health tracker's collaborators.
type HealthTrackerConfig struct {
	Registry  *registry.Registry
	Store     *Store
	Knobs     config.Knobs
	Shards    ShardOwnership
	Relocator Relocator
	Peer      PeerPriority
	Recorder  PriorityRecorder
	Warner    LastReplicaWarner

	// RecoveryPastInitialDelay reports whether the data-distribution
	// recovery's failure-reaction delay has elapsed — relocation requests
	// are suppressed until it has, unless a failed server is present.
	RecoveryPastInitialDelay func() bool
}

// HealthTracker is the per-team health-tracking task.
type HealthTracker struct {
	cfg  HealthTrackerConfig
	id   ids.ServerTeamID
	size int

	lastPriority Priority
}

// NewHealthTracker returns a tracker for server team id with the
// configured team size.
func NewHealthTracker(cfg HealthTrackerConfig, id ids.ServerTeamID, teamSize int) *HealthTracker {
	return &HealthTracker{cfg: cfg, id: id, size: teamSize}
}

// Run recomputes health on every member-status change or recheck timer
// until ctx is cancelled or the team is removed.
func (h *HealthTracker) Run(ctx context.Context) error {
	for {
		t := h.cfg.Store.ServerTeam(h.id)
		if t == nil {
			return nil // removed; nothing left to track
		}

		h.recheck(ctx, t)

		waiters := make([]func(context.Context) error, 0, len(t.Members))
		for _, m := range t.Members {
			m := m
			waiters = append(waiters, func(c context.Context) error { return h.cfg.Registry.WaitForChange(c, m) })
		}
		waiters = append(waiters, func(c context.Context) error { return sched.Delay(c, 5*time.Second) })

		if err := sched.WaitAny(ctx, waiters...); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// recheck recomputes a team's status, priority, and relocation state.
func (h *HealthTracker) recheck(ctx context.Context, t *ServerTeam) {
	var undesiredCount, wrongConfigCount, wigglingCount int
	var anyFailed bool
	serversLeft := 0
	for _, m := range t.Members {
		st := h.cfg.Registry.Status(m)
		if !st.Failed {
			serversLeft++
		} else {
			anyFailed = true
		}
		if st.Undesired {
			undesiredCount++
		}
		if st.WrongConfiguration {
			wrongConfigCount++
		}
		if st.Wiggling {
			wigglingCount++
		}
	}

	priority := h.computePriority(t, serversLeft, undesiredCount, wrongConfigCount, wigglingCount)
	healthy := priority == PriorityTeamHealthy || priority == PriorityContainsUndesiredServer
	optimal := priority == PriorityTeamHealthy

	h.cfg.Store.UpdateHealth(t.ID, healthy, optimal)
	h.cfg.Store.SetPriority(t.ID, priority)

	if priority == PriorityTeam0Left && h.lastPriority != PriorityTeam0Left {
		h.startZeroServerLeftLogger(ctx, t.ID)
	}
	h.lastPriority = priority

	h.emitRelocations(ctx, t, priority, anyFailed)
}

// computePriority evaluates the first-match-wins priority table.
//
// The PERPETUAL_WIGGLE row compares counts, not members: it matches when
// the wiggling count is nonzero and equals both the undesired count and
// the wrong-configuration count. Which members carry each flag is not
// compared. A bad team never qualifies.
func (h *HealthTracker) computePriority(t *ServerTeam, serversLeft, undesiredCount, wrongConfigCount, wigglingCount int) Priority {
	switch {
	case len(t.Members) == 0:
		return PriorityPopulateRegion
	case serversLeft == 0:
		return PriorityTeam0Left
	case serversLeft == 1:
		return PriorityTeam1Left
	case serversLeft == 2:
		return PriorityTeam2Left
	case serversLeft < h.size:
		return PriorityTeamUnhealthy
	case !t.Bad && wigglingCount > 0 && wigglingCount == undesiredCount && wigglingCount == wrongConfigCount:
		return PriorityPerpetualWiggle
	case t.Redundant && (t.Bad || wrongConfigCount > 0):
		return PriorityTeamRedundant
	case t.Bad || wrongConfigCount > 0:
		return PriorityTeamUnhealthy
	case undesiredCount > 0:
		return PriorityContainsUndesiredServer
	default:
		return PriorityTeamHealthy
	}
}

// emitRelocations submits a relocation request per owned shard range,
// once past the initial recovery delay or a member has failed.
func (h *HealthTracker) emitRelocations(ctx context.Context, t *ServerTeam, priority Priority, anyFailed bool) {
	if h.cfg.Shards == nil || h.cfg.Relocator == nil {
		return
	}
	pastDelay := h.cfg.RecoveryPastInitialDelay == nil || h.cfg.RecoveryPastInitialDelay()
	if !pastDelay && !anyFailed {
		return
	}

	finalPriority := priority
	if anyFailed {
		finalPriority = Max(finalPriority, PriorityFailed)
	}

	for _, r := range h.cfg.Shards.ShardsForTeam(t.ID) {
		if h.cfg.Recorder != nil {
			h.cfg.Recorder.RecordPriority(r, finalPriority)
		}
		p := finalPriority
		if h.cfg.Peer != nil {
			p = Max(p, h.cfg.Peer.OtherTeamPriority(r))
		}
		_ = h.cfg.Relocator.RequestRelocation(ctx, RelocationRequest{Team: t.ID, Range: r, Priority: p})
	}
}

// startZeroServerLeftLogger waits out a delay, then sums the byte
// counts of shards this team owned and reports the total as a
// "replica potentially lost" warning. The sub-task is rooted in the
// tracker's own ctx, so cancelling the tracker cancels this too.
func (h *HealthTracker) startZeroServerLeftLogger(ctx context.Context, id ids.ServerTeamID) {
	if h.cfg.Warner == nil || h.cfg.Shards == nil {
		return
	}
	delay := h.cfg.Knobs.FailureReactionDelay
	go func() {
		ctx, cancel := context.WithTimeout(ctx, delay+time.Minute)
		defer cancel()
		if err := sched.Delay(ctx, delay); err != nil {
			return
		}
		ranges := h.cfg.Shards.ShardsForTeam(id)
		var total int64
		for _, r := range ranges {
			b, err := h.cfg.Shards.BytesHeld(ctx, r)
			if err == nil {
				total += b
			}
		}
		h.cfg.Warner.WarnLastReplicaLost(ctx, id, ranges, total)
	}()
}
