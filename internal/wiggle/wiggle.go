// Package wiggle implements the perpetual storage wiggle: a
// single-process-at-a-time rolling replacement used to change engine
// type cluster-wide.
package wiggle

import (
	"context"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/sched"
)

// ProcessID identifies one storage process (a processId locality
// attribute) being rolled through the wiggle.
type ProcessID string

// ProcessSet is the insertion-ordered set of process IDs the iterator
// walks via successor traversal.
type ProcessSet interface {
	First() (ProcessID, bool)
	Successor(cur ProcessID) (ProcessID, bool)
	Count() int
}

// WigglingKeyStore persists the current wiggling process ID for this
// region.
type WigglingKeyStore interface {
	Get(ctx context.Context) (ProcessID, bool, error)
	Set(ctx context.Context, id ProcessID) error
}

// EnableKeyStore reads the wiggle on/off key.
type EnableKeyStore interface {
	Enabled(ctx context.Context) (bool, error)
}

// ServersOnProcess answers which server IDs currently run on a process.
type ServersOnProcess interface {
	ServersOnProcess(pid ProcessID) []ids.ServerID
}

// DrainChecker reports whether a server has fully drained its data —
// the external getNumberOfShards contract's ordering guarantee.
type DrainChecker interface {
	Drained(ctx context.Context, id ids.ServerID) bool
}

// HealthGuard holds the pause conditions: (a) the DD queue has too
// many unhealthy relocations, (b) fewer than extraTeamCount+1 healthy
// teams remain, or (c) the best-team-stuck counter crosses a
// threshold.
type HealthGuard struct {
	TooManyUnhealthyRelocations func() bool
	HealthyTeamCount            func() int
	BestTeamStuckCount          func() int
}

// Wiggler is the per-region perpetual-wiggle task.
type Wiggler struct {
	Registry   *registry.Registry
	Exclusions *registry.ExclusionMap
	Knobs      config.Knobs

	Processes ProcessSet
	Key       WigglingKeyStore
	Enable    EnableKeyStore
	Servers   ServersOnProcess
	Drain     DrainChecker
	Guard     HealthGuard

	// WrongEngineRemover is invoked once per loop iteration while
	// AggressiveWiggle is set, so the ordinary wrong-engine remover can
	// delete mismatched SS without waiting for the wiggler to reach them.
	WrongEngineRemover func(ctx context.Context)

	extraTeamCount int
}

// Run drives the combined iterator+wiggler loop until ctx is cancelled.
func (w *Wiggler) Run(ctx context.Context) error {
	for {
		if w.Knobs.AggressiveWiggle && w.WrongEngineRemover != nil {
			w.WrongEngineRemover(ctx)
		}

		enabled, err := w.Enable.Enabled(ctx)
		if err != nil {
			return err
		}
		if !enabled {
			w.includeCurrentlyWiggling(ctx)
			if err := sched.DelayJittered(ctx, w.Knobs.PerpetualWiggleDelay, 0.1); err != nil {
				return err
			}
			continue
		}

		if w.paused() {
			w.includeCurrentlyWiggling(ctx)
			w.extraTeamCount = minInt(w.extraTeamCount+1, w.Knobs.MaxExtraTeamCount)
			if err := sched.DelayJittered(ctx, w.Knobs.PerpetualWiggleDelay, 0.1); err != nil {
				return err
			}
			continue
		}
		w.extraTeamCount = maxInt(w.extraTeamCount-1, 0)

		if w.Processes.Count() < w.Knobs.TeamSize {
			// Not enough processes to wiggle without risking a team
			// dropping below teamSize; it rests.
			if err := sched.DelayJittered(ctx, w.Knobs.PerpetualWiggleDelay, 0.1); err != nil {
				return err
			}
			continue
		}

		if err := w.stepOneProcess(ctx); err != nil {
			return err
		}
	}
}

// paused evaluates the health-guard conditions: too many unhealthy
// relocations, fewer healthy teams than extraTeamCount+1, or a
// BestTeamStuckCount at or above WigglePauseThreshold.
// WiggleStuckThreshold is not consulted — see DESIGN.md "Open question
// resolutions".
func (w *Wiggler) paused() bool {
	if w.Guard.TooManyUnhealthyRelocations != nil && w.Guard.TooManyUnhealthyRelocations() {
		return true
	}
	if w.Guard.HealthyTeamCount != nil && w.Guard.HealthyTeamCount() < w.extraTeamCount+1 {
		return true
	}
	if w.Guard.BestTeamStuckCount != nil && w.Guard.BestTeamStuckCount() >= w.Knobs.WigglePauseThreshold {
		return true
	}
	return false
}

// stepOneProcess runs one cycle of the Iterator + Wiggler pair: read
// the next process ID, wiggle every SS on it, wait for drain, clear,
// advance.
func (w *Wiggler) stepOneProcess(ctx context.Context) error {
	pid, err := w.nextProcess(ctx)
	if err != nil {
		return err
	}

	servers := w.Servers.ServersOnProcess(pid)
	w.setWiggling(servers, true)

	for _, id := range servers {
		for !w.Drain.Drained(ctx, id) {
			if err := sched.DelayJittered(ctx, w.Knobs.PerpetualWiggleDelay, 0.1); err != nil {
				w.setWiggling(servers, false)
				return err
			}
			if w.paused() {
				w.setWiggling(servers, false)
				return nil
			}
		}
	}

	w.setWiggling(servers, false)
	return nil
}

// nextProcess reads the current wiggling process ID, advances it to the
// successor (wrapping to First when exhausted), and persists the new
// value — walking is a successor traversal over the set.
func (w *Wiggler) nextProcess(ctx context.Context) (ProcessID, error) {
	cur, ok, err := w.Key.Get(ctx)
	if err != nil {
		return "", err
	}

	var next ProcessID
	if !ok {
		first, any := w.Processes.First()
		if !any {
			return "", nil
		}
		next = first
	} else {
		succ, any := w.Processes.Successor(cur)
		if !any {
			first, _ := w.Processes.First()
			next = first
		} else {
			next = succ
		}
	}
	if err := w.Key.Set(ctx, next); err != nil {
		return "", err
	}
	return next, nil
}

func (w *Wiggler) setWiggling(servers []ids.ServerID, on bool) {
	for _, id := range servers {
		s := w.Registry.Server(id)
		if s == nil {
			continue
		}
		for _, addr := range s.Addresses.All() {
			if addr == "" {
				continue
			}
			if on {
				w.Exclusions.Set(addr, registry.ExclusionWiggling)
			} else {
				w.Exclusions.Clear(addr)
			}
		}
	}
}

// includeCurrentlyWiggling un-excludes every address this wiggler
// marked WIGGLING, used when disabled or paused: while paused, wiggled
// servers are included back.
func (w *Wiggler) includeCurrentlyWiggling(context.Context) {
	for addr, sev := range w.Exclusions.Snapshot() {
		if sev == registry.ExclusionWiggling {
			w.Exclusions.Clear(addr)
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
