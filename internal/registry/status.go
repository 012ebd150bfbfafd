package registry

import (
	"sync"

	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/locality"
)

// Status is the derived, frequently-recomputed view of a server's
// status: {failed, undesired, wiggling, wrongConfiguration, locality}.
// It is kept separate from Server because it is recomputed continuously
// by the health tracker from several inputs (failure monitor, exclusion
// map, engine type, locality policy), while Server itself only changes
// on explicit events.
type Status struct {
	Failed             bool
	Undesired          bool
	Wiggling           bool
	WrongConfiguration bool
	Locality           locality.Record
}

// Unhealthy reports whether the server is failed or undesired.
func (s Status) Unhealthy() bool { return s.Failed || s.Undesired }

// statusStore is the registry's side-table of derived statuses, guarded
// independently of the main server/machine lock since health trackers
// write it far more often than the record itself changes.
type statusStore struct {
	mu sync.RWMutex
	m  map[ids.ServerID]Status
}

func newStatusStore() *statusStore {
	return &statusStore{m: make(map[ids.ServerID]Status)}
}

// Status returns the last-computed status for id, or the zero Status
// (healthy) if the health tracker has not run yet.
func (r *Registry) Status(id ids.ServerID) Status {
	r.statuses.mu.RLock()
	defer r.statuses.mu.RUnlock()
	return r.statuses.m[id]
}

// SetStatus records a newly computed status for id and wakes anything
// waiting on that server's notifier (team health trackers, primarily).
func (r *Registry) SetStatus(id ids.ServerID, s Status) {
	r.statuses.mu.Lock()
	r.statuses.m[id] = s
	r.statuses.mu.Unlock()

	r.mu.RLock()
	n := r.notifiers[id]
	r.mu.RUnlock()
	if n != nil {
		n.Notify()
	}
}

// IsHealthy is a convenience predicate used by HealthyMachineCount and the
// team builder: a server is healthy iff its status is not Unhealthy.
func (r *Registry) IsHealthy(id ids.ServerID) bool {
	return !r.Status(id).Unhealthy()
}

// UnhealthyServerCount counts every registered server whose last-computed
// status is Unhealthy, used by the quiet-check diagnostic.
func (r *Registry) UnhealthyServerCount() int {
	n := 0
	for _, id := range r.AllServerIDs() {
		if !r.IsHealthy(id) {
			n++
		}
	}
	return n
}

// DropStatus removes a server's cached status, called when the server is
// removed from the registry.
func (r *Registry) DropStatus(id ids.ServerID) {
	r.statuses.mu.Lock()
	delete(r.statuses.m, id)
	r.statuses.mu.Unlock()
}
