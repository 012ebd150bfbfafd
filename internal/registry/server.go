// Package registry holds the server and machine registries: the
// mapping from server ID to server record and from zoneId to machine
// record. It also runs the per-server health tracker.
package registry

import (
	"context"
	"sync"

	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/sched"
)

// EngineType is the opaque storage-engine enum a server reports. It stays
// EngineUnset until the server's first metrics reply.
type EngineType int

const (
	EngineUnset EngineType = iota
	EngineSSD
	EngineMemory
	EngineRocksDB
	EngineRedwood
)

// Addresses bundles the three addresses a server is reachable at, used by
// the exclusion map and by collision detection: primary IP+port,
// secondary IP+port, and the bare IP (covering exclusion expressions
// written without a port).
type Addresses struct {
	Primary   string
	Secondary string
	IP        string
}

// All returns the three addresses in worst-wins evaluation order — callers
// fold exclusion status across all three and keep the most severe.
func (a Addresses) All() [3]string { return [3]string{a.Primary, a.Secondary, a.IP} }

// Metrics is a server's last metrics reply.
type Metrics struct {
	AvailableBytes int64
	CapacityBytes  int64
	VersionLag     int64
}

// Server is the server record.
type Server struct {
	ID        ids.ServerID
	Addresses Addresses
	Locality  locality.Record
	ProcessClass string

	EngineType   EngineType
	AddedVersion int64

	DataInFlightBytes int64
	Metrics           Metrics

	WrongEngineToRemove bool
	VersionTooFarBehind bool
	InDesiredDC         bool

	// IsTSS marks this server as a test storage server: it shadows
	// TSSPairID's traffic and is never a team member.
	IsTSS     bool
	TSSPairID ids.ServerID

	Machine ids.MachineID

	// Teams is exactly the set of server teams containing this server.
	// Maintained only by Registry's methods.
	Teams map[ids.ServerTeamID]struct{}
}

// Clone returns a value copy safe to hand to callers outside the
// registry's lock, with Teams copied into a fresh map.
func (s *Server) Clone() *Server {
	c := *s
	c.Locality = s.Locality.Clone()
	c.Teams = make(map[ids.ServerTeamID]struct{}, len(s.Teams))
	for t := range s.Teams {
		c.Teams[t] = struct{}{}
	}
	return &c
}

// Machine is the machine record: servers sharing a zoneId.
type Machine struct {
	ID ids.MachineID
	// Servers is a non-empty ordered list of server IDs on this machine;
	// a machine with no servers does not exist.
	Servers      []ids.ServerID
	MachineTeams map[ids.MachineTeamID]struct{}
}

func (m *Machine) Clone() *Machine {
	c := &Machine{ID: m.ID, Servers: append([]ids.ServerID{}, m.Servers...)}
	c.MachineTeams = make(map[ids.MachineTeamID]struct{}, len(m.MachineTeams))
	for t := range m.MachineTeams {
		c.MachineTeams[t] = struct{}{}
	}
	return c
}

// Registry is the server+machine arena. A Team Collection owns exactly
// one per region; all mutation goes through its methods so its
// invariants stay enforced in one place instead of being scattered
// across trackers, via an arenas-plus-stable-indices layout.
type Registry struct {
	mu sync.RWMutex

	servers  map[ids.ServerID]*Server
	machines map[ids.MachineID]*Machine

	// notifiers fire whenever a server record changes, so the matching
	// health tracker (internal/registry.HealthTracker) and any team
	// health tracker watching that server wake up — the "awaiting a
	// status-change notification on a server" suspension point.
	notifiers map[ids.ServerID]*sched.Notifier

	statuses *statusStore
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		servers:   make(map[ids.ServerID]*Server),
		machines:  make(map[ids.MachineID]*Machine),
		notifiers: make(map[ids.ServerID]*sched.Notifier),
		statuses:  newStatusStore(),
	}
}

// AddServer inserts s, attaching it to (creating if necessary) the machine
// matching its zoneId.
func (r *Registry) AddServer(s *Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addServerLocked(s)
}

func (r *Registry) addServerLocked(s *Server) {
	if s.Teams == nil {
		s.Teams = make(map[ids.ServerTeamID]struct{})
	}
	s.Machine = ids.MachineID(s.Locality.Zone())
	r.servers[s.ID] = s
	r.notifiers[s.ID] = sched.NewNotifier()

	m, ok := r.machines[s.Machine]
	if !ok {
		m = &Machine{ID: s.Machine, MachineTeams: make(map[ids.MachineTeamID]struct{})}
		r.machines[s.Machine] = m
	}
	m.Servers = append(m.Servers, s.ID)
}

// RemoveServer deletes s from the registry and, if s was the last server
// on its machine, deletes the machine too. The caller is responsible
// for having already confirmed no team references s.
func (r *Registry) RemoveServer(id ids.ServerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		return
	}
	delete(r.servers, id)
	if n, ok := r.notifiers[id]; ok {
		n.Notify()
		delete(r.notifiers, id)
	}
	r.DropStatus(id)

	m := r.machines[s.Machine]
	if m == nil {
		return
	}
	m.Servers = removeID(m.Servers, id)
	if len(m.Servers) == 0 {
		delete(r.machines, m.ID)
	}
}

func removeID(list []ids.ServerID, id ids.ServerID) []ids.ServerID {
	out := list[:0]
	for _, x := range list {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// Server returns a copy of the server record, or nil if absent.
func (r *Registry) Server(id ids.ServerID) *Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	if !ok {
		return nil
	}
	return s.Clone()
}

// Machine returns a copy of the machine record, or nil if absent.
func (r *Registry) Machine(id ids.MachineID) *Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	if !ok {
		return nil
	}
	return m.Clone()
}

// AllServerIDs returns every registered server ID.
func (r *Registry) AllServerIDs() []ids.ServerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ids.ServerID, 0, len(r.servers))
	for id := range r.servers {
		out = append(out, id)
	}
	return out
}

// AllMachineIDs returns every registered machine ID.
func (r *Registry) AllMachineIDs() []ids.MachineID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ids.MachineID, 0, len(r.machines))
	for id := range r.machines {
		out = append(out, id)
	}
	return out
}

// MutateServer applies fn to the live server record under the registry
// lock and fires its notifier afterward, so callers never race a reader
// against a half-updated record.
func (r *Registry) MutateServer(id ids.ServerID, fn func(s *Server)) bool {
	r.mu.Lock()
	s, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	fn(s)
	n := r.notifiers[id]
	r.mu.Unlock()
	if n != nil {
		n.Notify()
	}
	return true
}

// WaitForChange blocks until the next notification for server id (sent
// by MutateServer, SetStatus and RemoveServer) or ctx cancellation — the "awaiting a status-change notification on a server"
// suspension point.
func (r *Registry) WaitForChange(ctx context.Context, id ids.ServerID) error {
	r.mu.RLock()
	n := r.notifiers[id]
	r.mu.RUnlock()
	if n == nil {
		return nil
	}
	return n.Wait(ctx)
}

// AddTeamToServer records that server id is now a member of team t.
// No-op if the server is absent.
func (r *Registry) AddTeamToServer(id ids.ServerID, t ids.ServerTeamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servers[id]; ok {
		s.Teams[t] = struct{}{}
	}
}

// RemoveTeamFromServer is the inverse of AddTeamToServer.
func (r *Registry) RemoveTeamFromServer(id ids.ServerID, t ids.ServerTeamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servers[id]; ok {
		delete(s.Teams, t)
	}
}

// AddMachineTeamToMachine records membership of machine id in machine
// team t.
func (r *Registry) AddMachineTeamToMachine(id ids.MachineID, t ids.MachineTeamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[id]; ok {
		m.MachineTeams[t] = struct{}{}
	}
}

// RemoveMachineTeamFromMachine is the inverse of AddMachineTeamToMachine.
func (r *Registry) RemoveMachineTeamFromMachine(id ids.MachineID, t ids.MachineTeamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.machines[id]; ok {
		delete(m.MachineTeams, t)
	}
}

// HealthyMachineCount reports the number of machines that contain at
// least one healthy server: a machine is healthy iff it exists in the
// registry and contains at least one non-unhealthy server.
func (r *Registry) HealthyMachineCount(isHealthy func(ids.ServerID) bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, m := range r.machines {
		for _, s := range m.Servers {
			if isHealthy(s) {
				count++
				break
			}
		}
	}
	return count
}

// DetachFromMachine removes id from its current machine's member list.
// If that empties the machine, the machine is deleted and the machine
// teams it belonged to are returned so the caller can re-evaluate them;
// otherwise the result is nil.
func (r *Registry) DetachFromMachine(id ids.ServerID) []ids.MachineTeamID {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		return nil
	}
	m := r.machines[s.Machine]
	if m == nil {
		return nil
	}
	m.Servers = removeID(m.Servers, id)
	if len(m.Servers) == 0 {
		delete(r.machines, m.ID)
		var teams []ids.MachineTeamID
		for t := range m.MachineTeams {
			teams = append(teams, t)
		}
		return teams
	}
	return nil
}

// ServersAtAddress returns every other registered server whose primary
// address equals addr, for collision detection: a server appearing in
// serversOnMachine of exactly one machine does not prevent two distinct
// server IDs from racing to claim the same network address during a
// recruitment retry.
func (r *Registry) ServersAtAddress(addr string, except ids.ServerID) []ids.ServerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ids.ServerID
	for id, s := range r.servers {
		if id == except {
			continue
		}
		if s.Addresses.Primary == addr {
			out = append(out, id)
		}
	}
	return out
}

// LiveServerCountAt answers the recruiter's double-claim check: how
// many non-failed servers are already registered at addr. Implements
// recruit.LiveServerCounter.
func (r *Registry) LiveServerCountAt(addr string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id, s := range r.servers {
		if s.Addresses.Primary == addr && !r.Status(id).Failed {
			n++
		}
	}
	return n
}

// AttachToMachine adds id to the machine for newMachine, creating it if
// absent, and updates the server's Machine field.
func (r *Registry) AttachToMachine(id ids.ServerID, newMachine ids.MachineID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		return
	}
	s.Machine = newMachine
	m, ok := r.machines[newMachine]
	if !ok {
		m = &Machine{ID: newMachine, MachineTeams: make(map[ids.MachineTeamID]struct{})}
		r.machines[newMachine] = m
	}
	m.Servers = append(m.Servers, id)
}
