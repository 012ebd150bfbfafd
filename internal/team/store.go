package team

import (
	"sort"
	"sync"

	"github.com/aerokv/teamcollection/internal/ids"
)

// ServerTeam is the server team record: an ordered list of server IDs
// (size = teamSize), a reference to the machine team it realizes, a
// health flag, a wrong-configuration flag, and a priority bucket.
type ServerTeam struct {
	ID          ids.ServerTeamID
	Members     []ids.ServerID // ordered; sorted so two teams with the same member set compare equal
	MachineTeam ids.MachineTeamID

	Healthy            bool
	Optimal            bool
	Bad                bool
	WrongConfiguration bool
	Priority           Priority

	// Redundant marks a bad team that was marked bad specifically for
	// being over-represented (the team/machine-team remover's reason),
	// as opposed to a policy violation from a locality change — the
	// health tracker's priority table distinguishes TEAM_REDUNDANT
	// from TEAM_UNHEALTHY on this basis.
	Redundant bool
}

// Clone returns an independent copy safe to hand outside the store's lock.
func (t *ServerTeam) Clone() *ServerTeam {
	c := *t
	c.Members = append([]ids.ServerID{}, t.Members...)
	return &c
}

// memberKey is a stable, order-independent key for a member set, used to
// detect "an already-existing team (same member set) is not re-added".
func memberKey(members []ids.ServerID) string {
	sorted := append([]ids.ServerID{}, members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	var b []byte
	for _, m := range sorted {
		b = append(b, []byte(m.String())...)
		b = append(b, ',')
	}
	return string(b)
}

// MachineTeam is the machine-level projection: identity and a sorted
// list of machine IDs (size = teamSize), plus the server teams that
// realize it.
type MachineTeam struct {
	ID          ids.MachineTeamID
	Machines    []ids.MachineID // sorted
	ServerTeams map[ids.ServerTeamID]struct{}
}

func (t *MachineTeam) Clone() *MachineTeam {
	c := &MachineTeam{ID: t.ID, Machines: append([]ids.MachineID{}, t.Machines...)}
	c.ServerTeams = make(map[ids.ServerTeamID]struct{}, len(t.ServerTeams))
	for s := range t.ServerTeams {
		c.ServerTeams[s] = struct{}{}
	}
	return c
}

func machineKey(machines []ids.MachineID) string {
	sorted := append([]ids.MachineID{}, machines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b []byte
	for _, m := range sorted {
		b = append(b, []byte(m)...)
		b = append(b, ',')
	}
	return string(b)
}

// Store is the team arena: server teams and machine teams, plus the
// aggregate counters the health tracker maintains. One Store per
// region, built on an arenas-plus-stable-indices layout.
type Store struct {
	mu sync.RWMutex

	serverTeams  map[ids.ServerTeamID]*ServerTeam
	machineTeams map[ids.MachineTeamID]*MachineTeam

	serverByKey  map[string]ids.ServerTeamID
	machineByKey map[string]ids.MachineTeamID

	// badServerTeams holds IDs awaiting garbage collection, tracked
	// separately from serverTeams so the bad-team remover can cancel
	// them as a batch.
	badServerTeams map[ids.ServerTeamID]struct{}

	healthyTeamCount int
	optimalTeamCount int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		serverTeams:    make(map[ids.ServerTeamID]*ServerTeam),
		machineTeams:   make(map[ids.MachineTeamID]*MachineTeam),
		serverByKey:    make(map[string]ids.ServerTeamID),
		machineByKey:   make(map[string]ids.MachineTeamID),
		badServerTeams: make(map[ids.ServerTeamID]struct{}),
	}
}

// FindServerTeam returns the ID of an existing team with exactly this
// member set, if any.
func (s *Store) FindServerTeam(members []ids.ServerID) (ids.ServerTeamID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.serverByKey[memberKey(members)]
	return id, ok
}

// FindMachineTeam returns the ID of an existing machine team with exactly
// this machine set, if any.
func (s *Store) FindMachineTeam(machines []ids.MachineID) (ids.MachineTeamID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.machineByKey[machineKey(machines)]
	return id, ok
}

// GetOrCreateMachineTeam returns the existing machine team for this
// machine set, or creates a fresh one. The bool reports whether it was
// newly created.
func (s *Store) GetOrCreateMachineTeam(machines []ids.MachineID) (*MachineTeam, bool) {
	sorted := append([]ids.MachineID{}, machines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	key := machineKey(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.machineByKey[key]; ok {
		return s.machineTeams[id].Clone(), false
	}
	mt := &MachineTeam{
		ID:          ids.NewMachineTeamID(),
		Machines:    sorted,
		ServerTeams: make(map[ids.ServerTeamID]struct{}),
	}
	s.machineTeams[mt.ID] = mt
	s.machineByKey[key] = mt.ID
	return mt.Clone(), true
}

// AddServerTeam inserts t, registering it against its machine team and
// the member-set index — an already-existing team is not re-added,
// callers should check FindServerTeam first.
func (s *Store) AddServerTeam(t *ServerTeam) {
	sorted := append([]ids.ServerID{}, t.Members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	t.Members = sorted

	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverTeams[t.ID] = t
	s.serverByKey[memberKey(t.Members)] = t.ID
	if t.Bad {
		s.badServerTeams[t.ID] = struct{}{}
	}
	if mt, ok := s.machineTeams[t.MachineTeam]; ok {
		mt.ServerTeams[t.ID] = struct{}{}
	}
	if t.Healthy {
		s.healthyTeamCount++
	}
	if t.Optimal {
		s.optimalTeamCount++
	}
}

// RemoveServerTeam deletes t from the store and its machine team's
// membership list.
func (s *Store) RemoveServerTeam(id ids.ServerTeamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.serverTeams[id]
	if !ok {
		return
	}
	delete(s.serverTeams, id)
	delete(s.serverByKey, memberKey(t.Members))
	delete(s.badServerTeams, id)
	if mt, ok := s.machineTeams[t.MachineTeam]; ok {
		delete(mt.ServerTeams, id)
	}
	if t.Healthy {
		s.healthyTeamCount--
	}
	if t.Optimal {
		s.optimalTeamCount--
	}
}

// RemoveMachineTeam deletes mt. Server teams that still reference it are
// left in place with their MachineTeam field unchanged (the machine-team
// remover marks them bad first); RemoveServerTeam tolerates the machine
// team being gone.
func (s *Store) RemoveMachineTeam(id ids.MachineTeamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mt, ok := s.machineTeams[id]
	if !ok {
		return
	}
	delete(s.machineTeams, id)
	delete(s.machineByKey, machineKey(mt.Machines))
}

// ServerTeam returns a copy of the server team record, or nil.
func (s *Store) ServerTeam(id ids.ServerTeamID) *ServerTeam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.serverTeams[id]
	if !ok {
		return nil
	}
	return t.Clone()
}

// MachineTeam returns a copy of the machine team record, or nil.
func (s *Store) MachineTeam(id ids.MachineTeamID) *MachineTeam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mt, ok := s.machineTeams[id]
	if !ok {
		return nil
	}
	return mt.Clone()
}

// AllServerTeamIDs returns every server team ID currently in the store.
func (s *Store) AllServerTeamIDs() []ids.ServerTeamID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ServerTeamID, 0, len(s.serverTeams))
	for id := range s.serverTeams {
		out = append(out, id)
	}
	return out
}

// AllMachineTeamIDs returns every machine team ID currently in the store.
func (s *Store) AllMachineTeamIDs() []ids.MachineTeamID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.MachineTeamID, 0, len(s.machineTeams))
	for id := range s.machineTeams {
		out = append(out, id)
	}
	return out
}

// UpdateHealth records t's new health/optimal flags, adjusting the
// collection-wide counters.
func (s *Store) UpdateHealth(id ids.ServerTeamID, healthy, optimal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.serverTeams[id]
	if !ok {
		return
	}
	if t.Healthy != healthy {
		if healthy {
			s.healthyTeamCount++
		} else {
			s.healthyTeamCount--
		}
		t.Healthy = healthy
	}
	if t.Optimal != optimal {
		if optimal {
			s.optimalTeamCount++
		} else {
			s.optimalTeamCount--
		}
		t.Optimal = optimal
	}
}

// SetPriority records t's latest computed priority.
func (s *Store) SetPriority(id ids.ServerTeamID, p Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.serverTeams[id]; ok {
		t.Priority = p
	}
}

// MarkBad flags t as a bad team awaiting removal and removes it from
// the healthy/optimal counters.
func (s *Store) MarkBad(id ids.ServerTeamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.serverTeams[id]
	if !ok {
		return
	}
	if !t.Bad {
		t.Bad = true
		s.badServerTeams[id] = struct{}{}
		if t.Healthy {
			s.healthyTeamCount--
			t.Healthy = false
		}
		if t.Optimal {
			s.optimalTeamCount--
			t.Optimal = false
		}
	}
}

// MarkRedundant flags t as bad for being over-represented rather than
// for a policy violation, so the priority table chooses TEAM_REDUNDANT
// over TEAM_UNHEALTHY.
func (s *Store) MarkRedundant(id ids.ServerTeamID) {
	s.mu.Lock()
	if t, ok := s.serverTeams[id]; ok {
		t.Redundant = true
	}
	s.mu.Unlock()
	s.MarkBad(id)
}

// BadServerTeamIDs returns every team currently marked bad.
func (s *Store) BadServerTeamIDs() []ids.ServerTeamID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ServerTeamID, 0, len(s.badServerTeams))
	for id := range s.badServerTeams {
		out = append(out, id)
	}
	return out
}

// HealthyTeamCount and OptimalTeamCount are the collection-wide counters.
func (s *Store) HealthyTeamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthyTeamCount
}

func (s *Store) OptimalTeamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optimalTeamCount
}

// ZeroHealthyTeams reports whether no server team is currently healthy.
func (s *Store) ZeroHealthyTeams() bool { return s.HealthyTeamCount() == 0 }

// ZeroOptimalTeams mirrors ZeroHealthyTeams for the optimal counter.
func (s *Store) ZeroOptimalTeams() bool { return s.OptimalTeamCount() == 0 }

// RelocatingTeamCount counts server teams whose last-computed priority
// is above TEAM_HEALTHY — the set a health tracker is actively emitting
// relocation requests for, used as the quiet-check proxy for in-flight
// relocations.
func (s *Store) RelocatingTeamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.serverTeams {
		if t.Priority > PriorityTeamHealthy {
			n++
		}
	}
	return n
}

// ServerTeamsContaining returns every server team whose MachineTeam
// field equals mt.
func (s *Store) ServerTeamsContaining(mt ids.MachineTeamID) []ids.ServerTeamID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.machineTeams[mt]
	if !ok {
		return nil
	}
	out := make([]ids.ServerTeamID, 0, len(m.ServerTeams))
	for id := range m.ServerTeams {
		out = append(out, id)
	}
	return out
}

// ServerTeamCount and MachineTeamCount report the current totals, used
// by the builder's density targets and the remover's caps.
func (s *Store) ServerTeamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.serverTeams)
}

func (s *Store) MachineTeamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.machineTeams)
}
