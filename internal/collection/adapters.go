// Package collection wires every per-region subsystem together into
// one supervised Team Collection: registries, team store, builder,
// remover, health trackers, recruiter, perpetual wiggle, selector, and
// the initial-state loader.
//
// The external collaborators — the shard→team map, the move-queue,
// the wiggling-process key, the server list — live behind an actual
// move-keys data plane in production; this module's job stops at the
// control-plane boundary those interfaces describe (shard movement
// execution is out of scope). The adapters in this file give every
// control-plane interface a concrete, persisted-where-it-matters
// implementation so the whole graph wires together and is exercisable
// in tests, without pretending to reimplement the data plane.
package collection

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/eventbus"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/loader"
	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/policy"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/selection"
	"github.com/aerokv/teamcollection/internal/store"
	"github.com/aerokv/teamcollection/internal/team"
	"github.com/aerokv/teamcollection/internal/wiggle"
)

const keyPrefix = "ddc"

// persistentSource reads the bootstrap inputs (server list, shard
// mapping, data-distribution mode, healthy zone) out of the badger
// store, the single source of truth for this region's persisted
// state.
type persistentSource struct {
	db     *store.Store
	region config.Region
}

func (p *persistentSource) key(name string) []byte {
	return store.KeyFor(keyPrefix, string(p.region), name)
}

func (p *persistentSource) ServerList(ctx context.Context) ([]loader.ServerListEntry, error) {
	var out []loader.ServerListEntry
	if err := p.db.Get(ctx, p.key("serverList"), &out); err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (p *persistentSource) ShardMapping(ctx context.Context) ([]loader.ShardDestination, error) {
	var out []loader.ShardDestination
	if err := p.db.Get(ctx, p.key("shardMapping"), &out); err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (p *persistentSource) DataDistributionMode(ctx context.Context) (config.DataDistributionMode, error) {
	s, err := p.db.GetString(ctx, p.key("dataDistributionMode"))
	if err != nil {
		if err == store.ErrNotFound {
			return config.ModeEnabled, nil
		}
		return config.ModeEnabled, err
	}
	switch s {
	case "0":
		return config.ModeDisabled, nil
	case "2":
		return config.ModePausedForTest, nil
	default:
		return config.ModeEnabled, nil
	}
}

func (p *persistentSource) HealthyZone(ctx context.Context) (string, int64, bool, error) {
	type healthyZone struct {
		ZoneID     string `json:"zoneId"`
		EndVersion int64  `json:"endVersion"`
		Ignoring   bool   `json:"ignoring"`
	}
	var hz healthyZone
	if err := p.db.Get(ctx, p.key("healthyZone"), &hz); err != nil {
		if err == store.ErrNotFound {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	return hz.ZoneID, hz.EndVersion, hz.Ignoring, nil
}

// shardIndex is the in-memory shard→team map the control plane keeps
// just enough of to answer getTeam and the per-team health tracker.
// It is seeded from persistentSource at bootstrap; selection.GetTeam
// does not write destinations back into it. Actual data movement and
// byte accounting belong to the external move-keys engine.
type shardIndex struct {
	mu        sync.RWMutex
	byTeam    map[ids.ServerTeamID][]team.ShardRange
	bytes     map[string]int64 // keyed by range start, a rough per-range byte estimate
	loads     map[ids.ServerID]selection.MemberLoad
	published *eventbus.Publisher
	region    config.Region
	peer      *shardIndex // the sibling region's index, for PeerPriority
	priority  map[string]team.Priority
}

func newShardIndex(region config.Region, pub *eventbus.Publisher) *shardIndex {
	return &shardIndex{
		byTeam:    make(map[ids.ServerTeamID][]team.ShardRange),
		bytes:     make(map[string]int64),
		loads:     make(map[ids.ServerID]selection.MemberLoad),
		priority:  make(map[string]team.Priority),
		published: pub,
		region:    region,
	}
}

func rangeKey(r team.ShardRange) string { return string(r.Start) + ".." + string(r.End) }

// Seed installs the loader's initial shard mapping (primary side only
// here; the remote index is seeded separately by its own loader run).
func (si *shardIndex) Seed(dest []loader.ShardDestination, teamOf func([]ids.ServerID) (ids.ServerTeamID, bool)) {
	si.mu.Lock()
	defer si.mu.Unlock()
	for _, d := range dest {
		if !d.HasDest {
			continue
		}
		if id, ok := teamOf(d.PrimaryDest); ok {
			si.byTeam[id] = append(si.byTeam[id], d.Range)
		}
	}
}

// ShardsForTeam implements team.ShardOwnership.
func (si *shardIndex) ShardsForTeam(t ids.ServerTeamID) []team.ShardRange {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return append([]team.ShardRange{}, si.byTeam[t]...)
}

// BytesHeld implements team.ShardOwnership. Without a live move-keys
// feed this returns the last value recorded by RecordBytes, or zero.
func (si *shardIndex) BytesHeld(ctx context.Context, r team.ShardRange) (int64, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.bytes[rangeKey(r)], nil
}

// RecordBytes lets a diagnostic feed or test set a range's last known
// size, the input BytesHeld and LastReplicaWarner report from.
func (si *shardIndex) RecordBytes(r team.ShardRange, n int64) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.bytes[rangeKey(r)] = n
}

// RequestRelocation implements team.Relocator by publishing the
// request over the event bus, to the external move-queue.
func (si *shardIndex) RequestRelocation(ctx context.Context, req team.RelocationRequest) error {
	if si.published == nil {
		return nil
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return si.published.Publish(ctx, eventbus.SubjectRelocations, string(si.region), payload)
}

// OtherTeamPriority implements team.PeerPriority by consulting the
// sibling region's index, if one was wired with SetPeer.
func (si *shardIndex) OtherTeamPriority(r team.ShardRange) team.Priority {
	if si.peer == nil {
		return team.PriorityNone
	}
	si.peer.mu.RLock()
	defer si.peer.mu.RUnlock()
	return si.peer.priority[rangeKey(r)]
}

// SetPeer wires the sibling region's index for cross-region priority
// comparison, via a non-owning back-pointer.
func (si *shardIndex) SetPeer(other *shardIndex) { si.peer = other }

// RecordPriority lets the team health tracker publish its own
// just-computed priority for OtherTeamPriority's sibling lookup.
func (si *shardIndex) RecordPriority(r team.ShardRange, p team.Priority) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.priority[rangeKey(r)] = p
}

// WarnLastReplicaLost implements team.LastReplicaWarner by publishing
// a health event.
func (si *shardIndex) WarnLastReplicaLost(ctx context.Context, t ids.ServerTeamID, ranges []team.ShardRange, totalBytes int64) {
	if si.published == nil {
		return
	}
	payload, _ := json.Marshal(struct {
		Team       string `json:"team"`
		Ranges     int    `json:"ranges"`
		TotalBytes int64  `json:"totalBytes"`
	}{Team: t.String(), Ranges: len(ranges), TotalBytes: totalBytes})
	_ = si.published.Publish(ctx, eventbus.SubjectZeroLastReplica, string(si.region), payload)
}

// RecordLoad lets a metrics-ingestion path feed member load reports
// in, the input to selection.LoadSource and the recruiter's
// available-space accounting.
func (si *shardIndex) RecordLoad(id ids.ServerID, load selection.MemberLoad) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.loads[id] = load
}

// MemberLoad implements selection.LoadSource.
func (si *shardIndex) MemberLoad(id ids.ServerID) selection.MemberLoad {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.loads[id]
}

// NumberOfShards implements registry.ShardCounter and the wiggle's
// DrainChecker by counting ranges assigned to any team containing id.
type shardCounter struct {
	reg *registry.Registry
	idx *shardIndex
}

func (sc *shardCounter) NumberOfShards(ctx context.Context, id ids.ServerID) (int, error) {
	s := sc.reg.Server(id)
	if s == nil {
		return 0, nil
	}
	sc.idx.mu.RLock()
	defer sc.idx.mu.RUnlock()
	n := 0
	for t := range s.Teams {
		n += len(sc.idx.byTeam[t])
	}
	return n, nil
}

func (sc *shardCounter) Drained(ctx context.Context, id ids.ServerID) bool {
	n, _ := sc.NumberOfShards(ctx, id)
	return n == 0
}

// reevaluator implements registry.TeamReevaluator: on a zone change it
// re-checks every team containing the server against the replication
// policy and marks violators bad.
type reevaluator struct {
	store  *team.Store
	reg    *registry.Registry
	policy policy.Policy
}

func (re *reevaluator) ReevaluateServerTeams(id ids.ServerID) {
	s := re.reg.Server(id)
	if s == nil {
		return
	}
	for tid := range s.Teams {
		st := re.store.ServerTeam(tid)
		if st == nil {
			continue
		}
		locs := make([]locality.Record, 0, len(st.Members))
		for _, m := range st.Members {
			if ms := re.reg.Server(m); ms != nil {
				locs = append(locs, ms.Locality)
			}
		}
		if !re.policy.Satisfies(locs) {
			re.store.MarkBad(tid)
		}
	}
}

// failedHandler implements registry.FailedServerHandler by publishing
// a health event; the actual evacuation is the external move-keys
// path's job.
type failedHandler struct {
	pub    *eventbus.Publisher
	region config.Region
}

func (fh *failedHandler) HandleFailedServer(ctx context.Context, id ids.ServerID) error {
	if fh.pub == nil {
		return nil
	}
	payload, _ := json.Marshal(struct {
		Server string `json:"server"`
		Event  string `json:"event"`
	}{Server: id.String(), Event: "failed"})
	return fh.pub.Publish(ctx, eventbus.SubjectHealth, string(fh.region), payload)
}

// desiredEngineFunc adapts a fixed engine type into
// registry.DesiredEngine.
func desiredEngineFunc(e registry.EngineType) registry.DesiredEngine {
	return func() registry.EngineType { return e }
}

// --- wiggle adapters -------------------------------------------------

// processSet implements wiggle.ProcessSet over the registry's current
// processId locality attributes, insertion-ordered by first sight.
type processSet struct {
	reg *registry.Registry

	mu    sync.Mutex
	order []wiggle.ProcessID
	index map[wiggle.ProcessID]int
}

func newProcessSet(reg *registry.Registry) *processSet {
	return &processSet{reg: reg, index: make(map[wiggle.ProcessID]int)}
}

func (p *processSet) refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[wiggle.ProcessID]bool)
	for _, id := range p.reg.AllServerIDs() {
		s := p.reg.Server(id)
		if s == nil {
			continue
		}
		pid := wiggle.ProcessID(s.Locality.Get(locality.KeyProcessID))
		if pid == "" || seen[pid] {
			continue
		}
		seen[pid] = true
		if _, ok := p.index[pid]; !ok {
			p.index[pid] = len(p.order)
			p.order = append(p.order, pid)
		}
	}
}

func (p *processSet) First() (wiggle.ProcessID, bool) {
	p.refresh()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return "", false
	}
	return p.order[0], true
}

func (p *processSet) Successor(cur wiggle.ProcessID) (wiggle.ProcessID, bool) {
	p.refresh()
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[cur]
	if !ok || i+1 >= len(p.order) {
		return "", false
	}
	return p.order[i+1], true
}

func (p *processSet) Count() int {
	p.refresh()
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

func (p *processSet) ServersOnProcess(pid wiggle.ProcessID) []ids.ServerID {
	var out []ids.ServerID
	for _, id := range p.reg.AllServerIDs() {
		s := p.reg.Server(id)
		if s != nil && s.Locality.Get(locality.KeyProcessID) == string(pid) {
			out = append(out, id)
		}
	}
	return out
}

// wigglingKeyStore implements wiggle.WigglingKeyStore/EnableKeyStore
// over the badger store, backing the per-region wiggling-process key
// and the wiggle on/off key.
type wigglingKeyStore struct {
	db     *store.Store
	region config.Region
}

func (w *wigglingKeyStore) key(name string) []byte {
	return store.KeyFor(keyPrefix, string(w.region), name)
}

func (w *wigglingKeyStore) Get(ctx context.Context) (wiggle.ProcessID, bool, error) {
	s, err := w.db.GetString(ctx, w.key("wigglingStorage"))
	if err != nil {
		if err == store.ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return wiggle.ProcessID(s), true, nil
}

func (w *wigglingKeyStore) Set(ctx context.Context, id wiggle.ProcessID) error {
	return w.db.PutString(ctx, w.key("wigglingStorage"), string(id))
}

func (w *wigglingKeyStore) Enabled(ctx context.Context) (bool, error) {
	s, err := w.db.GetString(ctx, w.key("perpetualStorageWiggle"))
	if err != nil {
		if err == store.ErrNotFound {
			return true, nil
		}
		return true, err
	}
	return s != "0", nil
}
