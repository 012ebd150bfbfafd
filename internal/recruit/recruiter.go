// Package recruit implements the recruiter: negotiates new storage
// servers (and optionally paired TSS) on candidate workers, handling
// timeouts, double-recruit guards, and TSS-pair coordination.
package recruit

import (
	"context"
	"sync"
	"time"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/errs"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/registry"
	"github.com/aerokv/teamcollection/internal/sched"
)

// Candidate is a worker returned by the cluster controller's
// recruitment endpoint.
type Candidate struct {
	Address  string
	DC       string
	DataHall string
}

// WorkerRecruiter is the external "worker recruitment endpoint".
type WorkerRecruiter interface {
	RequestWorker(ctx context.Context, excluded []string, dcHint string, critical bool) (Candidate, error)
}

// InitializeReply is the initialize-storage RPC's reply.
type InitializeReply struct {
	Interface    string
	AddedVersion int64
}

// TSSPairInfo carries the SS half's identity to the TSS half once the
// SS half completes.
type TSSPairInfo struct {
	PairedID           ids.ServerID
	PairedAddedVersion int64
}

// StorageInitializer is the external initialize-storage RPC. tssPair
// is non-nil only for the TSS half of a pair.
type StorageInitializer interface {
	InitializeStorage(ctx context.Context, c Candidate, engineType registry.EngineType, interfaceID, seedTag string, tssPair *TSSPairInfo) (InitializeReply, error)
}

// LiveServerCounter answers "how many live SS are on this address" for
// the ≥2-per-address exclusion rule.
type LiveServerCounter interface {
	LiveServerCountAt(addr string) int
}

// TargetTSSCount reports the desired count of TSS, so the recruiter can
// decide whether to start a fresh pair and when to kill excess TSS.
type TargetTSSCount func() int

// ClusterHealth reports the signals that mark a recruitment request
// critical: zeroHealthyTeams, or !hasHealthyTeam.
type ClusterHealth struct {
	ZeroHealthyTeams func() bool
	HasHealthyTeam   func() bool
}

// tssPairState tracks one in-flight TSS pairing attempt.
type tssPairState struct {
	dc, dataHall string
	active       bool

	ssDone   chan TSSPairInfo
	tssDone  chan struct{}
	resolved bool
}

// Recruiter is the per-region recruitment task.
type Recruiter struct {
	Registry   *registry.Registry
	Exclusions *registry.ExclusionMap
	Knobs      config.Knobs

	Worker      WorkerRecruiter
	Initializer StorageInitializer
	LiveCount   LiveServerCounter
	TargetTSS   TargetTSSCount
	Health      ClusterHealth

	OnServerAdded func(*registry.Server)

	mu          sync.Mutex
	recruiting  map[string]struct{}
	tss         *tssPairState
}

// New returns a ready Recruiter.
func New(reg *registry.Registry, excl *registry.ExclusionMap, knobs config.Knobs) *Recruiter {
	return &Recruiter{
		Registry:   reg,
		Exclusions: excl,
		Knobs:      knobs,
		recruiting: make(map[string]struct{}),
	}
}

// Run continuously requests and processes candidate workers until ctx
// is cancelled, asking the cluster controller for a candidate worker.
func (r *Recruiter) Run(ctx context.Context) error {
	for {
		critical := r.isCritical()
		excluded := r.excludedAddresses()

		cand, err := r.Worker.RequestWorker(ctx, excluded, "", critical)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errs.Retryable(err) {
				if err := sched.Delay(ctx, r.Knobs.StorageRecruitmentDelay); err != nil {
					return err
				}
				continue
			}
			return err
		}

		r.handleCandidate(ctx, cand)
	}
}

func (r *Recruiter) isCritical() bool {
	if r.Health.ZeroHealthyTeams != nil && r.Health.ZeroHealthyTeams() {
		return true
	}
	if r.Health.HasHealthyTeam != nil && !r.Health.HasHealthyTeam() {
		return true
	}
	return false
}

// excludedAddresses builds the exclusion list: ≥2 live SS, recruiting
// in flight, any non-NONE exclusion status, and invalid locality (the
// latter delegated to the caller's worker list — this recruiter only
// knows about addresses it has already seen).
func (r *Recruiter) excludedAddresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for addr := range r.recruiting {
		out = append(out, addr)
	}
	for addr, sev := range r.Exclusions.Snapshot() {
		if sev != registry.ExclusionNone {
			out = append(out, addr)
		}
	}
	if r.LiveCount != nil {
		for _, s := range r.Registry.AllServerIDs() {
			rec := r.Registry.Server(s)
			if rec == nil {
				continue
			}
			if r.LiveCount.LiveServerCountAt(rec.Addresses.Primary) >= 2 {
				out = append(out, rec.Addresses.Primary)
			}
		}
	}
	return out
}

func (r *Recruiter) markRecruiting(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.recruiting[addr]; busy {
		return false
	}
	r.recruiting[addr] = struct{}{}
	return true
}

func (r *Recruiter) clearRecruiting(addr string) {
	r.mu.Lock()
	delete(r.recruiting, addr)
	r.mu.Unlock()
}

func (r *Recruiter) handleCandidate(ctx context.Context, cand Candidate) {
	if r.LiveCount != nil && r.LiveCount.LiveServerCountAt(cand.Address) >= 2 {
		return
	}
	if !r.markRecruiting(cand.Address) {
		return
	}

	r.mu.Lock()
	pair := r.tss
	r.mu.Unlock()

	switch {
	case pair != nil && pair.active && pair.dc == cand.DC && pair.dataHall == cand.DataHall:
		r.recruitSSHalfOfPair(ctx, cand, pair)
	case r.wantsFreshTSSPair():
		r.startTSSPair(ctx, cand)
	default:
		r.recruitPlainSS(ctx, cand)
	}
}

// recruitPlainSS is the plain SS recruitment path.
func (r *Recruiter) recruitPlainSS(ctx context.Context, cand Candidate) {
	defer r.clearRecruiting(cand.Address)

	reply, err := r.Initializer.InitializeStorage(ctx, cand, registry.EngineUnset, ids.NewServerID().String(), "", nil)
	if err != nil {
		r.handleInitializeError(ctx, err)
		return
	}
	r.admit(cand, reply, false, ids.ServerID{})
}

// wantsFreshTSSPair reports whether the recruiter should start a new
// TSS pairing attempt: at most one outstanding pair at a time, and only
// while the target TSS count has not been reached.
func (r *Recruiter) wantsFreshTSSPair() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tss != nil && r.tss.active {
		return false
	}
	return r.TargetTSS != nil && r.TargetTSS() > 0
}

// startTSSPair marks a fresh pair state and starts the TSS half, which
// blocks until the SS half completes or times out.
func (r *Recruiter) startTSSPair(ctx context.Context, cand Candidate) {
	pair := &tssPairState{
		dc:       cand.DC,
		dataHall: cand.DataHall,
		active:   true,
		ssDone:   make(chan TSSPairInfo, 1),
		tssDone:  make(chan struct{}),
	}
	r.mu.Lock()
	r.tss = pair
	r.mu.Unlock()

	go r.runTSSHalf(ctx, cand, pair)
}

func (r *Recruiter) runTSSHalf(ctx context.Context, cand Candidate, pair *tssPairState) {
	defer r.clearRecruiting(cand.Address)
	defer r.finishPair(pair)

	tctx, cancel := context.WithTimeout(ctx, r.Knobs.TSSRecruitmentTimeout)
	defer cancel()

	select {
	case info := <-pair.ssDone:
		reply, err := r.Initializer.InitializeStorage(tctx, cand, registry.EngineUnset, ids.NewServerID().String(), "", &info)
		if err != nil {
			r.handleInitializeError(ctx, err)
			return
		}
		r.admit(cand, reply, true, info.PairedID)
	case <-tctx.Done():
		// TSS half timed out; the SS half (if it later completes) still
		// succeeds on its own.
		return
	case <-pair.tssDone:
		// Cancelled externally.
		return
	}
}

// recruitSSHalfOfPair: the next candidate in the same dc+dataHall
// recruits the SS half and signals its UID+addedVersion to the waiting
// TSS half.
func (r *Recruiter) recruitSSHalfOfPair(ctx context.Context, cand Candidate, pair *tssPairState) {
	defer r.clearRecruiting(cand.Address)

	reply, err := r.Initializer.InitializeStorage(ctx, cand, registry.EngineUnset, ids.NewServerID().String(), "", nil)
	if err != nil {
		r.handleInitializeError(ctx, err)
		return
	}
	id := r.admit(cand, reply, false, ids.ServerID{})

	select {
	case pair.ssDone <- TSSPairInfo{PairedID: id, PairedAddedVersion: reply.AddedVersion}:
	default:
		// TSS half already gave up (timeout or cancellation); nothing to
		// signal, the SS half still succeeded on its own.
	}
}

// finishPair clears the active pairing slot so a future candidate in a
// different dc+dataHall can start a fresh attempt.
func (r *Recruiter) finishPair(pair *tssPairState) {
	r.mu.Lock()
	if r.tss == pair {
		r.tss = nil
	}
	r.mu.Unlock()
}

// CancelTSSPair implements symmetric cancel semantics: cancelling an
// active pair must complete both halves so neither is stuck.
func (r *Recruiter) CancelTSSPair() {
	r.mu.Lock()
	pair := r.tss
	r.mu.Unlock()
	if pair == nil {
		return
	}
	close(pair.tssDone)
	r.finishPair(pair)
}

func (r *Recruiter) handleInitializeError(ctx context.Context, err error) {
	if !errs.Retryable(err) {
		return
	}
	_ = sched.Delay(ctx, r.Knobs.StorageRecruitmentDelay)
}

func (r *Recruiter) admit(cand Candidate, reply InitializeReply, isTSS bool, tssPairID ids.ServerID) ids.ServerID {
	s := &registry.Server{
		ID:           ids.NewServerID(),
		Addresses:    registry.Addresses{Primary: cand.Address},
		Locality:     nil,
		AddedVersion: reply.AddedVersion,
		IsTSS:        isTSS,
		TSSPairID:    tssPairID,
	}
	r.Registry.AddServer(s)
	if r.OnServerAdded != nil {
		r.OnServerAdded(s)
	}
	return s.ID
}

// KillExcessTSS periodically kills excess TSS when zeroHealthyTeams or
// when the target TSS count drops: remove TSS servers down to the
// target count.
func (r *Recruiter) KillExcessTSS(ctx context.Context, remove func(context.Context, ids.ServerID) error) {
	if r.Health.ZeroHealthyTeams != nil && r.Health.ZeroHealthyTeams() {
		r.killAllTSS(ctx, remove)
		return
	}
	if r.TargetTSS == nil {
		return
	}
	target := r.TargetTSS()

	var tss []ids.ServerID
	for _, id := range r.Registry.AllServerIDs() {
		if s := r.Registry.Server(id); s != nil && s.IsTSS {
			tss = append(tss, id)
		}
	}
	for i := target; i < len(tss); i++ {
		_ = remove(ctx, tss[i])
	}
}

func (r *Recruiter) killAllTSS(ctx context.Context, remove func(context.Context, ids.ServerID) error) {
	for _, id := range r.Registry.AllServerIDs() {
		if s := r.Registry.Server(id); s != nil && s.IsTSS {
			_ = remove(ctx, id)
		}
	}
}

// RunTSSSweep drives KillExcessTSS on an interval until ctx is
// cancelled.
func (r *Recruiter) RunTSSSweep(ctx context.Context, interval time.Duration, remove func(context.Context, ids.ServerID) error) error {
	for {
		if err := sched.Delay(ctx, interval); err != nil {
			return err
		}
		r.KillExcessTSS(ctx, remove)
	}
}
