package rpcapi

import (
	"context"
	"sync"

	"github.com/aerokv/teamcollection/internal/recruit"
	"github.com/aerokv/teamcollection/internal/registry"
)

// Fake is an in-memory stand-in for Client, used by tests that need a
// recruit.WorkerRecruiter / recruit.StorageInitializer / registry.FailureMonitor
// without a live gRPC listener.
type Fake struct {
	mu sync.Mutex

	Candidates []recruit.Candidate
	nextCand   int

	FailInit bool

	AddedVersion int64
	available    map[string]bool
}

// NewFake returns a Fake with no candidates queued; tests append to
// Candidates or call QueueCandidate before exercising the recruiter.
func NewFake() *Fake {
	return &Fake{available: make(map[string]bool)}
}

func (f *Fake) QueueCandidate(c recruit.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Candidates = append(f.Candidates, c)
}

// RequestWorker implements recruit.WorkerRecruiter.
func (f *Fake) RequestWorker(ctx context.Context, excluded []string, dcHint string, critical bool) (recruit.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextCand >= len(f.Candidates) {
		return recruit.Candidate{}, errNoCandidate
	}
	c := f.Candidates[f.nextCand]
	f.nextCand++
	return c, nil
}

// InitializeStorage implements recruit.StorageInitializer.
func (f *Fake) InitializeStorage(ctx context.Context, c recruit.Candidate, engineType registry.EngineType, interfaceID, seedTag string, tssPair *recruit.TSSPairInfo) (recruit.InitializeReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailInit {
		return recruit.InitializeReply{}, errInitFailed
	}
	f.AddedVersion++
	return recruit.InitializeReply{Interface: interfaceID, AddedVersion: f.AddedVersion}, nil
}

// LiveServerCountAt implements recruit.LiveServerCounter, always
// reporting zero so the fake never blocks recruitment on the
// ≥2-per-address guard.
func (f *Fake) LiveServerCountAt(addr string) int { return 0 }

// SetAvailable lets a test flip a server's edge-triggered availability,
// the push side of registry.FailureMonitor.
func (f *Fake) SetAvailable(addr string, avail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available[addr] = avail
}

// IsAvailable implements registry.FailureMonitor.
func (f *Fake) IsAvailable(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	avail, known := f.available[addr]
	return !known || avail
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const (
	errNoCandidate fakeError = "rpcapi: no queued candidate"
	errInitFailed  fakeError = "rpcapi: fake initialize-storage failure"
)
