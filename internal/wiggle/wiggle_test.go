package wiggle

import (
	"context"
	"testing"

	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/ids"
	"github.com/aerokv/teamcollection/internal/registry"
)

type fakeProcessSet struct {
	order []ProcessID
}

func (f *fakeProcessSet) First() (ProcessID, bool) {
	if len(f.order) == 0 {
		return "", false
	}
	return f.order[0], true
}

func (f *fakeProcessSet) Successor(cur ProcessID) (ProcessID, bool) {
	for i, p := range f.order {
		if p == cur && i+1 < len(f.order) {
			return f.order[i+1], true
		}
	}
	return "", false
}

func (f *fakeProcessSet) Count() int { return len(f.order) }

type fakeKeyStore struct {
	cur ProcessID
	ok  bool
}

func (f *fakeKeyStore) Get(context.Context) (ProcessID, bool, error) { return f.cur, f.ok, nil }
func (f *fakeKeyStore) Set(_ context.Context, id ProcessID) error {
	f.cur, f.ok = id, true
	return nil
}

type fakeEnableStore struct {
	enabled bool
}

func (f *fakeEnableStore) Enabled(context.Context) (bool, error) { return f.enabled, nil }

type fakeServersOnProcess struct {
	byProcess map[ProcessID][]ids.ServerID
}

func (f *fakeServersOnProcess) ServersOnProcess(pid ProcessID) []ids.ServerID {
	return f.byProcess[pid]
}

type fakeDrain struct {
	drained map[ids.ServerID]bool
}

func (f *fakeDrain) Drained(_ context.Context, id ids.ServerID) bool { return f.drained[id] }

func newTestWiggler() (*Wiggler, *registry.Registry, *registry.ExclusionMap) {
	reg := registry.New()
	excl := registry.NewExclusionMap()
	knobs := config.Default()
	knobs.TeamSize = 3
	return &Wiggler{
		Registry:   reg,
		Exclusions: excl,
		Knobs:      knobs,
	}, reg, excl
}

func TestNextProcessAdvancesThroughSuccessors(t *testing.T) {
	w, _, _ := newTestWiggler()
	w.Processes = &fakeProcessSet{order: []ProcessID{"p1", "p2", "p3"}}
	w.Key = &fakeKeyStore{}

	first, err := w.nextProcess(context.Background())
	if err != nil || first != "p1" {
		t.Fatalf("expected the first call to land on p1, got %v, %v", first, err)
	}

	second, err := w.nextProcess(context.Background())
	if err != nil || second != "p2" {
		t.Fatalf("expected the second call to advance to p2, got %v, %v", second, err)
	}
}

func TestNextProcessWrapsToFirstWhenExhausted(t *testing.T) {
	w, _, _ := newTestWiggler()
	w.Processes = &fakeProcessSet{order: []ProcessID{"p1", "p2"}}
	w.Key = &fakeKeyStore{cur: "p2", ok: true}

	next, err := w.nextProcess(context.Background())
	if err != nil || next != "p1" {
		t.Fatalf("expected wraparound to p1, got %v, %v", next, err)
	}
}

func TestSetWigglingMarksAndClearsExclusions(t *testing.T) {
	w, reg, excl := newTestWiggler()
	id := ids.NewServerID()
	reg.AddServer(&registry.Server{ID: id, Addresses: registry.Addresses{Primary: "1.2.3.4:1"}})

	w.setWiggling([]ids.ServerID{id}, true)
	if excl.Status("1.2.3.4:1") != registry.ExclusionWiggling {
		t.Fatal("expected setWiggling(true) to mark the address WIGGLING")
	}

	w.setWiggling([]ids.ServerID{id}, false)
	if excl.Status("1.2.3.4:1") != registry.ExclusionNone {
		t.Fatal("expected setWiggling(false) to clear the exclusion")
	}
}

func TestIncludeCurrentlyWigglingOnlyClearsWigglingSeverity(t *testing.T) {
	w, _, excl := newTestWiggler()
	excl.Set("a:1", registry.ExclusionWiggling)
	excl.Set("b:1", registry.ExclusionFailed)

	w.includeCurrentlyWiggling(context.Background())

	if excl.Status("a:1") != registry.ExclusionNone {
		t.Fatal("expected the WIGGLING exclusion to be cleared")
	}
	if excl.Status("b:1") != registry.ExclusionFailed {
		t.Fatal("expected a non-WIGGLING exclusion to be left alone")
	}
}

func TestPausedReflectsHealthGuard(t *testing.T) {
	w, _, _ := newTestWiggler()

	if w.paused() {
		t.Fatal("expected an unguarded wiggler to never report paused")
	}

	w.Guard.TooManyUnhealthyRelocations = func() bool { return true }
	if !w.paused() {
		t.Fatal("expected TooManyUnhealthyRelocations to pause the wiggler")
	}
	w.Guard.TooManyUnhealthyRelocations = func() bool { return false }

	w.Guard.HealthyTeamCount = func() int { return 0 }
	if !w.paused() {
		t.Fatal("expected too few healthy teams to pause the wiggler")
	}
}

func TestStepOneProcessWaitsForDrainBeforeClearing(t *testing.T) {
	w, reg, excl := newTestWiggler()
	id := ids.NewServerID()
	reg.AddServer(&registry.Server{ID: id, Addresses: registry.Addresses{Primary: "1.2.3.4:1"}})

	w.Processes = &fakeProcessSet{order: []ProcessID{"p1"}}
	w.Key = &fakeKeyStore{}
	w.Servers = &fakeServersOnProcess{byProcess: map[ProcessID][]ids.ServerID{"p1": {id}}}
	w.Drain = &fakeDrain{drained: map[ids.ServerID]bool{id: true}}

	if err := w.stepOneProcess(context.Background()); err != nil {
		t.Fatalf("stepOneProcess: %v", err)
	}
	if excl.Status("1.2.3.4:1") != registry.ExclusionNone {
		t.Fatal("expected the exclusion to be cleared once the server reports drained")
	}
}
