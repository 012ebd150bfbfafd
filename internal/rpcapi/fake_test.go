package rpcapi

import (
	"context"
	"testing"

	"github.com/aerokv/teamcollection/internal/recruit"
	"github.com/aerokv/teamcollection/internal/registry"
)

func TestFakeRequestWorkerExhausted(t *testing.T) {
	f := NewFake()
	f.QueueCandidate(recruit.Candidate{Address: "10.0.0.1:4500"})
	ctx := context.Background()

	c, err := f.RequestWorker(ctx, nil, "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Address != "10.0.0.1:4500" {
		t.Fatalf("got %+v", c)
	}
	if _, err := f.RequestWorker(ctx, nil, "", false); err == nil {
		t.Fatal("expected error once candidates are exhausted")
	}
}

func TestFakeInitializeStorageFailure(t *testing.T) {
	f := NewFake()
	f.FailInit = true
	_, err := f.InitializeStorage(context.Background(), recruit.Candidate{}, registry.EngineSSD, "iface", "seed", nil)
	if err == nil {
		t.Fatal("expected failure")
	}
}

func TestFakeAvailabilityDefaultsTrue(t *testing.T) {
	f := NewFake()
	if !f.IsAvailable("unknown:1234") {
		t.Fatal("unknown address should default available")
	}
	f.SetAvailable("x:1", false)
	if f.IsAvailable("x:1") {
		t.Fatal("expected x:1 to be unavailable")
	}
}
