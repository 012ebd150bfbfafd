package policy

import (
	"testing"

	"github.com/aerokv/teamcollection/internal/locality"
	"github.com/aerokv/teamcollection/internal/rng"
)

func rec(zone string) locality.Record {
	return locality.Record{locality.KeyZoneID: zone}
}

func TestAcrossSatisfies(t *testing.T) {
	p := Across(locality.KeyZoneID, 3, One())

	triple := []locality.Record{rec("z1"), rec("z2"), rec("z3")}
	if !p.Satisfies(triple) {
		t.Fatalf("expected three distinct zones to satisfy triple-replication policy")
	}

	pair := []locality.Record{rec("z1"), rec("z2")}
	if p.Satisfies(pair) {
		t.Fatalf("expected two distinct zones to fail a 3-zone policy")
	}

	sameZone := []locality.Record{rec("z1"), rec("z1"), rec("z1")}
	if p.Satisfies(sameZone) {
		t.Fatalf("three entries on one zone must not satisfy a 3-zone policy")
	}
}

// TestAddSubsetFromBadTeam covers a bad team {A,B,C,D} under "across
// zoneId choose one" with teamSize=3. If A,B,C live on distinct zones,
// {A,B,C} should be selectable; if only A,B are distinct, selectReplicas
// must fail.
func TestAddSubsetFromBadTeam(t *testing.T) {
	p := Across(locality.KeyZoneID, 3, One())
	r := rng.New(1)

	t.Run("three distinct zones succeed", func(t *testing.T) {
		entries := []locality.Record{rec("z1"), rec("z2"), rec("z3"), rec("z3")}
		sel, ok := SelectReplicas(p, entries, nil, r)
		if !ok {
			t.Fatalf("expected a satisfying subset")
		}
		if len(sel) != 3 {
			t.Fatalf("expected 3 replicas, got %d", len(sel))
		}
		zones := map[string]bool{}
		for _, e := range sel {
			zones[e.Zone()] = true
		}
		if len(zones) != 3 {
			t.Fatalf("expected 3 distinct zones, got %d", len(zones))
		}
	})

	t.Run("only two distinct zones fail", func(t *testing.T) {
		entries := []locality.Record{rec("z1"), rec("z1"), rec("z2")}
		_, ok := SelectReplicas(p, entries, nil, r)
		if ok {
			t.Fatalf("expected no satisfying subset with only two distinct zones")
		}
	})
}

func TestSelectReplicasHonorsForced(t *testing.T) {
	p := Across(locality.KeyZoneID, 3, One())
	r := rng.New(42)
	entries := []locality.Record{rec("z1"), rec("z2"), rec("z3"), rec("z4")}

	sel, ok := SelectReplicas(p, entries, []int{0}, r)
	if !ok {
		t.Fatalf("expected success")
	}
	found := false
	for _, e := range sel {
		if e.Zone() == "z1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("forced entry not present in selection: %v", sel)
	}
}

func TestDeterministicWithSameSeed(t *testing.T) {
	p := Across(locality.KeyZoneID, 2, One())
	entries := []locality.Record{rec("z1"), rec("z2"), rec("z3"), rec("z4"), rec("z5")}

	r1 := rng.New(7)
	r2 := rng.New(7)

	sel1, ok1 := SelectReplicas(p, entries, nil, r1)
	sel2, ok2 := SelectReplicas(p, entries, nil, r2)
	if !ok1 || !ok2 {
		t.Fatalf("expected both selections to succeed")
	}
	if len(sel1) != len(sel2) {
		t.Fatalf("same-seed selections diverged in length: %v vs %v", sel1, sel2)
	}
	for i := range sel1 {
		if sel1[i].Zone() != sel2[i].Zone() {
			t.Fatalf("same-seed selections diverged at %d: %v vs %v", i, sel1, sel2)
		}
	}
}

func TestAndPolicy(t *testing.T) {
	p := And(
		Across(locality.KeyZoneID, 3, One()),
	)
	entries := []locality.Record{rec("z1"), rec("z2"), rec("z3")}
	if !p.Satisfies(entries) {
		t.Fatalf("expected And-wrapped policy to satisfy")
	}
	r := rng.New(3)
	sel, ok := SelectReplicas(p, entries, nil, r)
	if !ok || len(sel) != 3 {
		t.Fatalf("expected 3 replicas from And-wrapped policy, got %v ok=%v", sel, ok)
	}
}

func TestImpossiblePolicyReturnsEmpty(t *testing.T) {
	p := Across(locality.KeyZoneID, 5, One())
	entries := []locality.Record{rec("z1"), rec("z2")}
	r := rng.New(1)
	_, ok := SelectReplicas(p, entries, nil, r)
	if ok {
		t.Fatalf("expected failure when too few distinct zones exist")
	}
}
