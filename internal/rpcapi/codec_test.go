package rpcapi

import "testing"

func TestJSONCodecRoundTrip(t *testing.T) {
	var c jsonCodec
	in := &RequestWorkerArgs{Excluded: []string{"a", "b"}, DCHint: "dc1", Critical: true}
	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := new(RequestWorkerArgs)
	if err := c.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.DCHint != in.DCHint || out.Critical != in.Critical || len(out.Excluded) != 2 {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
}

func TestJSONCodecName(t *testing.T) {
	if (jsonCodec{}).Name() != "json" {
		t.Fatalf("expected codec name %q", "json")
	}
}
