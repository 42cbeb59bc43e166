package keyspace

import "testing"

func TestInEmptyIntervalContainsOnlyStart(t *testing.T) {
	var start ID = 42
	if !start.In(start, start) {
		t.Fatalf("empty interval must contain its own start")
	}
	if ID(43).In(start, start) {
		t.Fatalf("empty interval must not contain any other point")
	}
}

func TestInWraps(t *testing.T) {
	// interval [250, 10] on a tiny 8-bit-style wraparound, expressed with
	// uint64 arithmetic that still wraps the same way at 2^64.
	start := ID(0) - 6 // 2^64-6
	end := ID(10)
	if !ID(0).In(start, end) {
		t.Fatalf("0 should be inside the wrapping interval")
	}
	if ID(20).In(start, end) {
		t.Fatalf("20 should be outside the wrapping interval")
	}
}

func TestShiftMatchesFingerOffset(t *testing.T) {
	id := ID(5)
	if id.Shift(0) != 6 {
		t.Fatalf("finger 0 should be id+1")
	}
	if id.Shift(3) != 13 {
		t.Fatalf("finger 3 should be id+8")
	}
}

func TestOfIsDeterministic(t *testing.T) {
	a := Of([]byte("hello"))
	b := Of([]byte("hello"))
	if a != b {
		t.Fatalf("hashing the same key twice must be deterministic")
	}
	if a == Of([]byte("world")) {
		t.Fatalf("different keys should (almost always) hash differently")
	}
}
