package spec

import "testing"

func TestWithDefaultsFillsUnsetLimits(t *testing.T) {
	got := ResourceLimit{WallTimeMs: 100}.WithDefaults()
	if got.WallTimeMs != 100 {
		t.Fatalf("explicit wall time overwritten: %d", got.WallTimeMs)
	}
	if got.MemoryBytes != 64<<20 || got.OutputBytes != 1<<20 || got.PIDs != DefaultPIDs {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestScale(t *testing.T) {
	base := DefaultLimits()
	got := base.Scale(2, 1.5)
	if got.WallTimeMs != 10000 {
		t.Fatalf("expected 10000ms, got %d", got.WallTimeMs)
	}
	if got.MemoryBytes != 96<<20 {
		t.Fatalf("expected 96MiB, got %d", got.MemoryBytes)
	}
	if got.OutputBytes != base.OutputBytes {
		t.Fatalf("output limit must not scale")
	}
	if same := base.Scale(0, -1); same != base {
		t.Fatalf("non-positive factors should be ignored")
	}
}
