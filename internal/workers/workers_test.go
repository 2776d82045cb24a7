package workers

import (
	"runtime"
	"testing"
)

func TestCountEnvOverride(t *testing.T) {
	t.Setenv("TEST_WORKERS", "7")

	if got := Count("TEST_WORKERS", 1.0, 0); got != 7 {
		t.Errorf("Count with override = %d, want 7", got)
	}
	if got := Count("TEST_WORKERS", 1.0, 4); got != 4 {
		t.Errorf("Count with override and limit = %d, want 4", got)
	}
}

func TestCountIgnoresInvalidOverride(t *testing.T) {
	want := Count("", 1.0, 0)

	for _, bad := range []string{"0", "-3", "lots", ""} {
		t.Setenv("TEST_WORKERS", bad)
		if got := Count("TEST_WORKERS", 1.0, 0); got != want {
			t.Errorf("Count with override %q = %d, want computed %d", bad, got, want)
		}
	}
}

func TestCountMultiplierAndLimit(t *testing.T) {
	procs := runtime.GOMAXPROCS(0)

	if got := Count("", 1.0, 0); got != procs {
		t.Errorf("Count(1.0) = %d, want %d", got, procs)
	}
	if got := Count("", 2.0, 0); got != procs*2 {
		t.Errorf("Count(2.0) = %d, want %d", got, procs*2)
	}
	if got := Count("", 1.0, 1); got != 1 {
		t.Errorf("Count with limit 1 = %d, want 1", got)
	}
	// Tiny multipliers still yield at least one worker.
	if got := Count("", 0.001, 0); got != 1 {
		t.Errorf("Count(0.001) = %d, want 1", got)
	}
}

func TestPoolSizesRespectCaps(t *testing.T) {
	if got := ForThumbnails(); got < 1 || got > 2 {
		t.Errorf("ForThumbnails() = %d, want 1..2", got)
	}
	if got := ForReconciliation(); got < 1 || got > 4 {
		t.Errorf("ForReconciliation() = %d, want 1..4", got)
	}
}
