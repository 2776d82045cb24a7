// Package workers sizes bounded worker pools for the asset pipeline.
package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Count returns the worker count for a pool, respecting container CPU
// limits via GOMAXPROCS (Go 1.19+).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks (decode/encode)
//   - 2.0 for I/O-bound tasks (metadata reconciliation)
//
// The limit parameter caps the worker count; use 0 for no limit. The
// envOverride variable, when set to a positive integer, wins over the
// computed value (still subject to limit).
func Count(envOverride string, multiplier float64, limit int) int {
	if envOverride != "" {
		if override := os.Getenv(envOverride); override != "" {
			if count, err := strconv.Atoi(override); err == nil && count > 0 {
				if limit > 0 && count > limit {
					return limit
				}
				return count
			}
		}
	}

	available := runtime.GOMAXPROCS(0)

	count := int(float64(available) * multiplier)

	if count < 1 {
		count = 1
	}
	if limit > 0 && count > limit {
		count = limit
	}

	return count
}

// ForThumbnails returns the thumbnail pool size. The pipeline deliberately
// stays small (default 2 slots) so decode/encode work cannot saturate the
// host regardless of library size. THUMBNAIL_WORKERS overrides.
func ForThumbnails() int {
	return Count("THUMBNAIL_WORKERS", 1.0, 2)
}

// ForReconciliation returns the metadata reconciliation fan-out width.
// Reconciliation is I/O-bound (it waits on an external process) so it gets
// two workers per CPU, capped at 4. RECONCILE_WORKERS overrides.
func ForReconciliation() int {
	return Count("RECONCILE_WORKERS", 2.0, 4)
}
