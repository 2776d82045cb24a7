// Package filesystem provides shared filesystem helpers: the cache
// freshness check used by every cache-resident asset, stat retry logic for
// NFS-backed libraries, and the latency probe behind the slow-volume guard.
package filesystem

import (
	"errors"
	"os"
	"syscall"
	"time"

	"photo-rater/internal/logging"
	"photo-rater/internal/metrics"
)

// Fresh reports whether the cached artifact at path is usable for a source
// last modified at sourceMod: it must exist, be non-empty, and have a
// modification time at or after the source's. This conservative mtime
// comparison is the sole staleness signal; a cached asset is never served
// when it is older than its source.
func Fresh(path string, sourceMod time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() == 0 {
		return false
	}
	return !info.ModTime().Before(sourceMod)
}

// DirStatLatency measures how long a trivial stat of dir takes. Used to
// detect slow network shares before committing to metadata writes there.
func DirStatLatency(dir string) time.Duration {
	start := time.Now()
	_, _ = os.Stat(dir)
	return time.Since(start)
}

// RetryConfig configures retry behavior for filesystem operations.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns sensible defaults for NFS retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// isStaleHandleError checks for ESTALE, which NFS servers return when a
// file handle outlives the exported object.
func isStaleHandleError(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESTALE
	}
	return false
}

// StatWithRetry performs os.Stat, retrying stale file handle errors with
// exponential backoff. Any other error is returned immediately.
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		info, err := os.Stat(path)
		if err == nil {
			if attempt > 0 {
				logging.Info("Stat succeeded on retry %d for %s", attempt, path)
			}
			return info, nil
		}

		lastErr = err

		if !isStaleHandleError(err) {
			return nil, err
		}

		metrics.FilesystemStaleErrors.WithLabelValues("stat").Inc()

		if attempt < config.MaxRetries {
			metrics.FilesystemRetryAttempts.WithLabelValues("stat").Inc()
			logging.Debug("Stat stale file handle for %s, retrying in %v (attempt %d/%d)",
				path, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("Stat failed after %d retries for %s: %v", config.MaxRetries, path, lastErr)
	return nil, lastErr
}
