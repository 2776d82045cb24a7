// Package transcode maintains the on-demand cache of decodable copies of
// source formats the primary image library cannot reliably decode inline
// (today: HEIC/HEIF, re-encoded as rotation-corrected quality-92 JPEG).
// Entries are content-addressed by a hash of the source path, concurrent
// requests for the same target share one conversion, and the slow
// compatibility fallback runs in an isolated worker.
package transcode

import (
	"context"
	"crypto/md5" //nolint:gosec // cache key derivation, not security
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"photo-rater/internal/filesystem"
	"photo-rater/internal/logging"
	"photo-rater/internal/mediatypes"
	"photo-rater/internal/metrics"
)

// converter abstracts the fallback worker for tests.
type converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// Cache converts unsupported source formats into cache-resident,
// widely-decodable copies.
type Cache struct {
	cacheDir string
	caps     *Capabilities
	rule     mediatypes.TranscodeRule

	group    singleflight.Group
	primary  func(src, dst string, quality int) error
	fallback converter
}

// NewCache creates the transcode cache rooted at cacheDir. The directory
// is created if missing. caps is the shared process capability registry.
func NewCache(cacheDir string, caps *Capabilities) (*Cache, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcode cache dir: %w", err)
	}
	return &Cache{
		cacheDir: cacheDir,
		caps:     caps,
		rule:     mediatypes.HEIFRule,
		primary: func(src, dst string, quality int) error {
			return VipsEncodeJPEG(src, dst, 0, quality)
		},
		fallback: NewWorker(),
	}, nil
}

// CachePath returns the deterministic cache target for src: a hash of the
// source path (not its content) plus the rule's target extension. Two
// distinct source paths never collide regardless of content.
func (c *Cache) CachePath(src string) string {
	hash := md5.Sum([]byte(src)) //nolint:gosec // cache key derivation, not security
	return filepath.Join(c.cacheDir, fmt.Sprintf("%x%s", hash, c.rule.TargetExt))
}

// Ensure returns the path of a fresh decodable copy of src, converting if
// the cached entry is missing or older than sourceMod. Concurrent calls
// for the same target share a single conversion; callers arriving after
// one starts await it instead of duplicating work.
func (c *Cache) Ensure(ctx context.Context, src string, sourceMod time.Time) (string, error) {
	dst := c.CachePath(src)

	if filesystem.Fresh(dst, sourceMod) {
		metrics.TranscodeCacheHits.Inc()
		return dst, nil
	}

	// The flight is shared by every deduplicated caller, so it must not
	// die with whichever caller happened to initiate it.
	flightCtx := context.WithoutCancel(ctx)
	_, err, _ := c.group.Do(dst, func() (interface{}, error) {
		return nil, c.convert(flightCtx, src, dst)
	})
	if err != nil {
		// A racing caller's attempt may have landed a usable entry after
		// this one was deduplicated onto the failure; check once more.
		if filesystem.Fresh(dst, sourceMod) {
			return dst, nil
		}
		return "", err
	}

	return dst, nil
}

// convert runs the primary decoder unless it is already known to lack the
// capability, then the isolated fallback. On failure any partial output is
// removed so a half-written entry can never look fresh.
func (c *Cache) convert(ctx context.Context, src, dst string) error {
	start := time.Now()

	if c.caps.CanDecodeHEIF() {
		err := c.primary(src, dst, c.rule.Quality)
		if err == nil {
			metrics.TranscodeTotal.WithLabelValues("primary", "success").Inc()
			metrics.TranscodeDuration.WithLabelValues("primary").Observe(time.Since(start).Seconds())
			return nil
		}

		removePartial(dst)

		if !IsDecodeCapabilityError(err) {
			metrics.TranscodeTotal.WithLabelValues("primary", "error").Inc()
			return fmt.Errorf("transcode of %s failed: %w", src, err)
		}

		// Capability failures are remembered for the session; everything
		// in this format family goes straight to the fallback from here.
		c.caps.MarkHEIFDecodeUnavailable()
		logging.Warn("primary decoder lacks HEIF support, using fallback for the rest of the session: %v", err)
	}

	if err := c.fallback.Convert(ctx, src, dst); err != nil {
		removePartial(dst)
		metrics.TranscodeTotal.WithLabelValues("fallback", "error").Inc()
		return fmt.Errorf("fallback transcode of %s failed: %w", src, err)
	}

	metrics.TranscodeTotal.WithLabelValues("fallback", "success").Inc()
	metrics.TranscodeDuration.WithLabelValues("fallback").Observe(time.Since(start).Seconds())
	return nil
}

// Stop shuts down the fallback worker.
func (c *Cache) Stop() {
	if w, ok := c.fallback.(*Worker); ok {
		w.Stop()
	}
}

// ClearCache removes all cached conversions and returns the bytes freed.
func (c *Cache) ClearCache() (int64, error) {
	var freedBytes int64

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read transcode cache directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(c.cacheDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logging.Warn("failed to get info for %s: %v", path, err)
			continue
		}
		if err := os.Remove(path); err != nil {
			logging.Warn("failed to remove %s: %v", path, err)
			continue
		}
		freedBytes += info.Size()
	}

	logging.Info("Cleared transcode cache: freed %d bytes", freedBytes)
	return freedBytes, nil
}

// removePartial best-effort deletes a possibly half-written output file.
func removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove partial transcode output %s: %v", path, err)
	}
}
