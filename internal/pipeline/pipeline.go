// Package pipeline maintains the two cache-resident preview renditions
// per photo (base and high-density) behind a FIFO job queue serviced by a
// small fixed pool. Jobs are deduplicated by their base cache path and
// regenerate only renditions that are stale relative to the source file.
package pipeline

import (
	"context"
	"crypto/md5" //nolint:gosec // cache key derivation, not security
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"photo-rater/internal/filesystem"
	"photo-rater/internal/logging"
	"photo-rater/internal/mediatypes"
	"photo-rater/internal/metrics"
	"photo-rater/internal/transcode"
	"photo-rater/internal/workers"
)

// Rendition widths for the streaming grid. Retina is double density for
// high-DPI displays. Sources narrower than the target are never upscaled.
const (
	BaseWidth   = 320
	RetinaWidth = 640

	jpegQuality = 80
)

// Notifier receives completion events. The UI transport implements it;
// tests substitute a recorder.
type Notifier interface {
	ThumbnailsReady(id, baseURL, retinaURL string)
}

// Throttle gates job starts. The memory monitor implements it.
type Throttle interface {
	WaitIfPaused() bool
}

// Job is one queued thumbnail generation request. Transient: it exists
// only while queued or running, keyed for dedup by BaseCachePath.
type Job struct {
	PhotoID          string
	SourcePath       string
	BaseCachePath    string
	RetinaCachePath  string
	SourceModifiedAt time.Time
}

// Pipeline owns the thumbnail cache directory and the job queue.
type Pipeline struct {
	cacheDir    string
	concurrency int
	transcodes  *transcode.Cache
	caps        *transcode.Capabilities
	notifier    Notifier

	// render produces dst from src at the given width; swapped in tests.
	render func(ctx context.Context, src, dst string, width int) error

	throttle Throttle

	// test instrumentation hooks, called on the worker goroutine
	onJobStart func(Job)
	onJobDone  func(Job)

	mu      sync.Mutex
	queue   []Job
	pending map[string]bool
	running int
	wg      sync.WaitGroup
}

// New creates the pipeline with its cache directory. concurrency <= 0
// selects the default bounded pool size.
func New(cacheDir string, concurrency int, transcodes *transcode.Cache, caps *transcode.Capabilities, notifier Notifier) (*Pipeline, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail cache dir: %w", err)
	}
	if concurrency <= 0 {
		concurrency = workers.ForThumbnails()
	}

	logging.Info("Thumbnail pipeline ready: cache %s, %d worker slot(s)", cacheDir, concurrency)
	return &Pipeline{
		cacheDir:    cacheDir,
		concurrency: concurrency,
		transcodes:  transcodes,
		caps:        caps,
		notifier:    notifier,
		render:      renderJPEG,
		pending:     make(map[string]bool),
	}, nil
}

// CachePaths returns the base and retina cache targets for a source path,
// content-addressed by a hash of the path plus the target width.
func (p *Pipeline) CachePaths(sourcePath string) (base, retina string) {
	hash := md5.Sum([]byte(sourcePath)) //nolint:gosec // cache key derivation, not security
	base = filepath.Join(p.cacheDir, fmt.Sprintf("%x_%d.jpg", hash, BaseWidth))
	retina = filepath.Join(p.cacheDir, fmt.Sprintf("%x_%d.jpg", hash, RetinaWidth))
	return base, retina
}

// URLFor maps a cache path to the URL it is served under.
func (p *Pipeline) URLFor(cachePath string) string {
	if cachePath == "" {
		return ""
	}
	return "/thumbs/" + filepath.Base(cachePath)
}

// Fresh reports per-rendition freshness for a source modified at
// modifiedAt.
func (p *Pipeline) Fresh(sourcePath string, modifiedAt time.Time) (baseFresh, retinaFresh bool) {
	base, retina := p.CachePaths(sourcePath)
	return filesystem.Fresh(base, modifiedAt), filesystem.Fresh(retina, modifiedAt)
}

// ScheduleIfStale enqueues a job when at least one rendition is stale.
// Scheduling a base path that is already queued or running is a no-op.
// Returns whether a job was enqueued.
func (p *Pipeline) ScheduleIfStale(id, sourcePath string, modifiedAt time.Time) bool {
	base, retina := p.CachePaths(sourcePath)

	if filesystem.Fresh(base, modifiedAt) && filesystem.Fresh(retina, modifiedAt) {
		metrics.ThumbnailScheduleTotal.WithLabelValues("fresh").Inc()
		return false
	}

	job := Job{
		PhotoID:          id,
		SourcePath:       sourcePath,
		BaseCachePath:    base,
		RetinaCachePath:  retina,
		SourceModifiedAt: modifiedAt,
	}

	p.mu.Lock()
	if p.pending[base] {
		p.mu.Unlock()
		metrics.ThumbnailScheduleTotal.WithLabelValues("duplicate").Inc()
		return false
	}
	p.pending[base] = true
	p.queue = append(p.queue, job)
	metrics.ThumbnailQueueDepth.Set(float64(len(p.queue)))
	p.mu.Unlock()

	metrics.ThumbnailScheduleTotal.WithLabelValues("enqueued").Inc()
	p.dispatch()
	return true
}

// dispatch pops queued jobs into free pool slots. Called after every
// enqueue and every completion so a freed slot always pulls the next job.
func (p *Pipeline) dispatch() {
	for {
		p.mu.Lock()
		if p.running >= p.concurrency || len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.running++
		metrics.ThumbnailQueueDepth.Set(float64(len(p.queue)))
		metrics.ThumbnailJobsInFlight.Set(float64(p.running))
		p.wg.Add(1)
		p.mu.Unlock()

		go p.runJob(job)
	}
}

// SetThrottle installs a backpressure gate checked before each job.
func (p *Pipeline) SetThrottle(t Throttle) {
	p.throttle = t
}

func (p *Pipeline) runJob(job Job) {
	defer p.wg.Done()

	if p.throttle != nil {
		p.throttle.WaitIfPaused()
	}

	if p.onJobStart != nil {
		p.onJobStart(job)
	}

	start := time.Now()
	err := p.process(job)
	metrics.ThumbnailJobDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ThumbnailJobsTotal.WithLabelValues("error").Inc()
		logging.Error("thumbnail job for %s failed: %v", job.SourcePath, err)
	} else {
		metrics.ThumbnailJobsTotal.WithLabelValues("success").Inc()
	}

	if p.onJobDone != nil {
		p.onJobDone(job)
	}

	// Completion always frees the slot and pulls the next job, success or
	// not; a stuck job can never starve the queue beyond its own slot.
	p.mu.Lock()
	p.running--
	delete(p.pending, job.BaseCachePath)
	metrics.ThumbnailJobsInFlight.Set(float64(p.running))
	p.mu.Unlock()

	p.dispatch()
}

type rendition struct {
	path  string
	width int
}

// process regenerates each stale rendition, routing HEIF-family sources
// through the transcode cache when the primary decoder cannot handle them,
// then re-verifies freshness and notifies listeners. A job that produced
// zero fresh renditions returns an error and emits no event; it is not
// retried here, the next scan that sees the stale file re-enqueues it.
func (p *Pipeline) process(job Job) error {
	ctx := context.Background()

	src := job.SourcePath
	if mediatypes.NeedsTranscode(src) && p.transcodes != nil && p.caps != nil && !p.caps.CanDecodeHEIF() {
		converted, err := p.transcodes.Ensure(ctx, src, job.SourceModifiedAt)
		if err != nil {
			return err
		}
		src = converted
	}

	var firstErr error
	for _, r := range []rendition{
		{job.BaseCachePath, BaseWidth},
		{job.RetinaCachePath, RetinaWidth},
	} {
		if filesystem.Fresh(r.path, job.SourceModifiedAt) {
			continue
		}

		err := p.render(ctx, src, r.path, r.width)
		if err != nil && src == job.SourcePath && mediatypes.NeedsTranscode(src) && p.transcodes != nil && transcode.IsDecodeCapabilityError(err) {
			// The probe lied or this was the first HEIF encountered:
			// remember, ensure a transcoded asset, and retry once.
			if p.caps != nil {
				p.caps.MarkHEIFDecodeUnavailable()
			}
			converted, terr := p.transcodes.Ensure(ctx, job.SourcePath, job.SourceModifiedAt)
			if terr != nil {
				err = terr
			} else {
				src = converted
				err = p.render(ctx, src, r.path, r.width)
			}
		}

		if err != nil {
			if rmErr := os.Remove(r.path); rmErr != nil && !os.IsNotExist(rmErr) {
				logging.Warn("failed to remove partial rendition %s: %v", r.path, rmErr)
			}
			if firstErr == nil {
				firstErr = err
			}
			logging.Warn("failed to render %dpx rendition for %s: %v", r.width, job.SourcePath, err)
		}
	}

	// Re-verify: a racing identical job may have produced a result even
	// if this one failed.
	baseFresh := filesystem.Fresh(job.BaseCachePath, job.SourceModifiedAt)
	retinaFresh := filesystem.Fresh(job.RetinaCachePath, job.SourceModifiedAt)

	if !baseFresh && !retinaFresh {
		if firstErr != nil {
			return firstErr
		}
		return fmt.Errorf("no fresh renditions produced for %s", job.SourcePath)
	}

	if p.notifier != nil {
		baseURL, retinaURL := "", ""
		if baseFresh {
			baseURL = p.URLFor(job.BaseCachePath)
		}
		if retinaFresh {
			retinaURL = p.URLFor(job.RetinaCachePath)
		}
		p.notifier.ThumbnailsReady(job.PhotoID, baseURL, retinaURL)
	}

	return nil
}

// Drain waits for all in-flight jobs to finish. Queued jobs that have not
// started are left behind; there is no cancellation of a started job.
func (p *Pipeline) Drain() {
	p.wg.Wait()
}

// ClearCache removes every cached rendition and returns the bytes freed.
func (p *Pipeline) ClearCache() (int64, error) {
	var freedBytes int64

	entries, err := os.ReadDir(p.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read thumbnail cache directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(p.cacheDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			logging.Warn("failed to remove %s: %v", path, err)
			continue
		}
		freedBytes += info.Size()
	}

	logging.Info("Cleared thumbnail cache: freed %d bytes", freedBytes)
	return freedBytes, nil
}
