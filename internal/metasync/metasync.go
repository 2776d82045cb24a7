// Package metasync bridges star ratings between the durable store and the
// photo files' own embedded metadata via an out-of-process exiftool. Every
// call is bounded by a timeout with a small number of retries; persistent
// non-timeout failure trips a one-way circuit breaker that disables the
// feature for the rest of the process.
package metasync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"photo-rater/internal/filesystem"
	"photo-rater/internal/logging"
	"photo-rater/internal/metrics"
)

// Config holds the metadata sync tuning knobs.
type Config struct {
	// Timeout bounds each exiftool invocation. Default 45s.
	Timeout time.Duration
	// Retries is the number of automatic retries for transient failures.
	// Default 2.
	Retries int
	// FailureTolerance is the number of consecutive non-timeout failures
	// tolerated before the circuit breaker trips. Default 3.
	FailureTolerance int
	// SlowStatThreshold is the directory stat latency above which writes
	// to that directory are skipped for the session. Default 2s.
	SlowStatThreshold time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	if c.FailureTolerance <= 0 {
		c.FailureTolerance = 3
	}
	if c.SlowStatThreshold <= 0 {
		c.SlowStatThreshold = 2 * time.Second
	}
}

// runner abstracts the exiftool invocation so tests can substitute a fake.
type runner interface {
	run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	toolPath string
}

func (r *execRunner) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.toolPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("exiftool: %w - %s", err, stderr.String())
		}
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return stdout.Bytes(), nil
}

// Sync reads and writes star ratings in file metadata.
type Sync struct {
	cfg    Config
	runner runner
	probe  func(dir string) time.Duration

	mu       sync.Mutex
	disabled bool
	failures int
	slowDirs map[string]bool
}

// New creates a Sync backed by the exiftool binary on PATH. A missing
// binary is a permanent initialization failure: the breaker starts tripped
// and all operations become no-ops.
func New(cfg Config) *Sync {
	cfg.applyDefaults()

	toolPath, err := exec.LookPath("exiftool")
	if err != nil {
		logging.Warn("exiftool not found, metadata sync disabled: %v", err)
		metrics.MetadataSyncDisabled.Set(1)
		return &Sync{
			cfg:      cfg,
			disabled: true,
			slowDirs: make(map[string]bool),
			probe:    filesystem.DirStatLatency,
		}
	}

	logging.Info("Metadata sync enabled (exiftool: %s)", toolPath)
	return &Sync{
		cfg:      cfg,
		runner:   &execRunner{toolPath: toolPath},
		probe:    filesystem.DirStatLatency,
		slowDirs: make(map[string]bool),
	}
}

// newSync wires an explicit runner and latency probe; tests use it.
func newSync(cfg Config, r runner, probe func(string) time.Duration) *Sync {
	cfg.applyDefaults()
	if probe == nil {
		probe = filesystem.DirStatLatency
	}
	return &Sync{
		cfg:      cfg,
		runner:   r,
		probe:    probe,
		slowDirs: make(map[string]bool),
	}
}

// Enabled reports whether metadata sync is still operational.
func (s *Sync) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

// ReadRating reads the star rating embedded in path's metadata. A nil
// result means no rating is known: the field is absent, unparseable, or
// sync is disabled. Read errors are logged and reported as "no rating".
func (s *Sync) ReadRating(ctx context.Context, path string) (*int, error) {
	if !s.Enabled() {
		return nil, nil
	}

	out, err := s.call(ctx, "read", "-j", "-n", "-Rating", "-RatingPercent", path)
	if err != nil {
		logging.Warn("metadata read failed for %s: %v", path, err)
		return nil, nil
	}

	return parseRating(out), nil
}

// WriteRating mirrors rating into path's metadata, also setting the
// percentage field (rating x 20) for field compatibility. The file is
// mutated in place without a backup copy. Writes to directories the
// slow-volume guard has flagged are skipped. Errors are returned to the
// caller in addition to updating breaker state.
func (s *Sync) WriteRating(ctx context.Context, path string, rating int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("rating %d out of range [0,5]", rating)
	}
	if !s.Enabled() {
		return nil
	}
	if s.directoryTooSlow(filepath.Dir(path)) {
		logging.Debug("skipping metadata write for %s: directory flagged slow", path)
		return nil
	}

	_, err := s.call(ctx, "write",
		fmt.Sprintf("-Rating=%d", rating),
		fmt.Sprintf("-RatingPercent=%d", rating*20),
		"-overwrite_original",
		path,
	)
	return err
}

// directoryTooSlow measures stat latency for dir on first encounter and
// caches the verdict for the session (first probe wins).
func (s *Sync) directoryTooSlow(dir string) bool {
	s.mu.Lock()
	if slow, seen := s.slowDirs[dir]; seen {
		s.mu.Unlock()
		return slow
	}
	s.mu.Unlock()

	latency := s.probe(dir)
	slow := latency > s.cfg.SlowStatThreshold

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.slowDirs[dir]; !seen {
		s.slowDirs[dir] = slow
		if slow {
			logging.Warn("directory %s stat took %v, metadata writes there disabled for this session", dir, latency)
			metrics.MetadataSlowDirectories.Inc()
		}
	}
	return s.slowDirs[dir]
}

// call runs one exiftool operation with the configured timeout and retry
// policy. Timeouts and killed-process conditions are transient: they are
// retried and never trip the breaker. Any other failure counts toward the
// breaker tolerance and is returned immediately.
func (s *Sync) call(ctx context.Context, op string, args ...string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		out, err := s.runner.run(callCtx, args...)
		cancel()
		metrics.MetadataCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.MetadataCallsTotal.WithLabelValues(op, "success").Inc()
			s.noteSuccess()
			return out, nil
		}

		if isTransient(err) {
			metrics.MetadataCallsTotal.WithLabelValues(op, "timeout").Inc()
			logging.Debug("transient metadata %s failure (attempt %d/%d): %v",
				op, attempt+1, s.cfg.Retries+1, err)
			lastErr = err
			continue
		}

		metrics.MetadataCallsTotal.WithLabelValues(op, "error").Inc()
		s.noteFailure(err)
		return nil, err
	}

	// Retries exhausted on transient errors only; the breaker is not
	// touched for these.
	return nil, lastErr
}

func (s *Sync) noteSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// noteFailure counts a non-transient failure and trips the one-way breaker
// once the tolerance is exceeded. There is no automatic re-enable.
func (s *Sync) noteFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return
	}

	s.failures++
	if s.failures >= s.cfg.FailureTolerance {
		s.disabled = true
		metrics.MetadataSyncDisabled.Set(1)
		logging.Error("metadata sync disabled for the rest of the session after %d consecutive failures, last: %v",
			s.failures, err)
	}
}

// isTransient reports whether err is a timeout or a process that was
// terminated before completing, both of which are retried and never trip
// the breaker.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A signaled (killed) process never exited normally; treat it
		// like a timeout.
		if exitErr.ProcessState != nil && !exitErr.ProcessState.Exited() {
			return true
		}
	}

	return false
}

// parseRating extracts and normalizes a star rating from exiftool JSON
// output. Ratings may be stored 0-5 (Rating) or as a 0-100 percentage
// (RatingPercent); any finite value above 5 is divided by 20, clamped to
// [0,5] and rounded. Absent or unparseable values yield nil.
func parseRating(out []byte) *int {
	var records []struct {
		Rating        *float64 `json:"Rating"`
		RatingPercent *float64 `json:"RatingPercent"`
	}
	if err := json.Unmarshal(out, &records); err != nil || len(records) == 0 {
		return nil
	}

	if r := normalizeRating(records[0].Rating); r != nil {
		return r
	}
	return normalizeRating(records[0].RatingPercent)
}

func normalizeRating(v *float64) *int {
	if v == nil {
		return nil
	}
	val := *v
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return nil
	}
	if val > 5 {
		val /= 20
	}
	if val < 0 {
		val = 0
	}
	if val > 5 {
		val = 5
	}
	r := int(math.Round(val))
	return &r
}
