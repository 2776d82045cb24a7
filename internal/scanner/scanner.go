// Package scanner discovers photos on disk and joins them with the rating
// store, the thumbnail pipeline, and metadata reconciliation. It also
// hosts the library facade the transport layer calls into.
package scanner

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"photo-rater/internal/filesystem"
	"photo-rater/internal/logging"
	"photo-rater/internal/mediatypes"
	"photo-rater/internal/metrics"
	"photo-rater/internal/pipeline"
	"photo-rater/internal/ratings"
	"photo-rater/internal/workers"
)

// PhotoRecord describes one discovered photo. Its identity is the
// absolute source path; renaming a file changes its id. Thumbnail URLs
// are filled in only when the corresponding rendition is already fresh;
// the pipeline pushes them later otherwise.
type PhotoRecord struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"displayName"`
	SourcePath         string `json:"sourcePath"`
	SourceURL          string `json:"sourceUrl"`
	ThumbnailURL       string `json:"thumbnailUrl,omitempty"`
	ThumbnailRetinaURL string `json:"thumbnailRetinaUrl,omitempty"`
	ByteSize           int64  `json:"byteSize"`
	ModifiedAt         int64  `json:"modifiedAt"`
}

// Result is a completed scan: the discovered photos plus every
// immediately-known rating.
type Result struct {
	Photos  []*PhotoRecord `json:"photos"`
	Ratings map[string]int `json:"ratings"`
}

// MetadataSyncer is the slice of the metadata bridge the scanner needs.
type MetadataSyncer interface {
	ReadRating(ctx context.Context, path string) (*int, error)
	WriteRating(ctx context.Context, path string, rating int) error
	Enabled() bool
}

// Notifier receives rating refresh events from asynchronous
// reconciliation.
type Notifier interface {
	RatingsRefreshed(ratings map[string]int)
}

// Scanner enumerates an image directory tree.
type Scanner struct {
	pipeline *pipeline.Pipeline
	store    *ratings.Store
	meta     MetadataSyncer
	notifier Notifier
}

// NewScanner wires the scanner to its collaborators. meta and notifier
// may be nil (reconciliation is then skipped or silent).
func NewScanner(p *pipeline.Pipeline, store *ratings.Store, meta MetadataSyncer, notifier Notifier) *Scanner {
	return &Scanner{
		pipeline: p,
		store:    store,
		meta:     meta,
		notifier: notifier,
	}
}

type reconcileItem struct {
	id         string
	modifiedAt int64
}

// Scan walks root depth-first with an explicit stack, skipping hidden
// entries and their subtrees, and returns a record per supported image
// plus the cached ratings. Unreadable directories and unstat-able files
// are skipped silently. Stale thumbnails are scheduled as a side effect;
// photos whose cached rating has not been verified against the current
// file modification time are queued for asynchronous reconciliation.
// Return ordering is unspecified; callers sort.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	var err error
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ScanTotal.WithLabelValues(status).Inc()
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	root, err = filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	cached, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Ratings: make(map[string]int),
	}
	var reconcile []reconcileItem

	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, readErr := os.ReadDir(dir)
		if readErr != nil {
			// Permissions and the like: skip the directory, keep
			// scanning.
			logging.Debug("skipping unreadable directory %s: %v", dir, readErr)
			metrics.ScanSkippedEntries.WithLabelValues("unreadable_dir").Inc()
			continue
		}

		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				metrics.ScanSkippedEntries.WithLabelValues("hidden").Inc()
				continue
			}

			full := filepath.Join(dir, name)

			if entry.IsDir() {
				stack = append(stack, full)
				continue
			}

			if !mediatypes.IsImage(name) {
				continue
			}

			info, statErr := filesystem.StatWithRetry(full, filesystem.DefaultRetryConfig())
			if statErr != nil {
				logging.Debug("skipping unstat-able file %s: %v", full, statErr)
				metrics.ScanSkippedEntries.WithLabelValues("stat_failed").Inc()
				continue
			}

			record := s.buildRecord(full, name, info)
			if s.pipeline != nil {
				s.pipeline.ScheduleIfStale(record.ID, full, info.ModTime())
			}
			result.Photos = append(result.Photos, record)

			if entry, ok := cached[record.ID]; ok {
				result.Ratings[record.ID] = entry.Rating
				if entry.SourceModifiedAt == nil || *entry.SourceModifiedAt != record.ModifiedAt {
					reconcile = append(reconcile, reconcileItem{id: record.ID, modifiedAt: record.ModifiedAt})
				}
			}
		}
	}

	metrics.ScanPhotosFound.Observe(float64(len(result.Photos)))
	logging.Info("Scan of %s found %d photos (%d ratings, %d to reconcile) in %v",
		root, len(result.Photos), len(result.Ratings), len(reconcile), time.Since(start))

	// Reconciliation runs after the response is returned; it never blocks
	// the scan.
	if len(reconcile) > 0 && s.meta != nil && s.meta.Enabled() {
		go s.reconcileRatings(reconcile)
	}

	return result, nil
}

func (s *Scanner) buildRecord(path, name string, info os.FileInfo) *PhotoRecord {
	record := &PhotoRecord{
		ID:          path,
		DisplayName: name,
		SourcePath:  path,
		SourceURL:   "/api/file?id=" + url.QueryEscape(path),
		ByteSize:    info.Size(),
		ModifiedAt:  info.ModTime().UnixMilli(),
	}

	if s.pipeline == nil {
		return record
	}

	baseFresh, retinaFresh := s.pipeline.Fresh(path, info.ModTime())
	base, retina := s.pipeline.CachePaths(path)
	if baseFresh {
		record.ThumbnailURL = s.pipeline.URLFor(base)
	}
	if retinaFresh {
		record.ThumbnailRetinaURL = s.pipeline.URLFor(retina)
	}

	return record
}

// reconcileRatings re-reads embedded metadata for photos whose cached
// rating may disagree with the file, updates the store, and pushes one
// ratingsRefreshed event for everything that changed. Each item re-checks
// the store entry before acting so a racing rating update wins.
func (s *Scanner) reconcileRatings(items []reconcileItem) {
	ctx := context.Background()

	var mu sync.Mutex
	changed := make(map[string]int)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers.ForReconciliation())

	for _, item := range items {
		g.Go(func() error {
			entry, ok, err := s.store.Get(gctx, item.id)
			if err != nil {
				logging.Warn("reconcile: store read for %s failed: %v", item.id, err)
				return nil
			}
			// Another writer may have verified this entry already.
			if ok && entry.SourceModifiedAt != nil && *entry.SourceModifiedAt == item.modifiedAt {
				return nil
			}

			found, err := s.meta.ReadRating(gctx, item.id)
			if err != nil {
				return nil
			}

			modifiedAt := item.modifiedAt
			switch {
			case found != nil && *found == 0:
				// File says unrated; drop the stale cached entry.
				if err := s.store.Delete(gctx, item.id); err != nil {
					logging.Warn("reconcile: delete for %s failed: %v", item.id, err)
					return nil
				}
				if ok && entry.Rating != 0 {
					mu.Lock()
					changed[item.id] = 0
					mu.Unlock()
				}
			case found != nil:
				if err := s.store.Upsert(gctx, item.id, *found, &modifiedAt); err != nil {
					logging.Warn("reconcile: upsert for %s failed: %v", item.id, err)
					return nil
				}
				if !ok || entry.Rating != *found {
					mu.Lock()
					changed[item.id] = *found
					mu.Unlock()
				}
			case ok:
				// No rating embedded; keep the cached one but mark it
				// verified against the current file.
				if err := s.store.Upsert(gctx, item.id, entry.Rating, &modifiedAt); err != nil {
					logging.Warn("reconcile: upsert for %s failed: %v", item.id, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logging.Warn("reconcile: %v", err)
	}

	if len(changed) > 0 && s.notifier != nil {
		s.notifier.RatingsRefreshed(changed)
	}
}
