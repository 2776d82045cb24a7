package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"photo-rater/internal/logging"
	"photo-rater/internal/mediatypes"
	"photo-rater/internal/pipeline"
	"photo-rater/internal/ratings"
	"photo-rater/internal/transcode"
)

// Library is the facade the transport layer calls into: one photo
// directory joined with the rating store, metadata sync, and both caches.
type Library struct {
	root       string
	scanner    *Scanner
	store      *ratings.Store
	meta       MetadataSyncer
	pipeline   *pipeline.Pipeline
	transcodes *transcode.Cache
}

// NewLibrary builds the facade for the photo directory at root.
func NewLibrary(root string, s *Scanner, store *ratings.Store, meta MetadataSyncer, p *pipeline.Pipeline, tc *transcode.Cache) *Library {
	return &Library{
		root:       root,
		scanner:    s,
		store:      store,
		meta:       meta,
		pipeline:   p,
		transcodes: tc,
	}
}

// Root returns the library directory.
func (l *Library) Root() string {
	return l.root
}

// Scan enumerates the library directory.
func (l *Library) Scan(ctx context.Context) (*Result, error) {
	return l.scanner.Scan(ctx, l.root)
}

// UpdateRating sets the star rating for a photo. Rating 0 clears: the
// durable entry is deleted. The metadata mirror is written behind the
// response so the caller never waits on the external tool.
func (l *Library) UpdateRating(ctx context.Context, id string, rating int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("rating %d out of range [0,5]", rating)
	}
	if err := l.ensureInLibrary(id); err != nil {
		return err
	}

	info, err := os.Stat(id)
	if err != nil {
		return fmt.Errorf("photo not found: %w", err)
	}

	if rating == 0 {
		if err := l.store.Delete(ctx, id); err != nil {
			return err
		}
	} else {
		modifiedAt := info.ModTime().UnixMilli()
		if err := l.store.Upsert(ctx, id, rating, &modifiedAt); err != nil {
			return err
		}
	}

	// Write-behind metadata mirror. A successful write changes the file's
	// mtime, so the entry is re-stamped afterwards to stay verified.
	if l.meta != nil && l.meta.Enabled() {
		go l.mirrorRating(id, rating)
	}

	return nil
}

func (l *Library) mirrorRating(id string, rating int) {
	ctx := context.Background()

	if err := l.meta.WriteRating(ctx, id, rating); err != nil {
		logging.Warn("metadata write for %s failed: %v", id, err)
		return
	}

	if rating == 0 {
		return
	}

	info, err := os.Stat(id)
	if err != nil {
		return
	}
	modifiedAt := info.ModTime().UnixMilli()
	if err := l.store.Upsert(ctx, id, rating, &modifiedAt); err != nil {
		logging.Warn("failed to re-stamp rating for %s after metadata write: %v", id, err)
	}
}

// DeleteSourceFile removes a photo's file, its durable rating, and its
// cached renditions.
func (l *Library) DeleteSourceFile(ctx context.Context, id string) error {
	if err := l.ensureInLibrary(id); err != nil {
		return err
	}

	if err := os.Remove(id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	if err := l.store.Delete(ctx, id); err != nil {
		logging.Warn("failed to delete rating for removed photo %s: %v", id, err)
	}

	l.removeCachedAssets(id)
	return nil
}

// RenameSourceFile renames a photo within its directory and repoints its
// rating entry to the new identity, returning the new id. The store update
// happens immediately after the filesystem rename; if the process dies in
// between, the next scan simply sees an unrated file and reconciliation
// recovers the rating from its embedded metadata.
func (l *Library) RenameSourceFile(ctx context.Context, id, newName string) (string, error) {
	if err := l.ensureInLibrary(id); err != nil {
		return "", err
	}
	if newName == "" || strings.ContainsRune(newName, os.PathSeparator) {
		return "", fmt.Errorf("invalid file name %q", newName)
	}
	if !mediatypes.IsImage(newName) {
		return "", fmt.Errorf("unsupported extension on %q", newName)
	}

	newID := filepath.Join(filepath.Dir(id), newName)
	if newID == id {
		return id, nil
	}
	if _, err := os.Stat(newID); err == nil {
		return "", fmt.Errorf("%s: %w", newName, os.ErrExist)
	}

	if err := os.Rename(id, newID); err != nil {
		return "", fmt.Errorf("rename failed: %w", err)
	}

	if err := l.store.RenameID(ctx, id, newID); err != nil {
		return "", fmt.Errorf("file renamed but rating move failed: %w", err)
	}

	l.removeCachedAssets(id)

	if l.pipeline != nil {
		if info, statErr := os.Stat(newID); statErr == nil {
			l.pipeline.ScheduleIfStale(newID, newID, info.ModTime())
		}
	}

	return newID, nil
}

// removeCachedAssets best-effort deletes the renditions and transcode
// entry keyed by an id that no longer exists.
func (l *Library) removeCachedAssets(id string) {
	var paths []string
	if l.pipeline != nil {
		base, retina := l.pipeline.CachePaths(id)
		paths = append(paths, base, retina)
	}
	if l.transcodes != nil {
		paths = append(paths, l.transcodes.CachePath(id))
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logging.Debug("failed to remove cached asset %s: %v", p, err)
		}
	}
}

func (l *Library) ensureInLibrary(id string) error {
	abs, err := filepath.Abs(id)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(abs+string(os.PathSeparator), l.root+string(os.PathSeparator)) {
		return fmt.Errorf("%s is outside the library", id)
	}
	return nil
}

// ModifiedAt returns a photo's current modification time; used by
// handlers when re-resolving freshness.
func (l *Library) ModifiedAt(id string) (time.Time, error) {
	info, err := os.Stat(id)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
