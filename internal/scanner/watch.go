package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"photo-rater/internal/logging"
	"photo-rater/internal/mediatypes"
	"photo-rater/internal/metrics"
)

const watchDebounce = 2 * time.Second

// Watch monitors the library directory for changes using fsnotify and
// invokes onChange, debounced, when image files appear, change, or go
// away. New subdirectories are added to the watch as they are created.
// Blocks until ctx is done.
func (l *Library) Watch(ctx context.Context, onChange func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Error("failed to create file watcher: %v", err)
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logging.Error("failed to close file watcher: %v", err)
		}
	}()

	watchCount := addDirectoriesToWatcher(watcher, l.root)
	logging.Debug("library watcher started, watching %d directories", watchCount)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	fire := func() {
		if timer == nil {
			timer = time.AfterFunc(watchDebounce, onChange)
			return
		}
		timer.Reset(watchDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if handleWatcherEvent(watcher, event) {
				fire()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error: %v", err)
		}
	}
}

func addDirectoriesToWatcher(watcher *fsnotify.Watcher, root string) int {
	watchCount := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			logging.Warn("failed to watch %s: %v", path, addErr)
		} else {
			watchCount++
		}
		return nil
	})
	if err != nil {
		logging.Error("failed to walk library for watcher: %v", err)
	}
	return watchCount
}

// handleWatcherEvent reports whether the event should trigger a rescan.
func handleWatcherEvent(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	// Hidden files and their subtrees are invisible to the scanner too.
	if strings.Contains(event.Name, string(os.PathSeparator)+".") {
		return false
	}

	metrics.WatcherEventsTotal.WithLabelValues(eventType(event.Op)).Inc()

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if addErr := watcher.Add(event.Name); addErr != nil {
				logging.Warn("failed to watch new directory %s: %v", event.Name, addErr)
			} else {
				logging.Debug("watching new directory: %s", event.Name)
			}
			return true
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
		return mediatypes.IsImage(event.Name)
	}

	return false
}

func eventType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}
