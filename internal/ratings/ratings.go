// Package ratings implements the durable star-rating store. It owns the
// single SQLite table mapping a photo identity (its absolute source path)
// to the last known rating and the source modification time at which that
// rating was last verified against embedded metadata.
package ratings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"photo-rater/internal/logging"
	"photo-rater/internal/metrics"
)

// Default timeout for store operations
const defaultTimeout = 5 * time.Second

// Store filenames under the data directory. Earlier releases used the
// legacy name; Open adopts it in place when the current one is absent.
const (
	storeFile       = "ratings.db"
	legacyStoreFile = "photostar.db"
)

// ErrStoreUnavailable marks a failure to open the durable store. It is
// fatal to startup and callers surface it with a dedicated diagnostic
// instead of a generic I/O failure.
var ErrStoreUnavailable = errors.New("rating store unavailable")

// Entry is one durable rating record.
type Entry struct {
	// Rating is the star value, 0-5. 0 never persists; clearing deletes
	// the row.
	Rating int
	// UpdatedAt is the epoch-millisecond timestamp of the last write.
	UpdatedAt int64
	// SourceModifiedAt is the source file's epoch-millisecond mtime at the
	// time the rating was last known correct. Nil means the rating has
	// never been verified against the file's own metadata.
	SourceModifiedAt *int64
}

// Store manages the ratings table.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open initializes the durable store under dataDir, creating the schema if
// absent and applying additive migrations. Re-running Open on an
// up-to-date store is a no-op. If the current store file does not exist
// but a legacy-named one does, the legacy location is adopted rather than
// starting empty.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, storeFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		legacyPath := filepath.Join(dataDir, legacyStoreFile)
		if _, legacyErr := os.Stat(legacyPath); legacyErr == nil {
			logging.Info("Adopting legacy rating store at %s", legacyPath)
			dbPath = legacyPath
		}
	}

	// busy_timeout prevents "database is locked" errors when a rating
	// write races the reconciliation loop
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close store after schema failure: %v", closeErr)
		}
		return nil, fmt.Errorf("%w: schema: %v", ErrStoreUnavailable, err)
	}

	logging.Info("Rating store ready at %s", dbPath)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ratings (
		path TEXT PRIMARY KEY,
		rating INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return s.runMigrations(ctx)
}

// runMigrations applies additive schema migrations. Each migration checks
// its own precondition so the whole sequence is idempotent.
func (s *Store) runMigrations(ctx context.Context) error {
	// Migration 1: source_modified_at column for metadata verification
	// tracking. NULL means "never verified".
	var columnExists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info('ratings')
		WHERE name='source_modified_at'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check for source_modified_at column: %w", err)
	}

	if !columnExists {
		logging.Info("Migrating rating store: adding source_modified_at column")
		_, err = s.db.ExecContext(ctx, `
			ALTER TABLE ratings ADD COLUMN source_modified_at INTEGER
		`)
		if err != nil {
			return fmt.Errorf("failed to add source_modified_at column: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store file actually in use (current or adopted legacy).
func (s *Store) Path() string {
	return s.dbPath
}

// GetAll returns every entry keyed by photo id.
func (s *Store) GetAll(ctx context.Context) (map[string]Entry, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_all", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, rating, updated_at, source_modified_at FROM ratings
	`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logging.Warn("failed to close rating rows: %v", closeErr)
		}
	}()

	entries := make(map[string]Entry)
	for rows.Next() {
		var path string
		var entry Entry
		var sourceMod sql.NullInt64
		if err = rows.Scan(&path, &entry.Rating, &entry.UpdatedAt, &sourceMod); err != nil {
			return nil, err
		}
		if sourceMod.Valid {
			v := sourceMod.Int64
			entry.SourceModifiedAt = &v
		}
		entries[path] = entry
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Get returns a single entry, or ok=false when the id has no rating.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var entry Entry
	var sourceMod sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT rating, updated_at, source_modified_at FROM ratings WHERE path = ?
	`, id).Scan(&entry.Rating, &entry.UpdatedAt, &sourceMod)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if sourceMod.Valid {
		v := sourceMod.Int64
		entry.SourceModifiedAt = &v
	}
	return entry, true, nil
}

// Upsert inserts or fully replaces the entry for id, stamping updated_at
// with the current time. Atomic per id. sourceModifiedAt may be nil to
// mark the rating as unverified against file metadata.
func (s *Store) Upsert(ctx context.Context, id string, rating int, sourceModifiedAt *int64) error {
	// 0 means "unrated" and must never persist as a row; callers clear
	// with Delete instead.
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating %d out of range [1,5]", rating)
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("upsert", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var sourceMod sql.NullInt64
	if sourceModifiedAt != nil {
		sourceMod = sql.NullInt64{Int64: *sourceModifiedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ratings (path, rating, updated_at, source_modified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			rating = excluded.rating,
			updated_at = excluded.updated_at,
			source_modified_at = excluded.source_modified_at
	`, id, rating, time.Now().UnixMilli(), sourceMod)
	return err
}

// Delete removes the entry for id. Deleting a non-existent id is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `DELETE FROM ratings WHERE path = ?`, id)
	return err
}

// DeleteMany removes all entries for ids in a single transaction.
func (s *Store) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	defer func() { recordQuery("delete_many", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `DELETE FROM ratings WHERE path = ?`, id); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
			}
			return err
		}
	}

	err = tx.Commit()
	return err
}

// RenameID repoints an entry to a new identity, preserving its rating and
// timestamps. Used when a source file is renamed. Renaming an id with no
// entry is a no-op.
func (s *Store) RenameID(ctx context.Context, oldID, newID string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("rename_id", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	// The new identity may already carry a stale row (e.g. a file was
	// deleted and another renamed over its path); replace it.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM ratings WHERE path = ?`, newID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE ratings SET path = ? WHERE path = ?`, newID, oldID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	err = tx.Commit()
	return err
}

// recordQuery records store query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.StoreQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.StoreQueryDuration.WithLabelValues(operation).Observe(duration)
}
