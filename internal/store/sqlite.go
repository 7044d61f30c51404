// Package store persists generated artifacts in SQLite. It is the only
// component that talks to the database; everything above it sees storage
// keys and the two sentinel errors.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding generated artifacts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "forgelet.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Artifacts ---

// Insert persists a new artifact and returns its storage key, minting one
// when the caller left it empty. A collision on (owner_slug, app_slug) maps
// to ErrSlugTaken so callers can draw a fresh slug and retry.
func (s *Store) Insert(ctx context.Context, a Artifact) (string, error) {
	if a.OwnerSlug == "" || a.AppSlug == "" {
		return "", fmt.Errorf("insert requires owner and app slug")
	}
	if a.StorageKey == "" {
		a.StorageKey = uuid.NewString()
	}
	if a.DataKey == "" {
		a.DataKey = a.StorageKey
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (storage_key, owner_slug, app_slug, category, brief, request_text, html, data_key, companion_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.StorageKey, a.OwnerSlug, a.AppSlug, a.Category, a.Brief, a.RequestText,
		a.HTML, a.DataKey, a.CompanionOf, a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%s/%s: %w", a.OwnerSlug, a.AppSlug, ErrSlugTaken)
		}
		return "", err
	}
	return a.StorageKey, nil
}

// isUniqueViolation reports whether err is a SQLite constraint error.
// Extended result codes (2067 unique, 1555 primary key) share primary code 19.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == 19
}

// ExistsForOwner reports whether owner already has an artifact under slug.
func (s *Store) ExistsForOwner(ctx context.Context, owner, slug string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM artifacts WHERE owner_slug = ? AND app_slug = ?", owner, slug,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByStorageKey returns the artifact with the given storage key.
func (s *Store) GetByStorageKey(ctx context.Context, key string) (Artifact, error) {
	return s.getOne(ctx, "storage_key = ?", key)
}

// GetBySlug returns the artifact at owner/slug.
func (s *Store) GetBySlug(ctx context.Context, owner, slug string) (Artifact, error) {
	return s.getOne(ctx, "owner_slug = ? AND app_slug = ?", owner, slug)
}

func (s *Store) getOne(ctx context.Context, where string, args ...any) (Artifact, error) {
	var a Artifact
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT storage_key, owner_slug, app_slug, category, brief, request_text, html, data_key, companion_of, created_at
		FROM artifacts WHERE `+where, args...,
	).Scan(&a.StorageKey, &a.OwnerSlug, &a.AppSlug, &a.Category, &a.Brief,
		&a.RequestText, &a.HTML, &a.DataKey, &a.CompanionOf, &createdAt)
	if err == sql.ErrNoRows {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Artifact{}, fmt.Errorf("parsing created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

// ListRecent returns the newest artifacts, HTML omitted to keep responses small.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT storage_key, owner_slug, app_slug, category, brief, request_text, data_key, companion_of, created_at
		FROM artifacts ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Artifact
	for rows.Next() {
		var a Artifact
		var createdAt string
		if err := rows.Scan(&a.StorageKey, &a.OwnerSlug, &a.AppSlug, &a.Category, &a.Brief,
			&a.RequestText, &a.DataKey, &a.CompanionOf, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.CreatedAt = t
		results = append(results, a)
	}
	return results, rows.Err()
}

// Count returns the total number of persisted artifacts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM artifacts").Scan(&n)
	return n, err
}
