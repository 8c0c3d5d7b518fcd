package session

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	appErrors "snapgram/internal/errors"

	_ "modernc.org/sqlite"
)

const (
	// MarkerKey is the local storage key holding the session marker.
	MarkerKey = "cookieFallback"
	// EmptyMarker is the value left behind by a cleared session.
	EmptyMarker = "[]"
)

// HasSession reports whether a marker value says a session may exist.
func HasSession(marker string) bool {
	return marker != "" && marker != EmptyMarker
}

// MarkerStore persists the local session marker.
type MarkerStore interface {
	// Get returns the stored marker, "" when none is stored.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, value string) error
	Clear(ctx context.Context) error
}

// ============================================================================
// MEMORY
// ============================================================================

// MemoryMarker keeps the marker in process memory.
type MemoryMarker struct {
	mu    sync.Mutex
	value string
}

func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{}
}

func (m *MemoryMarker) Get(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, ctx.Err()
}

func (m *MemoryMarker) Set(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
	return nil
}

func (m *MemoryMarker) Clear(ctx context.Context) error {
	return m.Set(ctx, EmptyMarker)
}

// ============================================================================
// SQLITE
// ============================================================================

// SQLiteMarker keeps the marker in a key/value table of a local SQLite
// database, so a restarted process can resume the session.
type SQLiteMarker struct {
	db *sql.DB
}

// OpenSQLiteMarker opens (or creates) the database at path.
func OpenSQLiteMarker(ctx context.Context, path string) (*SQLiteMarker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, appErrors.Internal("MARKER_OPEN_FAILED", "Unable to open session store.").WithCause(err).Build()
	}
	m, err := NewSQLiteMarker(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// NewSQLiteMarker uses db, creating the table when missing.
func NewSQLiteMarker(ctx context.Context, db *sql.DB) (*SQLiteMarker, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS local_storage (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, appErrors.Internal("MARKER_MIGRATE_FAILED", "Unable to prepare session store.").WithCause(err).Build()
	}
	return &SQLiteMarker{db: db}, nil
}

func (m *SQLiteMarker) Get(ctx context.Context) (string, error) {
	var value string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, MarkerKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", appErrors.Internal("MARKER_READ_FAILED", "Unable to read session marker.").WithCause(err).Build()
	}
	return value, nil
}

func (m *SQLiteMarker) Set(ctx context.Context, value string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO local_storage (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, MarkerKey, value)
	if err != nil {
		return appErrors.Internal("MARKER_WRITE_FAILED", "Unable to store session marker.").WithCause(err).Build()
	}
	return nil
}

func (m *SQLiteMarker) Clear(ctx context.Context) error {
	return m.Set(ctx, EmptyMarker)
}

// Close closes the database.
func (m *SQLiteMarker) Close() error {
	return m.db.Close()
}
