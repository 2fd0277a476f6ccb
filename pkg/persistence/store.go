package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tingxueren/clash-master/pkg/cache"
	"github.com/tingxueren/clash-master/pkg/stats"
	"github.com/tingxueren/clash-master/pkg/view"
)

// SchemaVersion is the current version of the cache_entries layout.
const SchemaVersion = 1

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store provides SQLite persistence for cache entries.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open opens or creates the database at path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		kind INTEGER NOT NULL,
		backend INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		provenance INTEGER NOT NULL,
		generation INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		value BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_backend ON cache_entries(backend);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var v int
	err := s.db.QueryRow(`SELECT value FROM meta WHERE name = 'schema'`).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec(`INSERT INTO meta (name, value) VALUES ('schema', ?)`, SchemaVersion)
		return err
	case err != nil:
		return err
	case v != SchemaVersion:
		return fmt.Errorf("unsupported schema version %d", v)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Save replaces the stored entries with entries.
func (s *Store) Save(entries []cache.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cache_entries`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO cache_entries
			(key, kind, backend, fingerprint, provenance, generation, updated_at, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		blob, err := cbor.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Key, err)
		}
		_, err = stmt.Exec(
			e.Key.String(), int(e.Key.Kind), e.Key.Backend, e.Key.Fingerprint,
			int(e.Provenance), int64(e.Generation), e.UpdatedAt.UnixMilli(), blob,
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// Load returns every stored entry whose value still decodes. Rows of an
// unknown kind or with an undecodable value are skipped and counted.
func (s *Store) Load() ([]cache.Entry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT kind, backend, fingerprint, provenance, generation, updated_at, value
		FROM cache_entries ORDER BY key
	`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out     []cache.Entry
		skipped int
	)
	for rows.Next() {
		var (
			kind, prov int
			backend    int64
			fp         string
			gen        int64
			updatedMs  int64
			blob       []byte
		)
		if err := rows.Scan(&kind, &backend, &fp, &prov, &gen, &updatedMs, &blob); err != nil {
			return nil, 0, err
		}
		k := view.Kind(kind)
		value, err := stats.Decode(k, blob, cbor.Unmarshal)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, cache.Entry{
			Key:        view.Key{Kind: k, Backend: backend, Fingerprint: fp},
			Value:      value,
			Provenance: cache.Provenance(prov),
			Generation: uint64(gen),
			UpdatedAt:  time.UnixMilli(updatedMs),
		})
	}
	return out, skipped, rows.Err()
}

// Clear removes every stored entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.Exec(`DELETE FROM cache_entries`)
	return err
}
