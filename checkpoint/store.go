// Package checkpoint persists VM snapshots in SQLite. The store implements
// vm.Sink, so it can be handed directly to a VM as the CHECKPOINT backend.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/UOR-Foundation/uor-labs/vm"
)

// ErrNotFound indicates the requested checkpoint doesn't exist.
var ErrNotFound = errors.New("checkpoint not found")

// Store is a SQLite-backed checkpoint store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Meta describes one stored checkpoint.
type Meta struct {
	ID          string
	ProgramHash [32]byte
	CreatedAt   time.Time
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Busy timeout for concurrent access.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS checkpoints (
		id           TEXT PRIMARY KEY,
		program_hash BLOB NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		state        BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save implements vm.Sink.
func (s *Store) Save(snap *vm.Snapshot) error {
	_, err := s.SaveSnapshot(snap)
	return err
}

// SaveSnapshot stores a snapshot and returns its assigned ID.
func (s *Store) SaveSnapshot(snap *vm.Snapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := vm.MarshalSnapshot(snap)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.Exec(
		"INSERT INTO checkpoints (id, program_hash, created_at, state) VALUES (?, ?, ?, ?)",
		id, snap.ProgramHash[:], time.Now().UTC(), data,
	)
	if err != nil {
		return "", fmt.Errorf("saving checkpoint: %w", err)
	}
	return id, nil
}

// Load retrieves a snapshot by ID.
func (s *Store) Load(id string) (*vm.Snapshot, error) {
	var data []byte
	err := s.db.QueryRow("SELECT state FROM checkpoints WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}
	return vm.UnmarshalSnapshot(data)
}

// List returns metadata for every stored checkpoint, newest first.
func (s *Store) List() ([]Meta, error) {
	rows, err := s.db.Query(
		"SELECT id, program_hash, created_at FROM checkpoints ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var hash []byte
		if err := rows.Scan(&m.ID, &hash, &m.CreatedAt); err != nil {
			return nil, err
		}
		copy(m.ProgramHash[:], hash)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}
