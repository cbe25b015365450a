package dataset

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested building or series does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientData is returned when a series is too short to model.
	ErrInsufficientData = errors.New("insufficient data")
)

// Store is the read-mostly dataset shared by every turn.
type Store struct {
	conn *sql.DB
}

// Open opens or creates the dataset database at the given path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create dataset directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping dataset: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
