package dataset

import "fmt"

// Migrate runs all pending schema migrations.
func (s *Store) Migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version > current {
			if err := s.runMigration(m); err != nil {
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
	}
	return nil
}

type migration struct {
	version int
	sql     string
}

func (s *Store) runMigration(m migration) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
		return err
	}
	return tx.Commit()
}

var migrations = []migration{
	{
		version: 1,
		sql: `
			CREATE TABLE buildings (
				number INTEGER PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				campus TEXT NOT NULL DEFAULT '',
				gross_area REAL NOT NULL DEFAULT 0,
				latitude REAL,
				longitude REAL
			);

			-- 15-minute meter readings, one row per building, utility and instant
			CREATE TABLE readings (
				building_number INTEGER NOT NULL,
				utility TEXT NOT NULL,
				reading_time DATETIME NOT NULL,
				value REAL NOT NULL,
				PRIMARY KEY (building_number, utility, reading_time)
			);
		`,
	},
	{
		version: 2,
		sql: `CREATE INDEX idx_readings_utility ON readings(utility, building_number);`,
	},
}
