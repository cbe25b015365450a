package dataset

import (
	"fmt"
	"strings"
	"time"
)

// DefaultUtility is the utility assumed when none is given.
const DefaultUtility = "ELECTRICITY"

type Reading struct {
	BuildingNumber int       `json:"buildingNumber"`
	Utility        string    `json:"utility"`
	Time           time.Time `json:"readingtime"`
	Value          float64   `json:"readingvalue"`
}

// NormalizeUtility upper-cases a utility name; empty means electricity.
func NormalizeUtility(u string) string {
	u = strings.ToUpper(strings.TrimSpace(u))
	if u == "" {
		return DefaultUtility
	}
	return u
}

// InsertReadings stores meter readings, replacing duplicates of the same
// building, utility and instant.
func (s *Store) InsertReadings(readings []Reading) (int, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO readings (building_number, utility, reading_time, value)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.Exec(r.BuildingNumber, NormalizeUtility(r.Utility), r.Time.UTC(), r.Value); err != nil {
			return 0, fmt.Errorf("insert reading: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(readings), nil
}

// Readings returns a building's series for one utility in time order.
func (s *Store) Readings(building int, utility string) ([]Reading, error) {
	utility = NormalizeUtility(utility)
	rows, err := s.conn.Query(`
		SELECT building_number, utility, reading_time, value
		FROM readings
		WHERE building_number = ? AND utility = ?
		ORDER BY reading_time
	`, building, utility)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.BuildingNumber, &r.Utility, &r.Time, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Utilities lists the utilities with readings for a building.
func (s *Store) Utilities(building int) ([]string, error) {
	rows, err := s.conn.Query(`
		SELECT DISTINCT utility FROM readings WHERE building_number = ? ORDER BY utility
	`, building)
	if err != nil {
		return nil, fmt.Errorf("query utilities: %w", err)
	}
	defer rows.Close()

	utilities := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		utilities = append(utilities, u)
	}
	return utilities, rows.Err()
}
