package dataset

import (
	"database/sql"
	"errors"
	"fmt"
)

type Building struct {
	Number    int      `json:"buildingNumber"`
	Name      string   `json:"buildingName"`
	Campus    string   `json:"campusName"`
	GrossArea float64  `json:"grossArea"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// UpsertBuildings inserts or replaces building metadata rows.
func (s *Store) UpsertBuildings(buildings []Building) (int, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO buildings (number, name, campus, gross_area, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			name = excluded.name,
			campus = excluded.campus,
			gross_area = excluded.gross_area,
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range buildings {
		if _, err := stmt.Exec(b.Number, b.Name, b.Campus, b.GrossArea, nullFloat(b.Latitude), nullFloat(b.Longitude)); err != nil {
			return 0, fmt.Errorf("upsert building %d: %w", b.Number, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(buildings), nil
}

// GetBuilding returns one building by number.
func (s *Store) GetBuilding(number int) (*Building, error) {
	row := s.conn.QueryRow(`
		SELECT number, name, campus, gross_area, latitude, longitude
		FROM buildings WHERE number = ?
	`, number)
	b, err := scanBuilding(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("building %d: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get building: %w", err)
	}
	return b, nil
}

// ListBuildings returns all buildings ordered by number.
func (s *Store) ListBuildings() ([]*Building, error) {
	rows, err := s.conn.Query(`
		SELECT number, name, campus, gross_area, latitude, longitude
		FROM buildings ORDER BY number
	`)
	if err != nil {
		return nil, fmt.Errorf("query buildings: %w", err)
	}
	defer rows.Close()

	buildings := make([]*Building, 0)
	for rows.Next() {
		b, err := scanBuilding(rows.Scan)
		if err != nil {
			return nil, err
		}
		buildings = append(buildings, b)
	}
	return buildings, rows.Err()
}

// scanFunc is shared by (*sql.Row).Scan and (*sql.Rows).Scan.
type scanFunc func(dest ...any) error

func scanBuilding(scan scanFunc) (*Building, error) {
	var b Building
	var lat, lon sql.NullFloat64
	if err := scan(&b.Number, &b.Name, &b.Campus, &b.GrossArea, &lat, &lon); err != nil {
		return nil, err
	}
	if lat.Valid {
		b.Latitude = &lat.Float64
	}
	if lon.Valid {
		b.Longitude = &lon.Float64
	}
	return &b, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
