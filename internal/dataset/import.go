package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// header maps lower-cased column names to their positions and checks that
// every required column is present.
type header map[string]int

func readHeader(r *csv.Reader, required ...string) (header, error) {
	cols, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := make(header, len(cols))
	for i, c := range cols {
		h[strings.ToLower(strings.TrimSpace(c))] = i
	}
	var missing []string
	for _, name := range required {
		if _, ok := h[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return h, nil
}

func (h header) get(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func optionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// ImportBuildingsCSV loads building metadata from a CSV with the columns
// buildingnumber, buildingname, campusname, grossarea, latitude, longitude.
// Rows without a numeric building number are skipped.
func (s *Store) ImportBuildingsCSV(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	h, err := readHeader(cr, "buildingnumber")
	if err != nil {
		return 0, err
	}

	var buildings []Building
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read buildings: %w", err)
		}
		num, err := strconv.Atoi(h.get(rec, "buildingnumber"))
		if err != nil {
			continue
		}
		b := Building{
			Number:    num,
			Name:      h.get(rec, "buildingname"),
			Campus:    h.get(rec, "campusname"),
			Latitude:  optionalFloat(h.get(rec, "latitude")),
			Longitude: optionalFloat(h.get(rec, "longitude")),
		}
		if area := optionalFloat(h.get(rec, "grossarea")); area != nil {
			b.GrossArea = *area
		}
		buildings = append(buildings, b)
	}
	return s.UpsertBuildings(buildings)
}

// ImportMetersCSV loads meter readings from a CSV with the columns
// simscode, utility, readingtime, readingvalue. Rows that fail to parse are
// skipped and counted in the returned skip total.
func (s *Store) ImportMetersCSV(r io.Reader) (imported, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	h, err := readHeader(cr, "simscode", "utility", "readingtime", "readingvalue")
	if err != nil {
		return 0, 0, err
	}

	const batchSize = 5000
	batch := make([]Reading, 0, batchSize)
	flush := func() error {
		n, err := s.InsertReadings(batch)
		imported += n
		batch = batch[:0]
		return err
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, skipped, fmt.Errorf("read meters: %w", err)
		}
		code, err := strconv.Atoi(h.get(rec, "simscode"))
		if err != nil {
			skipped++
			continue
		}
		at, err := parseTime(h.get(rec, "readingtime"))
		if err != nil {
			skipped++
			continue
		}
		value, err := strconv.ParseFloat(h.get(rec, "readingvalue"), 64)
		if err != nil {
			skipped++
			continue
		}
		batch = append(batch, Reading{BuildingNumber: code, Utility: h.get(rec, "utility"), Time: at, Value: value})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return imported, skipped, err
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return imported, skipped, err
		}
	}
	return imported, skipped, nil
}
