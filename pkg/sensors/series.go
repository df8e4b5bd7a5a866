package sensors

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Variables a sensor CSV may carry besides the timestamp column. The
// column names are the file-layout contract; anything else in the header
// is ignored.
const (
	VarSoilMoisture = "soil_moisture"
	VarSoilTemp     = "soil_temp"
)

var (
	// ErrUnknownVariable marks a request for a column outside the contract.
	ErrUnknownVariable = errors.New("unknown series variable")
	// ErrNoSeries marks a sensor without a CSV on disk — a setup mistake
	// (the README tells operators to drop one file per sensor), not a
	// server fault.
	ErrNoSeries = errors.New("no series file for sensor")
	// ErrBadSensorID rejects ids that could escape the series directory.
	ErrBadSensorID = errors.New("invalid sensor id")
)

// KnownVariable reports whether name is a servable series column.
func KnownVariable(name string) bool {
	return name == VarSoilMoisture || name == VarSoilTemp
}

// Point is one series sample.
type Point struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// Series is one filtered per-sensor variable read.
type Series struct {
	SensorID string  `json:"sensorId"`
	Variable string  `json:"variable"`
	Points   []Point `json:"points"`
	// Skipped counts rows dropped for unparseable timestamps or values.
	// Surfaced so a half-broken CSV is visible instead of silently thin.
	Skipped int `json:"skipped,omitempty"`
}

// Reader loads per-sensor CSV series from one directory. Logf is
// optional and receives per-file detail lines.
type Reader struct {
	Dir  string
	Logf func(string, ...any)
}

// sanitizeID keeps sensor ids inside Dir: one plain path element, no
// separators, no dot-dot.
func sanitizeID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrBadSensorID, id)
	}
	if filepath.Base(id) != id {
		return fmt.Errorf("%w: %q", ErrBadSensorID, id)
	}
	return nil
}

// Read loads <Dir>/<sensorID>.csv, picks one variable column and applies
// an optional [from, to] window (zero means unbounded on that side).
// Timestamps are ISO8601/RFC3339 and treated as UTC. Rows that fail to
// parse are counted and skipped; a missing variable column is an error
// because it means the file does not follow the layout contract.
func (r *Reader) Read(sensorID, variable string, from, to time.Time) (Series, error) {
	s := Series{SensorID: sensorID, Variable: variable}
	if err := sanitizeID(sensorID); err != nil {
		return s, err
	}
	if !KnownVariable(variable) {
		return s, fmt.Errorf("%w: %q", ErrUnknownVariable, variable)
	}

	path := filepath.Join(r.Dir, sensorID+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, fmt.Errorf("%w: %s", ErrNoSeries, sensorID)
		}
		return s, fmt.Errorf("series %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1 // tolerate ragged trailing columns

	header, err := cr.Read()
	if err != nil {
		return s, fmt.Errorf("series %s: header: %w", path, err)
	}
	tsCol, varCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "timestamp":
			tsCol = i
		case variable:
			varCol = i
		}
	}
	if tsCol < 0 {
		return s, fmt.Errorf("series %s: missing 'timestamp' column", path)
	}
	if varCol < 0 {
		return s, fmt.Errorf("series %s: missing %q column", path, variable)
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A mangled row should not sink the rest of the file.
			s.Skipped++
			continue
		}
		if len(rec) <= tsCol || len(rec) <= varCol {
			s.Skipped++
			continue
		}
		ts, err := parseUTC(rec[tsCol])
		if err != nil {
			s.Skipped++
			continue
		}
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[varCol]), 64)
		if err != nil {
			s.Skipped++
			continue
		}
		s.Points = append(s.Points, Point{Time: ts, Value: v})
	}

	if r.Logf != nil {
		r.Logf("series %s/%s: %d points, %d skipped", sensorID, variable, len(s.Points), s.Skipped)
	}
	return s, nil
}

// parseUTC accepts RFC3339 with or without an explicit offset; bare
// local-style stamps ("2024-05-01T12:00" or "... 12:00:00") are read as
// UTC, matching how the CSVs are written by the export scripts.
func parseUTC(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
