// Package sensors reads the flat-file sensor conventions: a GeoJSON
// FeatureCollection listing the stations and one CSV per sensor with
// its measured time series. Nothing here writes; the files are produced
// by the field-data pipeline and this package only serves them.
package sensors

import (
	"encoding/json"
	"fmt"
	"os"
)

// Feature is one sensor point from the GeoJSON document. Properties stay
// a raw map because field teams attach ad-hoc keys; the two we rely on
// get typed accessors.
type Feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   Geometry       `json:"geometry"`
}

// Geometry holds a GeoJSON point. Coordinates are [lng, lat] per the
// GeoJSON spec — the reverse of the (lat, lng) order maps think in.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// FeatureCollection is the parsed sensors.geojson document.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// SensorID returns the sensor_id property, or "" when absent.
func (f Feature) SensorID() string {
	id, _ := f.Properties["sensor_id"].(string)
	return id
}

// InstalledSince returns the installed_since property, or "" when absent.
func (f Feature) InstalledSince() string {
	s, _ := f.Properties["installed_since"].(string)
	return s
}

// LatLng returns the point coordinates in map order. ok is false for
// non-point or malformed geometries.
func (f Feature) LatLng() (lat, lng float64, ok bool) {
	if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
		return 0, 0, false
	}
	return f.Geometry.Coordinates[1], f.Geometry.Coordinates[0], true
}

// Store keeps the sensors.geojson document in memory: the parsed
// collection for lookups plus the raw bytes so the API can serve the
// document verbatim instead of re-marshalling it.
type Store struct {
	Collection FeatureCollection
	Raw        []byte
}

// LoadStore reads and parses the GeoJSON file. A broken document is a
// hard error — the dashboard is useless without its sensor list, so the
// operator should hear about it at startup, not per request.
func LoadStore(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sensors geojson: %w", err)
	}
	var fc FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("sensors geojson %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("sensors geojson %s: type %q, want FeatureCollection", path, fc.Type)
	}
	return &Store{Collection: fc, Raw: raw}, nil
}

// Find returns the feature with the given sensor_id, or false.
func (s *Store) Find(sensorID string) (Feature, bool) {
	for _, f := range s.Collection.Features {
		if f.SensorID() == sensorID {
			return f, true
		}
	}
	return Feature{}, false
}

// Count reports how many features the document carries.
func (s *Store) Count() int { return len(s.Collection.Features) }
