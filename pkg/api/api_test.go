package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"soil-sensor-map/pkg/sensors"
	"soil-sensor-map/pkg/tiles"
)

// newTestHandler builds a handler over a throwaway flat-file layout with
// one sensor, one series CSV and one tile year.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()

	geojson := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"sensor_id":"s1","installed_since":"2021-01-01"},
		 "geometry":{"type":"Point","coordinates":[46.6,24.7]}}]}`
	if err := os.WriteFile(filepath.Join(dir, "sensors.geojson"), []byte(geojson), 0o644); err != nil {
		t.Fatal(err)
	}
	seriesDir := filepath.Join(dir, "sensors")
	if err := os.MkdirAll(seriesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	csv := "timestamp,soil_moisture,soil_temp\n" +
		"2024-05-01T00:00:00Z,0.31,18.2\n" +
		"2024-05-01T01:00:00Z,0.30,17.9\n"
	if err := os.WriteFile(filepath.Join(seriesDir, "s1.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	rasterRoot := filepath.Join(dir, "rasters")
	if err := os.MkdirAll(filepath.Join(rasterRoot, "tiles_2024"), 0o755); err != nil {
		t.Fatal(err)
	}

	store, err := sensors.LoadStore(filepath.Join(dir, "sensors.geojson"))
	if err != nil {
		t.Fatal(err)
	}
	return &Handler{
		Sensors: store,
		Series:  &sensors.Reader{Dir: seriesDir},
		Catalog: tiles.NewCatalog(rasterRoot),
		Cache:   NewResponseCache(time.Minute),
	}
}

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// TestSensorsEndpoint serves the GeoJSON document verbatim.
func TestSensorsEndpoint(t *testing.T) {
	h := newTestHandler(t)
	rec := serve(t, h, "/api/sensors")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Errorf("unexpected document: type=%q features=%d", fc.Type, len(fc.Features))
	}
}

// TestSensorsEndpointCached proves the sensors response rides the
// response cache: within the TTL a second request returns the cached
// bytes even if the in-memory document has been swapped.
func TestSensorsEndpointCached(t *testing.T) {
	h := newTestHandler(t)
	first := serve(t, h, "/api/sensors").Body.String()

	h.Sensors.Raw = []byte(`{"type":"FeatureCollection","features":[]}`)
	second := serve(t, h, "/api/sensors").Body.String()
	if second != first {
		t.Errorf("second response within TTL = %q, want cached %q", second, first)
	}
}

// TestYearsEndpoint reports the scanned pyramid years.
func TestYearsEndpoint(t *testing.T) {
	h := newTestHandler(t)
	rec := serve(t, h, "/api/years")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got struct {
		Years []int `json:"years"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Years) != 1 || got.Years[0] != 2024 {
		t.Errorf("years = %v, want [2024]", got.Years)
	}
}

// TestSeriesEndpoint covers the filter pipeline end to end plus the
// error statuses the dashboard relies on.
func TestSeriesEndpoint(t *testing.T) {
	h := newTestHandler(t)

	rec := serve(t, h, "/api/series?sensor=s1&var=soil_moisture")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var s sensors.Series
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if len(s.Points) != 2 || s.SensorID != "s1" {
		t.Errorf("series = %+v", s)
	}

	rec = serve(t, h, "/api/series?sensor=s1&var=soil_temp&from=2024-05-01T01:00&to=2024-05-01T02:00")
	if rec.Code != http.StatusOK {
		t.Fatalf("windowed status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if len(s.Points) != 1 {
		t.Errorf("windowed points = %d, want 1", len(s.Points))
	}

	tests := []struct {
		path string
		code int
	}{
		{"/api/series?sensor=ghost", http.StatusNotFound},
		{"/api/series?sensor=s1&var=ph", http.StatusBadRequest},
		{"/api/series?sensor=..%2Fs1", http.StatusBadRequest},
		{"/api/series?sensor=s1&from=yesterday", http.StatusBadRequest},
	}
	for _, tc := range tests {
		if rec := serve(t, h, tc.path); rec.Code != tc.code {
			t.Errorf("%s: status %d, want %d", tc.path, rec.Code, tc.code)
		}
	}
}

// TestOverviewEndpoint sanity-checks the self-describing docs.
func TestOverviewEndpoint(t *testing.T) {
	h := newTestHandler(t)
	rec := serve(t, h, "/api")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got struct {
		Sensors   int            `json:"sensors"`
		TileYears []int          `json:"tileYears"`
		Endpoints map[string]any `json:"endpoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Sensors != 1 || len(got.Endpoints) != 3 {
		t.Errorf("overview = %+v", got)
	}
}

// TestResponseCache verifies the TTL behaviour with an injected clock:
// hits within the TTL reuse the loaded bytes, expiry reloads, and loader
// errors are never cached.
func TestResponseCache(t *testing.T) {
	c := NewResponseCache(time.Minute)
	defer c.Close()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	var loads atomic.Int32
	load := func() ([]byte, error) {
		loads.Add(1)
		return []byte("payload"), nil
	}

	for i := 0; i < 3; i++ {
		if data, err := c.Get("k", load); err != nil || string(data) != "payload" {
			t.Fatalf("Get #%d = %q, %v", i, data, err)
		}
	}
	if loads.Load() != 1 {
		t.Errorf("loads within TTL = %d, want 1", loads.Load())
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := c.Get("k", load); err != nil {
		t.Fatal(err)
	}
	if loads.Load() != 2 {
		t.Errorf("loads after expiry = %d, want 2", loads.Load())
	}

	boom := errors.New("boom")
	if _, err := c.Get("bad", func() ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("error not surfaced: %v", err)
	}
	var ok atomic.Int32
	if _, err := c.Get("bad", func() ([]byte, error) { ok.Add(1); return []byte("x"), nil }); err != nil {
		t.Fatal(err)
	}
	if ok.Load() != 1 {
		t.Error("failed load was cached")
	}
}

// TestResponseCacheDisabled checks the zero-TTL passthrough.
func TestResponseCacheDisabled(t *testing.T) {
	c := NewResponseCache(0)
	var loads int
	for i := 0; i < 2; i++ {
		if _, err := c.Get("k", func() ([]byte, error) { loads++; return nil, nil }); err != nil {
			t.Fatal(err)
		}
	}
	if loads != 2 {
		t.Errorf("loads = %d, want 2 (cache disabled)", loads)
	}
}
