package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"soil-sensor-map/pkg/sensors"
	"soil-sensor-map/pkg/tiles"
	"soil-sensor-map/pkg/widget"
)

func testStore(t *testing.T) *sensors.Store {
	t.Helper()
	raw := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"sensor_id":"s1"},
		 "geometry":{"type":"Point","coordinates":[46.6,24.7]}}]}`)
	var fc sensors.FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		t.Fatal(err)
	}
	return &sensors.Store{Collection: fc, Raw: raw}
}

// TestDashboardPage renders the embedded template with live values.
func TestDashboardPage(t *testing.T) {
	h := mapHandler(testStore(t), tiles.NewCatalog(t.TempDir()))
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"year-slider", "soil_moisture", "/api/sensors", "1 sensors"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard page missing %q", want)
		}
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path: status %d, want 404", rec.Code)
	}
}

// TestEmbedPage drives the widget engine over HTTP: the served page must
// carry the singleton stylesheet id, the requested view state and the
// base layer contract.
func TestEmbedPage(t *testing.T) {
	h := embedHandler()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/embed?lat=45.0&lng=-73.0&zoom=10&height=400px", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{
		widget.StylesheetID,
		`data-lat="45"`,
		`data-lng="-73"`,
		`data-zoom="10"`,
		`data-max-zoom="19"`,
		"height:400px",
		"/static/embed.js",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("embed page missing %q", want)
		}
	}
	if n := strings.Count(body, widget.StylesheetID); n != 1 {
		t.Errorf("stylesheet id occurs %d times, want 1", n)
	}
}

// TestEmbedPageReleasesModel serves a batch of embed pages and checks
// the per-request model goroutines are gone afterwards: each request
// spins one up, and handler teardown must stop it again.
func TestEmbedPageReleasesModel(t *testing.T) {
	h := embedHandler()
	before := runtime.NumGoroutine()

	const requests = 25
	for i := 0; i < requests; i++ {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/embed?lat=45.0&lng=-73.0&zoom=10", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}

	// Stopped goroutines disappear asynchronously; poll briefly before
	// judging.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("goroutines = %d after %d embeds, started at %d; model loops leaked",
		runtime.NumGoroutine(), requests, before)
}

// TestEmbedPageRejectsBadView propagates the view layer's validation.
func TestEmbedPageRejectsBadView(t *testing.T) {
	h := embedHandler()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/embed?lat=91", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("lat=91: status %d, want 400", rec.Code)
	}
}

// TestQRHandler answers a decodable PNG built from the request host.
func TestQRHandler(t *testing.T) {
	h := qrHandler()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/qr?lat=24.71&lng=46.67&zoom=6&year=2024", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if _, err := png.Decode(bytes.NewReader(rec.Body.Bytes())); err != nil {
		t.Errorf("qr response not a PNG: %v", err)
	}
}

// TestWithServerHeader checks the version header and the HEAD / probe.
func TestWithServerHeader(t *testing.T) {
	wrapped := withServerHeader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Server"); !strings.HasPrefix(got, "soil-sensor-map/") {
		t.Errorf("Server header = %q", got)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("GET passthrough status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("HEAD / status = %d, want 200", rec.Code)
	}
}
