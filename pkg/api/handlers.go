// Package api exposes the dashboard's JSON endpoints: the sensor list,
// the available tile years and per-sensor time series. Handlers stay
// small — they translate query parameters into the flat-file readers and
// map reader errors onto HTTP statuses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"soil-sensor-map/pkg/logger"
	"soil-sensor-map/pkg/sensors"
	"soil-sensor-map/pkg/tiles"
)

// Handler wires the flat-file readers together so routes can share the
// response cache and the logger.
type Handler struct {
	Sensors *sensors.Store
	Series  *sensors.Reader
	Catalog *tiles.Catalog
	Cache   *ResponseCache
	Logf    func(string, ...any)
}

// Register attaches the API routes to the mux. Kept declarative: URLs to
// methods, nothing clever.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api", h.handleOverview)
	mux.HandleFunc("/api/sensors", h.handleSensors)
	mux.HandleFunc("/api/years", h.handleYears)
	mux.HandleFunc("/api/series", h.handleSeries)
}

// handleOverview publishes machine-readable docs so integrators can
// discover the endpoints without reading source.
func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview := struct {
		Endpoints map[string]any `json:"endpoints"`
		Sensors   int            `json:"sensors"`
		TileYears []int          `json:"tileYears"`
	}{
		Sensors:   h.Sensors.Count(),
		TileYears: h.Catalog.Years(),
		Endpoints: map[string]any{
			"sensors": map[string]any{
				"method":      "GET",
				"path":        "/api/sensors",
				"description": "GeoJSON FeatureCollection of all sensors.",
			},
			"years": map[string]any{
				"method":      "GET",
				"path":        "/api/years",
				"description": "Tile pyramid years available under /tiles/<year>/{z}/{x}/{y}.png.",
			},
			"series": map[string]any{
				"method":      "GET",
				"path":        "/api/series",
				"query":       []string{"sensor", "var", "from", "to"},
				"description": "Time series for one sensor. var is soil_moisture or soil_temp; from/to are ISO8601 UTC and optional.",
			},
		},
	}
	h.respondJSON(w, overview)
}

// handleSensors serves the GeoJSON document verbatim. The bytes sit in
// memory already, but the response goes through the cache anyway so
// sensors and years age out on the same TTL.
func (h *Handler) handleSensors(w http.ResponseWriter, r *http.Request) {
	data, err := h.Cache.Get("sensors", func() ([]byte, error) {
		return h.Sensors.Raw, nil
	})
	if err != nil {
		http.Error(w, "sensors unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(data); err != nil && h.Logf != nil {
		h.Logf("sensors response: %v", err)
	}
}

// handleYears reports the tile years behind the dashboard's slider. The
// answer is cached briefly because the catalog may rescan the disk.
func (h *Handler) handleYears(w http.ResponseWriter, r *http.Request) {
	data, err := h.Cache.Get("years", func() ([]byte, error) {
		return json.Marshal(struct {
			Years []int `json:"years"`
		}{Years: h.Catalog.Years()})
	})
	if err != nil {
		http.Error(w, "years unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// reqCounter numbers series requests for the buffered logger.
var reqCounter atomic.Int64

// handleSeries loads one filtered variable for one sensor. Reader
// sentinels map onto client-facing statuses; anything else is a 500
// logged server-side. Detail lines are buffered per request and only
// replayed when the read fails, so a healthy dashboard stays quiet.
func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sensorID := q.Get("sensor")
	variable := q.Get("var")
	if variable == "" {
		variable = sensors.VarSoilMoisture
	}

	from, err := parseWindowTime(q.Get("from"))
	if err != nil {
		http.Error(w, "bad 'from': "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseWindowTime(q.Get("to"))
	if err != nil {
		http.Error(w, "bad 'to': "+err.Error(), http.StatusBadRequest)
		return
	}

	reqID := fmt.Sprintf("S%06d", reqCounter.Add(1))
	logger.Begin(reqID)
	logf := logger.Tagged(reqID, "SERIES")
	logf("sensor=%q var=%q from=%q to=%q", sensorID, variable, q.Get("from"), q.Get("to"))

	// Clone the reader with a per-request logf so its detail lines land
	// in this request's buffer.
	reader := *h.Series
	reader.Logf = logf

	series, err := reader.Read(sensorID, variable, from, to)
	if err != nil {
		logger.FlushError(reqID, err)
	} else {
		logger.Success(reqID, fmt.Sprintf("series %s/%s: %d points, %d skipped",
			sensorID, variable, len(series.Points), series.Skipped))
	}
	switch {
	case err == nil:
	case errors.Is(err, sensors.ErrNoSeries):
		// Documented setup mistake: the operator has not dropped a CSV
		// for this sensor yet.
		http.Error(w, fmt.Sprintf("no CSV found for %q — add data/sensors/%s.csv", sensorID, sensorID),
			http.StatusNotFound)
		return
	case errors.Is(err, sensors.ErrUnknownVariable), errors.Is(err, sensors.ErrBadSensorID):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		http.Error(w, "series read error", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, series)
}

// parseWindowTime reads an optional ISO8601 bound; empty means unbounded.
// The datetime-local widget sends stamps without an offset, so those are
// taken as UTC.
func parseWindowTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", raw)
}

// respondJSON encodes v, logging write problems instead of surfacing
// them — the client is already gone when a write fails.
func (h *Handler) respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil && h.Logf != nil {
		h.Logf("api response: %v", err)
	}
}
