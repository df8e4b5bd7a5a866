package widget

import (
	"fmt"
	"sync"
)

// Base tile layer constants for the public OpenStreetMap raster service.
// The attribution string is required by the provider's usage policy.
const (
	OSMTileURL     = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	OSMMaxZoom     = 19
	OSMAttribution = "© OpenStreetMap contributors"
)

// TileLayer describes one raster layer: an XYZ URL template, a zoom cap
// and the attribution text composited into the map's corner.
type TileLayer struct {
	URLTemplate string
	MaxZoom     int
	Attribution string
	Opacity     float64
}

// OSMBaseLayer returns the standard base layer every widget attaches.
func OSMBaseLayer() TileLayer {
	return TileLayer{
		URLTemplate: OSMTileURL,
		MaxZoom:     OSMMaxZoom,
		Attribution: OSMAttribution,
		Opacity:     1,
	}
}

// MapView is the owned rendering resource behind one widget instance: a
// surface element appended to the container, the (center, zoom) view
// state, the attached tile layers, and a cached measure of the container
// box. Exactly one MapView exists per rendered container; the widget
// creates it on render and closes it on disposal.
type MapView struct {
	container *Element
	surface   *Element

	mu         sync.Mutex
	lat, lng   float64
	zoom       float64
	layers     []TileLayer
	cacheW     int
	cacheH     int
	updates    int
	measures   int
	closed     bool
	closedOnce sync.Once
}

// NewMapView attaches a fresh rendering surface to the container and
// positions the view. Coordinate validation lives here, at the rendering
// layer, mirroring how a mapping library rejects malformed LatLng values
// itself; callers above do not pre-validate.
func NewMapView(container *Element, lat, lng, zoom float64) (*MapView, error) {
	if err := validateView(lat, lng, zoom); err != nil {
		return nil, err
	}
	doc := container.Document()
	if doc == nil {
		return nil, fmt.Errorf("map view: container is detached from any document")
	}
	surface := doc.CreateElement("div")
	surface.SetAttr("class", "map-surface")
	container.AppendChild(surface)

	v := &MapView{
		container: container,
		surface:   surface,
		lat:       lat,
		lng:       lng,
		zoom:      zoom,
	}
	w, h := container.Size()
	v.cacheW, v.cacheH = w, h
	return v, nil
}

func validateView(lat, lng, zoom float64) error {
	if lat != lat || lng != lng || zoom != zoom { // NaN
		return fmt.Errorf("map view: non-numeric view state")
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("map view: latitude %v out of range [-90, 90]", lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("map view: longitude %v out of range [-180, 180]", lng)
	}
	if zoom < 0 {
		return fmt.Errorf("map view: negative zoom %v", zoom)
	}
	return nil
}

// AddTileLayer attaches one raster layer.
func (v *MapView) AddTileLayer(l TileLayer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.layers = append(v.layers, l)
}

// Layers returns a snapshot of the attached tile layers.
func (v *MapView) Layers() []TileLayer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]TileLayer(nil), v.layers...)
}

// Center reports the current view center.
func (v *MapView) Center() (lat, lng float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lat, v.lng
}

// Zoom reports the current zoom level.
func (v *MapView) Zoom() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom
}

// SetView re-centers and re-zooms in one step: both values change under
// one critical section and the update counter moves once, so no observer
// can see a stale half-applied frame.
func (v *MapView) SetView(lat, lng, zoom float64) error {
	if err := validateView(lat, lng, zoom); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return fmt.Errorf("map view: set view on closed view")
	}
	v.lat, v.lng, v.zoom = lat, lng, zoom
	v.updates++
	return nil
}

// Updates reports how many times SetView has been applied. Hosts use it
// to verify that a batched center+zoom notification produced a single
// view update.
func (v *MapView) Updates() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.updates
}

// InvalidateSize re-measures the container and refreshes the size cache
// so rendering stays crisp after a layout change. Calling it on a closed
// view is a no-op rather than a fault; the widget still silences the
// resize watcher before close so this path should stay cold.
func (v *MapView) InvalidateSize() {
	w, h := v.container.Size()
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.cacheW, v.cacheH = w, h
	v.measures++
}

// CachedSize reports the last measured container box.
func (v *MapView) CachedSize() (w, h int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cacheW, v.cacheH
}

// Invalidations reports how many times the size cache was rebuilt.
func (v *MapView) Invalidations() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.measures
}

// Closed reports whether the view has been torn down.
func (v *MapView) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Close tears the view down: tile layers are dropped and the surface is
// detached from the container. Idempotent.
func (v *MapView) Close() {
	v.closedOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.layers = nil
		v.mu.Unlock()
		v.container.RemoveChild(v.surface)
	})
}
