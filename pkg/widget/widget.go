// Package widget implements an embeddable, resizable map surface with an
// explicit lifecycle: Render builds a map view inside a host-provided
// container and keeps it synchronized with an external model; the
// returned handle releases every resource on Destroy. The host owns the
// model and the container, the widget owns the view, the resize watcher
// and the model subscription.
package widget

import (
	"fmt"
	"sync"
)

// Container styling applied on every render. Fixed policy, not a
// negotiable default: embeds look the same in every host panel.
const (
	containerRadius   = "8px"
	containerOverflow = "hidden"
)

// Handle is the disposal handle returned by Render. Destroy is
// idempotent; the second and later calls are no-ops.
type Handle struct {
	once    sync.Once
	watcher *ResizeWatcher
	sub     Subscription
	view    *MapView
}

// View exposes the owned map view, mainly so hosts can read back state
// and serialize embeds.
func (h *Handle) View() *MapView { return h.view }

// Destroy releases everything the render acquired. The resize watcher is
// disconnected first so no further size invalidations can reach the view,
// then the model subscription is cancelled, then the view itself is
// closed. Closing the view before silencing the watcher would risk an
// invalidation landing on a disposed map.
func (h *Handle) Destroy() {
	h.once.Do(func() {
		h.watcher.Disconnect()
		h.sub.Cancel()
		h.view.Close()
	})
}

// Render builds one map widget instance inside container, driven by
// model. The container must be empty and attached to a document; Render
// does not guard against a second render into the same container — the
// host disposes the previous instance first.
//
// Side effects, in order: the shared stylesheet link is ensured in the
// document head; the container is sized to the model height and full
// width with rounded corners and clipped overflow; a map view is created
// at the model's (center, zoom) with one OSM base tile layer; a resize
// watcher begins invalidating the view's size cache on container size
// changes; a model subscription applies coalesced center/zoom changes as
// single atomic view updates.
//
// Malformed center/zoom values are not pre-validated here; the view
// layer rejects them and Render returns its error unchanged.
func Render(model Model, container *Element) (*Handle, error) {
	doc := container.Document()
	if doc == nil {
		return nil, fmt.Errorf("widget: container is not attached to a document")
	}
	doc.EnsureStylesheet()

	container.SetStyle("height", model.Height())
	container.SetStyle("width", "100%")
	container.SetStyle("border-radius", containerRadius)
	container.SetStyle("overflow", containerOverflow)

	lat, lng := model.Center()
	view, err := NewMapView(container, lat, lng, model.Zoom())
	if err != nil {
		return nil, err
	}
	view.AddTileLayer(OSMBaseLayer())

	watcher := container.ObserveResize(func(_, _ int) {
		view.InvalidateSize()
	})

	// Apply the delivered snapshot in one SetView call; center+zoom
	// arrive as a single coalesced event. A malformed update is dropped
	// by the view's own validation.
	sub := model.OnViewChange(func(lat, lng, zoom float64) {
		_ = view.SetView(lat, lng, zoom)
	})

	return &Handle{watcher: watcher, sub: sub, view: view}, nil
}
