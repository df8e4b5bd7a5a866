package widget

import "sync"

// Model is the host-owned state a rendered map stays synchronized with.
// The widget only reads and subscribes; it never owns or mutates the
// model. Center and zoom are observable, height is static for the life
// of the instance.
type Model interface {
	// Center returns the current latitude and longitude in degrees.
	Center() (lat, lng float64)
	// Zoom returns the current zoom level.
	Zoom() float64
	// Height returns the CSS length applied to the container.
	Height() string
	// OnViewChange registers a callback for coalesced center/zoom
	// change notifications. The callback receives the new state as a
	// snapshot, so a center+zoom update arrives as one event and the
	// callback never has to call back into the model from inside a
	// notification. The returned subscription is owned by the caller
	// and must be cancelled at teardown or the callback keeps firing.
	OnViewChange(fn func(lat, lng, zoom float64)) Subscription
}

// Subscription is the owned handle returned at registration time and
// consumed at teardown. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// viewState is the observable part of the model.
type viewState struct {
	lat, lng float64
	zoom     float64
}

type modelSub struct {
	m  *HostModel
	fn func(lat, lng, zoom float64)
}

// Cancel deregisters the callback. Safe to call more than once; the
// owning goroutine simply finds nothing to remove the second time.
// After the model is closed Cancel returns immediately — there is no
// loop left that could fire the callback anyway.
func (s *modelSub) Cancel() {
	reply := make(chan struct{})
	select {
	case s.m.unsubscribe <- subRequest{sub: s, done: reply}:
		<-reply
	case <-s.m.quit:
	}
}

type subRequest struct {
	sub  *modelSub
	done chan struct{}
}

type setRequest struct {
	state viewState
	done  chan struct{}
}

// HostModel is a concrete Model for hosts written in Go: tests, the
// embed route, and any process that drives a widget programmatically.
// One goroutine owns the state and the subscriber list, so reads,
// updates and notification delivery need no locks and arrive in the
// order the host emits them. Close stops the goroutine once the host is
// done with the model.
type HostModel struct {
	height string

	gets        chan chan viewState
	sets        chan setRequest
	subscribe   chan subRequest
	unsubscribe chan subRequest
	quit        chan struct{}
	quitOnce    sync.Once
}

// NewHostModel constructs a model at the given view state. Height is
// fixed at construction, matching the attribute being static in the
// host runtime.
func NewHostModel(lat, lng, zoom float64, height string) *HostModel {
	m := &HostModel{
		height:      height,
		gets:        make(chan chan viewState),
		sets:        make(chan setRequest),
		subscribe:   make(chan subRequest),
		unsubscribe: make(chan subRequest),
		quit:        make(chan struct{}),
	}
	go m.run(viewState{lat: lat, lng: lng, zoom: zoom})
	return m
}

// run owns the model state until Close. Subscribers are notified
// synchronously inside the loop with the updated state passed by value,
// so SetView returns only after every callback has observed the new
// state — the host sees one atomic update per change — and a callback
// never routes a request back to the goroutine that is invoking it.
func (m *HostModel) run(state viewState) {
	var subs []*modelSub
	for {
		select {
		case reply := <-m.gets:
			reply <- state
		case req := <-m.sets:
			state = req.state
			for _, s := range subs {
				s.fn(state.lat, state.lng, state.zoom)
			}
			close(req.done)
		case req := <-m.subscribe:
			subs = append(subs, req.sub)
			close(req.done)
		case req := <-m.unsubscribe:
			for i, s := range subs {
				if s == req.sub {
					subs = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(req.done)
		case <-m.quit:
			return
		}
	}
}

func (m *HostModel) state() viewState {
	reply := make(chan viewState)
	select {
	case m.gets <- reply:
		return <-reply
	case <-m.quit:
		return viewState{}
	}
}

// Center implements Model.
func (m *HostModel) Center() (lat, lng float64) {
	s := m.state()
	return s.lat, s.lng
}

// Zoom implements Model.
func (m *HostModel) Zoom() float64 { return m.state().zoom }

// Height implements Model.
func (m *HostModel) Height() string { return m.height }

// SetView updates center and zoom together and delivers exactly one
// coalesced notification to every subscriber before returning. Calling
// SetView on a closed model is a no-op.
func (m *HostModel) SetView(lat, lng, zoom float64) {
	done := make(chan struct{})
	select {
	case m.sets <- setRequest{state: viewState{lat: lat, lng: lng, zoom: zoom}, done: done}:
		<-done
	case <-m.quit:
	}
}

// OnViewChange implements Model.
func (m *HostModel) OnViewChange(fn func(lat, lng, zoom float64)) Subscription {
	sub := &modelSub{m: m, fn: fn}
	done := make(chan struct{})
	select {
	case m.subscribe <- subRequest{sub: sub, done: done}:
		<-done
	case <-m.quit:
	}
	return sub
}

// Close stops the owning goroutine. Idempotent; pending and later calls
// against the model unblock and become no-ops. Hosts that create models
// per request (the embed route) must Close them or each one leaks a
// goroutine.
func (m *HostModel) Close() {
	m.quitOnce.Do(func() { close(m.quit) })
}
