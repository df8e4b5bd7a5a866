package widget

import (
	"html"
	"sort"
	"strings"
	"sync"
)

// StylesheetID is the fixed element id of the shared mapping-library
// stylesheet link. Injection checks this id so N widget instances on the
// same document end up with exactly one link element.
const StylesheetID = "leaflet-css-anywidget"

// stylesheetURL is where the mapping library's CSS lives. The link is
// injected once per document and never torn down; it persists for the
// life of the host page.
const stylesheetURL = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css"

// Document models the host page a widget renders into: a head for
// shared resources and a body that owns the element tree. The host
// event loop is nominally single threaded, but Go callers may render
// widgets from several goroutines, so the check-then-act around
// stylesheet injection is guarded by a mutex rather than left bare.
type Document struct {
	mu   sync.Mutex
	head []*Element
	body *Element
}

// NewDocument creates an empty document with a body ready to receive
// containers.
func NewDocument() *Document {
	doc := &Document{}
	doc.body = &Element{Tag: "body", doc: doc}
	return doc
}

// Body returns the document's body element.
func (d *Document) Body() *Element { return d.body }

// CreateElement makes a detached element bound to this document.
// It carries no size until the host lays it out via SetSize.
func (d *Document) CreateElement(tag string) *Element {
	return &Element{Tag: tag, doc: d}
}

// EnsureStylesheet injects the mapping library's stylesheet link into the
// document head unless a link with StylesheetID is already present.
// Safe to call once per widget instance; only the first call inserts.
func (d *Document) EnsureStylesheet() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range d.head {
		if el.ID == StylesheetID {
			return
		}
	}
	link := &Element{
		Tag: "link",
		ID:  StylesheetID,
		doc: d,
		Attrs: map[string]string{
			"rel":  "stylesheet",
			"href": stylesheetURL,
		},
	}
	d.head = append(d.head, link)
}

// HeadElementByID reports the head element carrying the given id, or nil.
func (d *Document) HeadElementByID(id string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range d.head {
		if el.ID == id {
			return el
		}
	}
	return nil
}

// HTML serializes the whole document. The embed route uses this to ship
// a rendered widget page to the browser.
func (d *Document) HTML() string {
	d.mu.Lock()
	head := append([]*Element(nil), d.head...)
	d.mu.Unlock()

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(`<meta charset="utf-8">` + "\n")
	for _, el := range head {
		el.appendHTML(&b)
		b.WriteString("\n")
	}
	b.WriteString("</head>\n")
	d.body.appendHTML(&b)
	b.WriteString("\n</html>\n")
	return b.String()
}

// Element is a minimal DOM-like node: tag, id, attributes, inline style,
// children, and a layout size the host assigns. It is just enough surface
// for a map widget to style its container, append a rendering surface,
// and watch for size changes.
type Element struct {
	Tag   string
	ID    string
	Attrs map[string]string

	doc *Document

	mu       sync.Mutex
	style    map[string]string
	children []*Element
	text     string
	width    int
	height   int
	watchers []*ResizeWatcher
}

// Document returns the document this element belongs to, or nil when the
// element is detached. Rendering into a detached container fails because
// there is no head to hold the shared stylesheet.
func (e *Element) Document() *Document { return e.doc }

// SetStyle sets one inline style property.
func (e *Element) SetStyle(prop, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.style == nil {
		e.style = make(map[string]string)
	}
	e.style[prop] = value
}

// Style reads one inline style property; empty when unset.
func (e *Element) Style(prop string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.style[prop]
}

// SetAttr sets one attribute.
func (e *Element) SetAttr(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[name] = value
}

// SetText replaces the element's text content.
func (e *Element) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
}

// AppendChild attaches a child node.
func (e *Element) AppendChild(child *Element) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.children = append(e.children, child)
}

// RemoveChild detaches a child node; unknown children are ignored.
func (e *Element) RemoveChild(child *Element) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range e.children {
		if c == child {
			e.children = append(e.children[:i], e.children[i+1:]...)
			return
		}
	}
}

// Children returns a snapshot of the element's children.
func (e *Element) Children() []*Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Element(nil), e.children...)
}

// Size reports the element's current layout box.
func (e *Element) Size() (w, h int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width, e.height
}

// SetSize records a new layout box and notifies resize watchers, standing
// in for the platform layout engine. Watchers run synchronously in call
// order, so a caller observes all invalidations once SetSize returns.
func (e *Element) SetSize(w, h int) {
	e.mu.Lock()
	e.width, e.height = w, h
	watchers := append([]*ResizeWatcher(nil), e.watchers...)
	e.mu.Unlock()

	for _, rw := range watchers {
		rw.notify(w, h)
	}
}

// ObserveResize registers a callback fired on every size change of this
// element. The returned watcher must be disconnected on teardown; a
// watcher left connected keeps firing across re-renders.
func (e *Element) ObserveResize(fn func(w, h int)) *ResizeWatcher {
	rw := &ResizeWatcher{el: e, fn: fn}
	e.mu.Lock()
	e.watchers = append(e.watchers, rw)
	e.mu.Unlock()
	return rw
}

func (e *Element) removeWatcher(rw *ResizeWatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, w := range e.watchers {
		if w == rw {
			e.watchers = append(e.watchers[:i], e.watchers[i+1:]...)
			return
		}
	}
}

// voidTags are serialized without a closing tag.
var voidTags = map[string]bool{"link": true, "meta": true, "img": true, "br": true}

// appendHTML writes the element and its subtree as HTML. Attributes are
// emitted in sorted order so serialization is deterministic.
func (e *Element) appendHTML(b *strings.Builder) {
	e.mu.Lock()
	style := make([]string, 0, len(e.style))
	for k, v := range e.style {
		style = append(style, k+":"+v)
	}
	attrs := make(map[string]string, len(e.Attrs))
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	children := append([]*Element(nil), e.children...)
	text := e.text
	e.mu.Unlock()

	b.WriteString("<" + e.Tag)
	if e.ID != "" {
		b.WriteString(` id="` + html.EscapeString(e.ID) + `"`)
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" " + k + `="` + html.EscapeString(attrs[k]) + `"`)
	}
	if len(style) > 0 {
		sort.Strings(style)
		b.WriteString(` style="` + html.EscapeString(strings.Join(style, ";")) + `"`)
	}
	b.WriteString(">")
	if voidTags[e.Tag] {
		return
	}
	if e.Tag == "script" {
		// Script bodies carry JSON or code, not text to escape.
		b.WriteString(text)
	} else if text != "" {
		b.WriteString(html.EscapeString(text))
	}
	for _, c := range children {
		c.appendHTML(b)
	}
	b.WriteString("</" + e.Tag + ">")
}

// ResizeWatcher delivers container size changes to one callback until
// disconnected. Disconnect is idempotent; once it returns, no further
// callbacks fire.
type ResizeWatcher struct {
	el *Element
	fn func(w, h int)

	mu           sync.Mutex
	disconnected bool
}

func (rw *ResizeWatcher) notify(w, h int) {
	rw.mu.Lock()
	dead := rw.disconnected
	rw.mu.Unlock()
	if dead {
		return
	}
	rw.fn(w, h)
}

// Disconnect stops delivery and unregisters the watcher from its element.
func (rw *ResizeWatcher) Disconnect() {
	rw.mu.Lock()
	if rw.disconnected {
		rw.mu.Unlock()
		return
	}
	rw.disconnected = true
	rw.mu.Unlock()
	rw.el.removeWatcher(rw)
}
