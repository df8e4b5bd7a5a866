package main

import (
	"bytes"
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"soil-sensor-map/pkg/api"
	"soil-sensor-map/pkg/config"
	"soil-sensor-map/pkg/qrshare"
	"soil-sensor-map/pkg/sensors"
	"soil-sensor-map/pkg/tiles"
	"soil-sensor-map/pkg/widget"
)

//go:embed public_html/*
var content embed.FS

var (
	domain         = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
	port           = flag.Int("port", 8050, "Port for running the server")
	dataDir        = flag.String("data-dir", "data", "Root of the flat-file layout (sensors.geojson, sensors/, rasters/)")
	configPath     = flag.String("config", "soil-sensor-map.yaml", "Optional YAML config file")
	defaultLat     = flag.Float64("default-lat", 24.7136, "Default map latitude")
	defaultLng     = flag.Float64("default-lng", 46.6753, "Default map longitude")
	defaultZoom    = flag.Int("default-zoom", 6, "Default map zoom")
	overlayOpacity = flag.Float64("overlay-opacity", 0.85, "Raster overlay opacity (0..1)")
	cacheTTL       = flag.Duration("cache-ttl", 30*time.Second, "API response cache TTL; 0 disables")
	version        = flag.Bool("version", false, "Show the application version")
)

var CompileVersion = "dev"

// withServerHeader wraps any http.Handler, adding a
// "Server: soil-sensor-map/<CompileVersion>" header.
//
// A HEAD request to "/" answers 200 OK with no body so health checks can
// see the service is alive.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "soil-sensor-map/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// applyConfig copies file values into flags the operator did not set on
// the command line: flags win, the file overrides built-in defaults.
func applyConfig(cfg *config.Config) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if cfg.Server.Port != 0 && !set["port"] {
		*port = cfg.Server.Port
	}
	if cfg.Server.Domain != "" && !set["domain"] {
		*domain = cfg.Server.Domain
	}
	if cfg.Data.Dir != "" && !set["data-dir"] {
		*dataDir = cfg.Data.Dir
	}
	if cfg.Map.Lat != nil && !set["default-lat"] {
		*defaultLat = *cfg.Map.Lat
	}
	if cfg.Map.Lng != nil && !set["default-lng"] {
		*defaultLng = *cfg.Map.Lng
	}
	if cfg.Map.Zoom != nil && !set["default-zoom"] {
		*defaultZoom = *cfg.Map.Zoom
	}
	if cfg.Map.OverlayOpacity != nil && !set["overlay-opacity"] {
		*overlayOpacity = *cfg.Map.OverlayOpacity
	}
}

// =====================
// WEB — dashboard page
// =====================

// dashboardData feeds the map.html template.
type dashboardData struct {
	Version        string
	DefaultLat     float64
	DefaultLng     float64
	DefaultZoom    int
	OverlayOpacity float64
	Years          []int
	SensorCount    int
}

// mapHandler renders the dashboard. The template is re-parsed per
// request from the embedded FS; the page is cold enough that clarity
// beats caching the parse.
func mapHandler(store *sensors.Store, catalog *tiles.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		tmpl := template.Must(template.New("map.html").Funcs(template.FuncMap{
			"toJSON": func(data interface{}) (template.JS, error) {
				b, err := json.Marshal(data)
				return template.JS(b), err
			},
		}).ParseFS(content, "public_html/map.html"))

		data := dashboardData{
			Version:        CompileVersion,
			DefaultLat:     *defaultLat,
			DefaultLng:     *defaultLng,
			DefaultZoom:    *defaultZoom,
			OverlayOpacity: *overlayOpacity,
			Years:          catalog.Years(),
			SensorCount:    store.Count(),
		}

		// Render into a buffer so a template error never produces a
		// half-written 200.
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			log.Printf("template: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := buf.WriteTo(w); err != nil {
			log.Printf("dashboard response: %v", err)
		}
	}
}

// =====================
// WEB — embeddable map
// =====================

// embedHandler serves a standalone map page through the widget engine:
// a widget instance is rendered server-side into a fresh document, the
// document is serialized, and the instance is disposed. The shipped page
// carries the view state as data attributes; /static/embed.js replays
// the same lifecycle in the browser against real Leaflet.
func embedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lat := parseFloatDefault(q.Get("lat"), *defaultLat)
		lng := parseFloatDefault(q.Get("lng"), *defaultLng)
		zoom := parseFloatDefault(q.Get("zoom"), float64(*defaultZoom))
		height := q.Get("height")
		if height == "" {
			height = "400px"
		}

		doc := widget.NewDocument()
		container := doc.CreateElement("div")
		container.ID = "map"
		doc.Body().AppendChild(container)

		model := widget.NewHostModel(lat, lng, zoom, height)
		defer model.Close()
		handle, err := widget.Render(model, container)
		if err != nil {
			http.Error(w, "bad view state: "+err.Error(), http.StatusBadRequest)
			return
		}

		view := handle.View()
		vLat, vLng := view.Center()
		base := view.Layers()[0]
		container.SetAttr("data-lat", strconv.FormatFloat(vLat, 'f', -1, 64))
		container.SetAttr("data-lng", strconv.FormatFloat(vLng, 'f', -1, 64))
		container.SetAttr("data-zoom", strconv.FormatFloat(view.Zoom(), 'f', -1, 64))
		container.SetAttr("data-tile-url", base.URLTemplate)
		container.SetAttr("data-max-zoom", strconv.Itoa(base.MaxZoom))
		container.SetAttr("data-attribution", base.Attribution)

		leaflet := doc.CreateElement("script")
		leaflet.SetAttr("src", "https://unpkg.com/leaflet@1.9.4/dist/leaflet.js")
		doc.Body().AppendChild(leaflet)
		boot := doc.CreateElement("script")
		boot.SetAttr("src", "/static/embed.js")
		doc.Body().AppendChild(boot)

		page := doc.HTML()
		// The server-side instance exists only to build the page;
		// dispose it before the response leaves.
		handle.Destroy()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := fmt.Fprint(w, page); err != nil {
			log.Printf("embed response: %v", err)
		}
	}
}

// =====================
// WEB — share QR
// =====================

// qrHandler encodes the current dashboard view as a QR PNG. The link is
// rebuilt from the request host rather than taken from the client, so
// the endpoint cannot be pointed at foreign URLs.
func qrHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		vals := url.Values{}
		for _, key := range []string{"lat", "lng", "zoom", "year", "sensor", "var"} {
			if v := q.Get(key); v != "" {
				vals.Set(key, v)
			}
		}
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		link := scheme + "://" + r.Host + "/"
		if len(vals) > 0 {
			link += "?" + vals.Encode()
		}

		w.Header().Set("Content-Type", "image/png")
		if err := qrshare.EncodePNG(w, link, nil, qrshare.Options{}); err != nil {
			log.Printf("qr: %v", err)
		}
	}
}

func parseFloatDefault(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

// =====================
// MAIN
// =====================

// main parses flags, loads the flat files and routes, then either
// (a) serves plain HTTP on a custom port, or
// (b) if -domain is given, serves ACME-backed HTTPS on 443 plus
//
//	an ACME/redirect helper on 80.
//
// Web-server errors are only logged — the application keeps running.
// A final `select{}` keeps the main goroutine alive.
func main() {
	flag.Parse()

	if *version {
		fmt.Printf("soil-sensor-map version %s\n", CompileVersion)
		return
	}

	cfg, err := config.LoadOptional(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	applyConfig(cfg)

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	sensorsPath := filepath.Join(*dataDir, "sensors.geojson")
	seriesDir := filepath.Join(*dataDir, "sensors")
	rasterRoot := filepath.Join(*dataDir, "rasters")

	store, err := sensors.LoadStore(sensorsPath)
	if err != nil {
		log.Fatalf("sensors: %v", err)
	}
	log.Printf("loaded %d sensors from %s", store.Count(), sensorsPath)

	catalog := tiles.NewCatalog(rasterRoot)
	if years := catalog.Years(); len(years) == 0 {
		log.Printf("no tile pyramids under %s yet; raster overlay disabled until gdal2tiles output appears", rasterRoot)
	} else {
		log.Printf("tile years: %v", years)
	}

	mux := http.NewServeMux()

	staticFS, err := fs.Sub(content, "public_html")
	if err != nil {
		log.Fatalf("static fs: %v", err)
	}
	mux.Handle("/static/", http.StripPrefix("/static/",
		http.FileServer(http.FS(staticFS))))

	apiHandler := &api.Handler{
		Sensors: store,
		Series:  &sensors.Reader{Dir: seriesDir, Logf: log.Printf},
		Catalog: catalog,
		Cache:   api.NewResponseCache(*cacheTTL),
		Logf:    log.Printf,
	}
	apiHandler.Register(mux)

	tileHandler := &tiles.Handler{Catalog: catalog, Logf: log.Printf}
	tileHandler.Register(mux)

	mux.HandleFunc("/", mapHandler(store, catalog))
	mux.HandleFunc("/embed", embedHandler())
	mux.HandleFunc("/qr", qrHandler())

	rootHandler := withServerHeader(mux)

	if *domain != "" {
		go serveWithDomain(*domain, rootHandler)
	} else {
		addr := fmt.Sprintf(":%d", *port)
		go func() {
			log.Printf("HTTP server ➜ http://localhost%s", addr)
			if err := http.ListenAndServe(addr, rootHandler); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	select {}
}
