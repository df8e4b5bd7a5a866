package tiles

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// maxTileZoom caps the z coordinate we are willing to look up. gdal2tiles
// rarely produces pyramids deeper than this, and the cap keeps 2^z math
// comfortably inside int range.
const maxTileZoom = 24

// Handler serves GET /tiles/<year>/{z}/{x}/{y}.png from the catalog's
// pyramids. Logf is optional.
type Handler struct {
	Catalog *Catalog
	Logf    func(string, ...any)
}

// Register attaches the tile route to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/tiles/", h.ServeTile)
}

// coord holds one parsed tile address.
type coord struct {
	year, z, x, y int
}

// parseTilePath splits "/tiles/<year>/<z>/<x>/<y>.png" and validates the
// XYZ addressing: non-negative z capped at maxTileZoom, and x,y inside
// the 2^z grid. Validating here also shuts the door on path traversal —
// every segment must be a plain non-negative integer.
func parseTilePath(path string) (coord, error) {
	rest := strings.TrimPrefix(path, "/tiles/")
	rest = strings.TrimSuffix(rest, ".png")
	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		return coord{}, fmt.Errorf("want /tiles/<year>/<z>/<x>/<y>.png")
	}
	nums := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return coord{}, fmt.Errorf("segment %q is not a non-negative integer", p)
		}
		nums[i] = n
	}
	c := coord{year: nums[0], z: nums[1], x: nums[2], y: nums[3]}
	if c.z > maxTileZoom {
		return coord{}, fmt.Errorf("zoom %d beyond supported maximum %d", c.z, maxTileZoom)
	}
	if limit := 1 << uint(c.z); c.x >= limit || c.y >= limit {
		return coord{}, fmt.Errorf("tile (%d,%d) outside the %d×%d grid at zoom %d",
			c.x, c.y, limit, limit, c.z)
	}
	return c, nil
}

// ServeTile streams one pyramid PNG. A missing tile answers 404 with a
// hint about generating the pyramid, matching the setup-mistake framing:
// absent tiles mean gdal2tiles has not been run for that year yet.
func (h *Handler) ServeTile(w http.ResponseWriter, r *http.Request) {
	c, err := parseTilePath(r.URL.Path)
	if err != nil {
		http.Error(w, "bad tile request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !h.Catalog.Has(c.year) {
		http.Error(w, fmt.Sprintf("no tile pyramid for year %d", c.year), http.StatusNotFound)
		return
	}

	tilePath := filepath.Join(h.Catalog.PyramidDir(c.year),
		strconv.Itoa(c.z), strconv.Itoa(c.x), strconv.Itoa(c.y)+".png")
	f, err := os.Open(tilePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, fmt.Sprintf(
				"Tile not found: %s. Did you run gdal2tiles to create %s?",
				tilePath, h.Catalog.PyramidDir(c.year)), http.StatusNotFound)
			return
		}
		if h.Logf != nil {
			h.Logf("tile %s: %v", tilePath, err)
		}
		http.Error(w, "tile read error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		http.Error(w, "tile read error", http.StatusInternalServerError)
		return
	}
	// Pyramids are regenerated in place during experiments, so disable
	// client caching the way the original served them.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}
