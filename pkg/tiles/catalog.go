// Package tiles serves per-year XYZ raster tile pyramids from flat
// folders on disk. Pyramids are produced offline (gdal2tiles or similar)
// under <root>/tiles_<year>/{z}/{x}/{y}.png; this package only discovers
// the years and hands the PNG files out over HTTP.
package tiles

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// pyramidPrefix is the naming rule for per-year tile folders.
const pyramidPrefix = "tiles_"

// Catalog tracks which tile years exist on disk. One goroutine owns the
// year set; lookups and rescans go through channels so readers never race
// a rescan. The goroutine lives for the process lifetime.
type Catalog struct {
	root string

	years  chan chan []int
	has    chan hasRequest
	rescan chan chan error
}

type hasRequest struct {
	year  int
	reply chan bool
}

// NewCatalog scans root once and starts the owning goroutine. A missing
// or empty root is not an error: the dashboard simply has no raster
// overlay until pyramids appear and Rescan is called.
func NewCatalog(root string) *Catalog {
	c := &Catalog{
		root:   root,
		years:  make(chan chan []int),
		has:    make(chan hasRequest),
		rescan: make(chan chan error),
	}
	initial, _ := scanYears(root)
	go c.run(initial)
	return c
}

// Root returns the raster root directory the catalog watches.
func (c *Catalog) Root() string { return c.root }

func (c *Catalog) run(years []int) {
	for {
		select {
		case reply := <-c.years:
			reply <- append([]int(nil), years...)
		case req := <-c.has:
			found := false
			for _, y := range years {
				if y == req.year {
					found = true
					break
				}
			}
			req.reply <- found
		case reply := <-c.rescan:
			fresh, err := scanYears(c.root)
			if err == nil {
				years = fresh
			}
			reply <- err
		}
	}
}

// Years returns the available tile years in ascending order.
func (c *Catalog) Years() []int {
	reply := make(chan []int)
	c.years <- reply
	return <-reply
}

// Has reports whether a pyramid for the given year exists.
func (c *Catalog) Has(year int) bool {
	reply := make(chan bool)
	c.has <- hasRequest{year: year, reply: reply}
	return <-reply
}

// Rescan re-reads the raster root, picking up pyramids generated while
// the server was running.
func (c *Catalog) Rescan() error {
	reply := make(chan error)
	c.rescan <- reply
	return <-reply
}

// PyramidDir returns the on-disk folder for one year's pyramid.
func (c *Catalog) PyramidDir(year int) string {
	return filepath.Join(c.root, pyramidPrefix+strconv.Itoa(year))
}

// scanYears lists tiles_<year> directories under root. Entries that do
// not follow the naming rule are skipped silently; stray files in the
// raster root are none of our business.
func scanYears(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var years []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), pyramidPrefix) {
			continue
		}
		year, err := strconv.Atoi(strings.TrimPrefix(e.Name(), pyramidPrefix))
		if err != nil || year <= 0 {
			continue
		}
		years = append(years, year)
	}
	sort.Ints(years)
	return years, nil
}
