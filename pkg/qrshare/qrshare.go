// Package qrshare renders share links as QR PNGs with a water-drop mark
// in the center, so a dashboard view (center, zoom, year) can be moved
// onto a phone in the field. ECC level H leaves enough redundancy for
// the center box to cover modules without breaking scans.
package qrshare

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	qrcode "github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
)

// Options controls rendering. Zero values pick the defaults below.
type Options struct {
	// TargetPx is the output edge length.
	TargetPx int
	// Fg and Bg are module and background colors.
	Fg color.RGBA
	Bg color.RGBA
	// Mark is the color of the fallback water-drop mark.
	Mark color.RGBA
	// MarkBoxFrac is the center box edge as a fraction of the image
	// edge; clamped to [0.18, 0.30] so scans keep working.
	MarkBoxFrac float64
	// MarkPadding insets a supplied logo PNG inside the box.
	MarkPadding int
}

func (o *Options) defaults() {
	if o.TargetPx <= 0 {
		o.TargetPx = 1024
	}
	if o.Fg == (color.RGBA{}) {
		o.Fg = color.RGBA{0x1b, 0x4d, 0x2e, 0xff} // dark leaf green
	}
	if o.Bg.A == 0 {
		o.Bg = color.RGBA{0xff, 0xff, 0xff, 0xff}
	}
	if o.Mark == (color.RGBA{}) {
		o.Mark = color.RGBA{0x1e, 0x6f, 0xba, 0xff} // moisture blue
	}
	if o.MarkBoxFrac <= 0 {
		o.MarkBoxFrac = 0.24
	}
	if o.MarkBoxFrac < 0.18 {
		o.MarkBoxFrac = 0.18
	}
	if o.MarkBoxFrac > 0.30 {
		o.MarkBoxFrac = 0.30
	}
	if o.MarkPadding < 0 {
		o.MarkPadding = 0
	}
}

// EncodePNG writes the QR for url. When logoPNG is non-nil it is decoded
// and scaled into the center box; otherwise the water-drop mark is drawn.
func EncodePNG(w io.Writer, url string, logoPNG []byte, opt Options) error {
	opt.defaults()

	q, err := qrcode.New(url, qrcode.Highest)
	if err != nil {
		return fmt.Errorf("qr encode: %w", err)
	}
	q.ForegroundColor = opt.Fg
	q.BackgroundColor = opt.Bg

	base := q.Image(opt.TargetPx)
	img := image.NewRGBA(base.Bounds())
	draw.Draw(img, img.Bounds(), base, base.Bounds().Min, draw.Src)

	// Clear the center box.
	edge := img.Bounds().Dx()
	box := int(float64(edge) * opt.MarkBoxFrac)
	x0 := (edge - box) / 2
	boxRect := image.Rect(x0, x0, x0+box, x0+box)
	draw.Draw(img, boxRect, image.NewUniform(opt.Bg), image.Point{}, draw.Src)

	if logoPNG != nil {
		logo, err := png.Decode(bytes.NewReader(logoPNG))
		if err != nil {
			return fmt.Errorf("logo decode: %w", err)
		}
		inner := boxRect.Inset(opt.MarkPadding)
		// CatmullRom keeps small logos readable when scaled up.
		xdraw.CatmullRom.Scale(img, inner, logo, logo.Bounds(), xdraw.Over, nil)
	} else {
		drawDrop(img, boxRect, opt.Mark)
	}

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("png encode: %w", err)
	}
	return nil
}

// drawDrop paints a simple water drop: a filled circle with a triangular
// tip above it, all inside rect.
func drawDrop(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	w := rect.Dx()
	cx := rect.Min.X + w/2
	r := w * 3 / 10
	cy := rect.Max.Y - r - w/10

	// Circle body.
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}
	// Tip: width shrinks linearly toward the top of the rect.
	tipTop := rect.Min.Y + w/10
	for y := tipTop; y <= cy; y++ {
		half := r * (y - tipTop) / (cy - tipTop)
		for x := cx - half; x <= cx+half; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}
