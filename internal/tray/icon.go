package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const iconSize = 32

var (
	iconOnce sync.Once
	iconPNG  []byte
)

// Icon returns a 32x32 PNG of a camera.
func Icon() []byte {
	iconOnce.Do(func() {
		iconPNG = drawIcon()
	})
	return iconPNG
}

func drawIcon() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	body := color.NRGBA{R: 0x2d, G: 0x6c, B: 0xdf, A: 0xff}
	lens := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	// body with a viewfinder bump
	fill(img, image.Rect(3, 10, 29, 27), body)
	fill(img, image.Rect(10, 6, 20, 10), body)

	cx, cy := 16, 18
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := x-cx, y-cy
			d := dx*dx + dy*dy
			switch {
			case d <= 9:
				img.SetNRGBA(x, y, body)
			case d <= 36:
				img.SetNRGBA(x, y, lens)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}
