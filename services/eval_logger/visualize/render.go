// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visualize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/png"
)

// ============================================================================
// Raster helpers
// ============================================================================
//
// All compositing works on *image.RGBA. Camera frames arrive as arbitrary
// image.Image values (typically decoded PNG) and are normalized on resize.

// resizeImage scales src to the given size with nearest-neighbor sampling.
// Eval frames are thumbnails for dashboards, not archival data, so speed
// beats filtering quality here.
func resizeImage(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return dst
	}
	for y := 0; y < height; y++ {
		sy := sb.Min.Y + y*sb.Dy()/height
		for x := 0; x < width; x++ {
			sx := sb.Min.X + x*sb.Dx()/width
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

// hconcat joins images left to right. Heights may differ; the canvas takes
// the tallest and shorter images are top-aligned over white.
func hconcat(imgs []*image.RGBA) *image.RGBA {
	totalW, maxH := 0, 0
	for _, img := range imgs {
		totalW += img.Bounds().Dx()
		if h := img.Bounds().Dy(); h > maxH {
			maxH = h
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, totalW, maxH))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	x := 0
	for _, img := range imgs {
		r := image.Rect(x, 0, x+img.Bounds().Dx(), img.Bounds().Dy())
		draw.Draw(dst, r, img, img.Bounds().Min, draw.Src)
		x += img.Bounds().Dx()
	}
	return dst
}

// vconcat joins images top to bottom, left-aligned over white.
func vconcat(imgs []*image.RGBA) *image.RGBA {
	maxW, totalH := 0, 0
	for _, img := range imgs {
		totalH += img.Bounds().Dy()
		if w := img.Bounds().Dx(); w > maxW {
			maxW = w
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxW, totalH))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		r := image.Rect(0, y, img.Bounds().Dx(), y+img.Bounds().Dy())
		draw.Draw(dst, r, img, img.Bounds().Min, draw.Src)
		y += img.Bounds().Dy()
	}
	return dst
}

// ============================================================================
// Success-rate line plot
// ============================================================================

var (
	plotAxisColor   = color.RGBA{64, 64, 64, 255}
	plotLineColor   = color.RGBA{31, 119, 180, 255}
	plotMarkerColor = color.RGBA{214, 39, 40, 255}
)

// plotSuccessRates renders a minimal line chart of success rates on a
// white canvas: y in [0,1], x spanning the plotted episode range, round
// markers on each point. No text labels; the episode range travels in the
// artifact key alongside the image.
func plotSuccessRates(rates []float64, width, height int) *image.RGBA {
	const margin = 12

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	plotW := width - 2*margin
	plotH := height - 2*margin
	if plotW <= 0 || plotH <= 0 || len(rates) == 0 {
		return dst
	}

	// Axes: left and bottom edges of the plot area.
	for y := margin; y <= margin+plotH; y++ {
		dst.SetRGBA(margin, y, plotAxisColor)
	}
	for x := margin; x <= margin+plotW; x++ {
		dst.SetRGBA(x, margin+plotH, plotAxisColor)
	}

	toXY := func(i int, v float64) (int, int) {
		x := margin
		if len(rates) > 1 {
			x += i * plotW / (len(rates) - 1)
		} else {
			x += plotW / 2
		}
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		y := margin + plotH - int(v*float64(plotH))
		return x, y
	}

	prevX, prevY := 0, 0
	for i, v := range rates {
		x, y := toXY(i, v)
		if i > 0 {
			drawLine(dst, prevX, prevY, x, y, plotLineColor)
		}
		drawMarker(dst, x, y, plotMarkerColor)
		prevX, prevY = x, y
	}
	return dst
}

// drawLine rasterizes a segment with the integer Bresenham walk.
func drawLine(dst *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		dst.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawMarker(dst *image.RGBA, cx, cy int, c color.RGBA) {
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			if dx*dx+dy*dy <= 4 {
				dst.SetRGBA(cx+dx, cy+dy, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ============================================================================
// Encoders
// ============================================================================

// encodePNG renders an image to PNG bytes.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeGIF packs frames into an animated GIF at the given fps. GIF delay
// resolution is centiseconds, so fps above 100 clamps to the minimum delay.
func encodeGIF(frames []*image.RGBA, fps int) ([]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("encoding gif: no frames")
	}
	delay := 100 / fps
	if delay < 1 {
		delay = 1
	}

	anim := &gif.GIF{}
	for _, frame := range frames {
		pal := image.NewPaletted(frame.Bounds(), gifPalette)
		draw.FloydSteinberg.Draw(pal, frame.Bounds(), frame, image.Point{})
		anim.Image = append(anim.Image, pal)
		anim.Delay = append(anim.Delay, delay)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("encoding gif: %w", err)
	}
	return buf.Bytes(), nil
}

// gifPalette is a 6x6x6 color cube plus a grayscale ramp, enough for low
// quality preview video of camera frames.
var gifPalette = buildGIFPalette()

func buildGIFPalette() color.Palette {
	pal := make(color.Palette, 0, 256)
	for r := 0; r < 6; r++ {
		for g := 0; g < 6; g++ {
			for b := 0; b < 6; b++ {
				pal = append(pal, color.RGBA{uint8(r * 51), uint8(g * 51), uint8(b * 51), 255})
			}
		}
	}
	for i := 0; i < 24; i++ {
		v := uint8(i * 255 / 23)
		pal = append(pal, color.RGBA{v, v, v, 255})
	}
	return pal
}
