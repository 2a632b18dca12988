// Package imaging holds the pixel-level helpers used by the navigator: screenshot
// decoding, the average hash used for stuck detection, the blue-link ratio used
// as a candidate diagnostic, and the bbox overlay written to the trace.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

const hashSize = 8

// Decode parses a PNG screenshot.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty screenshot")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// Dimensions reads the width and height from the PNG header without decoding pixels.
func Dimensions(data []byte) (int, int, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read screenshot header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// AverageHash reduces img to an 8x8 grayscale thumbnail and sets one bit per pixel
// at or above the mean brightness. The result is 16 lowercase hex digits.
func AverageHash(img image.Image) string {
	thumb := image.NewGray(image.Rect(0, 0, hashSize, hashSize))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)

	var sum int
	for _, p := range thumb.Pix {
		sum += int(p)
	}
	n := len(thumb.Pix)

	var hash uint64
	for i, p := range thumb.Pix {
		// p >= sum/n without integer truncation.
		if int(p)*n >= sum {
			hash |= 1 << uint(n-1-i)
		}
	}
	return fmt.Sprintf("%016x", hash)
}

// HashPNG decodes data and returns its average hash.
func HashPNG(data []byte) (string, error) {
	img, err := Decode(data)
	if err != nil {
		return "", err
	}
	return AverageHash(img), nil
}

// ClampBBox limits b to the [0,w]x[0,h] canvas.
func ClampBBox(b schemas.BBox, w, h int) schemas.BBox {
	return schemas.BBox{clamp(b[0], 0, w), clamp(b[1], 0, h), clamp(b[2], 0, w), clamp(b[3], 0, h)}
}

// BlueRatio returns the share of pixels inside b that look like GitHub link blue.
// Regions smaller than 5px in either direction yield 0.
func BlueRatio(img image.Image, b schemas.BBox) float64 {
	bounds := img.Bounds()
	c := ClampBBox(b, bounds.Dx(), bounds.Dy())
	if c.Width() < 5 || c.Height() < 5 {
		return 0
	}

	var blueish, total int
	for y := c[1]; y < c[3]; y++ {
		for x := c[0]; x < c[2]; x++ {
			r, g, bl := rgb8(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			if bl > g+30 && bl > r+40 && bl > 90 {
				blueish++
			}
			total++
		}
	}
	return float64(blueish) / float64(total)
}

// BlueThreshold is the ratio above which a region reads as a link. Short boxes
// hold a single line of text, so they need fewer blue pixels.
func BlueThreshold(b schemas.BBox) float64 {
	if b.Height() <= 40 {
		return 0.006
	}
	return 0.008
}

// DrawBBox returns a copy of the PNG with a 2px green outline around b.
func DrawBBox(data []byte, b schemas.BBox) ([]byte, error) {
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	outline := image.NewUniform(color.RGBA{R: 0, G: 255, B: 102, A: 255})
	c := ClampBBox(b, bounds.Dx(), bounds.Dy())
	const stroke = 2
	edges := []image.Rectangle{
		image.Rect(c[0], c[1], c[2], c[1]+stroke),
		image.Rect(c[0], c[3]-stroke, c[2], c[3]),
		image.Rect(c[0], c[1], c[0]+stroke, c[3]),
		image.Rect(c[2]-stroke, c[1], c[2], c[3]),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), outline, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}

func rgb8(c color.Color) (int, int, int) {
	r, g, b, _ := c.RGBA()
	return int(r >> 8), int(g >> 8), int(b >> 8)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
