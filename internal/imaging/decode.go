// Package imaging decodes tile images and synthesizes placeholder and
// approximated tile content.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"tileview/internal/tile"
)

// Decoder turns encoded tile bytes into an owned RGBA pixel buffer.
type Decoder interface {
	Decode(data []byte) (*image.RGBA, error)
	DecodeFile(path string) (*image.RGBA, error)
}

// GoDecoder decodes with the image package registry: png, jpeg, gif, plus
// webp, tiff and bmp from golang.org/x/image.
type GoDecoder struct{}

var _ Decoder = GoDecoder{}

func (GoDecoder) Decode(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &tile.DecodeError{Err: err}
	}
	return ToRGBA(img), nil
}

func (d GoDecoder) DecodeFile(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &tile.DiskIOError{Op: "read", Path: path, Err: err}
	}
	return d.Decode(data)
}

// ToRGBA returns img as an *image.RGBA with its origin at (0, 0), copying
// when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// MemUsage estimates the resident size of a decoded buffer in bytes.
func MemUsage(img *image.RGBA) uint64 {
	if img == nil {
		return 0
	}
	const overhead = 128
	return uint64(len(img.Pix)) + overhead
}

// Describe is a short human readable summary used in log fields.
func Describe(img image.Image) string {
	if img == nil {
		return "none"
	}
	b := img.Bounds()
	return fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
}
