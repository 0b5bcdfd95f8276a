package imaging

import (
	"fmt"
	"image"
	"image/color"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/image/draw"
)

// PlaceholderColor is the flat color of tiles with no better content.
var PlaceholderColor = color.RGBA{R: 0x29, G: 0x29, B: 0x29, A: 0xff}

// Placeholders hands out flat placeholder images, sharing one image per
// size. Returned images must be treated as read-only.
type Placeholders struct {
	color color.RGBA
	cache *lru.Cache
}

func NewPlaceholders(c color.RGBA, size int) (*Placeholders, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create placeholder cache: %w", err)
	}
	return &Placeholders{color: c, cache: cache}, nil
}

func (p *Placeholders) Get(w, h int) *image.RGBA {
	key := image.Pt(w, h)
	if v, ok := p.cache.Get(key); ok {
		return v.(*image.RGBA)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(p.color), image.Point{}, draw.Src)
	p.cache.Add(key, img)
	return img
}

// MaxMagnifyLevels is the deepest zoom difference Magnify resolves. Below
// it the covered region of any real tile is a single pixel.
const MaxMagnifyLevels = 30

// Magnify crops the part of an ancestor tile that covers a descendant
// `levels` zoom levels below it and scales it up to w x h. dx and dy are the
// descendant's offset within the ancestor, in descendant tiles.
func Magnify(ancestor *image.RGBA, levels int, dx, dy uint32, w, h int) *image.RGBA {
	if levels > MaxMagnifyLevels {
		shift := levels - MaxMagnifyLevels
		dx, dy = uint32(uint64(dx)>>shift), uint32(uint64(dy)>>shift)
		levels = MaxMagnifyLevels
	}
	b := ancestor.Bounds()
	div := 1 << levels
	subW := max(b.Dx()/div, 1)
	subH := max(b.Dy()/div, 1)
	x0 := b.Min.X + min(int(dx)*b.Dx()/div, b.Dx()-subW)
	y0 := b.Min.Y + min(int(dy)*b.Dy()/div, b.Dy()-subH)
	src := image.Rect(x0, y0, x0+subW, y0+subH)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler := draw.Scaler(draw.ApproxBiLinear)
	if levels > 2 {
		scaler = draw.NearestNeighbor
	}
	scaler.Scale(dst, dst.Bounds(), ancestor, src, draw.Src, nil)
	return dst
}
