package tile

// Request asks for one tile. Requests are immutable once created.
//
// Requests are ordered by Generation first, so that a whole batch finishes
// before a newer batch starts, then by Priority where lower values are more
// urgent. Ordering never implies identity: two requests with equal
// generation and priority may still be distinct tiles, see Key.
type Request struct {
	Generation uint64
	Priority   int64
	X          uint32
	Y          uint32
	Z          uint8
	Mult       uint8
	Source     *Source
}

// NewRequest builds a request, treating a zero multiplier as 1.
func NewRequest(src *Source, z uint8, x, y uint32, mult uint8, generation uint64, priority int64) Request {
	if mult == 0 {
		mult = 1
	}
	return Request{
		Generation: generation,
		Priority:   priority,
		X:          x,
		Y:          y,
		Z:          z,
		Mult:       mult,
		Source:     src,
	}
}

func (r Request) Key() Key {
	var slug string
	if r.Source != nil {
		slug = r.Source.Slug
	}
	return Key{Source: slug, Z: r.Z, Y: r.Y, X: r.X, Mult: r.Mult}
}

// Before reports whether r is more urgent than o. Ties on generation and
// priority are broken by key so the order is total.
func (r Request) Before(o Request) bool {
	if r.Generation != o.Generation {
		return r.Generation < o.Generation
	}
	if r.Priority != o.Priority {
		return r.Priority < o.Priority
	}
	return r.Key().Less(o.Key())
}

// PixelSize returns the expected pixel dimensions of the tile, including the
// high-dpi multiplier.
func (r Request) PixelSize() (int, int) {
	if r.Source == nil {
		return DefaultTileSize * int(r.Mult), DefaultTileSize * int(r.Mult)
	}
	return r.Source.TileWidth * int(r.Mult), r.Source.TileHeight * int(r.Mult)
}
