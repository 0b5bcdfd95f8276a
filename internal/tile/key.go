package tile

import (
	"fmt"
	"strings"
)

// Key identifies a tile in the cache. It is comparable and used directly as
// a map key.
type Key struct {
	Source string
	Z      uint8
	Y      uint32
	X      uint32
	Mult   uint8
}

// String renders the key as "{slug}/{z}/{y}/{x}@{mult}".
func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d/%d@%d", k.Source, k.Z, k.Y, k.X, k.Mult)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return Key{}, fmt.Errorf("invalid tile key %q: missing multiplier", s)
	}
	parts := strings.Split(s[:at], "/")
	if len(parts) != 4 || parts[0] == "" {
		return Key{}, fmt.Errorf("invalid tile key %q", s)
	}

	var k Key
	k.Source = parts[0]
	if _, err := fmt.Sscanf(parts[1]+" "+parts[2]+" "+parts[3]+" "+s[at+1:], "%d %d %d %d", &k.Z, &k.Y, &k.X, &k.Mult); err != nil {
		return Key{}, fmt.Errorf("invalid tile key %q: %w", s, err)
	}
	return k, nil
}

// Less orders keys by source, zoom, y, x and multiplier.
func (k Key) Less(o Key) bool {
	if k.Source != o.Source {
		return k.Source < o.Source
	}
	if k.Z != o.Z {
		return k.Z < o.Z
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	if k.X != o.X {
		return k.X < o.X
	}
	return k.Mult < o.Mult
}

// Parent returns the key of the ancestor tile `levels` zoom levels up.
// Levels larger than Z are clamped to zoom level 0.
func (k Key) Parent(levels uint8) Key {
	if levels > k.Z {
		levels = k.Z
	}
	return Key{
		Source: k.Source,
		Z:      k.Z - levels,
		Y:      k.Y >> levels,
		X:      k.X >> levels,
		Mult:   k.Mult,
	}
}
