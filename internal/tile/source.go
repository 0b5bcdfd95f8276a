package tile

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const DefaultTileSize = 256

// Source describes a tile provider. A Source is read-only once constructed
// and is shared by every request that refers to it.
type Source struct {
	Slug         string   `json:"slug"`
	Name         string   `json:"name,omitempty"`
	URLTemplates []string `json:"urls"`
	Token        string   `json:"token,omitempty"`
	TileWidth    int      `json:"tile_width"`
	TileHeight   int      `json:"tile_height"`
}

// Validate fills default tile dimensions and checks the slug.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Slug) == "" {
		return ErrNoSourceConfigured
	}
	if strings.ContainsAny(s.Slug, `/\@`) || s.Slug == "." || s.Slug == ".." {
		return fmt.Errorf("invalid source slug %q", s.Slug)
	}
	if s.TileWidth <= 0 {
		s.TileWidth = DefaultTileSize
	}
	if s.TileHeight <= 0 {
		s.TileHeight = DefaultTileSize
	}
	return nil
}

// ResolveURL substitutes the request coordinates into one of the URL
// templates. Templates are equally weighted alternatives (typically
// subdomains of one provider), so one is picked uniformly at random.
func (s *Source) ResolveURL(req Request) (string, error) {
	if s == nil {
		return "", ErrNoSourceConfigured
	}
	if len(s.URLTemplates) == 0 {
		return "", ErrNoURLTemplates
	}
	tmpl := s.URLTemplates[rand.IntN(len(s.URLTemplates))]
	r := strings.NewReplacer(
		"${x}", strconv.FormatUint(uint64(req.X), 10),
		"${y}", strconv.FormatUint(uint64(req.Y), 10),
		"${z}", strconv.FormatUint(uint64(req.Z), 10),
		"${mult}", strconv.FormatUint(uint64(req.Mult), 10),
		"${token}", s.Token,
	)
	return r.Replace(tmpl), nil
}

// FilenameExtension guesses the file extension from the last three
// characters of the first URL template. It is not MIME aware.
func (s *Source) FilenameExtension() (string, bool) {
	if s == nil || len(s.URLTemplates) == 0 {
		return "", false
	}
	u := s.URLTemplates[0]
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if len(u) < 3 {
		return "", false
	}
	ext := strings.ToLower(u[len(u)-3:])
	for _, c := range ext {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return "", false
		}
	}
	return ext, true
}

// CachePath returns the disk cache path of the tile under root without
// touching the filesystem. See CachePathFor.
func (s *Source) CachePath(root string, req Request) string {
	ext, ok := s.FilenameExtension()
	if !ok {
		ext = "tile"
	}

	zdir := strconv.Itoa(int(req.Z))
	if req.Mult > 1 {
		zdir += "@" + strconv.Itoa(int(req.Mult)) + "x"
	}
	dir := filepath.Join(root, s.Slug, zdir)

	var rel []string
	var stem string
	switch {
	case req.Z <= 4:
		stem = fmt.Sprintf("%d_%d", req.Y, req.X)
	case req.Z <= 8:
		rel = append(rel, strconv.FormatUint(uint64(req.Y), 10))
		stem = strconv.FormatUint(uint64(req.X), 10)
	default:
		digits := 4
		if req.Z > 16 {
			digits = 6
		}
		if req.Z > 24 {
			digits = 8
		}
		hex := fmt.Sprintf("%0*x%0*x", digits, req.Y, digits, req.X)
		for i := 0; i+2 < len(hex); i += 2 {
			rel = append(rel, hex[i:i+2])
		}
		stem = hex[len(hex)-2:]
	}

	return filepath.Join(append(append([]string{dir}, rel...), stem+"."+ext)...)
}

// CachePathFor is CachePath plus creation of every missing parent directory.
// The final path component itself is not created.
func (s *Source) CachePathFor(root string, req Request) (string, error) {
	if s == nil {
		return "", ErrNoSourceConfigured
	}
	p := s.CachePath(root, req)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", &DiskIOError{Op: "mkdir", Path: filepath.Dir(p), Err: err}
	}
	return p, nil
}

// MetaPath returns the sidecar metadata path for a tile file.
func MetaPath(tilePath string) string {
	return strings.TrimSuffix(tilePath, filepath.Ext(tilePath)) + ".json"
}
