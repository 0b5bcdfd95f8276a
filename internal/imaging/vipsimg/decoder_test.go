package vipsimg

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileview/internal/imaging"
	"tileview/internal/tile"
)

func TestUnknownExtensionUsesFallback(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	path := filepath.Join(t.TempDir(), "0_0.tile")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	d := Decoder{Fallback: imaging.GoDecoder{}}
	img, err := d.DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, img.RGBAAt(1, 1))

	decoded, err := d.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 4, decoded.Bounds().Dx())
}

type countingDecoder struct {
	imaging.GoDecoder
	files int
}

func (d *countingDecoder) DecodeFile(path string) (*image.RGBA, error) {
	d.files++
	return d.GoDecoder.DecodeFile(path)
}

func TestReadableFilesSkipVips(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	dir := t.TempDir()
	path := filepath.Join(dir, "0_0.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	fallback := &countingDecoder{}
	d := Decoder{Fallback: fallback}
	img, err := d.DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, img.RGBAAt(0, 0))
	assert.Equal(t, 1, fallback.files)

	_, err = d.DecodeFile(filepath.Join(dir, "missing.png"))
	var diskErr *tile.DiskIOError
	assert.ErrorAs(t, err, &diskErr)

	garbage := filepath.Join(dir, "1_0.tile")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0644))
	_, err = d.DecodeFile(garbage)
	var decodeErr *tile.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 3, fallback.files)
}
