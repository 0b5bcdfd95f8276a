package diskstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/multierr"

	"tileview/internal/tile"
)

// FileStore implements Store on the local filesystem.
// Structure: {root}/{slug}/{z}/{bucketed path}/{stem}.{ext} plus {stem}.json
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Root() string  { return s.root }
func (s *FileStore) Enabled() bool { return true }

func (s *FileStore) Lookup(path string) (Entry, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Entry{}, false
	}

	entry := Entry{Path: path, Size: info.Size()}
	meta, err := os.ReadFile(tile.MetaPath(path))
	if err != nil {
		// no sidecar: usable as stale content only
		return entry, true
	}
	if exp := gjson.GetBytes(meta, "expire_time"); exp.Exists() {
		if t, err := time.Parse(time.RFC3339Nano, exp.String()); err == nil {
			entry.ExpireTime = t
		}
	}
	return entry, true
}

func (s *FileStore) Write(path string, data []byte, meta Meta) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, &tile.DiskIOError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}

	// Write atomically
	if err := WriteAtomic(path, data); err != nil {
		return 0, err
	}

	meta.Size = int64(len(data))
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tile metadata: %w", err)
	}
	if err := WriteAtomic(tile.MetaPath(path), encoded); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (s *FileStore) Remove(path string) error {
	var err error
	for _, p := range []string{path, tile.MetaPath(path)} {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = multierr.Append(err, &tile.DiskIOError{Op: "remove", Path: p, Err: rmErr})
		}
	}
	return err
}

// WriteAtomic writes data to a temporary file next to path and renames it into
// place, so readers never see a partial file.
func WriteAtomic(path string, data []byte) error {
	tmpPath := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return &tile.DiskIOError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &tile.DiskIOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
