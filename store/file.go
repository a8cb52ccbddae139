package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// FileStore keeps one json document per key in a directory
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create snapshot directory, %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps a key such as "st-1/diesel/daily" to a file name
func (f *FileStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%q, %w", key, ErrInvalidKey)
	}
	name := strings.NewReplacer("/", "__", "\\", "__", ":", "_").Replace(key)
	return filepath.Join(f.dir, name+".json"), nil
}

// Save writes to a temporary file and renames it over the previous snapshot
func (f *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.path(snap.Key)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal snapshot, %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("unable to create snapshot file, %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write snapshot, %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to write snapshot, %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("unable to replace snapshot, %w", err)
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context, key string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	path, err := f.path(key)
	if err != nil {
		return Snapshot{}, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("%s, %w", key, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("unable to read snapshot, %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unable to unmarshal snapshot %s, %w", key, err)
	}
	return snap, nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to delete snapshot, %w", err)
	}
	return nil
}
