package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type (
	DiskDataStore struct {
		rootPath string
	}

	diskFile struct {
		*os.File
		size int64
	}
)

func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("error in filepath.Abs: %w", err)
	}
	dds := &DiskDataStore{
		rootPath: abs,
	}

	return dds, nil
}

// path maps a slash separated key below the root, refusing keys that escape it
func (dds *DiskDataStore) path(key string) (string, error) {
	p := filepath.Join(dds.rootPath, filepath.FromSlash(key))
	rel, err := filepath.Rel(dds.rootPath, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return p, nil
}

func (dds *DiskDataStore) OpenFile(_ context.Context, key string) (File, error) {
	p, err := dds.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error in f.Stat: %w", err)
	}
	return &diskFile{File: f, size: info.Size()}, nil
}

func (f *diskFile) SizeBytes() int64 {
	return f.size
}

func (dds *DiskDataStore) ListFiles(_ context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(dds.rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(dds.rootPath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error in filepath.WalkDir: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// WriteFile writes to a temp file first so readers never see a partial object.
func (dds *DiskDataStore) WriteFile(_ context.Context, key string, r io.Reader) error {
	p, err := dds.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("error in os.CreateTemp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("error in io.Copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("error in os.Rename: %w", err)
	}
	logger.Debug().Str("key", key).Msg("wrote file to disk")
	return nil
}

func (dds *DiskDataStore) Shutdown(context.Context) error {
	return nil
}
