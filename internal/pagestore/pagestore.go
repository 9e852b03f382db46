// Package pagestore persists rasterized page images so pages outlive the
// source document. Images are stored as PNG.
package pagestore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a stored page does not exist
var ErrNotFound = errors.New("page image not found")

// Store saves and loads page images. Put returns the location that Open
// accepts later.
type Store interface {
	Put(ctx context.Context, key string, img image.Image) (string, error)
	Open(ctx context.Context, location string) (image.Image, error)
	Delete(ctx context.Context, location string) error
}

// Local stores pages in a directory
type Local struct {
	dir string
}

// NewLocal creates the directory if needed
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("page directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create page directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the root directory
func (l *Local) Dir() string { return l.dir }

func (l *Local) Put(ctx context.Context, key string, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create page directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create page file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to encode page: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write page: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to save page: %w", err)
	}
	return path, nil
}

func (l *Local) Open(ctx context.Context, location string) (image.Image, error) {
	f, err := os.Open(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()
	return decode(f, location)
}

func (l *Local) Delete(ctx context.Context, location string) error {
	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	return nil
}

func decode(r io.Reader, location string) (image.Image, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page %s: %w", location, err)
	}
	return img, nil
}

// PageKey names page n of a document
func PageKey(prefix, documentID string, n int) string {
	name := fmt.Sprintf("%s_page_%03d.png", documentID, n)
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}
