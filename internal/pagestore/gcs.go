package pagestore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// GCS stores pages as objects in a Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a bucket-backed store. The client is owned by the caller.
func NewGCS(client *storage.Client, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must be provided for GCS page storage")
	}
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (g *GCS) object(key string) string {
	if g.prefix == "" {
		return key
	}
	return g.prefix + "/" + key
}

func (g *GCS) Put(ctx context.Context, key string, img image.Image) (string, error) {
	name := g.object(key)
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "image/png"

	if err := png.Encode(w, img); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write page to gs://%s/%s: %w", g.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return Location(g.bucket, name), nil
}

func (g *GCS) Open(ctx context.Context, location string) (image.Image, error) {
	bucket, name, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	r, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", location, err)
	}
	defer r.Close()
	return decode(r, location)
}

func (g *GCS) Delete(ctx context.Context, location string) error {
	bucket, name, err := ParseLocation(location)
	if err != nil {
		return err
	}
	if err := g.client.Bucket(bucket).Object(name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", location, err)
	}
	return nil
}

// Location formats a gs:// URL
func Location(bucket, object string) string {
	return gcsScheme + bucket + "/" + object
}

// ParseLocation splits a gs:// URL into bucket and object
func ParseLocation(location string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(location, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("not a GCS location: %q", location)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed GCS location: %q", location)
	}
	return bucket, object, nil
}
