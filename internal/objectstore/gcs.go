package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore stores blobs in a single Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a GCS client and binds it to bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Close releases the underlying GCS client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func (g *GCSStore) obj(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(key)
}

// Put implements Store.
func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	w := g.obj(key).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("finalize object %s: %w", key, err)
	}
	return n, nil
}

// Get implements Store.
func (g *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.obj(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return r, nil
}

// Head implements Store.
func (g *GCSStore) Head(ctx context.Context, key string) (bool, error) {
	_, err := g.obj(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// SignedURL implements Store. It returns GCS's public object URL, which is
// a pure function of bucket and key — two calls for the same key always
// yield the same URL, unlike a freshly time-signed one.
func (g *GCSStore) SignedURL(ctx context.Context, key string) (string, error) {
	escaped := strings.ReplaceAll(strings.ReplaceAll(key, "%", "%25"), " ", "%20")
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, escaped), nil
}

// Delete implements Store.
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.obj(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// ErrNotExist is returned by Get when the key has no backing object.
var ErrNotExist = errors.New("object does not exist")
