// Package objectstore gives export, hydrate and the archive transport one
// bucket/object interface over either a local directory tree or GCS.
package objectstore

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/yungbote/neurobridge-successbundle/internal/platform/gcp"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
)

// ErrNotFound is shared with the GCS client so errors.Is works for both
// backends.
var ErrNotFound = gcp.ErrObjectNotFound

type Attrs struct {
	Size        int64
	ContentType string
}

type Store interface {
	Open(ctx context.Context, bucket, name string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, name string, r io.Reader, contentType string) error
	Stat(ctx context.Context, bucket, name string) (*Attrs, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Close() error
}

type Config struct {
	Mode         string
	EmulatorHost string
	LocalRoot    string
	Credentials  string
}

// New resolves the storage mode and returns the matching backend.
func New(ctx context.Context, log *logger.Logger, cfg Config) (Store, error) {
	resolved, err := gcp.ResolveObjectStorageConfig(cfg.Mode, cfg.EmulatorHost, cfg.LocalRoot)
	if err != nil {
		return nil, err
	}
	if resolved.Mode == gcp.ObjectStorageModeLocal {
		log.Info("Object storage initialized", "mode", resolved.Mode, "root", resolved.LocalRoot)
		return NewLocal(resolved.LocalRoot), nil
	}
	client, err := gcp.NewBucketClient(ctx, log, resolved, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	return &gcsStore{client: client}, nil
}

// ContentTypeFor guesses a content type from the object name.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case "":
		return ""
	case ".zip":
		return "application/zip"
	case ".json":
		return "application/json"
	}
	return mime.TypeByExtension(ext)
}

type gcsStore struct {
	client *gcp.BucketClient
}

func (s *gcsStore) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	return s.client.Open(ctx, bucket, name)
}

func (s *gcsStore) Put(ctx context.Context, bucket, name string, r io.Reader, contentType string) error {
	if contentType == "" {
		contentType = ContentTypeFor(name)
	}
	return s.client.Upload(ctx, bucket, name, r, contentType)
}

func (s *gcsStore) Stat(ctx context.Context, bucket, name string) (*Attrs, error) {
	a, err := s.client.Attrs(ctx, bucket, name)
	if err != nil {
		return nil, err
	}
	return &Attrs{Size: a.Size, ContentType: a.ContentType}, nil
}

func (s *gcsStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	return s.client.ListKeys(ctx, bucket, prefix)
}

func (s *gcsStore) Close() error { return s.client.Close() }
