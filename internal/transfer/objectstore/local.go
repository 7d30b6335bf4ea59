package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Local stores objects at <root>/<bucket>/<name>.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: filepath.Clean(root)}
}

func (l *Local) pathFor(bucket, name string) (string, error) {
	for _, part := range []string{bucket, name} {
		if strings.TrimSpace(part) == "" || strings.ContainsRune(part, 0) || strings.ContainsRune(part, '\\') ||
			strings.HasPrefix(part, "/") {
			return "", fmt.Errorf("invalid object address %q/%q", bucket, name)
		}
		for _, seg := range strings.Split(part, "/") {
			if seg == ".." {
				return "", fmt.Errorf("invalid object address %q/%q", bucket, name)
			}
		}
	}
	if strings.Contains(bucket, "/") {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	return filepath.Join(l.root, bucket, filepath.FromSlash(name)), nil
}

func (l *Local) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	p, err := l.pathFor(bucket, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
	}
	return f, err
}

func (l *Local) Put(ctx context.Context, bucket, name string, r io.Reader, contentType string) error {
	p, err := l.pathFor(bucket, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s/%s: %w", bucket, name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (l *Local) Stat(ctx context.Context, bucket, name string) (*Attrs, error) {
	p, err := l.pathFor(bucket, name)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s/%s is a directory: %w", bucket, name, ErrNotFound)
	}
	return &Attrs{Size: fi.Size(), ContentType: ContentTypeFor(name)}, nil
}

func (l *Local) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	base := filepath.Join(l.root, bucket)
	out := []string{}
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasPrefix(path.Base(key), ".put-") {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (l *Local) Close() error { return nil }
