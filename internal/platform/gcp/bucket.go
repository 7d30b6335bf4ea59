package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
)

// ErrObjectNotFound is returned by Open and Attrs when the object is absent.
var ErrObjectNotFound = errors.New("object not found")

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	MD5         []byte
}

// BucketClient addresses GCS objects by explicit bucket name. Illustration
// rows carry their own bucket, and archives go wherever the operator points.
type BucketClient struct {
	log          *logger.Logger
	client       *storage.Client
	emulatorHost string
	httpClient   *http.Client
}

func NewBucketClient(ctx context.Context, log *logger.Logger, cfg ObjectStorageConfig, credentials string) (*BucketClient, error) {
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	var opts []option.ClientOption
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts = append(ClientOptions(credentials), option.WithScopes(storage.ScopeReadWrite))
	case ObjectStorageModeGCSEmulator:
		opts = []option.ClientOption{
			option.WithoutAuthentication(),
			option.WithEndpoint(cfg.EmulatorHost + "/storage/v1/"),
		}
	default:
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	bc := &BucketClient{
		log:        log.With("service", "BucketClient"),
		client:     client,
		httpClient: &http.Client{},
	}
	if cfg.IsEmulatorMode() {
		bc.emulatorHost = cfg.EmulatorHost
	}
	bc.log.Info("Object storage initialized", "mode", cfg.Mode, "mode_source", cfg.ModeSource(), "emulator_host", cfg.EmulatorHost)
	return bc, nil
}

func (c *BucketClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *BucketClient) Upload(ctx context.Context, bucket, key string, r io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	w := c.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// readCloserWithCancel keeps the request context alive until the caller
// closes the reader.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (c *BucketClient) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Minute)
	if c.emulatorHost != "" {
		resp, err := c.emulatorGet(ctx2, c.emulatorURL(bucket, key, true))
		if err != nil {
			cancel()
			return nil, err
		}
		return &readCloserWithCancel{ReadCloser: resp.Body, cancel: cancel}, nil
	}
	r, err := c.client.Bucket(bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (c *BucketClient) Attrs(ctx context.Context, bucket, key string) (*ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if c.emulatorHost != "" {
		resp, err := c.emulatorGet(ctx, c.emulatorURL(bucket, key, false))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		var payload struct {
			Size        string `json:"size"`
			ContentType string `json:"contentType"`
			Updated     string `json:"updated"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode emulator attrs: %w", err)
		}
		size, _ := strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
		updated, _ := time.Parse(time.RFC3339, strings.TrimSpace(payload.Updated))
		return &ObjectAttrs{Size: size, ContentType: payload.ContentType, Updated: updated}, nil
	}
	attrs, err := c.client.Bucket(bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("attrs gs://%s/%s: %w", bucket, key, err)
	}
	return &ObjectAttrs{Size: attrs.Size, ContentType: attrs.ContentType, Updated: attrs.Updated, MD5: attrs.MD5}, nil
}

func (c *BucketClient) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err)
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (c *BucketClient) emulatorURL(bucket, key string, media bool) string {
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", c.emulatorHost, url.PathEscape(bucket), url.PathEscape(key))
	if media {
		u += "?alt=media"
	}
	return u
}

// emulatorGet talks to fake-gcs over plain HTTP; the SDK reader does not
// follow its media redirects reliably.
func (c *BucketClient) emulatorGet(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build emulator request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emulator request: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", u, ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("emulator request failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
