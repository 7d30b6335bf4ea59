package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/objectstore"
)

const (
	IndexName          = "archives.json"
	defaultConcurrency = 4
)

// Location names the object prefix one run's archives live under:
// <prefix>/<run_type>/<run_id>/.
type Location struct {
	Bucket  string
	Prefix  string
	RunType string
	RunID   string
}

func (l Location) validate() error {
	const op = "archive.location"
	if strings.TrimSpace(l.Bucket) == "" {
		return transfer.Errorf(transfer.CodeConfiguration, op, "archive bucket is required")
	}
	for name, v := range map[string]string{"run type": l.RunType, "run id": l.RunID} {
		if !safeSegment(v) {
			return transfer.Errorf(transfer.CodeConfiguration, op, "invalid %s %q", name, v)
		}
	}
	return nil
}

func (l Location) Object(name string) string {
	return path.Join(strings.Trim(l.Prefix, "/"), l.RunType, l.RunID, name)
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\\x00")
}

// Index is the archives.json document uploaded next to the archives.
type Index struct {
	RunID    string       `json:"run_id"`
	RunType  string       `json:"run_type"`
	Archives []IndexEntry `json:"archives"`
}

type IndexEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

type Transport struct {
	store       objectstore.Store
	log         *logger.Logger
	concurrency int
}

// NewTransport moves archives through store. concurrency <= 0 uses a
// default of 4 parallel transfers.
func NewTransport(store objectstore.Store, log *logger.Logger, concurrency int) *Transport {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Transport{store: store, log: log.With("service", "ArchiveTransport"), concurrency: concurrency}
}

// Upload puts every archive under loc, then writes the index. The index
// goes last so a reader never sees entries whose objects are missing.
func (t *Transport) Upload(ctx context.Context, loc Location, archives []Archive) (*Index, error) {
	if err := loc.validate(); err != nil {
		return nil, err
	}
	idx := &Index{RunID: loc.RunID, RunType: loc.RunType}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, a := range archives {
		idx.Archives = append(idx.Archives, IndexEntry{Name: a.FileName(), Size: a.Size, SHA256: a.SHA256})
		g.Go(func() error {
			f, err := os.Open(a.Path)
			if err != nil {
				return err
			}
			defer f.Close()
			key := loc.Object(a.FileName())
			if err := t.store.Put(gctx, loc.Bucket, key, f, "application/zip"); err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			t.log.Info("archive uploaded", "bucket", loc.Bucket, "object", key, "size", a.Size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := t.store.Put(ctx, loc.Bucket, loc.Object(IndexName), bytes.NewReader(raw), "application/json"); err != nil {
		return nil, fmt.Errorf("upload index: %w", err)
	}
	return idx, nil
}

// Download fetches the index and every archive it lists into destDir.
// An object whose stored size differs from the index is rejected before
// anything is written. The rest go to a temp file and are only renamed
// into place once their size and sha256 match the index.
func (t *Transport) Download(ctx context.Context, loc Location, destDir string) ([]string, error) {
	const op = "archive.download"
	if err := loc.validate(); err != nil {
		return nil, err
	}
	idx, err := t.readIndex(ctx, loc)
	if err != nil {
		return nil, err
	}
	if idx.RunID != "" && idx.RunID != loc.RunID {
		return nil, transfer.Errorf(transfer.CodeIntegrity, op, "index run id %q does not match %q", idx.RunID, loc.RunID)
	}
	for _, e := range idx.Archives {
		if !safeSegment(e.Name) || !strings.HasSuffix(e.Name, ".zip") {
			return nil, transfer.Errorf(transfer.CodeIntegrity, op, "unsafe archive name %q in index", e.Name)
		}
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, len(idx.Archives))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, e := range idx.Archives {
		g.Go(func() error {
			p, err := t.fetch(gctx, loc, e, destDir)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (t *Transport) readIndex(ctx context.Context, loc Location) (*Index, error) {
	rc, err := t.store.Open(ctx, loc.Bucket, loc.Object(IndexName))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, transfer.NewError(transfer.CodeConfiguration, "archive.download",
				t.missingIndexMessage(ctx, loc), err)
		}
		return nil, err
	}
	defer rc.Close()
	var idx Index
	if err := json.NewDecoder(rc).Decode(&idx); err != nil {
		return nil, transfer.Wrap(transfer.CodeIntegrity, "archive.index", err)
	}
	return &idx, nil
}

// missingIndexMessage says what is under the run prefix when the index is
// absent, which tells an interrupted upload apart from a wrong run id.
func (t *Transport) missingIndexMessage(ctx context.Context, loc Location) string {
	msg := fmt.Sprintf("no archive index at %s", loc.Object(IndexName))
	prefix := loc.Object("") + "/"
	keys, err := t.store.List(ctx, loc.Bucket, prefix)
	if err != nil {
		t.log.Warn("list run prefix failed", "bucket", loc.Bucket, "prefix", prefix, "error", err)
		return msg
	}
	if len(keys) == 0 {
		return msg + " (no objects under " + prefix + ")"
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, prefix))
	}
	return fmt.Sprintf("%s (%d objects under %s without an index: %s)", msg, len(keys), prefix, strings.Join(names, ", "))
}

func (t *Transport) fetch(ctx context.Context, loc Location, e IndexEntry, destDir string) (string, error) {
	const op = "archive.download"
	key := loc.Object(e.Name)
	// Size is checked before anything touches destDir.
	attrs, err := t.store.Stat(ctx, loc.Bucket, key)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", key, err)
	}
	if attrs.Size != e.Size {
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "%s: object size %d, index declares %d", e.Name, attrs.Size, e.Size)
	}
	rc, err := t.store.Open(ctx, loc.Bucket, key)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	h := sha256.New()
	// Read one byte past the declared size in case the object changed
	// after Stat.
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(rc, e.Size+1))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	if n != e.Size {
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "%s: size %d, index declares %d", e.Name, n, e.Size)
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, e.SHA256) {
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "%s: sha256 mismatch", e.Name)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	final := filepath.Join(destDir, e.Name)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", err
	}
	t.log.Info("archive downloaded", "object", key, "size", n)
	return final, nil
}
