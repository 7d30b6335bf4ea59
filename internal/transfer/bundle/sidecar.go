package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

const ManifestFileName = "manifest.json"

// ManifestEntry is the sole source of truth for a sidecar binary.
type ManifestEntry struct {
	Entity       Entity `json:"entity"`
	SourceID     string `json:"source_id"`
	RelativePath string `json:"relative_path"`
	SHA256       string `json:"sha256"`
	Size         int64  `json:"size"`
}

func (e ManifestEntry) Ref() BinaryRef {
	return BinaryRef{Ref: e.RelativePath, SHA256: e.SHA256, Size: e.Size}
}

// Sidecar is the file tree beside a bundle that holds extracted binaries
// at <entity>/<source_id>.<ext>.
type Sidecar struct {
	root string
}

func NewSidecar(root string) *Sidecar {
	return &Sidecar{root: filepath.Clean(root)}
}

func (s *Sidecar) Root() string { return s.root }

// Reset deletes the tree and recreates an empty root.
func (s *Sidecar) Reset() error {
	if s.root == "" || s.root == "." || s.root == string(filepath.Separator) {
		return transfer.Errorf(transfer.CodeConfiguration, "sidecar.reset", "refusing to reset sidecar root %q", s.root)
	}
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("remove sidecar root: %w", err)
	}
	return os.MkdirAll(s.root, 0o755)
}

func relativePath(entity Entity, sourceID, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return path.Join(string(entity), sanitizeName(sourceID)+"."+ext)
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Put writes data for one row's binary column and returns its manifest entry.
func (s *Sidecar) Put(entity Entity, sourceID, ext string, data []byte) (ManifestEntry, error) {
	return s.PutStream(entity, sourceID, ext, bytes.NewReader(data))
}

// PutStream copies r into the sidecar while hashing it.
func (s *Sidecar) PutStream(entity Entity, sourceID, ext string, r io.Reader) (ManifestEntry, error) {
	rel := relativePath(entity, sourceID, ext)
	abs, err := s.Resolve(rel)
	if err != nil {
		return ManifestEntry{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ManifestEntry{}, fmt.Errorf("mkdir sidecar dir: %w", err)
	}
	f, err := os.Create(abs)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("create sidecar file: %w", err)
	}
	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(f, h), r)
	closeErr := f.Close()
	if copyErr != nil {
		return ManifestEntry{}, fmt.Errorf("write sidecar file %s: %w", rel, copyErr)
	}
	if closeErr != nil {
		return ManifestEntry{}, fmt.Errorf("close sidecar file %s: %w", rel, closeErr)
	}
	return ManifestEntry{
		Entity:       entity,
		SourceID:     sourceID,
		RelativePath: rel,
		SHA256:       hex.EncodeToString(h.Sum(nil)),
		Size:         n,
	}, nil
}

// Resolve maps a manifest-relative path onto the filesystem and rejects
// anything that would land outside the sidecar root.
func (s *Sidecar) Resolve(rel string) (string, error) {
	const op = "sidecar.resolve"
	raw := strings.TrimSpace(rel)
	if raw == "" {
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "empty relative path")
	}
	if strings.ContainsRune(raw, '\\') || strings.ContainsRune(raw, 0) {
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "illegal character in path %q", rel)
	}
	if path.IsAbs(raw) || filepath.IsAbs(raw) || filepath.VolumeName(raw) != "" {
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "absolute path %q", rel)
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", transfer.Errorf(transfer.CodeIntegrity, op, "path traversal in %q", rel)
		}
	}
	abs := filepath.Join(s.root, filepath.FromSlash(raw))
	within, err := filepath.Rel(s.root, abs)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "path %q escapes sidecar root", rel)
	}
	// A symlink inside the tree may still point outside it.
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		rootReal, rerr := filepath.EvalSymlinks(s.root)
		if rerr == nil {
			if w, err := filepath.Rel(rootReal, real); err != nil || w == ".." || strings.HasPrefix(w, ".."+string(filepath.Separator)) {
				return "", transfer.Errorf(transfer.CodeIntegrity, op, "path %q resolves outside sidecar root", rel)
			}
		}
	}
	return abs, nil
}

// Verify checks that the entry's file exists inside the root with the
// declared size and sha256.
func (s *Sidecar) Verify(e ManifestEntry) error {
	_, err := s.read(e, false)
	return err
}

// Load verifies the entry and returns its bytes.
func (s *Sidecar) Load(e ManifestEntry) ([]byte, error) {
	return s.read(e, true)
}

func (s *Sidecar) read(e ManifestEntry, keep bool) ([]byte, error) {
	const op = "sidecar.verify"
	abs, err := s.Resolve(e.RelativePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, transfer.Errorf(transfer.CodeIntegrity, op, "missing sidecar file %s", e.RelativePath)
	}
	if err != nil {
		return nil, transfer.Wrap(transfer.CodeIntegrity, op, err)
	}
	defer f.Close()

	h := sha256.New()
	var buf bytes.Buffer
	var w io.Writer = h
	if keep {
		w = io.MultiWriter(h, &buf)
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return nil, transfer.Wrap(transfer.CodeIntegrity, op, err)
	}
	if n != e.Size {
		return nil, transfer.Errorf(transfer.CodeIntegrity, op, "size mismatch for %s: declared %d, found %d", e.RelativePath, e.Size, n)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(sum, e.SHA256) {
		return nil, transfer.Errorf(transfer.CodeIntegrity, op, "sha256 mismatch for %s", e.RelativePath)
	}
	if !keep {
		return nil, nil
	}
	return buf.Bytes(), nil
}

// Open returns a reader over a verified entry, for streaming copies.
func (s *Sidecar) Open(e ManifestEntry) (io.ReadCloser, error) {
	if err := s.Verify(e); err != nil {
		return nil, err
	}
	abs, err := s.Resolve(e.RelativePath)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}
