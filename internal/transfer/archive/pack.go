// Package archive wraps a bundle SQL file and its sidecar tree into
// encrypted zip archives, moves them through object storage, and unpacks
// them safely on the receiving side.
package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

type Mode string

const (
	ModeCombined    Mode = "combined"
	ModePerCategory Mode = "per_category"
)

type Category string

const (
	CategoryCore          Category = "core"
	CategoryIllustrations Category = "illustrations"
	CategoryAudios        Category = "audios"
	CategoryFensters      Category = "fensters"
)

// Categories in archive order.
var Categories = []Category{CategoryCore, CategoryIllustrations, CategoryAudios, CategoryFensters}

// Entry names inside an archive.
const (
	SQLEntry     = "bundle.sql"
	SidecarEntry = "sidecar"
)

var categoryDirs = map[Category]bundle.Entity{
	CategoryIllustrations: bundle.EntityIllustrations,
	CategoryAudios:        bundle.EntityCoachAudios,
	CategoryFensters:      bundle.EntityFensterWidgets,
}

// categoryOf places a sidecar-relative path into its category. Anything
// outside the binary subtrees travels with core.
func categoryOf(rel string) Category {
	top := strings.SplitN(rel, "/", 2)[0]
	for c, e := range categoryDirs {
		if top == string(e) {
			return c
		}
	}
	return CategoryCore
}

type PackOptions struct {
	RunID      string
	Secret     string
	SQLPath    string
	SidecarDir string
	OutDir     string
	Mode       Mode
	// MaxSize caps each encrypted archive in bytes. Zero means no cap.
	MaxSize int64
}

func (o PackOptions) validate() error {
	const op = "archive.pack"
	switch {
	case strings.TrimSpace(o.RunID) == "":
		return transfer.Errorf(transfer.CodeConfiguration, op, "run id is required")
	case o.Secret == "":
		return transfer.Errorf(transfer.CodeConfiguration, op, "operator secret is required")
	case o.SQLPath == "" || o.SidecarDir == "" || o.OutDir == "":
		return transfer.Errorf(transfer.CodeConfiguration, op, "sql path, sidecar dir and out dir are required")
	case o.MaxSize < 0:
		return transfer.Errorf(transfer.CodeConfiguration, op, "max archive size must be >= 0")
	case o.Mode != ModeCombined && o.Mode != ModePerCategory:
		return transfer.Errorf(transfer.CodeConfiguration, op, "unknown archive mode %q", o.Mode)
	}
	return nil
}

// Archive describes one encrypted archive on disk.
type Archive struct {
	Name     string `json:"name"`
	Path     string `json:"-"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
	Files    int    `json:"files"`
	Category string `json:"category"`
}

// FileName is the archive's object and file name.
func (a Archive) FileName() string { return a.Name + ".zip" }

type Packager struct {
	log *logger.Logger
}

func NewPackager(log *logger.Logger) *Packager {
	return &Packager{log: log.With("service", "ArchivePackager")}
}

type packFile struct {
	entry string
	path  string
}

// Pack writes one combined archive, or one archive per non-empty category,
// into opts.OutDir. The core archive is always produced.
func (p *Packager) Pack(ctx context.Context, opts PackOptions) ([]Archive, error) {
	if opts.Mode == "" {
		opts.Mode = ModeCombined
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	groups, err := collectFiles(opts.SQLPath, opts.SidecarDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	type plan struct {
		name     string
		category string
		files    []packFile
	}
	var plans []plan
	if opts.Mode == ModeCombined {
		var all []packFile
		for _, c := range Categories {
			all = append(all, groups[c]...)
		}
		plans = append(plans, plan{name: "success_bundle", category: "all", files: all})
	} else {
		for _, c := range Categories {
			if c != CategoryCore && len(groups[c]) == 0 {
				continue
			}
			plans = append(plans, plan{name: "success_bundle_" + string(c), category: string(c), files: groups[c]})
		}
	}

	password := Password(opts.RunID, opts.Secret)
	var out []Archive
	for _, pl := range plans {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		a, err := p.writeArchive(opts.OutDir, pl.name, pl.files, password)
		if err != nil {
			return out, err
		}
		a.Category = pl.category
		if opts.MaxSize > 0 && a.Size > opts.MaxSize {
			_ = os.Remove(a.Path)
			return out, transfer.Errorf(transfer.CodeConfiguration, "archive.pack",
				"archive %s is %s, over the %s limit (try per-category mode)",
				a.Name, humanize.IBytes(uint64(a.Size)), humanize.IBytes(uint64(opts.MaxSize)))
		}
		p.log.Info("archive written", "name", a.Name, "files", a.Files, "size", humanize.IBytes(uint64(a.Size)))
		out = append(out, a)
	}
	return out, nil
}

// collectFiles groups the SQL file and every regular file in the sidecar
// tree by category. Symlinks are refused.
func collectFiles(sqlPath, sidecarDir string) (map[Category][]packFile, error) {
	groups := map[Category][]packFile{
		CategoryCore: {{entry: SQLEntry, path: sqlPath}},
	}
	if _, err := os.Stat(sqlPath); err != nil {
		return nil, transfer.NewError(transfer.CodeConfiguration, "archive.pack", "bundle sql not readable", err)
	}
	err := filepath.WalkDir(sidecarDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return transfer.Errorf(transfer.CodeIntegrity, "archive.pack", "symlink in sidecar tree: %s", p)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(sidecarDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		c := categoryOf(rel)
		groups[c] = append(groups[c], packFile{entry: path.Join(SidecarEntry, rel), path: p})
		return nil
	})
	if err != nil {
		if transfer.CodeOf(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("walk sidecar: %w", err)
	}
	for _, files := range groups {
		sort.Slice(files, func(i, j int) bool { return files[i].entry < files[j].entry })
	}
	return groups, nil
}

// writeArchive zips files into a temp file, then encrypts it to
// <dir>/<name>.zip.
func (p *Packager) writeArchive(dir, name string, files []packFile, password string) (Archive, error) {
	plain, err := os.CreateTemp(dir, ".plain-*")
	if err != nil {
		return Archive{}, err
	}
	defer func() {
		_ = plain.Close()
		_ = os.Remove(plain.Name())
	}()

	zw := zip.NewWriter(plain)
	for _, f := range files {
		if err := addZipFile(zw, f); err != nil {
			return Archive{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return Archive{}, fmt.Errorf("close zip: %w", err)
	}
	if _, err := plain.Seek(0, io.SeekStart); err != nil {
		return Archive{}, err
	}

	a := Archive{Name: name, Path: filepath.Join(dir, name+".zip"), Files: len(files)}
	tmp := a.Path + ".tmp"
	enc, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return Archive{}, err
	}
	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(enc, h)}
	if err := Encrypt(cw, plain, password); err != nil {
		_ = enc.Close()
		_ = os.Remove(tmp)
		return Archive{}, err
	}
	if err := enc.Close(); err != nil {
		_ = os.Remove(tmp)
		return Archive{}, err
	}
	if err := os.Rename(tmp, a.Path); err != nil {
		_ = os.Remove(tmp)
		return Archive{}, err
	}
	a.Size = cw.n
	a.SHA256 = hex.EncodeToString(h.Sum(nil))
	return a, nil
}

func addZipFile(zw *zip.Writer, f packFile) error {
	src, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = f.entry
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("zip %s: %w", f.entry, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

// ParseMaxSize accepts humanized sizes such as "2GiB" or "500MB". An empty
// string or "0" means unlimited.
func ParseMaxSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, transfer.NewError(transfer.CodeConfiguration, "archive.max_size", fmt.Sprintf("invalid size %q", s), err)
	}
	return int64(n), nil
}
