package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

// Extract writes every regular file in zr under dest. Entries with an
// absolute path, a ".." segment, a backslash, or a symlink mode are
// rejected before anything is written.
func Extract(zr *zip.Reader, dest string) (int, error) {
	const op = "archive.extract"
	for _, f := range zr.File {
		if err := checkEntry(f); err != nil {
			return 0, err
		}
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		rel, err := filepath.Rel(root, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return n, transfer.Errorf(transfer.CodeIntegrity, op, "entry %q escapes destination", f.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return n, err
		}
		if err := extractFile(f, target); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func checkEntry(f *zip.File) error {
	const op = "archive.extract"
	name := f.Name
	if name == "" || strings.ContainsRune(name, '\\') || strings.ContainsRune(name, 0) {
		return transfer.Errorf(transfer.CodeIntegrity, op, "illegal entry name %q", name)
	}
	if path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return transfer.Errorf(transfer.CodeIntegrity, op, "absolute entry %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return transfer.Errorf(transfer.CodeIntegrity, op, "entry %q contains ..", name)
		}
	}
	mode := f.Mode()
	if mode&os.ModeSymlink != 0 {
		return transfer.Errorf(transfer.CodeIntegrity, op, "symlink entry %q", name)
	}
	if !mode.IsRegular() && !mode.IsDir() {
		return transfer.Errorf(transfer.CodeIntegrity, op, "entry %q is not a regular file", name)
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

type UnpackOptions struct {
	RunID    string
	Secret   string
	Archives []string
	OutDir   string
}

type UnpackResult struct {
	SQLPath    string `json:"sql_path" yaml:"sql_path"`
	SidecarDir string `json:"sidecar_dir" yaml:"sidecar_dir"`
	Archives   int    `json:"archives" yaml:"archives"`
	Files      int    `json:"files" yaml:"files"`
}

// Unpack decrypts and extracts each archive into opts.OutDir. The result
// points at the bundle SQL and sidecar tree ready for hydrate.
func (p *Packager) Unpack(ctx context.Context, opts UnpackOptions) (*UnpackResult, error) {
	const op = "archive.unpack"
	if strings.TrimSpace(opts.RunID) == "" || opts.Secret == "" {
		return nil, transfer.Errorf(transfer.CodeConfiguration, op, "run id and operator secret are required")
	}
	if len(opts.Archives) == 0 || opts.OutDir == "" {
		return nil, transfer.Errorf(transfer.CodeConfiguration, op, "at least one archive and an out dir are required")
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, err
	}
	password := Password(opts.RunID, opts.Secret)
	res := &UnpackResult{
		SQLPath:    filepath.Join(opts.OutDir, SQLEntry),
		SidecarDir: filepath.Join(opts.OutDir, SidecarEntry),
	}
	for _, a := range opts.Archives {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := p.unpackOne(a, opts.OutDir, password)
		if err != nil {
			return res, fmt.Errorf("unpack %s: %w", filepath.Base(a), err)
		}
		res.Archives++
		res.Files += n
		p.log.Info("archive extracted", "archive", filepath.Base(a), "files", n)
	}
	if _, err := os.Stat(res.SQLPath); err != nil {
		return res, transfer.Errorf(transfer.CodeIntegrity, op, "no %s found in archives (is the core archive missing?)", SQLEntry)
	}
	return res, nil
}

func (p *Packager) unpackOne(archivePath, outDir, password string) (int, error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return 0, transfer.NewError(transfer.CodeConfiguration, "archive.unpack", "cannot open archive", err)
	}
	defer src.Close()

	plain, err := os.CreateTemp(outDir, ".unpack-*")
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = plain.Close()
		_ = os.Remove(plain.Name())
	}()
	if err := Decrypt(plain, src, password); err != nil {
		return 0, err
	}
	size, err := plain.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	zr, err := zip.NewReader(plain, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, transfer.Wrap(transfer.CodeIntegrity, "archive.unpack", err)
	}
	return Extract(zr, outDir)
}
