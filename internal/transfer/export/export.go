package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

type Result struct {
	BundleID     string                `json:"bundle_id" yaml:"bundle_id"`
	SQLPath      string                `json:"sql_path" yaml:"sql_path"`
	ManifestPath string                `json:"manifest_path" yaml:"manifest_path"`
	Counts       map[bundle.Entity]int `json:"counts" yaml:"counts"`
	SidecarFiles int                   `json:"sidecar_files" yaml:"sidecar_files"`
	SidecarBytes int64                 `json:"sidecar_bytes" yaml:"sidecar_bytes"`
	Duration     time.Duration         `json:"duration" yaml:"duration"`
}

// Export collects the graph, then writes the bundle SQL and manifest. The
// SQL file only appears at outSQL once it is complete.
func (c *Collector) Export(ctx context.Context, opts Options, outSQL string, dialect bundle.Dialect) (*Result, error) {
	start := c.now()
	b, err := c.Collect(ctx, opts)
	if err != nil {
		return nil, err
	}
	manifestPath, err := c.sidecar.WriteManifest(b.SidecarManifest)
	if err != nil {
		return nil, err
	}
	bundleID, err := writeSQLFile(outSQL, b, bundle.SQLOptions{Dialect: dialect, CreatedAt: c.now()})
	if err != nil {
		return nil, err
	}
	res := &Result{
		BundleID:     bundleID,
		SQLPath:      outSQL,
		ManifestPath: manifestPath,
		Counts:       b.Counts,
		SidecarFiles: len(b.SidecarManifest),
		Duration:     c.now().Sub(start),
	}
	for _, e := range b.SidecarManifest {
		res.SidecarBytes += e.Size
	}
	c.log.Info("export written", "bundle_id", bundleID, "sql", outSQL, "manifest", manifestPath)
	return res, nil
}

func writeSQLFile(p string, b *bundle.Bundle, opts bundle.SQLOptions) (string, error) {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir sql dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bundle-*.sql")
	if err != nil {
		return "", fmt.Errorf("create temp sql: %w", err)
	}
	defer os.Remove(tmp.Name())
	id, err := bundle.WriteSQL(tmp, b, opts)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("finalize sql file: %w", err)
	}
	return id, nil
}
