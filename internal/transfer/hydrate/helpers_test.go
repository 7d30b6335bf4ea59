package hydrate

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/export"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/objectstore"
)

type exported struct {
	sqlPath    string
	sidecarDir string
	bundle     *bundle.Bundle
}

func fullExport() export.Options {
	return export.Options{IncludeIllustrations: true, IncludeAudios: true, IncludeFensters: true, Strict: true}
}

func fullHydrate(e exported) Options {
	return Options{
		SQLPath:              e.sqlPath,
		SidecarDir:           e.sidecarDir,
		Strict:               true,
		IncludeIllustrations: true,
		IncludeAudios:        true,
		IncludeFensters:      true,
	}
}

// exportFrom collects src into a fresh directory and writes the bundle
// SQL in the portable dialect.
func exportFrom(t *testing.T, src *gorm.DB, objectRoot string, opts export.Options) exported {
	t.Helper()
	dir := t.TempDir()
	sidecar := bundle.NewSidecar(filepath.Join(dir, "sidecar"))
	c := export.NewCollector(src, testutil.Logger(t), objectstore.NewLocal(objectRoot), sidecar)
	b, err := c.Collect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	e := exported{sidecarDir: sidecar.Root(), bundle: b}
	e.sqlPath = writeBundleSQL(t, dir, b)
	return e
}

func writeBundleSQL(t *testing.T, dir string, b *bundle.Bundle) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := bundle.WriteSQL(&buf, b, bundle.SQLOptions{Dialect: bundle.DialectPortable, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("WriteSQL: %v", err)
	}
	f, err := os.CreateTemp(dir, "bundle-*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}

// cloneBundle deep-copies b through its JSON form.
func cloneBundle(t *testing.T, b *bundle.Bundle) *bundle.Bundle {
	t.Helper()
	raw, err := bundle.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	out, err := bundle.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func decodeJSON(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode json %s: %v", raw, err)
	}
	return out
}

func newTestEngine(t *testing.T, db *gorm.DB, objects objectstore.Store) *Engine {
	t.Helper()
	return NewEngine(db, testutil.Logger(t), objects, nil)
}
