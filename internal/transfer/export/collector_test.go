package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-successbundle/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/generation"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/objectstore"
)

func allOptions() Options {
	return Options{IncludeIllustrations: true, IncludeAudios: true, IncludeFensters: true, Strict: true}
}

func TestCollect_FullGraph(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	objectRoot := t.TempDir()
	g := testutil.SeedGraph(t, ctx, db, objectRoot)

	sidecar := bundle.NewSidecar(filepath.Join(t.TempDir(), "sidecar"))
	c := NewCollector(db, testutil.Logger(t), objectstore.NewLocal(objectRoot), sidecar)
	b, err := c.Collect(ctx, allOptions())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := map[bundle.Entity]int{
		bundle.EntityJobs:                 1,
		bundle.EntityLessons:              1,
		bundle.EntitySections:             2,
		bundle.EntitySectionErrors:        1,
		bundle.EntitySubjectiveWidgets:    1,
		bundle.EntitySectionIllustrations: 1,
		bundle.EntityIllustrations:        1,
		bundle.EntityFensterWidgets:       1,
		bundle.EntityCoachAudios:          1,
	}
	for e, n := range want {
		if b.Counts[e] != n {
			t.Fatalf("count %s=%d want %d (all=%v)", e, b.Counts[e], n, b.Counts)
		}
	}
	if id := b.Rows(bundle.EntityJobs)[0]["id"]; id != g.Job.ID {
		t.Fatalf("exported job %v, want only the done job %s", id, g.Job.ID)
	}
	if len(b.SidecarManifest) != 3 {
		t.Fatalf("manifest entries=%d want 3: %+v", len(b.SidecarManifest), b.SidecarManifest)
	}

	audio := b.Rows(bundle.EntityCoachAudios)[0]
	ref, ok, err := bundle.ParseBinaryRef(audio["audio"])
	if err != nil || !ok {
		t.Fatalf("audio column should be a ref, got %v (%v)", audio["audio"], err)
	}
	if !strings.HasPrefix(ref.Ref, "coach_audios/") || !strings.HasSuffix(ref.Ref, ".mp3") {
		t.Fatalf("audio ref=%q", ref.Ref)
	}
	data, err := sidecar.Load(bundle.ManifestEntry{RelativePath: ref.Ref, SHA256: ref.SHA256, Size: ref.Size})
	if err != nil {
		t.Fatalf("Load audio: %v", err)
	}
	if string(data) != string(g.Audio.Audio) {
		t.Fatalf("audio bytes differ")
	}

	ill := b.Rows(bundle.EntityIllustrations)[0]
	ref, ok, err = bundle.ParseBinaryRef(ill[bundle.IllustrationObjectColumn])
	if err != nil || !ok || ref.Size != int64(len(g.IllustrationBytes)) {
		t.Fatalf("illustration ref=%+v ok=%v err=%v", ref, ok, err)
	}
	if _, err := sidecar.Resolve(ref.Ref); err != nil {
		t.Fatalf("illustration ref unresolved: %v", err)
	}
}

func TestCollect_ResetsSidecarAndRespectsFlags(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	testutil.SeedGraph(t, ctx, db, "")

	root := filepath.Join(t.TempDir(), "sidecar")
	if err := os.MkdirAll(filepath.Join(root, "stale"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "stale", "old.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCollector(db, testutil.Logger(t), nil, bundle.NewSidecar(root))
	b, err := c.Collect(ctx, Options{Strict: true})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "stale")); !os.IsNotExist(err) {
		t.Fatalf("stale sidecar content survived: %v", err)
	}
	for _, e := range []bundle.Entity{bundle.EntityCoachAudios, bundle.EntityIllustrations, bundle.EntityFensterWidgets, bundle.EntitySectionIllustrations} {
		if len(b.Rows(e)) != 0 {
			t.Fatalf("%s should be excluded by flags", e)
		}
	}
	if len(b.SidecarManifest) != 0 {
		t.Fatalf("manifest should be empty: %+v", b.SidecarManifest)
	}
}

func TestCollect_MissingObjectPolicy(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	testutil.SeedGraph(t, ctx, db, "")
	objects := objectstore.NewLocal(t.TempDir())

	strict := NewCollector(db, testutil.Logger(t), objects, bundle.NewSidecar(filepath.Join(t.TempDir(), "s1")))
	if _, err := strict.Collect(ctx, allOptions()); !transfer.IsCode(err, transfer.CodeIntegrity) {
		t.Fatalf("strict: expected integrity error, got %v", err)
	}

	lenient := NewCollector(db, testutil.Logger(t), objects, bundle.NewSidecar(filepath.Join(t.TempDir(), "s2")))
	opts := allOptions()
	opts.Strict = false
	b, err := lenient.Collect(ctx, opts)
	if err != nil {
		t.Fatalf("lenient: %v", err)
	}
	ills := b.Rows(bundle.EntityIllustrations)
	if len(ills) != 1 || ills[0][bundle.IllustrationObjectColumn] != nil {
		t.Fatalf("missing object should leave a null ref: %+v", ills)
	}
}

func TestCollect_MaxRowsOldestFirst(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	first := testutil.SeedGraph(t, ctx, db, "")
	later := &generation.Job{
		ID: "job-later", Kind: "lesson_generation", Status: generation.JobStatusDone,
		CreatedAt: testutil.Stamp(48 * time.Hour), UpdatedAt: testutil.Stamp(0),
	}
	if err := db.Create(later).Error; err != nil {
		t.Fatal(err)
	}
	c := NewCollector(db, testutil.Logger(t), nil, bundle.NewSidecar(t.TempDir()+"/sc"))
	b, err := c.Collect(ctx, Options{MaxRows: 1})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	jobs := b.Rows(bundle.EntityJobs)
	if len(jobs) != 1 || jobs[0]["id"] != first.Job.ID {
		t.Fatalf("expected only the oldest job, got %+v", jobs)
	}

	if _, err := c.Collect(ctx, Options{MaxRows: -1}); !transfer.IsCode(err, transfer.CodeConfiguration) {
		t.Fatalf("negative max rows: %v", err)
	}
}

func TestScanJobRefs(t *testing.T) {
	jobs := []generation.Job{
		{ID: "a", LessonID: testutil.PtrString("l-1"), ResultJSON: []byte(`{"nested":{"lesson_id":"l-2"},"fenster_ids":["bad","6ba7b810-9dad-11d1-80b4-00c04fd430c8"]}`)},
		{ID: "b", ResultJSON: []byte(`{"items":[{"lesson_id":"l-1"},{"fenster_id":"6BA7B811-9DAD-11D1-80B4-00C04FD430C8"}]}`)},
		{ID: "c", ResultJSON: []byte(`not json`)},
	}
	refs := scanJobRefs(jobs)
	if strings.Join(refs.lessonIDs, ",") != "l-1,l-2" {
		t.Fatalf("lessons=%v", refs.lessonIDs)
	}
	if strings.Join(refs.fensterIDs, ",") != "6ba7b810-9dad-11d1-80b4-00c04fd430c8,6ba7b811-9dad-11d1-80b4-00c04fd430c8" {
		t.Fatalf("fensters=%v", refs.fensterIDs)
	}
	if len(refs.jobIDs) != 3 {
		t.Fatalf("jobs=%v", refs.jobIDs)
	}
}

func TestExtFor(t *testing.T) {
	cases := map[[2]string]string{
		{"audio/mpeg", ""}:               "mp3",
		{"image/png; charset=x", ""}:     "png",
		{"", "lessons/a/cover.JPEG"}:     "jpeg",
		{"", ""}:                         "bin",
		{"application/x-unknown-zz", ""}: "bin",
	}
	for in, want := range cases {
		if got := extFor(in[0], in[1]); got != want {
			t.Fatalf("extFor(%q,%q)=%q want %q", in[0], in[1], got, want)
		}
	}
}

func TestExport_WritesSQLAndManifest(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	objectRoot := t.TempDir()
	testutil.SeedGraph(t, ctx, db, objectRoot)

	dir := t.TempDir()
	sidecar := bundle.NewSidecar(filepath.Join(dir, "sidecar"))
	c := NewCollector(db, testutil.Logger(t), objectstore.NewLocal(objectRoot), sidecar)
	res, err := c.Export(ctx, allOptions(), filepath.Join(dir, "bundle.sql"), bundle.DialectPortable)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	raw, err := os.ReadFile(res.SQLPath)
	if err != nil {
		t.Fatalf("read sql: %v", err)
	}
	if err := bundle.CheckSQL(string(raw)); err != nil {
		t.Fatalf("exported sql fails safety check: %v", err)
	}
	if bundle.ParseBundleID(string(raw)) != res.BundleID {
		t.Fatalf("bundle id header mismatch")
	}
	entries, err := sidecar.ReadManifest()
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(entries) != res.SidecarFiles || res.SidecarFiles != 3 {
		t.Fatalf("manifest entries=%d result=%d", len(entries), res.SidecarFiles)
	}
	rep, err := sidecar.VerifyAll(entries, transfer.NewIntegrityPolicy(true, nil))
	if err != nil || !rep.OK() || rep.Bytes != res.SidecarBytes {
		t.Fatalf("verify report=%+v err=%v", rep, err)
	}
}
