package hydrate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/neurobridge-successbundle/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/generation"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/export"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/objectstore"
)

func seedSource(t *testing.T) (*testutil.Graph, exported) {
	t.Helper()
	ctx := context.Background()
	src := testutil.NamedDB(t, "source.db")
	testutil.SeedPadding(t, ctx, src, 3)
	objectRoot := t.TempDir()
	g := testutil.SeedGraph(t, ctx, src, objectRoot)
	return g, exportFrom(t, src, objectRoot, fullExport())
}

func TestRun_ScenarioIntoEmptyTarget(t *testing.T) {
	ctx := context.Background()
	g, e := seedSource(t)
	dst := testutil.NamedDB(t, "target.db")

	res, err := newTestEngine(t, dst, nil).Run(ctx, fullHydrate(e))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Committed || res.DryRun || res.Passes != 1 {
		t.Fatalf("result=%+v", res)
	}

	for model, want := range map[interface{}]int64{
		&generation.Lesson{}:              1,
		&generation.Section{}:             2,
		&generation.SectionError{}:        1,
		&generation.SubjectiveWidget{}:    1,
		&generation.Illustration{}:        1,
		&generation.SectionIllustration{}: 1,
		&generation.FensterWidget{}:       1,
		&generation.CoachAudio{}:          1,
		&generation.Job{}:                 1,
	} {
		if got := countRows(t, dst, model); got != want {
			t.Fatalf("%T rows=%d want %d", model, got, want)
		}
	}

	var sections []generation.Section
	if err := dst.Order("order_index ASC").Find(&sections).Error; err != nil {
		t.Fatal(err)
	}
	if sections[0].OrderIndex != 0 || sections[1].OrderIndex != 1 {
		t.Fatalf("section order=%d,%d", sections[0].OrderIndex, sections[1].OrderIndex)
	}
	if sections[0].ID == g.Sections[0].ID {
		t.Fatalf("fixture padding should make target ids differ from source ids")
	}
	if !sections[0].CreatedAt.Equal(g.Sections[0].CreatedAt) || !sections[1].UpdatedAt.Equal(g.Sections[1].UpdatedAt) {
		t.Fatalf("section timestamps not preserved")
	}

	var ill generation.Illustration
	if err := dst.First(&ill).Error; err != nil {
		t.Fatal(err)
	}
	var audio generation.CoachAudio
	if err := dst.First(&audio).Error; err != nil {
		t.Fatal(err)
	}
	if sha256.Sum256(audio.Audio) != sha256.Sum256(g.Audio.Audio) {
		t.Fatalf("audio bytes differ after round trip")
	}
	if audio.SectionID == nil || *audio.SectionID != sections[1].ID {
		t.Fatalf("audio section_id=%v want %d", audio.SectionID, sections[1].ID)
	}
	var fenster generation.FensterWidget
	if err := dst.First(&fenster, "id = ?", g.Fenster.ID).Error; err != nil {
		t.Fatalf("fenster by portable id: %v", err)
	}
	if !bytes.Equal(fenster.Payload, g.Fenster.Payload) {
		t.Fatalf("fenster payload differs")
	}

	var job generation.Job
	if err := dst.First(&job, "id = ?", g.Job.ID).Error; err != nil {
		t.Fatal(err)
	}
	if job.SectionID == nil || *job.SectionID != sections[0].ID {
		t.Fatalf("job.section_id=%v want %d", job.SectionID, sections[0].ID)
	}
	if job.CompletedAt == nil || !job.CompletedAt.Equal(*g.Job.CompletedAt) {
		t.Fatalf("completed_at not preserved: %v", job.CompletedAt)
	}
	result := decodeJSON(t, job.ResultJSON)
	if got := result["section_id"].(json.Number).String(); got != jsonID(sections[0].ID) {
		t.Fatalf("result_json.section_id=%s want %d", got, sections[0].ID)
	}
	if got := result["illustration_id"].(json.Number).String(); got != jsonID(ill.ID) {
		t.Fatalf("result_json.illustration_id=%s want %d", got, ill.ID)
	}
	audioIDs := result["audio_ids"].([]interface{})
	if len(audioIDs) != 1 || audioIDs[0].(json.Number).String() != jsonID(audio.ID) {
		t.Fatalf("result_json.audio_ids=%v want [%d]", audioIDs, audio.ID)
	}
	outline := result["outline"].([]interface{})[0].(map[string]interface{})
	if outline["section_id"].(json.Number).String() != jsonID(sections[1].ID) {
		t.Fatalf("nested outline section_id=%v want %d", outline["section_id"], sections[1].ID)
	}
	if result["fenster_id"] != g.Fenster.ID.String() {
		t.Fatalf("unrelated keys must pass through: %v", result["fenster_id"])
	}

	var sectionErr generation.SectionError
	if err := dst.First(&sectionErr).Error; err != nil {
		t.Fatal(err)
	}
	if sectionErr.SectionID != sections[0].ID {
		t.Fatalf("section_error.section_id=%d want %d", sectionErr.SectionID, sections[0].ID)
	}
	detail := decodeJSON(t, sectionErr.DetailJSON)
	if detail["section_id"].(json.Number).String() != jsonID(sections[0].ID) {
		t.Fatalf("detail_json.section_id=%v", detail["section_id"])
	}
	if res.RemapSizes[bundle.EntitySections] != 2 {
		t.Fatalf("remap sizes=%v", res.RemapSizes)
	}
}

func jsonID(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}

func TestRun_IdempotentSecondRun(t *testing.T) {
	ctx := context.Background()
	_, e := seedSource(t)
	dst := testutil.NamedDB(t, "target.db")
	eng := newTestEngine(t, dst, nil)

	first, err := eng.Run(ctx, fullHydrate(e))
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	var before []generation.Section
	if err := dst.Order("id").Find(&before).Error; err != nil {
		t.Fatal(err)
	}

	second, err := eng.Run(ctx, fullHydrate(e))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := second.Stats.created(); n != 0 {
		t.Fatalf("second run created %d rows: %v", n, second.Stats.Created)
	}
	if err := second.remaps.diff(first.remaps); err != nil {
		t.Fatalf("remaps differ between runs: %v", err)
	}
	var after []generation.Section
	if err := dst.Order("id").Find(&after).Error; err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("section count %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || !before[i].UpdatedAt.Equal(after[i].UpdatedAt) {
			t.Fatalf("section %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestRun_VerifyRerun(t *testing.T) {
	_, e := seedSource(t)
	dst := testutil.NamedDB(t, "target.db")
	opts := fullHydrate(e)
	opts.VerifyRerun = true
	res, err := newTestEngine(t, dst, nil).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passes != 2 || !res.Committed {
		t.Fatalf("result=%+v", res)
	}
	if got := countRows(t, dst, &generation.Section{}); got != 2 {
		t.Fatalf("sections=%d", got)
	}
}

func TestRun_DryRunLeavesTargetUntouched(t *testing.T) {
	_, e := seedSource(t)
	dst := testutil.NamedDB(t, "target.db")
	opts := fullHydrate(e)
	opts.DryRun = true
	opts.VerifyRerun = true

	res, err := newTestEngine(t, dst, nil).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("dry run should not error: %v", err)
	}
	if !res.DryRun || res.Committed || res.Passes != 2 {
		t.Fatalf("result=%+v", res)
	}
	for _, m := range []interface{}{&generation.Lesson{}, &generation.Section{}, &generation.Job{}, &generation.CoachAudio{}} {
		if n := countRows(t, dst, m); n != 0 {
			t.Fatalf("dry run wrote %d %T rows", n, m)
		}
	}
	if dst.Migrator().HasTable(bundle.StagingTable) {
		t.Fatalf("staging table should be rolled back with the dry run")
	}
}

func TestRun_RejectsPathTraversal(t *testing.T) {
	_, e := seedSource(t)
	b := cloneBundle(t, e.bundle)
	for i := range b.SidecarManifest {
		if b.SidecarManifest[i].Entity == bundle.EntityCoachAudios {
			b.SidecarManifest[i].RelativePath = "../../etc/passwd"
		}
	}
	e.sqlPath = writeBundleSQL(t, t.TempDir(), b)

	for _, strict := range []bool{true, false} {
		dst := testutil.NamedDB(t, fmt.Sprintf("target-strict-%t.db", strict))
		opts := fullHydrate(e)
		opts.Strict = strict
		res, err := newTestEngine(t, dst, nil).Run(context.Background(), opts)
		if !transfer.IsCode(err, transfer.CodeIntegrity) {
			t.Fatalf("strict=%t: expected integrity error, got %v", strict, err)
		}
		if res != nil && res.Committed {
			t.Fatalf("strict=%t: traversal run committed", strict)
		}
		if n := countRows(t, dst, &generation.Lesson{}); n != 0 {
			t.Fatalf("strict=%t: traversal run wrote %d lessons", strict, n)
		}
		if n := countRows(t, dst, &generation.Job{}); n != 0 {
			t.Fatalf("strict=%t: traversal run wrote %d jobs", strict, n)
		}
	}
}

func TestRun_StagedBundleIDDecidesPayload(t *testing.T) {
	ctx := context.Background()
	g, e := seedSource(t)
	dst := testutil.NamedDB(t, "target.db")
	eng := newTestEngine(t, dst, nil)

	first, err := eng.Run(ctx, fullHydrate(e))
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	b := cloneBundle(t, e.bundle)
	b.Rows(bundle.EntityLessons)[0]["title"] = "Decimals"
	changed := e
	changed.sqlPath = writeBundleSQL(t, t.TempDir(), b)
	raw, err := os.ReadFile(changed.sqlPath)
	if err != nil {
		t.Fatal(err)
	}
	stagedID := bundle.ParseBundleID(string(raw))
	if stagedID == "" || stagedID == first.BundleID {
		t.Fatalf("unexpected staged id %q (first %q)", stagedID, first.BundleID)
	}

	// A header naming the already staged bundle must not redirect the merge.
	forged := e
	forged.sqlPath = filepath.Join(t.TempDir(), "forged.sql")
	text := strings.Replace(string(raw), "-- bundle_id: "+stagedID, "-- bundle_id: "+first.BundleID, 1)
	if err := os.WriteFile(forged.sqlPath, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Run(ctx, fullHydrate(forged)); !transfer.IsCode(err, transfer.CodeIntegrity) {
		t.Fatalf("expected integrity error for mismatched header, got %v", err)
	}
	var lesson generation.Lesson
	if err := dst.First(&lesson, "id = ?", g.Lesson.ID).Error; err != nil {
		t.Fatal(err)
	}
	if lesson.Title != g.Lesson.Title {
		t.Fatalf("rejected bundle changed title to %q", lesson.Title)
	}

	res, err := eng.Run(ctx, fullHydrate(changed))
	if err != nil {
		t.Fatalf("changed Run: %v", err)
	}
	if res.BundleID != stagedID {
		t.Fatalf("merged bundle %s, want %s", res.BundleID, stagedID)
	}
	if err := dst.First(&lesson, "id = ?", g.Lesson.ID).Error; err != nil {
		t.Fatal(err)
	}
	if lesson.Title != "Decimals" {
		t.Fatalf("title=%q, want the new bundle's", lesson.Title)
	}
}

func TestRun_RejectsUnsafeSQL(t *testing.T) {
	_, e := seedSource(t)
	raw, err := os.ReadFile(e.sqlPath)
	if err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(t.TempDir(), "bad.sql")
	if err := os.WriteFile(bad, append(raw, []byte("\nDROP TABLE users;\n")...), 0o644); err != nil {
		t.Fatal(err)
	}
	e.sqlPath = bad
	dst := testutil.NamedDB(t, "target.db")
	_, err = newTestEngine(t, dst, nil).Run(context.Background(), fullHydrate(e))
	if !transfer.IsCode(err, transfer.CodeUnsafeSQL) {
		t.Fatalf("expected unsafe sql, got %v", err)
	}
	if dst.Migrator().HasTable(bundle.StagingTable) {
		t.Fatalf("unsafe bundle must not be executed")
	}
}

func TestRun_VersionMismatch(t *testing.T) {
	_, e := seedSource(t)
	b := cloneBundle(t, e.bundle)
	b.SchemaVersion = "success_bundle/v9"
	e.sqlPath = writeBundleSQL(t, t.TempDir(), b)
	dst := testutil.NamedDB(t, "target.db")
	_, err := newTestEngine(t, dst, nil).Run(context.Background(), fullHydrate(e))
	if !transfer.IsCode(err, transfer.CodeVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	if n := countRows(t, dst, &generation.Lesson{}); n != 0 {
		t.Fatalf("version mismatch wrote %d lessons", n)
	}
}

func TestRun_ExportWithoutAudios(t *testing.T) {
	ctx := context.Background()
	src := testutil.NamedDB(t, "source.db")
	objectRoot := t.TempDir()
	testutil.SeedGraph(t, ctx, src, objectRoot)
	opts := fullExport()
	opts.IncludeAudios = false
	e := exportFrom(t, src, objectRoot, opts)

	dst := testutil.NamedDB(t, "target.db")
	res, err := newTestEngine(t, dst, nil).Run(ctx, fullHydrate(e))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := countRows(t, dst, &generation.CoachAudio{}); n != 0 {
		t.Fatalf("coach audios=%d want 0", n)
	}
	if res.Stats.Unresolved == 0 {
		t.Fatalf("audio_ids in the job result should be counted as unresolved")
	}
	if n := countRows(t, dst, &generation.Job{}); n != 1 {
		t.Fatalf("jobs=%d", n)
	}
}

func TestRun_LogicalKeyStabilityAcrossReexport(t *testing.T) {
	ctx := context.Background()
	_, e := seedSource(t)
	dst := testutil.NamedDB(t, "target.db")
	eng := newTestEngine(t, dst, nil)
	if _, err := eng.Run(ctx, fullHydrate(e)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var first []generation.Section
	if err := dst.Order("order_index").Find(&first).Error; err != nil {
		t.Fatal(err)
	}

	// Export the hydrated target and merge it back into itself.
	objectRoot := t.TempDir()
	again := exportFrom(t, dst, objectRoot, export.Options{IncludeAudios: true, IncludeFensters: true, Strict: true})
	opts := fullHydrate(again)
	opts.IncludeIllustrations = false
	if _, err := eng.Run(ctx, opts); err != nil {
		t.Fatalf("re-hydrate: %v", err)
	}
	var second []generation.Section
	if err := dst.Order("order_index").Find(&second).Error; err != nil {
		t.Fatal(err)
	}
	if len(second) != 2 {
		t.Fatalf("duplicate sections after re-export: %d", len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("section %d target id changed %d -> %d", i, first[i].ID, second[i].ID)
		}
	}
}

func TestRun_CorruptBinaryPolicy(t *testing.T) {
	_, e := seedSource(t)
	var audioPath string
	for _, m := range e.bundle.SidecarManifest {
		if m.Entity == bundle.EntityCoachAudios {
			audioPath = filepath.Join(e.sidecarDir, filepath.FromSlash(m.RelativePath))
		}
	}
	if err := os.WriteFile(audioPath, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	strictDst := testutil.NamedDB(t, "strict.db")
	if _, err := newTestEngine(t, strictDst, nil).Run(context.Background(), fullHydrate(e)); !transfer.IsCode(err, transfer.CodeIntegrity) {
		t.Fatalf("strict: expected integrity error, got %v", err)
	}
	if n := countRows(t, strictDst, &generation.Lesson{}); n != 0 {
		t.Fatalf("strict failure wrote %d lessons", n)
	}

	lenientDst := testutil.NamedDB(t, "lenient.db")
	opts := fullHydrate(e)
	opts.Strict = false
	res, err := newTestEngine(t, lenientDst, nil).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("lenient: %v", err)
	}
	if res.ManifestFailed != 1 || res.Stats.Skipped[bundle.EntityCoachAudios] != 1 {
		t.Fatalf("result=%+v skipped=%v", res, res.Stats.Skipped)
	}
	if n := countRows(t, lenientDst, &generation.CoachAudio{}); n != 0 {
		t.Fatalf("corrupt audio written: %d", n)
	}
	if n := countRows(t, lenientDst, &generation.Lesson{}); n != 1 {
		t.Fatalf("lessons=%d", n)
	}
}

func TestRun_NullReferenceKeepsExistingBytes(t *testing.T) {
	ctx := context.Background()
	g, e := seedSource(t)
	dst := testutil.NamedDB(t, "target.db")
	eng := newTestEngine(t, dst, nil)
	if _, err := eng.Run(ctx, fullHydrate(e)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	b := cloneBundle(t, e.bundle)
	b.Rows(bundle.EntityCoachAudios)[0]["audio"] = nil
	e.sqlPath = writeBundleSQL(t, t.TempDir(), b)
	if _, err := eng.Run(ctx, fullHydrate(e)); err != nil {
		t.Fatalf("Run with null ref: %v", err)
	}
	var audio generation.CoachAudio
	if err := dst.First(&audio).Error; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(audio.Audio, g.Audio.Audio) {
		t.Fatalf("existing audio bytes overwritten: %q", audio.Audio)
	}
}

func TestRun_RestoreObjects(t *testing.T) {
	g, e := seedSource(t)
	dst := testutil.NamedDB(t, "target.db")
	objectRoot := t.TempDir()
	objects := objectstore.NewLocal(objectRoot)
	opts := fullHydrate(e)
	opts.RestoreObjects = true

	res, err := newTestEngine(t, dst, objects).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RestoredObjects != 1 {
		t.Fatalf("restored=%d", res.RestoredObjects)
	}
	got, err := os.ReadFile(filepath.Join(objectRoot, testutil.IllustrationBucket, filepath.FromSlash(testutil.IllustrationObject)))
	if err != nil {
		t.Fatalf("restored object: %v", err)
	}
	if !bytes.Equal(got, g.IllustrationBytes) {
		t.Fatalf("restored bytes differ")
	}

	if _, err := newTestEngine(t, dst, nil).Run(context.Background(), opts); !transfer.IsCode(err, transfer.CodeConfiguration) {
		t.Fatalf("restore without object store: %v", err)
	}
}

func TestRun_OptionsValidation(t *testing.T) {
	eng := newTestEngine(t, testutil.DB(t), nil)
	for _, opts := range []Options{
		{SidecarDir: "x"},
		{SQLPath: "x"},
		{SQLPath: "x", SidecarDir: "y", LockTimeout: -1},
	} {
		if _, err := eng.Run(context.Background(), opts); !transfer.IsCode(err, transfer.CodeConfiguration) {
			t.Fatalf("opts %+v: expected configuration error, got %v", opts, err)
		}
	}
	if _, err := eng.Run(context.Background(), Options{SQLPath: filepath.Join(t.TempDir(), "missing.sql"), SidecarDir: "y"}); !transfer.IsCode(err, transfer.CodeConfiguration) {
		t.Fatalf("missing sql file: %v", err)
	}
}
