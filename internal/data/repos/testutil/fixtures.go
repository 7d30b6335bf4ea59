package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/generation"
)

const (
	IllustrationBucket = "lesson-art"
	IllustrationObject = "lessons/l-1/cover.png"
)

// Graph is the canonical fixture: one done job, one lesson with two
// sections, one illustration, one coach audio and one fenster widget.
type Graph struct {
	Job          *generation.Job
	Pending      *generation.Job
	Lesson       *generation.Lesson
	Sections     []*generation.Section
	Error        *generation.SectionError
	Widget       *generation.SubjectiveWidget
	Illustration *generation.Illustration
	Link         *generation.SectionIllustration
	Fenster      *generation.FensterWidget
	Audio        *generation.CoachAudio

	IllustrationBytes []byte
}

func Stamp(offset time.Duration) time.Time {
	return time.Date(2025, time.March, 4, 5, 6, 7, 123456000, time.UTC).Add(offset)
}

func PtrString(v string) *string { return &v }

func PtrInt64(v int64) *int64 { return &v }

func PtrTime(v time.Time) *time.Time { return &v }

func mustCreate(tb testing.TB, ctx context.Context, db *gorm.DB, what string, v interface{}) {
	tb.Helper()
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed %s: %v", what, err)
	}
}

func mustJSON(tb testing.TB, v interface{}) datatypes.JSON {
	tb.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal fixture json: %v", err)
	}
	return datatypes.JSON(raw)
}

// SeedPadding inserts unrelated sections and illustrations so the source
// surrogate ids differ from the ids a fresh target will assign.
func SeedPadding(tb testing.TB, ctx context.Context, db *gorm.DB, n int) {
	tb.Helper()
	lesson := &generation.Lesson{ID: "padding-" + uuid.NewString(), Title: "padding", CreatedAt: Stamp(0), UpdatedAt: Stamp(0)}
	mustCreate(tb, ctx, db, "padding lesson", lesson)
	for i := 0; i < n; i++ {
		mustCreate(tb, ctx, db, "padding section", &generation.Section{
			LessonID: lesson.ID, OrderIndex: i, Title: "pad", CreatedAt: Stamp(0), UpdatedAt: Stamp(0),
		})
		mustCreate(tb, ctx, db, "padding illustration", &generation.Illustration{
			Bucket: "padding", ObjectName: uuid.NewString(), CreatedAt: Stamp(0), UpdatedAt: Stamp(0),
		})
	}
}

// SeedGraph writes the fixture graph into db. When objectRoot is non-empty
// the illustration bytes are written to objectRoot/<bucket>/<object>.
func SeedGraph(tb testing.TB, ctx context.Context, db *gorm.DB, objectRoot string) *Graph {
	tb.Helper()
	g := &Graph{IllustrationBytes: []byte("\x89PNG\r\n\x1a\nfixture-illustration")}

	g.Lesson = &generation.Lesson{
		ID:           "lesson-" + uuid.NewString(),
		Title:        "Fractions",
		Language:     "en",
		MetadataJSON: mustJSON(tb, map[string]interface{}{"grade": 5}),
		CreatedAt:    Stamp(time.Minute),
		UpdatedAt:    Stamp(2 * time.Minute),
	}
	mustCreate(tb, ctx, db, "lesson", g.Lesson)

	for i := 0; i < 2; i++ {
		s := &generation.Section{
			LessonID:         g.Lesson.ID,
			OrderIndex:       i,
			Title:            []string{"Intro", "Practice"}[i],
			ContentJSON:      mustJSON(tb, map[string]interface{}{"blocks": []interface{}{map[string]interface{}{"type": "text", "text": "hello"}}}),
			ShorthandContent: "s" + string(rune('0'+i)),
			CreatedAt:        Stamp(time.Duration(3+i) * time.Minute),
			UpdatedAt:        Stamp(time.Duration(5+i) * time.Minute),
		}
		mustCreate(tb, ctx, db, "section", s)
		g.Sections = append(g.Sections, s)
	}

	g.Error = &generation.SectionError{
		SectionID: g.Sections[0].ID, Kind: "grammar", Message: "missing article",
		DetailJSON: mustJSON(tb, map[string]interface{}{"section_id": g.Sections[0].ID}),
		CreatedAt:  Stamp(7 * time.Minute),
	}
	mustCreate(tb, ctx, db, "section error", g.Error)

	g.Widget = &generation.SubjectiveWidget{
		SectionID: g.Sections[1].ID, WidgetKey: "reflect-1", Prompt: "Explain halves",
		ConfigJSON: mustJSON(tb, map[string]interface{}{"min_words": 20}),
		CreatedAt:  Stamp(8 * time.Minute), UpdatedAt: Stamp(9 * time.Minute),
	}
	mustCreate(tb, ctx, db, "subjective widget", g.Widget)

	g.Illustration = &generation.Illustration{
		Bucket: IllustrationBucket, ObjectName: IllustrationObject, MimeType: "image/png",
		Caption: "Pizza slices", MetadataJSON: mustJSON(tb, map[string]interface{}{"w": 640}),
		CreatedAt: Stamp(10 * time.Minute), UpdatedAt: Stamp(11 * time.Minute),
	}
	mustCreate(tb, ctx, db, "illustration", g.Illustration)
	if objectRoot != "" {
		p := filepath.Join(objectRoot, IllustrationBucket, filepath.FromSlash(IllustrationObject))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			tb.Fatalf("mkdir object root: %v", err)
		}
		if err := os.WriteFile(p, g.IllustrationBytes, 0o644); err != nil {
			tb.Fatalf("write illustration object: %v", err)
		}
	}

	g.Link = &generation.SectionIllustration{
		SectionID: g.Sections[0].ID, IllustrationID: g.Illustration.ID, Position: 1, CreatedAt: Stamp(12 * time.Minute),
	}
	mustCreate(tb, ctx, db, "section illustration", g.Link)

	g.Fenster = &generation.FensterWidget{
		ID: uuid.New(), LessonID: PtrString(g.Lesson.ID), Kind: "interactive", MimeType: "text/html",
		Payload:   []byte("<div>fenster</div>"),
		CreatedAt: Stamp(13 * time.Minute), UpdatedAt: Stamp(14 * time.Minute),
	}
	mustCreate(tb, ctx, db, "fenster widget", g.Fenster)

	g.Job = &generation.Job{
		ID:          "job-" + uuid.NewString(),
		Kind:        "lesson_generation",
		Status:      generation.JobStatusDone,
		LessonID:    PtrString(g.Lesson.ID),
		SectionID:   PtrInt64(g.Sections[0].ID),
		RequestJSON: mustJSON(tb, map[string]interface{}{"topic": "fractions"}),
		CreatedAt:   Stamp(15 * time.Minute),
		UpdatedAt:   Stamp(16 * time.Minute),
		CompletedAt: PtrTime(Stamp(17 * time.Minute)),
	}
	mustCreate(tb, ctx, db, "job", g.Job)

	g.Audio = &generation.CoachAudio{
		JobID: g.Job.ID, SectionID: PtrInt64(g.Sections[1].ID), Subsection: "intro",
		MimeType: "audio/mpeg", DurationMS: 1200, Audio: []byte("ID3-fixture-audio"),
		CreatedAt: Stamp(18 * time.Minute),
	}
	mustCreate(tb, ctx, db, "coach audio", g.Audio)

	g.Job.ResultJSON = mustJSON(tb, map[string]interface{}{
		"lesson_id":       g.Lesson.ID,
		"section_id":      g.Sections[0].ID,
		"illustration_id": g.Illustration.ID,
		"audio_ids":       []int64{g.Audio.ID},
		"fenster_id":      g.Fenster.ID.String(),
		"fenster_ids":     []string{"not-a-uuid"},
		"outline": []interface{}{
			map[string]interface{}{"section_id": g.Sections[1].ID, "title": "Practice"},
		},
	})
	if err := db.WithContext(ctx).Model(&generation.Job{}).Where("id = ?", g.Job.ID).
		UpdateColumn("result_json", g.Job.ResultJSON).Error; err != nil {
		tb.Fatalf("seed job result: %v", err)
	}

	g.Pending = &generation.Job{
		ID: "job-pending-" + uuid.NewString(), Kind: "lesson_generation", Status: "running",
		CreatedAt: Stamp(0), UpdatedAt: Stamp(0),
	}
	mustCreate(tb, ctx, db, "pending job", g.Pending)

	return g
}
