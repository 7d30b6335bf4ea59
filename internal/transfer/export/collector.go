// Package export walks the successful-work graph rooted at done jobs and
// turns it into a bundle plus a sidecar tree of extracted binaries.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/data/db"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/generation"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/observability"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/objectstore"
)

type Options struct {
	IncludeIllustrations bool
	IncludeAudios        bool
	IncludeFensters      bool
	// MaxRows caps the number of jobs after ordering. Zero means no cap.
	MaxRows int
	Strict  bool
}

type Collector struct {
	db      *gorm.DB
	log     *logger.Logger
	objects objectstore.Store
	sidecar *bundle.Sidecar
	now     func() time.Time
}

// NewCollector builds a collector. objects may be nil when illustrations
// are never included.
func NewCollector(gdb *gorm.DB, log *logger.Logger, objects objectstore.Store, sidecar *bundle.Sidecar) *Collector {
	return &Collector{
		db:      gdb,
		log:     log.With("service", "ExportCollector"),
		objects: objects,
		sidecar: sidecar,
		now:     time.Now,
	}
}

// collectState carries one export's accumulating output.
type collectState struct {
	opts     Options
	policy   *transfer.IntegrityPolicy
	b        *bundle.Bundle
	manifest []bundle.ManifestEntry
	nulled   int
}

// Collect reads the graph inside one read transaction and fills the
// sidecar. The sidecar directory is recreated first.
func (c *Collector) Collect(ctx context.Context, opts Options) (*bundle.Bundle, error) {
	if opts.MaxRows < 0 {
		return nil, transfer.Errorf(transfer.CodeConfiguration, "export.collect", "max rows must be >= 0, got %d", opts.MaxRows)
	}
	if opts.IncludeIllustrations && c.objects == nil {
		return nil, transfer.Errorf(transfer.CodeConfiguration, "export.collect", "illustrations requested but no object store configured")
	}
	if err := c.sidecar.Reset(); err != nil {
		return nil, err
	}

	st := &collectState{
		opts:   opts,
		policy: transfer.NewIntegrityPolicy(opts.Strict, c.log),
		b:      bundle.New(c.now()),
	}
	txOpts := &sql.TxOptions{}
	if db.Dialect(c.db) == db.DialectPostgres {
		txOpts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return c.collect(ctx, tx, st)
	}, txOpts)
	if err != nil {
		return nil, err
	}
	bundle.SortManifest(st.manifest)
	st.b.SidecarManifest = st.manifest
	c.log.Info("export collected",
		"jobs", st.b.Counts[bundle.EntityJobs],
		"sections", st.b.Counts[bundle.EntitySections],
		"sidecar_files", len(st.manifest),
		"nulled_refs", st.nulled,
		"policy", st.policy.Mode(),
	)
	return st.b, nil
}

func (c *Collector) collect(ctx context.Context, tx *gorm.DB, st *collectState) (err error) {
	ctx, span := observability.StartStage(ctx, "export", "collect")
	defer func() { observability.EndStage(span, err) }()

	var jobs []generation.Job
	q := tx.Where("status = ?", generation.JobStatusDone).Order("created_at ASC").Order("id ASC")
	if st.opts.MaxRows > 0 {
		q = q.Limit(st.opts.MaxRows)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return fmt.Errorf("select done jobs: %w", err)
	}
	refs := scanJobRefs(jobs)
	if err := addRows(st.b, bundle.EntityJobs, jobs); err != nil {
		return err
	}

	var lessons []generation.Lesson
	if err := findIn(tx, &lessons, "id", refs.lessonIDs, "id ASC"); err != nil {
		return fmt.Errorf("select lessons: %w", err)
	}
	if err := addRows(st.b, bundle.EntityLessons, lessons); err != nil {
		return err
	}

	var sections []generation.Section
	if err := findIn(tx, &sections, "lesson_id", refs.lessonIDs, "lesson_id ASC, order_index ASC"); err != nil {
		return fmt.Errorf("select sections: %w", err)
	}
	if err := addRows(st.b, bundle.EntitySections, sections); err != nil {
		return err
	}
	sectionIDs := make([]int64, 0, len(sections))
	for _, s := range sections {
		sectionIDs = append(sectionIDs, s.ID)
	}

	var sectionErrors []generation.SectionError
	if err := findIn(tx, &sectionErrors, "section_id", sectionIDs, "id ASC"); err != nil {
		return fmt.Errorf("select section errors: %w", err)
	}
	if err := addRows(st.b, bundle.EntitySectionErrors, sectionErrors); err != nil {
		return err
	}
	var widgets []generation.SubjectiveWidget
	if err := findIn(tx, &widgets, "section_id", sectionIDs, "id ASC"); err != nil {
		return fmt.Errorf("select subjective widgets: %w", err)
	}
	if err := addRows(st.b, bundle.EntitySubjectiveWidgets, widgets); err != nil {
		return err
	}

	if st.opts.IncludeIllustrations {
		if err := c.collectIllustrations(ctx, tx, st, sectionIDs); err != nil {
			return err
		}
	}
	if st.opts.IncludeFensters {
		if err := c.collectFensters(tx, st, refs.fensterIDs); err != nil {
			return err
		}
	}
	if st.opts.IncludeAudios {
		if err := c.collectAudios(tx, st, refs.jobIDs); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) collectIllustrations(ctx context.Context, tx *gorm.DB, st *collectState, sectionIDs []int64) error {
	var links []generation.SectionIllustration
	if err := findIn(tx, &links, "section_id", sectionIDs, "id ASC"); err != nil {
		return fmt.Errorf("select section illustrations: %w", err)
	}
	if err := addRows(st.b, bundle.EntitySectionIllustrations, links); err != nil {
		return err
	}
	seen := map[int64]bool{}
	ids := []int64{}
	for _, l := range links {
		if !seen[l.IllustrationID] {
			seen[l.IllustrationID] = true
			ids = append(ids, l.IllustrationID)
		}
	}
	var ills []generation.Illustration
	if err := findIn(tx, &ills, "id", ids, "id ASC"); err != nil {
		return fmt.Errorf("select illustrations: %w", err)
	}
	for i := range ills {
		row, err := toRow(&ills[i])
		if err != nil {
			return err
		}
		ref, err := c.copyObject(ctx, st, &ills[i])
		if err != nil {
			return err
		}
		if ref != nil {
			row[bundle.IllustrationObjectColumn] = ref.AsRow()
		} else {
			row[bundle.IllustrationObjectColumn] = nil
		}
		st.b.Add(bundle.EntityIllustrations, row)
	}
	return nil
}

func (c *Collector) collectFensters(tx *gorm.DB, st *collectState, ids []string) error {
	var fensters []generation.FensterWidget
	if err := findIn(tx, &fensters, "id", ids, "id ASC"); err != nil {
		return fmt.Errorf("select fenster widgets: %w", err)
	}
	for i := range fensters {
		f := &fensters[i]
		row, err := c.extractBinary(st, bundle.EntityFensterWidgets, f.ID.String(), f.MimeType, "payload", f, f.Payload)
		if err != nil {
			return err
		}
		st.b.Add(bundle.EntityFensterWidgets, row)
	}
	return nil
}

func (c *Collector) collectAudios(tx *gorm.DB, st *collectState, jobIDs []string) error {
	var audios []generation.CoachAudio
	if err := findIn(tx, &audios, "job_id", jobIDs, "id ASC"); err != nil {
		return fmt.Errorf("select coach audios: %w", err)
	}
	for i := range audios {
		a := &audios[i]
		row, err := c.extractBinary(st, bundle.EntityCoachAudios, fmt.Sprint(a.ID), a.MimeType, "audio", a, a.Audio)
		if err != nil {
			return err
		}
		st.b.Add(bundle.EntityCoachAudios, row)
	}
	return nil
}

// findIn runs "col IN ?" in chunks so large id sets stay under driver
// parameter limits.
func findIn[T any, K comparable](tx *gorm.DB, dest *[]T, col string, keys []K, order string) error {
	const chunk = 500
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		var part []T
		if err := tx.Where(col+" IN ?", keys[start:end]).Order(order).Find(&part).Error; err != nil {
			return err
		}
		*dest = append(*dest, part...)
	}
	return nil
}

func addRows[T any](b *bundle.Bundle, entity bundle.Entity, items []T) error {
	for i := range items {
		row, err := toRow(&items[i])
		if err != nil {
			return fmt.Errorf("encode %s row: %w", entity, err)
		}
		b.Add(entity, row)
	}
	return nil
}
