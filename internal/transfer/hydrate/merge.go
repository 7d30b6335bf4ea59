package hydrate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/generation"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

// runState is everything one merge pass owns. A rerun gets a fresh
// runState that shares only the blob cache.
type runState struct {
	opts    Options
	log     *logger.Logger
	policy  *transfer.IntegrityPolicy
	blobs   *blobCache
	remaps  remapSet
	rw      *rewriter
	stats   *passStats
	checks  []stampCheck
	objects []restoreItem
}

func newRunState(opts Options, log *logger.Logger, policy *transfer.IntegrityPolicy, blobs *blobCache) *runState {
	remaps := newRemapSet()
	return &runState{
		opts:   opts,
		log:    log,
		policy: policy,
		blobs:  blobs,
		remaps: remaps,
		rw:     &rewriter{remaps: remaps},
		stats:  newPassStats(),
	}
}

// restoreItem is an illustration whose verified bytes may be written back
// to object storage after commit.
type restoreItem struct {
	bucket     string
	objectName string
	mimeType   string
	data       []byte
}

func (st *runState) skip(entity bundle.Entity, reason string, kv ...interface{}) {
	st.stats.Skipped[entity]++
	st.log.Debug("row skipped", append([]interface{}{"entity", entity, "reason", reason}, kv...)...)
}

// mergeAll applies every included entity in dependency order.
func mergeAll(tx *gorm.DB, st *runState, b *bundle.Bundle) error {
	for _, entity := range bundle.MergeOrder {
		if !st.opts.includes(entity) {
			continue
		}
		rows := b.Rows(entity)
		if len(rows) == 0 {
			continue
		}
		var err error
		switch entity {
		case bundle.EntityLessons:
			err = mergeRows(tx, st, lessonSpec, rows, nil)
		case bundle.EntitySections:
			err = mergeRows(tx, st, sectionSpec, rows, nil)
		case bundle.EntitySectionErrors:
			err = mergeRows(tx, st, sectionErrorSpec, rows, func(r bundle.Row) (bool, error) {
				if !st.remapColumn(r, "section_id", bundle.EntitySections, false) {
					return false, nil
				}
				st.rewriteColumns(r, "detail_json")
				return true, nil
			})
		case bundle.EntitySubjectiveWidgets:
			err = mergeRows(tx, st, subjectiveWidgetSpec, rows, func(r bundle.Row) (bool, error) {
				if !st.remapColumn(r, "section_id", bundle.EntitySections, false) {
					return false, nil
				}
				st.rewriteColumns(r, "config_json")
				return true, nil
			})
		case bundle.EntityIllustrations:
			err = mergeIllustrations(tx, st, rows)
		case bundle.EntitySectionIllustrations:
			err = mergeRows(tx, st, sectionIllustrationSpec, rows, func(r bundle.Row) (bool, error) {
				ok := st.remapColumn(r, "section_id", bundle.EntitySections, false) &&
					st.remapColumn(r, "illustration_id", bundle.EntityIllustrations, false)
				return ok, nil
			})
		case bundle.EntityFensterWidgets:
			err = mergeBinaryRows(tx, st, fensterSpec, rows, "payload", nil,
				func(rec *generation.FensterWidget, data []byte) { rec.Payload = data })
		case bundle.EntityCoachAudios:
			err = mergeBinaryRows(tx, st, coachAudioSpec, rows, "audio",
				func(r bundle.Row) (bool, error) {
					return st.remapColumn(r, "section_id", bundle.EntitySections, true), nil
				},
				func(rec *generation.CoachAudio, data []byte) { rec.Audio = data })
		case bundle.EntityJobs:
			err = mergeRows(tx, st, jobSpec, rows, func(r bundle.Row) (bool, error) {
				if !st.remapColumn(r, "section_id", bundle.EntitySections, true) {
					return false, nil
				}
				st.rewriteColumns(r, "request_json", "result_json")
				return true, nil
			})
		}
		if err != nil {
			return err
		}
	}
	st.stats.Unresolved = st.rw.unresolved
	return nil
}

// prepareFunc adjusts a cloned row before it is decoded. Returning false
// skips the row.
type prepareFunc func(r bundle.Row) (bool, error)

func mergeRows[T any](tx *gorm.DB, st *runState, spec entitySpec[T], rows []bundle.Row, prepare prepareFunc) error {
	return mergeBinaryRows(tx, st, spec, rows, "", prepare, nil)
}

// mergeBinaryRows is mergeRows for tables with a sidecar-backed column.
// A declared reference that cannot be loaded skips the row; a null
// reference leaves the target's bytes alone.
func mergeBinaryRows[T any](tx *gorm.DB, st *runState, spec entitySpec[T], rows []bundle.Row, binaryCol string,
	prepare prepareFunc, attach func(*T, []byte)) error {
	for _, src := range rows {
		r := cloneRow(src)
		if prepare != nil {
			ok, err := prepare(r)
			if err != nil {
				return err
			}
			if !ok {
				st.skip(spec.entity, "unresolved parent", "id", src["id"])
				continue
			}
		}
		var data []byte
		if binaryCol != "" {
			var ok bool
			var err error
			data, ok, err = st.takeBinary(r, spec.entity, binaryCol)
			if err != nil {
				return err
			}
			if !ok {
				st.skip(spec.entity, "binary unavailable", "id", src["id"])
				continue
			}
		}
		rec, err := decodeRow[T](r)
		if err != nil {
			return transfer.NewError(transfer.CodeIntegrity, "hydrate.decode", fmt.Sprintf("%s row %v", spec.entity, src["id"]), err)
		}
		if attach != nil && data != nil {
			attach(rec, data)
		}
		if _, err := upsertRecord(tx, st, spec, src, rec); err != nil {
			return err
		}
	}
	return nil
}

func mergeIllustrations(tx *gorm.DB, st *runState, rows []bundle.Row) error {
	for _, src := range rows {
		r := cloneRow(src)
		data, ok, err := st.takeBinary(r, bundle.EntityIllustrations, bundle.IllustrationObjectColumn)
		if err != nil {
			return err
		}
		if !ok {
			st.skip(bundle.EntityIllustrations, "object unavailable", "id", src["id"])
			continue
		}
		delete(r, bundle.IllustrationObjectColumn)
		st.rewriteColumns(r, "metadata_json")
		rec, err := decodeRow[generation.Illustration](r)
		if err != nil {
			return transfer.NewError(transfer.CodeIntegrity, "hydrate.decode", fmt.Sprintf("illustration row %v", src["id"]), err)
		}
		if _, err := upsertRecord(tx, st, illustrationSpec, src, rec); err != nil {
			return err
		}
		if data != nil {
			st.objects = append(st.objects, restoreItem{
				bucket: rec.Bucket, objectName: rec.ObjectName, mimeType: rec.MimeType, data: data,
			})
		}
	}
	return nil
}

// upsertRecord writes rec, records the remap for surrogate-keyed tables
// and queues the timestamp check.
func upsertRecord[T any](tx *gorm.DB, st *runState, spec entitySpec[T], src bundle.Row, rec *T) (upsertOutcome, error) {
	var sourceID int64
	if spec.getID != nil {
		id, err := bundle.Int64(src["id"])
		if err != nil {
			return upsertOutcome{}, transfer.NewError(transfer.CodeIntegrity, "hydrate.upsert",
				fmt.Sprintf("%s row has no usable id", spec.entity), err)
		}
		sourceID = id
	}
	out, err := upsertByLogicalKey(tx, spec, rec)
	if err != nil {
		return out, err
	}
	if out.created {
		st.stats.Created[spec.entity]++
	} else {
		st.stats.Updated[spec.entity]++
	}
	if spec.getID != nil {
		if _, remapped := st.remaps[spec.entity]; remapped {
			st.remaps.put(spec.entity, sourceID, out.targetID)
		}
	}
	st.checks = append(st.checks, newStampCheck(spec, rec, src["id"]))
	return out, nil
}

// remapColumn replaces a surrogate parent id in r with its target id.
// It returns false when the parent did not resolve.
func (st *runState) remapColumn(r bundle.Row, col string, entity bundle.Entity, nullable bool) bool {
	v, present := r[col]
	if !present || v == nil {
		return nullable
	}
	source, err := bundle.Int64(v)
	if err != nil {
		return false
	}
	target, ok := st.remaps.lookup(entity, source)
	if !ok {
		return false
	}
	r[col] = json.Number(strconv.FormatInt(target, 10))
	return true
}

func (st *runState) rewriteColumns(r bundle.Row, cols ...string) {
	for _, c := range cols {
		if v, ok := r[c]; ok {
			r[c] = st.rw.rewriteValue(v)
		}
	}
}

// takeBinary resolves the reference in col and clears the column. ok is
// false when a declared reference could not be loaded under a lenient
// policy; data is nil when no reference was declared.
func (st *runState) takeBinary(r bundle.Row, entity bundle.Entity, col string) (data []byte, ok bool, err error) {
	raw := r[col]
	r[col] = nil
	ref, declared, perr := bundle.ParseBinaryRef(raw)
	if perr != nil {
		if verr := st.policy.Violation("hydrate.binary", perr, "entity", entity, "id", r["id"]); verr != nil {
			return nil, false, verr
		}
		return nil, false, nil
	}
	if !declared {
		return nil, true, nil
	}
	data, lerr := st.blobs.load(ref)
	if lerr != nil {
		if verr := st.policy.Violation("hydrate.binary", lerr, "entity", entity, "id", r["id"], "ref", ref.Ref); verr != nil {
			return nil, false, verr
		}
		return nil, false, nil
	}
	return data, true, nil
}

func cloneRow(r bundle.Row) bundle.Row {
	out := make(bundle.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// decodeRow maps a row onto its model. Null columns are dropped first so
// nullable JSON columns stay SQL NULL instead of the text "null".
func decodeRow[T any](r bundle.Row) (*T, error) {
	clean := make(bundle.Row, len(r))
	for k, v := range r {
		if v != nil {
			clean[k] = v
		}
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, err
	}
	var rec T
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func stampsOf(pairs ...interface{}) map[string]*time.Time {
	out := make(map[string]*time.Time, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		name := pairs[i].(string)
		switch t := pairs[i+1].(type) {
		case time.Time:
			v := t
			out[name] = &v
		case *time.Time:
			out[name] = t
		}
	}
	return out
}

var lessonSpec = entitySpec[generation.Lesson]{
	entity: bundle.EntityLessons,
	keys:   func(r *generation.Lesson) map[string]interface{} { return map[string]interface{}{"id": r.ID} },
	stamps: func(r *generation.Lesson) map[string]*time.Time {
		return stampsOf("created_at", r.CreatedAt, "updated_at", r.UpdatedAt)
	},
}

var sectionSpec = entitySpec[generation.Section]{
	entity: bundle.EntitySections,
	keys: func(r *generation.Section) map[string]interface{} {
		return map[string]interface{}{"lesson_id": r.LessonID, "order_index": r.OrderIndex}
	},
	getID: func(r *generation.Section) int64 { return r.ID },
	setID: func(r *generation.Section, id int64) { r.ID = id },
	stamps: func(r *generation.Section) map[string]*time.Time {
		return stampsOf("created_at", r.CreatedAt, "updated_at", r.UpdatedAt)
	},
}

var sectionErrorSpec = entitySpec[generation.SectionError]{
	entity: bundle.EntitySectionErrors,
	keys: func(r *generation.SectionError) map[string]interface{} {
		return map[string]interface{}{"section_id": r.SectionID, "kind": r.Kind, "message": r.Message}
	},
	getID:  func(r *generation.SectionError) int64 { return r.ID },
	setID:  func(r *generation.SectionError, id int64) { r.ID = id },
	stamps: func(r *generation.SectionError) map[string]*time.Time { return stampsOf("created_at", r.CreatedAt) },
}

var subjectiveWidgetSpec = entitySpec[generation.SubjectiveWidget]{
	entity: bundle.EntitySubjectiveWidgets,
	keys: func(r *generation.SubjectiveWidget) map[string]interface{} {
		return map[string]interface{}{"section_id": r.SectionID, "widget_key": r.WidgetKey}
	},
	getID: func(r *generation.SubjectiveWidget) int64 { return r.ID },
	setID: func(r *generation.SubjectiveWidget, id int64) { r.ID = id },
	stamps: func(r *generation.SubjectiveWidget) map[string]*time.Time {
		return stampsOf("created_at", r.CreatedAt, "updated_at", r.UpdatedAt)
	},
}

var illustrationSpec = entitySpec[generation.Illustration]{
	entity: bundle.EntityIllustrations,
	keys: func(r *generation.Illustration) map[string]interface{} {
		return map[string]interface{}{"bucket": r.Bucket, "object_name": r.ObjectName}
	},
	getID: func(r *generation.Illustration) int64 { return r.ID },
	setID: func(r *generation.Illustration, id int64) { r.ID = id },
	stamps: func(r *generation.Illustration) map[string]*time.Time {
		return stampsOf("created_at", r.CreatedAt, "updated_at", r.UpdatedAt)
	},
}

var sectionIllustrationSpec = entitySpec[generation.SectionIllustration]{
	entity: bundle.EntitySectionIllustrations,
	keys: func(r *generation.SectionIllustration) map[string]interface{} {
		return map[string]interface{}{"section_id": r.SectionID, "illustration_id": r.IllustrationID}
	},
	getID: func(r *generation.SectionIllustration) int64 { return r.ID },
	setID: func(r *generation.SectionIllustration, id int64) { r.ID = id },
	stamps: func(r *generation.SectionIllustration) map[string]*time.Time {
		return stampsOf("created_at", r.CreatedAt)
	},
}

var fensterSpec = entitySpec[generation.FensterWidget]{
	entity:       bundle.EntityFensterWidgets,
	keys:         func(r *generation.FensterWidget) map[string]interface{} { return map[string]interface{}{"id": r.ID} },
	binaryColumn: "payload",
	hasBinary:    func(r *generation.FensterWidget) bool { return r.Payload != nil },
	stamps: func(r *generation.FensterWidget) map[string]*time.Time {
		return stampsOf("created_at", r.CreatedAt, "updated_at", r.UpdatedAt)
	},
}

var coachAudioSpec = entitySpec[generation.CoachAudio]{
	entity: bundle.EntityCoachAudios,
	keys: func(r *generation.CoachAudio) map[string]interface{} {
		return map[string]interface{}{"job_id": r.JobID, "section_id": r.SectionID, "subsection": r.Subsection}
	},
	getID:        func(r *generation.CoachAudio) int64 { return r.ID },
	setID:        func(r *generation.CoachAudio, id int64) { r.ID = id },
	binaryColumn: "audio",
	hasBinary:    func(r *generation.CoachAudio) bool { return r.Audio != nil },
	stamps:       func(r *generation.CoachAudio) map[string]*time.Time { return stampsOf("created_at", r.CreatedAt) },
}

var jobSpec = entitySpec[generation.Job]{
	entity: bundle.EntityJobs,
	keys:   func(r *generation.Job) map[string]interface{} { return map[string]interface{}{"id": r.ID} },
	stamps: func(r *generation.Job) map[string]*time.Time {
		return stampsOf("created_at", r.CreatedAt, "updated_at", r.UpdatedAt, "completed_at", r.CompletedAt)
	},
}
