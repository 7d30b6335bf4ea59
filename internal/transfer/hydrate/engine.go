// Package hydrate merges a success bundle into a target database inside a
// single transaction, remapping surrogate ids by logical key.
package hydrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/observability"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/objectstore"
)

type Stage string

const (
	StageLock             Stage = "lock"
	StageLoadPayload      Stage = "load_payload"
	StageValidateVersion  Stage = "validate_version"
	StageValidateManifest Stage = "validate_manifest"
	StageMergePass1       Stage = "merge_pass_1"
	StageVerify           Stage = "verify_timestamps"
	StageMergePass2       Stage = "merge_pass_2"
	StageCommit           Stage = "commit"
	StageRollback         Stage = "rollback"
	StageRestoreObjects   Stage = "restore_objects"
)

type Options struct {
	SQLPath    string
	SidecarDir string
	Strict     bool
	DryRun     bool
	// LockKey defaults to DefaultLockKey when zero.
	LockKey     int64
	LockTimeout time.Duration
	VerifyRerun bool

	IncludeIllustrations bool
	IncludeAudios        bool
	IncludeFensters      bool

	// RestoreObjects uploads verified illustration bytes to object storage
	// after commit.
	RestoreObjects bool
}

func (o Options) includes(e bundle.Entity) bool {
	switch e {
	case bundle.EntityIllustrations, bundle.EntitySectionIllustrations:
		return o.IncludeIllustrations
	case bundle.EntityCoachAudios:
		return o.IncludeAudios
	case bundle.EntityFensterWidgets:
		return o.IncludeFensters
	default:
		return true
	}
}

type Result struct {
	BundleID        string                `json:"bundle_id" yaml:"bundle_id"`
	SchemaVersion   string                `json:"schema_version" yaml:"schema_version"`
	DryRun          bool                  `json:"dry_run" yaml:"dry_run"`
	Committed       bool                  `json:"committed" yaml:"committed"`
	Passes          int                   `json:"passes" yaml:"passes"`
	Stats           *passStats            `json:"stats" yaml:"stats"`
	RemapSizes      map[bundle.Entity]int `json:"remap_sizes" yaml:"remap_sizes"`
	ManifestChecked int                   `json:"manifest_checked" yaml:"manifest_checked"`
	ManifestFailed  int                   `json:"manifest_failed" yaml:"manifest_failed"`
	RestoredObjects int                   `json:"restored_objects" yaml:"restored_objects"`
	Duration        time.Duration         `json:"duration" yaml:"duration"`

	remaps remapSet
}

// Observer is told about each stage as the run enters it.
type Observer interface {
	Stage(ctx context.Context, stage Stage)
}

type Engine struct {
	db       *gorm.DB
	log      *logger.Logger
	objects  objectstore.Store
	observer Observer
}

// NewEngine builds an engine. objects is only needed for RestoreObjects;
// observer may be nil.
func NewEngine(db *gorm.DB, log *logger.Logger, objects objectstore.Store, observer Observer) *Engine {
	return &Engine{db: db, log: log.With("service", "HydrateEngine"), objects: objects, observer: observer}
}

func (e *Engine) enter(ctx context.Context, stage Stage) {
	e.log.Debug("hydrate stage", "stage", stage)
	if e.observer != nil {
		e.observer.Stage(ctx, stage)
	}
}

func (o Options) validate(hasObjects bool) error {
	const op = "hydrate.options"
	if strings.TrimSpace(o.SQLPath) == "" {
		return transfer.Errorf(transfer.CodeConfiguration, op, "bundle sql path is required")
	}
	if strings.TrimSpace(o.SidecarDir) == "" {
		return transfer.Errorf(transfer.CodeConfiguration, op, "sidecar directory is required")
	}
	if o.LockTimeout < 0 {
		return transfer.Errorf(transfer.CodeConfiguration, op, "lock timeout must be >= 0")
	}
	if o.RestoreObjects && !hasObjects {
		return transfer.Errorf(transfer.CodeConfiguration, op, "restore objects requested but no object store configured")
	}
	return nil
}

// Run executes one hydrate. A dry run returns a result with DryRun set and
// Committed false, and a nil error.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	if err := opts.validate(e.objects != nil); err != nil {
		return nil, err
	}
	if opts.LockKey == 0 {
		opts.LockKey = DefaultLockKey
	}
	raw, err := os.ReadFile(opts.SQLPath)
	if err != nil {
		return nil, transfer.NewError(transfer.CodeConfiguration, "hydrate.read_sql", "cannot read bundle sql", err)
	}
	sqlText := string(raw)

	res := &Result{DryRun: opts.DryRun}
	var final *runState
	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := e.runTx(ctx, tx, opts, sqlText, res)
		final = st
		if err != nil {
			return err
		}
		if opts.DryRun {
			return transfer.ErrDryRun
		}
		return nil
	})
	res.Duration = time.Since(start)

	switch {
	case errors.Is(txErr, transfer.ErrDryRun):
		e.enter(ctx, StageRollback)
		e.log.Info("hydrate validated, not committed", "bundle_id", res.BundleID, "duration", res.Duration)
		return res, nil
	case txErr != nil:
		e.enter(ctx, StageRollback)
		return res, txErr
	}

	e.enter(ctx, StageCommit)
	res.Committed = true
	if opts.RestoreObjects && final != nil {
		e.enter(ctx, StageRestoreObjects)
		n, err := e.restoreObjects(ctx, final.objects)
		res.RestoredObjects = n
		if err != nil {
			return res, fmt.Errorf("hydrate committed but object restore failed: %w", err)
		}
	}
	e.log.Info("hydrate committed",
		"bundle_id", res.BundleID,
		"created", res.Stats.Created,
		"updated", res.Stats.Updated,
		"skipped", res.Stats.Skipped,
		"unresolved_refs", res.Stats.Unresolved,
		"duration", res.Duration,
	)
	return res, nil
}

func (e *Engine) runTx(ctx context.Context, tx *gorm.DB, opts Options, sqlText string, res *Result) (*runState, error) {
	policy := transfer.NewIntegrityPolicy(opts.Strict, e.log)

	e.enter(ctx, StageLock)
	if err := e.stage(ctx, StageLock, func() error { return acquireLock(tx, opts.LockKey, opts.LockTimeout) }); err != nil {
		return nil, err
	}

	e.enter(ctx, StageLoadPayload)
	var payload []byte
	if err := e.stage(ctx, StageLoadPayload, func() error {
		id, p, err := stagePayload(tx, sqlText)
		res.BundleID, payload = id, p
		return err
	}); err != nil {
		return nil, err
	}

	e.enter(ctx, StageValidateVersion)
	b, err := bundle.Decode(payload)
	if err != nil {
		return nil, err
	}
	res.SchemaVersion = b.SchemaVersion

	e.enter(ctx, StageValidateManifest)
	sidecar := bundle.NewSidecar(opts.SidecarDir)
	blobs := newBlobCache(sidecar, b.SidecarManifest)
	if err := e.stage(ctx, StageValidateManifest, func() error {
		return validateManifest(sidecar, b, opts, policy, blobs, res)
	}); err != nil {
		return nil, err
	}

	e.enter(ctx, StageMergePass1)
	st := newRunState(opts, e.log, policy, blobs)
	if err := e.stage(ctx, StageMergePass1, func() error { return mergeAll(tx, st, b) }); err != nil {
		return nil, err
	}
	e.enter(ctx, StageVerify)
	if err := e.stage(ctx, StageVerify, func() error { return verifyTimestamps(tx, st) }); err != nil {
		return st, err
	}
	res.Passes = 1
	res.Stats = st.stats
	res.RemapSizes = st.remaps.sizes()
	res.remaps = st.remaps

	if !opts.VerifyRerun {
		return st, nil
	}
	e.enter(ctx, StageMergePass2)
	rerun := newRunState(opts, e.log, policy, blobs)
	if err := e.stage(ctx, StageMergePass2, func() error { return mergeAll(tx, rerun, b) }); err != nil {
		return st, err
	}
	if err := rerun.remaps.diff(st.remaps); err != nil {
		return st, err
	}
	if n := rerun.stats.created(); n > 0 {
		return st, transfer.Errorf(transfer.CodeIntegrity, "hydrate.verify_rerun", "rerun created %d new rows", n)
	}
	e.enter(ctx, StageVerify)
	if err := e.stage(ctx, StageVerify, func() error { return verifyTimestamps(tx, rerun) }); err != nil {
		return st, err
	}
	res.Passes = 2
	return st, nil
}

func (e *Engine) stage(ctx context.Context, stage Stage, fn func() error) error {
	_, span := observability.StartStage(ctx, "hydrate", string(stage))
	err := fn()
	observability.EndStage(span, err)
	return err
}

// stagePayload checks and executes the bundle SQL, then reads back the
// payload it staged. The row is picked by the id the INSERT writes, never
// by the header comment alone.
func stagePayload(tx *gorm.DB, sqlText string) (string, []byte, error) {
	if err := bundle.CheckSQL(sqlText); err != nil {
		return "", nil, err
	}
	id, err := bundle.StagedBundleID(sqlText)
	if err != nil {
		return "", nil, err
	}
	for _, stmt := range bundle.SplitStatements(sqlText) {
		if err := tx.Exec(stmt).Error; err != nil {
			return "", nil, fmt.Errorf("execute bundle sql: %w", err)
		}
	}

	var row struct {
		BundleID    string
		PayloadJSON string
	}
	res := tx.Table(bundle.StagingTable).
		Select("bundle_id, payload_json").
		Where("bundle_id = ?", id).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return "", nil, fmt.Errorf("read staged payload: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", nil, transfer.Errorf(transfer.CodeIntegrity, "hydrate.load_payload", "no staged bundle found")
	}
	payload, err := bundle.DecodeStagedPayload(row.PayloadJSON)
	if err != nil {
		return "", nil, err
	}
	return row.BundleID, payload, nil
}

// validateManifest checks every entry for an included category before any
// real table is written.
func validateManifest(sidecar *bundle.Sidecar, b *bundle.Bundle, opts Options, policy *transfer.IntegrityPolicy, blobs *blobCache, res *Result) error {
	for _, entry := range b.SidecarManifest {
		if !opts.includes(entry.Entity) {
			continue
		}
		res.ManifestChecked++
		// An entry pointing outside the sidecar is a malformed bundle, not a
		// damaged binary, so no policy can skip it.
		if _, err := sidecar.Resolve(entry.RelativePath); err != nil {
			res.ManifestFailed++
			return err
		}
		if err := sidecar.Verify(entry); err != nil {
			res.ManifestFailed++
			blobs.markUnusable(entry.RelativePath, err)
			if perr := policy.Violation("hydrate.manifest", err,
				"entity", entry.Entity, "source_id", entry.SourceID, "path", entry.RelativePath); perr != nil {
				return perr
			}
		}
	}
	return nil
}

func (e *Engine) restoreObjects(ctx context.Context, items []restoreItem) (int, error) {
	n := 0
	for _, it := range items {
		if err := e.objects.Put(ctx, it.bucket, it.objectName, bytes.NewReader(it.data), it.mimeType); err != nil {
			return n, fmt.Errorf("restore %s/%s: %w", it.bucket, it.objectName, err)
		}
		n++
	}
	e.log.Info("illustration objects restored", "count", n)
	return n, nil
}
