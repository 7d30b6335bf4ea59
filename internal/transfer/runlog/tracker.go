package runlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobsrepo "github.com/yungbote/neurobridge-successbundle/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/hydrate"
)

// Tracker follows one run. The row is written when the run starts and
// when it finishes; stage changes in between are only published, since
// the hydrate transaction may hold the target's write lock.
type Tracker struct {
	repo jobsrepo.TransferRunRepo
	pub  Publisher
	log  *logger.Logger

	mu  sync.Mutex
	run *jobs.TransferRun
}

// Start creates the run record. repo may be nil when the run should not
// be persisted; pub may be nil.
func Start(ctx context.Context, log *logger.Logger, repo jobsrepo.TransferRunRepo, pub Publisher, kind string, dryRun bool) *Tracker {
	if pub == nil {
		pub = NopPublisher()
	}
	now := time.Now().UTC()
	t := &Tracker{
		repo: repo,
		pub:  pub,
		log:  log.With("service", "RunTracker"),
		run: &jobs.TransferRun{
			ID:        uuid.New(),
			Kind:      kind,
			Status:    jobs.TransferStatusRunning,
			Stage:     "start",
			DryRun:    dryRun,
			StartedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if repo != nil {
		if _, err := repo.Create(dbctx.Context{Ctx: ctx}, t.run); err != nil {
			t.log.Warn("transfer run record not created", "error", err)
			t.repo = nil
		}
	}
	t.publish(ctx)
	return t
}

func (t *Tracker) ID() uuid.UUID { return t.run.ID }

// Run returns a copy of the current record.
func (t *Tracker) Run() jobs.TransferRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.run
}

func (t *Tracker) Enter(ctx context.Context, stage string) {
	t.mu.Lock()
	t.run.Stage = stage
	t.mu.Unlock()
	t.publish(ctx)
}

// Stage satisfies hydrate.Observer.
func (t *Tracker) Stage(ctx context.Context, stage hydrate.Stage) {
	t.Enter(ctx, string(stage))
}

// Finish stores the outcome. counts is any JSON-encodable summary.
func (t *Tracker) Finish(ctx context.Context, bundleID string, counts interface{}, runErr error) {
	now := time.Now().UTC()
	t.mu.Lock()
	r := t.run
	r.BundleID = bundleID
	r.FinishedAt = &now
	r.UpdatedAt = now
	switch {
	case runErr == nil && r.DryRun:
		r.Status = jobs.TransferStatusValidated
	case runErr == nil:
		r.Status = jobs.TransferStatusSucceeded
	default:
		r.Status = jobs.TransferStatusFailed
		r.Error = runErr.Error()
		r.ErrorCode = string(transfer.CodeOf(runErr))
	}
	if counts != nil {
		if raw, err := json.Marshal(counts); err == nil {
			r.Counts = datatypes.JSON(raw)
		}
	}
	updates := map[string]interface{}{
		"status":      r.Status,
		"stage":       r.Stage,
		"bundle_id":   r.BundleID,
		"error":       r.Error,
		"error_code":  r.ErrorCode,
		"counts":      r.Counts,
		"finished_at": now,
		"updated_at":  now,
	}
	repo := t.repo
	t.mu.Unlock()

	if repo != nil {
		if err := repo.UpdateFields(dbctx.Context{Ctx: ctx}, r.ID, updates); err != nil {
			t.log.Warn("transfer run record not updated", "run_id", r.ID, "error", err)
		}
	}
	t.publish(ctx)
}

func (t *Tracker) publish(ctx context.Context) {
	t.mu.Lock()
	ev := Event{
		RunID:     t.run.ID.String(),
		Kind:      t.run.Kind,
		Stage:     t.run.Stage,
		Status:    t.run.Status,
		BundleID:  t.run.BundleID,
		ErrorCode: t.run.ErrorCode,
		Error:     t.run.Error,
		At:        time.Now().UTC(),
	}
	t.mu.Unlock()
	if err := t.pub.Publish(ctx, ev); err != nil {
		t.log.Warn("run event not published", "run_id", ev.RunID, "stage", ev.Stage, "error", err)
	}
}
