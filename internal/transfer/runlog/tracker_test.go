package runlog

import (
	"context"
	"errors"
	"sync"
	"testing"

	jobsrepo "github.com/yungbote/neurobridge-successbundle/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/hydrate"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

var _ hydrate.Observer = (*Tracker)(nil)

func TestTracker_SucceededRun(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := jobsrepo.NewTransferRunRepo(db, testutil.Logger(t))
	pub := &recordingPublisher{}

	tr := Start(ctx, testutil.Logger(t), repo, pub, jobs.TransferKindHydrate, false)
	tr.Stage(ctx, hydrate.StageLock)
	tr.Stage(ctx, hydrate.StageCommit)
	tr.Finish(ctx, "bundle-1", map[string]int{"sections": 2}, nil)

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, tr.ID())
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v %v", got, err)
	}
	if got.Status != jobs.TransferStatusSucceeded || got.Stage != string(hydrate.StageCommit) || got.BundleID != "bundle-1" {
		t.Fatalf("run=%+v", got)
	}
	if got.FinishedAt == nil || string(got.Counts) != `{"sections":2}` {
		t.Fatalf("finished_at=%v counts=%s", got.FinishedAt, got.Counts)
	}
	if len(pub.events) != 4 {
		t.Fatalf("events=%d want 4", len(pub.events))
	}
	if pub.events[1].Stage != "lock" || pub.events[3].Status != jobs.TransferStatusSucceeded {
		t.Fatalf("events=%+v", pub.events)
	}
}

func TestTracker_FailedAndDryRun(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	repo := jobsrepo.NewTransferRunRepo(db, testutil.Logger(t))

	failed := Start(ctx, testutil.Logger(t), repo, nil, jobs.TransferKindHydrate, false)
	failed.Finish(ctx, "", nil, transfer.Errorf(transfer.CodeUnsafeSQL, "bundle.check_sql", "nope"))
	got, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, failed.ID())
	if got.Status != jobs.TransferStatusFailed || got.ErrorCode != string(transfer.CodeUnsafeSQL) || got.Error == "" {
		t.Fatalf("failed run=%+v", got)
	}

	dry := Start(ctx, testutil.Logger(t), repo, nil, jobs.TransferKindHydrate, true)
	dry.Finish(ctx, "b", nil, nil)
	got, _ = repo.GetByID(dbctx.Context{Ctx: ctx}, dry.ID())
	if got.Status != jobs.TransferStatusValidated || !got.DryRun {
		t.Fatalf("dry run=%+v", got)
	}
}

func TestTracker_PublishErrorsDoNotFailRun(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("redis down")}
	tr := Start(ctx, testutil.Logger(t), nil, pub, jobs.TransferKindExport, false)
	tr.Enter(ctx, "collect")
	tr.Finish(ctx, "b", nil, nil)
	if run := tr.Run(); run.Status != jobs.TransferStatusSucceeded || run.Stage != "collect" {
		t.Fatalf("run=%+v", run)
	}
	if len(pub.events) != 3 {
		t.Fatalf("events=%d", len(pub.events))
	}
}
