package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-successbundle/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/dbctx"
)

func TestTransferRunRepo(t *testing.T) {
	db := testutil.DB(t)
	repo := NewTransferRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	now := time.Now().UTC()
	older := &jobs.TransferRun{Kind: jobs.TransferKindExport, Status: jobs.TransferStatusSucceeded, Stage: "done", StartedAt: now.Add(-time.Hour), CreatedAt: now, UpdatedAt: now}
	newer := &jobs.TransferRun{Kind: jobs.TransferKindHydrate, Status: jobs.TransferStatusRunning, Stage: "lock", StartedAt: now, CreatedAt: now, UpdatedAt: now}
	for _, run := range []*jobs.TransferRun{older, newer} {
		if _, err := repo.Create(dbc, run); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if run.ID == uuid.Nil {
			t.Fatalf("Create: id not assigned")
		}
	}

	if err := repo.UpdateFields(dbc, newer.ID, map[string]interface{}{
		"status":     jobs.TransferStatusFailed,
		"error_code": "integrity",
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, err := repo.GetByID(dbc, newer.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: got=%v err=%v", got, err)
	}
	if got.Status != jobs.TransferStatusFailed || got.ErrorCode != "integrity" {
		t.Fatalf("GetByID: status=%q code=%q", got.Status, got.ErrorCode)
	}

	if missing, err := repo.GetByID(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("GetByID(missing): got=%v err=%v", missing, err)
	}

	recent, err := repo.ListRecent(dbc, "", 10)
	if err != nil || len(recent) != 2 || recent[0].ID != newer.ID {
		t.Fatalf("ListRecent: err=%v len=%d", err, len(recent))
	}
	exports, err := repo.ListRecent(dbc, jobs.TransferKindExport, 10)
	if err != nil || len(exports) != 1 || exports[0].ID != older.ID {
		t.Fatalf("ListRecent(export): err=%v len=%d", err, len(exports))
	}
}
