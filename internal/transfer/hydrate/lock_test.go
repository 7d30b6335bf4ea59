package hydrate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/data/db"
	"github.com/yungbote/neurobridge-successbundle/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

func TestPlanLock(t *testing.T) {
	if p := planLock(db.DialectSQLite, time.Second); p != nil {
		t.Fatalf("sqlite plan=%+v want nil", p)
	}
	p := planLock(db.DialectPostgres, 0)
	if p == nil || !p.try || p.setTimeout != "" {
		t.Fatalf("no-timeout plan=%+v", p)
	}
	p = planLock(db.DialectPostgres, 1500*time.Millisecond)
	if p == nil || p.try || p.setTimeout != "SET LOCAL lock_timeout = '1500ms'" {
		t.Fatalf("timeout plan=%+v", p)
	}
	p = planLock(db.DialectPostgres, time.Microsecond)
	if p.setTimeout != "SET LOCAL lock_timeout = '1ms'" {
		t.Fatalf("sub-millisecond timeout=%q", p.setTimeout)
	}
}

func TestIsLockContention(t *testing.T) {
	wrapped := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "55P03"})
	if !isLockContention(wrapped) {
		t.Fatalf("55P03 should be contention")
	}
	if isLockContention(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violation is not contention")
	}
	if isLockContention(errors.New("boom")) {
		t.Fatalf("plain error is not contention")
	}
}

func TestAcquireLock_SQLiteIsNoop(t *testing.T) {
	gdb := testutil.DB(t)
	err := gdb.Transaction(func(tx *gorm.DB) error { return acquireLock(tx, DefaultLockKey, 0) })
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
}

func TestAcquireLock_PostgresContention(t *testing.T) {
	gdb := testutil.PostgresDB(t)
	ctx := context.Background()
	key := DefaultLockKey + 7

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := acquireLock(tx, key, 0); err != nil {
				close(held)
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error { return acquireLock(tx, key, 0) })
	if !transfer.IsCode(err, transfer.CodeLockContention) {
		t.Fatalf("try-lock: expected contention, got %v", err)
	}
	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return acquireLock(tx, key, 50*time.Millisecond)
	})
	if !transfer.IsCode(err, transfer.CodeLockContention) {
		t.Fatalf("timed lock: expected contention, got %v", err)
	}
	if got := transfer.ExitCode(err); got != 75 {
		t.Fatalf("exit code=%d want 75", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
}
