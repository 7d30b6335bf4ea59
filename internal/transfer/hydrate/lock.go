package hydrate

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/data/db"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

// DefaultLockKey serializes hydrate runs against one target.
const DefaultLockKey int64 = 0x5355_4342_4e44

type lockPlan struct {
	setTimeout string
	acquire    string
	try        bool
}

// planLock picks the advisory lock statements for a dialect. A nil plan
// means the database has no advisory locks and its write lock is enough.
func planLock(dialect string, timeout time.Duration) *lockPlan {
	if dialect != db.DialectPostgres {
		return nil
	}
	if timeout <= 0 {
		return &lockPlan{acquire: "SELECT pg_try_advisory_xact_lock(?)", try: true}
	}
	ms := timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return &lockPlan{
		setTimeout: fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms),
		acquire:    "SELECT pg_advisory_xact_lock(?)",
	}
}

func acquireLock(tx *gorm.DB, key int64, timeout time.Duration) error {
	const op = "hydrate.lock"
	plan := planLock(db.Dialect(tx), timeout)
	if plan == nil {
		return nil
	}
	if plan.try {
		var got bool
		if err := tx.Raw(plan.acquire, key).Scan(&got).Error; err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		if !got {
			return transfer.Errorf(transfer.CodeLockContention, op, "advisory lock %d is held by another run", key)
		}
		return nil
	}
	if err := tx.Exec(plan.setTimeout).Error; err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if err := tx.Exec(plan.acquire, key).Error; err != nil {
		if isLockContention(err) {
			return transfer.NewError(transfer.CodeLockContention, op,
				fmt.Sprintf("advisory lock %d not acquired within %s", key, timeout), err)
		}
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

// isLockContention matches lock_not_available (55P03).
func isLockContention(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
