package hydrate

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

// entitySpec is the per-table metadata that drives upsertByLogicalKey.
type entitySpec[T any] struct {
	entity bundle.Entity
	// keys returns the logical-key columns and values of a record.
	keys func(*T) map[string]interface{}
	// getID and setID are set for surrogate-keyed tables only.
	getID func(*T) int64
	setID func(*T, int64)
	// binaryColumn is never overwritten with NULL. hasBinary reports
	// whether the incoming record carries bytes for it.
	binaryColumn string
	hasBinary    func(*T) bool
	// stamps are the timestamp columns copied from the source.
	stamps func(*T) map[string]*time.Time
}

type upsertOutcome struct {
	targetID int64
	created  bool
}

// upsertByLogicalKey updates the row matching rec's logical key in place,
// or inserts rec when none exists. rec's surrogate id is replaced by the
// target's, so callers read the target id from the outcome.
func upsertByLogicalKey[T any](tx *gorm.DB, spec entitySpec[T], rec *T) (upsertOutcome, error) {
	var existing T
	res := tx.Where(spec.keys(rec)).Limit(1).Find(&existing)
	if res.Error != nil {
		return upsertOutcome{}, fmt.Errorf("lookup %s: %w", spec.entity, res.Error)
	}

	if res.RowsAffected > 0 {
		out := upsertOutcome{}
		if spec.setID != nil {
			out.targetID = spec.getID(&existing)
			spec.setID(rec, out.targetID)
		}
		upd := tx.Model(&existing).Select("*")
		if spec.binaryColumn != "" && !spec.hasBinary(rec) {
			upd = upd.Omit(spec.binaryColumn)
		}
		if err := upd.Updates(rec).Error; err != nil {
			return upsertOutcome{}, classifyWriteError(spec.entity, err)
		}
		return out, nil
	}

	if spec.setID != nil {
		spec.setID(rec, 0)
	}
	if err := tx.Create(rec).Error; err != nil {
		return upsertOutcome{}, classifyWriteError(spec.entity, err)
	}
	out := upsertOutcome{created: true}
	if spec.getID != nil {
		out.targetID = spec.getID(rec)
	}
	return out, nil
}

// classifyWriteError turns a unique violation into an integrity error: the
// logical key lookup missed a row that a unique index still matched.
func classifyWriteError(entity bundle.Entity, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return transfer.NewError(transfer.CodeIntegrity, "hydrate.upsert",
			fmt.Sprintf("%s: unique constraint %s conflicts with logical key", entity, pgErr.ConstraintName), err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return transfer.NewError(transfer.CodeIntegrity, "hydrate.upsert",
			fmt.Sprintf("%s: duplicate key conflicts with logical key", entity), err)
	}
	return fmt.Errorf("write %s: %w", entity, err)
}
