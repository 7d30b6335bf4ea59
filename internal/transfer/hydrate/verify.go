package hydrate

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

// stampCheck re-reads one written row and compares its timestamps with
// the source values.
type stampCheck func(tx *gorm.DB) error

// canonicalStamp renders a timestamp for comparison. A nil timestamp
// renders as "" and only matches another nil.
func canonicalStamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func newStampCheck[T any](spec entitySpec[T], rec *T, sourceID interface{}) stampCheck {
	want := map[string]string{}
	for col, t := range spec.stamps(rec) {
		want[col] = canonicalStamp(t)
	}
	where := spec.keys(rec)
	if spec.getID != nil {
		where = map[string]interface{}{"id": spec.getID(rec)}
	}
	return func(tx *gorm.DB) error {
		var got T
		res := tx.Where(where).Limit(1).Find(&got)
		if res.Error != nil {
			return fmt.Errorf("verify %s %v: %w", spec.entity, sourceID, res.Error)
		}
		if res.RowsAffected == 0 {
			return transfer.Errorf(transfer.CodeTimestampDrift, "hydrate.verify",
				"%s row %v missing after merge", spec.entity, sourceID)
		}
		have := spec.stamps(&got)
		cols := make([]string, 0, len(want))
		for col := range want {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			if g := canonicalStamp(have[col]); g != want[col] {
				return transfer.Errorf(transfer.CodeTimestampDrift, "hydrate.verify",
					"%s row %v: %s is %q in target, %q in source", spec.entity, sourceID, col, g, want[col])
			}
		}
		return nil
	}
}

func verifyTimestamps(tx *gorm.DB, st *runState) error {
	for _, check := range st.checks {
		if err := check(tx); err != nil {
			return err
		}
	}
	return nil
}
