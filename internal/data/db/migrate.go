package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/generation"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
)

// GraphModels lists the rows a bundle can carry, in merge order.
func GraphModels() []interface{} {
	return []interface{}{
		&generation.Lesson{},
		&generation.Section{},
		&generation.SectionError{},
		&generation.SubjectiveWidget{},
		&generation.Illustration{},
		&generation.SectionIllustration{},
		&generation.FensterWidget{},
		&generation.CoachAudio{},
		&generation.Job{},
	}
}

// AutoMigrateAll creates the graph tables and the run-tracking table. Real
// deployments own their schema through the guarded migration tooling; this
// exists for local targets and tests.
func AutoMigrateAll(db *gorm.DB) error {
	models := append(GraphModels(), &jobs.TransferRun{})
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func EnsureTransferIndexes(db *gorm.DB) error {
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_generation_job_status_created ON generation_job(status, created_at, id);`).Error; err != nil {
		return fmt.Errorf("create idx_generation_job_status_created: %w", err)
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_transfer_run_kind_started ON transfer_run(kind, started_at);`).Error; err != nil {
		return fmt.Errorf("create idx_transfer_run_kind_started: %w", err)
	}
	return nil
}
