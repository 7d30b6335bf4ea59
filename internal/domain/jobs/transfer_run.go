package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TransferKindExport  = "export"
	TransferKindHydrate = "hydrate"
	TransferKindPack    = "pack"
	TransferKindUnpack  = "unpack"

	TransferStatusRunning   = "running"
	TransferStatusSucceeded = "succeeded"
	TransferStatusValidated = "validated"
	TransferStatusFailed    = "failed"
)

// TransferRun records one export/hydrate/pack/unpack invocation. It is
// written outside the hydrate transaction so a rolled-back run stays visible.
type TransferRun struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Kind       string         `gorm:"column:kind;not null;index" json:"kind"`
	Status     string         `gorm:"column:status;not null;index" json:"status"`
	Stage      string         `gorm:"column:stage;not null" json:"stage"`
	DryRun     bool           `gorm:"column:dry_run;not null;default:false" json:"dry_run"`
	BundleID   string         `gorm:"column:bundle_id;index" json:"bundle_id,omitempty"`
	Counts     datatypes.JSON `gorm:"column:counts;type:jsonb" json:"counts"`
	Error      string         `gorm:"column:error;type:text" json:"error,omitempty"`
	ErrorCode  string         `gorm:"column:error_code" json:"error_code,omitempty"`
	StartedAt  time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (TransferRun) TableName() string { return "transfer_run" }
