package jobs

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
)

type TransferRunRepo interface {
	Create(dbc dbctx.Context, run *jobs.TransferRun) (*jobs.TransferRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*jobs.TransferRun, error)
	ListRecent(dbc dbctx.Context, kind string, limit int) ([]*jobs.TransferRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type transferRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTransferRunRepo(db *gorm.DB, baseLog *logger.Logger) TransferRunRepo {
	return &transferRunRepo{
		db:  db,
		log: baseLog.With("repo", "TransferRunRepo"),
	}
}

func (r *transferRunRepo) Create(dbc dbctx.Context, run *jobs.TransferRun) (*jobs.TransferRun, error) {
	if run == nil {
		return nil, errors.New("transfer run required")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := dbc.DB(r.db).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *transferRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*jobs.TransferRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var run jobs.TransferRun
	err := dbc.DB(r.db).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *transferRunRepo) ListRecent(dbc dbctx.Context, kind string, limit int) ([]*jobs.TransferRun, error) {
	if limit <= 0 {
		limit = 20
	}
	q := dbc.DB(r.db).Order("started_at DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var out []*jobs.TransferRun
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *transferRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&jobs.TransferRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}
