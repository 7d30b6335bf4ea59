package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
)

type Repos struct {
	TransferRun jobs.TransferRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		TransferRun: jobs.NewTransferRunRepo(db, log),
	}
}
