package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-successbundle/internal/data/db"
	"github.com/yungbote/neurobridge-successbundle/internal/observability"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/objectstore"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/runlog"
)

// Needs says which collaborators a command uses, so pack and unpack never
// touch a database.
type Needs struct {
	DB      bool
	Migrate bool
	Objects bool
}

type App struct {
	Log     *logger.Logger
	Cfg     Config
	DB      *gorm.DB
	Repos   Repos
	Objects objectstore.Store
	Events  runlog.Publisher

	shutdownOTel func(context.Context) error
}

func New(ctx context.Context, cfg Config, needs Needs) (*App, error) {
	logMode := cfg.LogMode
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{Log: log, Cfg: cfg, Events: runlog.NopPublisher()}
	a.shutdownOTel = observability.InitOTel(ctx, log, cfg.Otel)

	if needs.DB {
		dsn, err := cfg.DSN()
		if err != nil {
			a.Close()
			return nil, err
		}
		theDB, err := db.Open(log, dsn)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init database: %w", err)
		}
		a.DB = theDB
		if needs.Migrate {
			if err := db.AutoMigrateAll(theDB); err != nil {
				a.Close()
				return nil, err
			}
			if err := db.EnsureTransferIndexes(theDB); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.Repos = wireRepos(theDB, log)
	}

	if needs.Objects {
		store, err := resolveObjectStore(ctx, log, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Objects = store
	}

	if cfg.RedisAddr != "" {
		pub, err := runlog.NewRedisPublisher(ctx, log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("Run events disabled", "redis_addr", cfg.RedisAddr, "error", err)
		} else {
			a.Events = pub
		}
	}
	return a, nil
}

// Tracker starts a run record for kind. Without a database the run is
// only published.
func (a *App) Tracker(ctx context.Context, kind string, dryRun bool) *runlog.Tracker {
	return runlog.Start(ctx, a.Log, a.Repos.TransferRun, a.Events, kind, dryRun)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Events != nil {
		_ = a.Events.Close()
	}
	if a.Objects != nil {
		_ = a.Objects.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.shutdownOTel != nil {
		_ = a.shutdownOTel(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
