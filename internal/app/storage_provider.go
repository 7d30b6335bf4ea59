package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/gcp"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/logger"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/objectstore"
)

var newObjectStore = objectstore.New

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorMissingLocalRoot    StorageProviderBootstrapErrorCode = "missing_local_root"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf(
		"object storage bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveObjectStore opens the configured backend. Misconfiguration comes
// back as a CodeConfiguration error wrapping a StorageProviderBootstrapError.
func resolveObjectStore(ctx context.Context, log *logger.Logger, cfg Config) (objectstore.Store, error) {
	storeCfg := objectstore.Config{
		Mode:         cfg.ObjectStorageMode,
		EmulatorHost: cfg.StorageEmulatorHost,
		LocalRoot:    cfg.ObjectRoot,
		Credentials:  cfg.GCPCredentials,
	}
	log.Info(
		"Selecting object storage provider",
		"mode", storeCfg.Mode,
		"emulator_host", storeCfg.EmulatorHost,
		"local_root", storeCfg.LocalRoot,
	)
	store, err := newObjectStore(ctx, log, storeCfg)
	if err != nil {
		classified := classifyStorageProviderBootstrapError(storeCfg, err)
		log.Error(
			"Object storage provider bootstrap failed",
			"mode", storeCfg.Mode,
			"emulator_host", storeCfg.EmulatorHost,
			"error_code", storageProviderBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, transfer.Wrap(transfer.CodeConfiguration, "app.object_store", classified)
	}
	return store, nil
}

func classifyStorageProviderBootstrapError(cfg objectstore.Config, err error) error {
	code := StorageProviderBootstrapErrorConnectFailed
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ObjectStorageConfigErrorInvalidMode:
			code = StorageProviderBootstrapErrorInvalidMode
		case gcp.ObjectStorageConfigErrorMissingEmulatorHost:
			code = StorageProviderBootstrapErrorMissingEmulatorHost
		case gcp.ObjectStorageConfigErrorInvalidEmulatorHost:
			code = StorageProviderBootstrapErrorInvalidEmulatorHost
		case gcp.ObjectStorageConfigErrorMissingLocalRoot:
			code = StorageProviderBootstrapErrorMissingLocalRoot
		}
	}
	return &StorageProviderBootstrapError{
		Code:         code,
		Mode:         cfg.Mode,
		EmulatorHost: cfg.EmulatorHost,
		Cause:        err,
	}
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return StorageProviderBootstrapErrorConnectFailed
}
