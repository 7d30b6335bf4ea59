package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/app")
	t.Setenv("OPERATOR_SECRET", "hunter2")
	t.Setenv("OBJECT_STORAGE_MODE", "local")
	t.Setenv("OBJECT_ROOT", "/srv/objects")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")

	cfg, err := LoadConfig(NewViper(), "")
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@db:5432/app", cfg.DatabaseURL)
	require.Equal(t, "hunter2", cfg.OperatorSecret)
	require.Equal(t, "local", cfg.ObjectStorageMode)
	require.Equal(t, "/srv/objects", cfg.ObjectRoot)
	require.Equal(t, "redis:6379", cfg.RedisAddr)
	require.True(t, cfg.Otel.Enabled)
	require.Equal(t, "collector:4318", cfg.Otel.Endpoint)
	require.Equal(t, "success-bundles", cfg.ArchivePrefix)
	require.Equal(t, "development", cfg.LogMode)

	dsn, err := cfg.DSN()
	require.NoError(t, err)
	require.Equal(t, cfg.DatabaseURL, dsn)
}

func TestLoadConfigFileAndPostgresParts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "successbundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_mode: production
archive_bucket: bundles
postgres:
  host: pg
  user: app
  password: secret
  name: lessons
`), 0o644))
	t.Setenv("POSTGRES_PORT", "6543")

	cfg, err := LoadConfig(NewViper(), path)
	require.NoError(t, err)
	require.Equal(t, "production", cfg.LogMode)
	require.Equal(t, "bundles", cfg.ArchiveBucket)
	require.Equal(t, "6543", cfg.Postgres.Port, "env overrides the file")

	dsn, err := cfg.DSN()
	require.NoError(t, err)
	require.Equal(t, "postgres://app:secret@pg:6543/lessons?sslmode=disable", dsn)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, transfer.IsCode(err, transfer.CodeConfiguration), "got %v", err)

	t.Setenv("DATABASE_URL", "")
	cfg, err := LoadConfig(NewViper(), "")
	require.NoError(t, err)
	_, err = cfg.DSN()
	require.True(t, transfer.IsCode(err, transfer.CodeConfiguration), "got %v", err)
}
