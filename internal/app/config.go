package app

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/yungbote/neurobridge-successbundle/internal/data/db"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/observability"
)

// Config keys. Environment variables are the upper-cased key with dots
// replaced by underscores (postgres.host -> POSTGRES_HOST).
const (
	KeyDatabaseURL         = "database_url"
	KeyPostgresHost        = "postgres.host"
	KeyPostgresPort        = "postgres.port"
	KeyPostgresUser        = "postgres.user"
	KeyPostgresPassword    = "postgres.password"
	KeyPostgresName        = "postgres.name"
	KeyPostgresSSLMode     = "postgres.sslmode"
	KeyLogMode             = "log_mode"
	KeyObjectStorageMode   = "object_storage_mode"
	KeyStorageEmulatorHost = "storage_emulator_host"
	KeyObjectRoot          = "object_root"
	KeyGCPCredentials      = "gcp_credentials"
	KeyOperatorSecret      = "operator_secret"
	KeyArchiveBucket       = "archive_bucket"
	KeyArchivePrefix       = "archive_prefix"
	KeyRedisAddr           = "redis_addr"
	KeyRedisChannel        = "redis_channel"
	KeyOtelEnabled         = "otel.enabled"
	KeyOtelEndpoint        = "otel.endpoint"
	KeyOtelHeaders         = "otel.headers"
	KeyOtelInsecure        = "otel.insecure"
	KeyOtelSampleRatio     = "otel.sample_ratio"
	KeyOtelEnvironment     = "otel.environment"
)

type Config struct {
	DatabaseURL string
	Postgres    db.PostgresParts
	LogMode     string

	ObjectStorageMode   string
	StorageEmulatorHost string
	ObjectRoot          string
	GCPCredentials      string

	OperatorSecret string
	ArchiveBucket  string
	ArchivePrefix  string

	RedisAddr    string
	RedisChannel string

	Otel observability.OtelConfig
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyLogMode, "development")
	v.SetDefault(KeyPostgresPort, "5432")
	v.SetDefault(KeyPostgresSSLMode, "disable")
	v.SetDefault(KeyArchivePrefix, "success-bundles")
	v.SetDefault(KeyOtelSampleRatio, 1.0)

	// AutomaticEnv only answers Get for keys viper already knows about.
	for _, k := range []string{
		KeyDatabaseURL, KeyPostgresHost, KeyPostgresUser, KeyPostgresPassword, KeyPostgresName,
		KeyObjectStorageMode, KeyStorageEmulatorHost, KeyObjectRoot, KeyGCPCredentials,
		KeyOperatorSecret, KeyArchiveBucket, KeyRedisAddr, KeyRedisChannel,
		KeyOtelEnabled, KeyOtelEndpoint, KeyOtelHeaders, KeyOtelInsecure, KeyOtelEnvironment,
	} {
		_ = v.BindEnv(k)
	}
	_ = v.BindEnv(KeyOtelEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_ENDPOINT")
	return v
}

// LoadConfig reads configFile (YAML) when given and resolves every key.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, transfer.NewError(transfer.CodeConfiguration, "config.load", fmt.Sprintf("read config %s", configFile), err)
		}
	}
	return Config{
		DatabaseURL: strings.TrimSpace(v.GetString(KeyDatabaseURL)),
		Postgres: db.PostgresParts{
			Host:     v.GetString(KeyPostgresHost),
			Port:     v.GetString(KeyPostgresPort),
			User:     v.GetString(KeyPostgresUser),
			Password: v.GetString(KeyPostgresPassword),
			Name:     v.GetString(KeyPostgresName),
			SSLMode:  v.GetString(KeyPostgresSSLMode),
		},
		LogMode:             v.GetString(KeyLogMode),
		ObjectStorageMode:   v.GetString(KeyObjectStorageMode),
		StorageEmulatorHost: v.GetString(KeyStorageEmulatorHost),
		ObjectRoot:          v.GetString(KeyObjectRoot),
		GCPCredentials:      v.GetString(KeyGCPCredentials),
		OperatorSecret:      v.GetString(KeyOperatorSecret),
		ArchiveBucket:       v.GetString(KeyArchiveBucket),
		ArchivePrefix:       v.GetString(KeyArchivePrefix),
		RedisAddr:           v.GetString(KeyRedisAddr),
		RedisChannel:        v.GetString(KeyRedisChannel),
		Otel: observability.OtelConfig{
			Enabled:     v.GetBool(KeyOtelEnabled),
			ServiceName: "successbundle",
			Environment: v.GetString(KeyOtelEnvironment),
			Version:     Version,
			Endpoint:    v.GetString(KeyOtelEndpoint),
			Headers:     v.GetString(KeyOtelHeaders),
			Insecure:    v.GetBool(KeyOtelInsecure),
			SampleRatio: v.GetFloat64(KeyOtelSampleRatio),
		},
	}, nil
}

// DSN returns DATABASE_URL, or a Postgres URL assembled from POSTGRES_*.
func (c Config) DSN() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}
	if c.Postgres.Host != "" && c.Postgres.Name != "" {
		return c.Postgres.DSN(), nil
	}
	return "", transfer.Errorf(transfer.CodeConfiguration, "config.dsn",
		"no database configured: set --db-url, DATABASE_URL or POSTGRES_HOST/POSTGRES_NAME")
}

// Version is stamped at build time with -ldflags.
var Version = "dev"
