package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yungbote/neurobridge-successbundle/internal/app"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

var (
	flagConfig string
	cfgViper   = app.NewViper()
)

var rootCmd = &cobra.Command{
	Use:           "successbundle",
	Short:         "Move successful generation work between deployments",
	Version:       app.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (env vars override it)")
	rootCmd.PersistentFlags().String("db-url", "", "database url (postgres://..., sqlite://file.db); defaults to DATABASE_URL")
	rootCmd.PersistentFlags().String("log-mode", "", "development or production; defaults to LOG_MODE")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(hydrateCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(unpackCmd)
	rootCmd.AddCommand(verifySidecarCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(watchCmd)
}

// flagKeys maps CLI flags onto config keys. Only flags the running command
// defines are bound.
var flagKeys = map[string]string{
	"db-url":         app.KeyDatabaseURL,
	"log-mode":       app.KeyLogMode,
	"object-root":    app.KeyObjectRoot,
	"object-store":   app.KeyObjectStorageMode,
	"secret":         app.KeyOperatorSecret,
	"archive-bucket": app.KeyArchiveBucket,
	"prefix":         app.KeyArchivePrefix,
}

func loadConfig(cmd *cobra.Command) (app.Config, error) {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = cfgViper.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return app.Config{}, fmt.Errorf("bind flags: %w", bindErr)
	}
	return app.LoadConfig(cfgViper, flagConfig)
}

// bootstrap loads config and builds the app for one command. The caller
// must Close it.
func bootstrap(cmd *cobra.Command, needs app.Needs) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, needs)
}

func requireFlag(op, name, value string) error {
	if value == "" {
		return transfer.Errorf(transfer.CodeConfiguration, op, "--%s is required", name)
	}
	return nil
}
