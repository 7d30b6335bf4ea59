package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-successbundle/internal/app"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/runlog"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream transfer run events from Redis until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	const op = "cli.watch"
	a, err := bootstrap(cmd, app.Needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Cfg.RedisAddr == "" {
		return transfer.Errorf(transfer.CodeConfiguration, op, "REDIS_ADDR is required")
	}
	sub, err := runlog.NewRedisPublisher(cmd.Context(), a.Log, a.Cfg.RedisAddr, a.Cfg.RedisChannel)
	if err != nil {
		return transfer.Wrap(transfer.CodeConfiguration, op, err)
	}
	defer sub.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	err = sub.Subscribe(cmd.Context(), func(ev runlog.Event) {
		_ = enc.Encode(ev)
	})
	if err != nil {
		return err
	}
	a.Log.Info("watching run events", "channel", a.Cfg.RedisChannel)
	<-cmd.Context().Done()
	return nil
}
