package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-successbundle/internal/app"
	"github.com/yungbote/neurobridge-successbundle/internal/platform/dbctx"
)

var runsFlags struct {
	kind  string
	limit int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent transfer runs recorded in the database",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	f := runsCmd.Flags()
	f.StringVar(&runsFlags.kind, "kind", "", "only runs of this kind (export, hydrate, pack, unpack)")
	f.IntVar(&runsFlags.limit, "limit", 20, "number of runs to list")
}

func runRuns(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd, app.Needs{DB: true, Migrate: true})
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.Repos.TransferRun.ListRecent(dbctx.Context{Ctx: cmd.Context()}, runsFlags.kind, runsFlags.limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
