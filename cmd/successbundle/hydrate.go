package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-successbundle/internal/app"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/hydrate"
)

var hydrateFlags struct {
	inSQL          string
	inSidecar      string
	strict         bool
	dryRun         bool
	lockKey        int64
	lockTimeout    time.Duration
	verifyRerun    bool
	restoreObjects bool
	migrate        bool
	report         string
	includes       includeFlags
}

var hydrateCmd = &cobra.Command{
	Use:   "hydrate",
	Short: "Merge a bundle into the target database in one transaction",
	Long: `Hydrate stages the bundle SQL, validates the schema version and every
sidecar checksum, then upserts the graph by logical key, remapping surrogate
ids and rewriting embedded references. Everything happens in one
transaction under an advisory lock; any failure rolls the whole run back.

Exit codes: 0 committed or dry run validated, 75 lock held elsewhere,
78 configuration error, 1 anything else.

Example:
  successbundle hydrate --db-url postgres://... --in-sql bundle.sql --in-sidecar sidecar --dry-run
  successbundle hydrate --in-sql bundle.sql --in-sidecar sidecar --verify-rerun --lock-timeout 30s`,
	Args: cobra.NoArgs,
	RunE: runHydrate,
}

func init() {
	f := hydrateCmd.Flags()
	f.StringVar(&hydrateFlags.inSQL, "in-sql", "", "bundle SQL file")
	f.StringVar(&hydrateFlags.inSidecar, "in-sidecar", "", "sidecar directory")
	f.BoolVar(&hydrateFlags.strict, "strict", true, "fail on any integrity violation instead of skipping the row")
	f.BoolVar(&hydrateFlags.dryRun, "dry-run", false, "run every check and roll back")
	f.Int64Var(&hydrateFlags.lockKey, "lock-key", hydrate.DefaultLockKey, "advisory lock key (must be non-zero)")
	f.DurationVar(&hydrateFlags.lockTimeout, "lock-timeout", 0, "wait this long for the lock (0 = fail at once)")
	f.BoolVar(&hydrateFlags.verifyRerun, "verify-rerun", false, "merge twice and require the second pass to change nothing")
	f.BoolVar(&hydrateFlags.restoreObjects, "restore-objects", false, "upload illustration bytes to object storage after commit")
	f.BoolVar(&hydrateFlags.migrate, "migrate", false, "create missing graph tables before merging")
	f.StringVar(&hydrateFlags.report, "report", "", "write a run report (.yaml or .json)")
	f.String("object-root", "", "local object storage root for --restore-objects")
	f.String("object-store", "", "object storage mode: local, gcs or gcs_emulator")
	hydrateFlags.includes.register(hydrateCmd)
}

func runHydrate(cmd *cobra.Command, _ []string) error {
	const op = "cli.hydrate"
	if hydrateFlags.lockKey == 0 {
		return transfer.Errorf(transfer.CodeConfiguration, op, "--lock-key must be non-zero")
	}
	a, err := bootstrap(cmd, app.Needs{
		DB:      true,
		Migrate: hydrateFlags.migrate,
		Objects: hydrateFlags.restoreObjects,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	tracker := a.Tracker(ctx, jobs.TransferKindHydrate, hydrateFlags.dryRun)
	engine := hydrate.NewEngine(a.DB, a.Log, a.Objects, tracker)
	res, err := engine.Run(ctx, hydrate.Options{
		SQLPath:              hydrateFlags.inSQL,
		SidecarDir:           hydrateFlags.inSidecar,
		Strict:               hydrateFlags.strict,
		DryRun:               hydrateFlags.dryRun,
		LockKey:              hydrateFlags.lockKey,
		LockTimeout:          hydrateFlags.lockTimeout,
		VerifyRerun:          hydrateFlags.verifyRerun,
		IncludeIllustrations: hydrateFlags.includes.illustrations,
		IncludeAudios:        hydrateFlags.includes.audios,
		IncludeFensters:      hydrateFlags.includes.fensters,
		RestoreObjects:       hydrateFlags.restoreObjects,
	})
	bundleID := ""
	var stats interface{}
	if res != nil {
		bundleID, stats = res.BundleID, res.Stats
	}
	tracker.Finish(ctx, bundleID, stats, err)
	if res != nil {
		if rerr := app.WriteReport(hydrateFlags.report, res); rerr != nil && err == nil {
			err = rerr
		}
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.DryRun {
		fmt.Fprintf(out, "bundle %s validated, not committed (%d pass(es))\n", res.BundleID, res.Passes)
	} else {
		fmt.Fprintf(out, "bundle %s hydrated (%d pass(es), %s)\n", res.BundleID, res.Passes, res.Duration.Round(time.Millisecond))
	}
	for _, e := range bundle.MergeOrder {
		c, u, s := res.Stats.Created[e], res.Stats.Updated[e], res.Stats.Skipped[e]
		if c+u+s > 0 {
			fmt.Fprintf(out, "  %-22s created=%d updated=%d skipped=%d\n", e, c, u, s)
		}
	}
	if res.Stats.Unresolved > 0 {
		fmt.Fprintf(out, "  unresolved embedded refs: %d\n", res.Stats.Unresolved)
	}
	if res.RestoredObjects > 0 {
		fmt.Fprintf(out, "  restored objects: %d\n", res.RestoredObjects)
	}
	return nil
}
