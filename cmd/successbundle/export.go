package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-successbundle/internal/app"
	"github.com/yungbote/neurobridge-successbundle/internal/data/db"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/export"
)

var exportFlags struct {
	outSQL     string
	outSidecar string
	strict     bool
	maxRows    int
	dialect    string
	report     string
	includes   includeFlags
}

type includeFlags struct {
	illustrations bool
	audios        bool
	fensters      bool
}

func (f *includeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.illustrations, "include-illustrations", true, "include illustrations and their section links")
	cmd.Flags().BoolVar(&f.audios, "include-audios", true, "include coach audio rows")
	cmd.Flags().BoolVar(&f.fensters, "include-fensters", true, "include fenster widgets")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Collect done jobs and their graph into a bundle SQL file and sidecar tree",
	Long: `Export selects done jobs oldest-first, walks the lessons, sections and
assets they reference, and writes a self-installing bundle SQL file plus a
sidecar directory holding every binary with its sha256.

Example:
  successbundle export --db-url postgres://... --out-sql out/bundle.sql --out-sidecar out/sidecar
  successbundle export --max-rows 50 --include-audios=false --object-root /srv/objects`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.outSQL, "out-sql", "", "bundle SQL output path")
	f.StringVar(&exportFlags.outSidecar, "out-sidecar", "", "sidecar output directory (emptied first)")
	f.BoolVar(&exportFlags.strict, "strict", true, "fail on the first missing or unreadable binary")
	f.IntVar(&exportFlags.maxRows, "max-rows", 0, "cap on exported jobs, oldest first (0 = no cap)")
	f.StringVar(&exportFlags.dialect, "dialect", "", "bundle SQL dialect: postgres or portable (default follows the source)")
	f.StringVar(&exportFlags.report, "report", "", "write a run report (.yaml or .json)")
	f.String("object-root", "", "local object storage root for illustration bytes")
	f.String("object-store", "", "object storage mode: local, gcs or gcs_emulator")
	exportFlags.includes.register(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	const op = "cli.export"
	if err := requireFlag(op, "out-sql", exportFlags.outSQL); err != nil {
		return err
	}
	if err := requireFlag(op, "out-sidecar", exportFlags.outSidecar); err != nil {
		return err
	}
	a, err := bootstrap(cmd, app.Needs{DB: true, Objects: exportFlags.includes.illustrations})
	if err != nil {
		return err
	}
	defer a.Close()

	dialect, err := bundle.ParseDialect(exportFlags.dialect)
	if err != nil {
		return err
	}
	if exportFlags.dialect == "" && db.Dialect(a.DB) != db.DialectPostgres {
		dialect = bundle.DialectPortable
	}

	ctx := cmd.Context()
	tracker := a.Tracker(ctx, jobs.TransferKindExport, false)
	tracker.Enter(ctx, "collect")
	collector := export.NewCollector(a.DB, a.Log, a.Objects, bundle.NewSidecar(exportFlags.outSidecar))
	res, err := collector.Export(ctx, export.Options{
		IncludeIllustrations: exportFlags.includes.illustrations,
		IncludeAudios:        exportFlags.includes.audios,
		IncludeFensters:      exportFlags.includes.fensters,
		MaxRows:              exportFlags.maxRows,
		Strict:               exportFlags.strict,
	}, exportFlags.outSQL, dialect)
	if err != nil {
		tracker.Finish(ctx, "", nil, err)
		return err
	}
	tracker.Enter(ctx, "written")
	tracker.Finish(ctx, res.BundleID, res.Counts, nil)
	if err := app.WriteReport(exportFlags.report, res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "exported bundle %s\n", res.BundleID)
	fmt.Fprintf(out, "  sql:     %s\n", res.SQLPath)
	fmt.Fprintf(out, "  sidecar: %s (%d files, %s)\n", exportFlags.outSidecar, res.SidecarFiles, humanize.IBytes(uint64(res.SidecarBytes)))
	for _, e := range bundle.MergeOrder {
		if n := res.Counts[e]; n > 0 {
			fmt.Fprintf(out, "  %-22s %d\n", e, n)
		}
	}
	return nil
}
