package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-successbundle/internal/app"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/archive"
)

const defaultRunType = "success_bundle"

var packFlags struct {
	runID       string
	inSQL       string
	inSidecar   string
	outDir      string
	perCategory bool
	maxSize     string
	upload      bool
	runType     string
	concurrency int
}

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Encrypt a bundle and its sidecar into zip archives",
	Long: `Pack zips the bundle SQL and sidecar tree and encrypts each archive with
a key derived from "<run-id>:<operator secret>". With --per-category the
core (SQL and manifest), illustrations, audios and fensters travel as
separate archives. With --upload the archives and an archives.json index
are written to <prefix>/<run-type>/<run-id>/ in the archive bucket.`,
	Args: cobra.NoArgs,
	RunE: runPack,
}

func init() {
	f := packCmd.Flags()
	f.StringVar(&packFlags.runID, "run-id", "", "run id bound into the archive key")
	f.String("secret", "", "operator secret; defaults to OPERATOR_SECRET")
	f.StringVar(&packFlags.inSQL, "in-sql", "", "bundle SQL file")
	f.StringVar(&packFlags.inSidecar, "in-sidecar", "", "sidecar directory")
	f.StringVar(&packFlags.outDir, "out-dir", "", "directory for the encrypted archives")
	f.BoolVar(&packFlags.perCategory, "per-category", false, "one archive per asset category")
	f.StringVar(&packFlags.maxSize, "max-archive-size", "2GiB", "largest allowed archive (0 = unlimited)")
	f.BoolVar(&packFlags.upload, "upload", false, "upload the archives after packing")
	f.String("prefix", "", "object prefix for uploads; defaults to ARCHIVE_PREFIX")
	f.String("archive-bucket", "", "bucket for uploads; defaults to ARCHIVE_BUCKET")
	f.StringVar(&packFlags.runType, "run-type", defaultRunType, "run type path segment")
	f.IntVar(&packFlags.concurrency, "concurrency", 4, "parallel uploads")
	f.String("object-root", "", "local object storage root")
	f.String("object-store", "", "object storage mode: local, gcs or gcs_emulator")
}

func runPack(cmd *cobra.Command, _ []string) error {
	maxSize, err := archive.ParseMaxSize(packFlags.maxSize)
	if err != nil {
		return err
	}
	a, err := bootstrap(cmd, app.Needs{Objects: packFlags.upload})
	if err != nil {
		return err
	}
	defer a.Close()

	mode := archive.ModeCombined
	if packFlags.perCategory {
		mode = archive.ModePerCategory
	}
	ctx := cmd.Context()
	tracker := a.Tracker(ctx, jobs.TransferKindPack, false)
	tracker.Enter(ctx, "pack")
	archives, err := archive.NewPackager(a.Log).Pack(ctx, archive.PackOptions{
		RunID:      packFlags.runID,
		Secret:     a.Cfg.OperatorSecret,
		SQLPath:    packFlags.inSQL,
		SidecarDir: packFlags.inSidecar,
		OutDir:     packFlags.outDir,
		Mode:       mode,
		MaxSize:    maxSize,
	})
	if err == nil && packFlags.upload {
		tracker.Enter(ctx, "upload")
		_, err = archive.NewTransport(a.Objects, a.Log, packFlags.concurrency).Upload(ctx, archiveLocation(a.Cfg), archives)
	}
	tracker.Finish(ctx, "", archives, err)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ar := range archives {
		fmt.Fprintf(out, "%s  %s  %d files  sha256=%s\n", ar.Path, humanize.IBytes(uint64(ar.Size)), ar.Files, ar.SHA256)
	}
	if packFlags.upload {
		loc := archiveLocation(a.Cfg)
		fmt.Fprintf(out, "uploaded to %s/%s\n", loc.Bucket, loc.Object(""))
	}
	return nil
}

func archiveLocation(cfg app.Config) archive.Location {
	return archive.Location{
		Bucket:  cfg.ArchiveBucket,
		Prefix:  cfg.ArchivePrefix,
		RunType: packFlags.runType,
		RunID:   packFlags.runID,
	}
}
