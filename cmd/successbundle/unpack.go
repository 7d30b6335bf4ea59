package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-successbundle/internal/app"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/jobs"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/archive"
)

var unpackFlags struct {
	archives []string
	outDir   string
	download bool
}

var unpackCmd = &cobra.Command{
	Use:   "unpack",
	Short: "Verify, decrypt and extract archives ready for hydrate",
	Long: `Unpack decrypts archives produced by pack and extracts them under
--out-dir as bundle.sql and sidecar/. With --download the archives listed in
archives.json are fetched first; each one must match its declared size and
sha256 before it is kept.`,
	Args: cobra.NoArgs,
	RunE: runUnpack,
}

func init() {
	f := unpackCmd.Flags()
	f.StringVar(&packFlags.runID, "run-id", "", "run id bound into the archive key")
	f.String("secret", "", "operator secret; defaults to OPERATOR_SECRET")
	f.StringSliceVar(&unpackFlags.archives, "archive", nil, "archive file (repeatable)")
	f.StringVar(&unpackFlags.outDir, "out-dir", "", "extraction directory")
	f.BoolVar(&unpackFlags.download, "download", false, "download the run's archives first")
	f.String("prefix", "", "object prefix; defaults to ARCHIVE_PREFIX")
	f.String("archive-bucket", "", "bucket; defaults to ARCHIVE_BUCKET")
	f.StringVar(&packFlags.runType, "run-type", defaultRunType, "run type path segment")
	f.IntVar(&packFlags.concurrency, "concurrency", 4, "parallel downloads")
	f.String("object-root", "", "local object storage root")
	f.String("object-store", "", "object storage mode: local, gcs or gcs_emulator")
}

func runUnpack(cmd *cobra.Command, _ []string) error {
	const op = "cli.unpack"
	if err := requireFlag(op, "out-dir", unpackFlags.outDir); err != nil {
		return err
	}
	if unpackFlags.download == (len(unpackFlags.archives) > 0) {
		return transfer.Errorf(transfer.CodeConfiguration, op, "pass either --archive or --download")
	}
	a, err := bootstrap(cmd, app.Needs{Objects: unpackFlags.download})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	tracker := a.Tracker(ctx, jobs.TransferKindUnpack, false)
	paths := unpackFlags.archives
	if unpackFlags.download {
		tracker.Enter(ctx, "download")
		paths, err = archive.NewTransport(a.Objects, a.Log, packFlags.concurrency).
			Download(ctx, archiveLocation(a.Cfg), filepath.Join(unpackFlags.outDir, "archives"))
		if err != nil {
			tracker.Finish(ctx, "", nil, err)
			return err
		}
	}
	tracker.Enter(ctx, "extract")
	res, err := archive.NewPackager(a.Log).Unpack(ctx, archive.UnpackOptions{
		RunID:    packFlags.runID,
		Secret:   a.Cfg.OperatorSecret,
		Archives: paths,
		OutDir:   unpackFlags.outDir,
	})
	tracker.Finish(ctx, "", res, err)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "unpacked %d archive(s), %d files\n", res.Archives, res.Files)
	fmt.Fprintf(out, "  --in-sql %s --in-sidecar %s\n", res.SQLPath, res.SidecarDir)
	return nil
}
