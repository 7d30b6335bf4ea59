package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-successbundle/internal/app"
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

var verifySidecarFlags struct {
	inSidecar string
	strict    bool
}

var verifySidecarCmd = &cobra.Command{
	Use:   "verify-sidecar",
	Short: "Check every sidecar file against the manifest",
	Long: `verify-sidecar recomputes the size and sha256 of each manifest entry
without touching a database. With --strict=false every entry is checked and
all failures are listed; the command still exits non-zero when any fail.`,
	Args: cobra.NoArgs,
	RunE: runVerifySidecar,
}

func init() {
	f := verifySidecarCmd.Flags()
	f.StringVar(&verifySidecarFlags.inSidecar, "in-sidecar", "", "sidecar directory")
	f.BoolVar(&verifySidecarFlags.strict, "strict", true, "stop at the first failure")
}

func runVerifySidecar(cmd *cobra.Command, _ []string) error {
	const op = "cli.verify_sidecar"
	if err := requireFlag(op, "in-sidecar", verifySidecarFlags.inSidecar); err != nil {
		return err
	}
	a, err := bootstrap(cmd, app.Needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	sc := bundle.NewSidecar(verifySidecarFlags.inSidecar)
	entries, err := sc.ReadManifest()
	if err != nil {
		return err
	}
	rep, err := sc.VerifyAll(entries, transfer.NewIntegrityPolicy(verifySidecarFlags.strict, a.Log))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "checked %d entries, %s ok\n", rep.Checked, humanize.IBytes(uint64(rep.Bytes)))
	if rep.OK() {
		return nil
	}
	paths := make([]string, 0, len(rep.Failed))
	for p := range rep.Failed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(out, "FAIL %s: %v\n", p, rep.Failed[p])
	}
	return transfer.Errorf(transfer.CodeIntegrity, op, "%d of %d entries failed verification", len(rep.Failed), rep.Checked)
}
