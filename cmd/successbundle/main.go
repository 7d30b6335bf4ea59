// Command successbundle exports a bounded snapshot of successful generation
// work from one database and hydrates it into another.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "successbundle:", err)
	}
	os.Exit(transfer.ExitCode(err))
}
