package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/danzod/internal/output"
	"github.com/tanq16/danzod/internal/types"
	"github.com/tanq16/danzod/internal/utils"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Download every queued link and exit when the queue is idle",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newWorkerRuntime(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var display *output.Display
			if output.IsTerminal() {
				logFile, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err == nil {
					defer logFile.Close()
					utils.SetLogOutput(logFile)
				}
				display = output.NewDisplay(rt.mgr, rt.bus, os.Stdout)
				display.Start()
			}
			runErr := rt.pool.RunUntilIdle(ctx)
			if display != nil {
				display.Stop()
			}
			if runErr != nil && ctx.Err() == nil {
				return runErr
			}

			failed := 0
			for _, rec := range rt.mgr.Records() {
				if rec.Status == types.StatusFailed {
					failed++
				}
			}
			if display == nil {
				fmt.Print(output.StatusTable(rt.mgr.Records()))
			}
			if failed > 0 {
				log.Error().Str("op", "cmd/run").Msgf("%d downloads failed", failed)
				return fmt.Errorf("encountered %d failed download(s)", failed)
			}
			return nil
		},
	}
}
