package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/danzod/internal/api"
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool with the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newWorkerRuntime(cfg)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Server.Listen
			}
			server := api.NewServer(rt.mgr, rt.pool, rt.coord, api.Options{ClientTimeout: cfg.Server.ClientTimeout})
			rt.coord.SetClientCheck(server.ClientConnected)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			var poolErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				poolErr = rt.pool.Run(ctx)
			}()
			go func() {
				<-ctx.Done()
				if err := server.Shutdown(); err != nil {
					log.Error().Str("op", "cmd/serve").Msgf("error shutting down server: %v", err)
				}
			}()
			listenErr := server.Listen(listen)
			stop()
			wg.Wait()
			log.Info().Str("op", "cmd/serve").Msg("Stopped")
			return errors.Join(listenErr, poolErr)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides config)")
	return cmd
}
