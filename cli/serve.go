package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ccmanuelf/kpi-operations-sub013/api"
	"github.com/ccmanuelf/kpi-operations-sub013/common"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.close()

			srv := api.NewServer(cfg.Server, a.svc, a.tokens, a.metrics)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				common.Logger.WithField("signal", sig.String()).Info("shutting down")
			}

			// Two phases: close ingress first, then drain the async side.
			// Events still queued after the grace window stay in the event
			// store and replay on the next start.
			if err := srv.Shutdown(context.Background()); err != nil {
				common.Logger.WithError(err).Warn("http shutdown incomplete")
			}
			if a.sched != nil {
				a.sched.Stop()
			}
			if a.bus != nil {
				a.bus.Stop(a.shutdownGrace())
			}
			return nil
		},
	}
}
