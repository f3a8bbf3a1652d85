package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stagepass/internal/platform/httpserver"
	"stagepass/internal/platform/postgres"
	"stagepass/pkg/platform/audit"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the audit publisher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if migrate && cfg.DatabaseURL != "" {
				if err := runMigrations(ctx, cfg.DatabaseURL); err != nil {
					return err
				}
			}

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			srv := httpserver.New(cfg.Server.Addr, a.router)
			logger.Info("stagepass started", "addr", cfg.Server.Addr)
			err = serveAndDrain(ctx, a.sink, func(ctx context.Context) error {
				return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, logger)
			})
			logger.Info("stagepass stopped", "pending_audit_events", a.sink.Pending())
			return err
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

// serveAndDrain runs serve alongside the audit publisher. The publisher is
// stopped only once serve has returned, so events emitted by requests that
// finish during shutdown land in its final flush.
func serveAndDrain(ctx context.Context, sink *audit.Sink, serve func(context.Context) error) error {
	sinkCtx, stopSink := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSink()

	var g errgroup.Group
	g.Go(func() error { return sink.Run(sinkCtx) })
	g.Go(func() error {
		defer stopSink()
		return serve(ctx)
	})
	return g.Wait()
}

func runMigrations(ctx context.Context, url string) error {
	db, err := postgres.Open(ctx, url)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.Migrate(ctx, db)
}
