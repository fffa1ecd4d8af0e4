package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/farmops/pondsync/pkg/config"
	"github.com/farmops/pondsync/pkg/server"
)

func newServeCommand() *cobra.Command {
	var (
		listen  string
		noSweep bool
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the management server and background sweep",
		Long: `Run the HTTP management surface until interrupted.

The server:
  - Accepts pond create, update and delete requests
  - Runs the reconciliation sweep on the configured interval
  - Serves health and Prometheus metrics endpoints
  - Reloads the sweep interval, log level and bed bounds when the
    config file changes`,
		Example: `  # Serve with a config file
  pondsync serve --config pondsync.yaml

  # Override the listen address and skip the background sweep
  pondsync serve --config pondsync.yaml --listen :9000 --no-sweep`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, func(cfg *config.Config) {
				if listen != "" {
					cfg.Server.Listen = listen
				}
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn().Err(err).Msg("Shutdown incomplete")
				}
			}()

			srvCfg := server.Config{
				Listen:          a.cfg.Server.Listen,
				ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
				MetricsPath:     a.cfg.Telemetry.Metrics.Path,
				Logger:          a.logger,
				Metrics:         a.tel.Metrics,
			}
			if a.store != nil {
				srvCfg.History = a.store
				srvCfg.Journal = a.store
			}
			srv := server.New(a.manager, a.sweeper, srvCfg)

			g, gctx := errgroup.WithContext(a.tel.WithContext(ctx))
			g.Go(func() error {
				return srv.Run(gctx)
			})

			if a.cfg.Sweep.Enabled && !noSweep {
				g.Go(func() error {
					a.sweeper.Run(gctx, a.cfg.Sweep.RunOnStart)
					return nil
				})
			}

			if configPath != "" && !noWatch {
				watcher, err := config.NewWatcher(configPath, a.loader, a.logger, func(cfg *config.Config) {
					a.reload(gctx, cfg)
				})
				if err != nil {
					return err
				}
				g.Go(func() error {
					watcher.Run(gctx)
					return nil
				})
			}

			a.logger.Info().
				Str("version", buildVersion).
				Str("farmbot", a.cfg.FarmBot.URL).
				Bool("journal", a.store != nil).
				Bool("policies", a.policies != nil).
				Msg("pondsync started")

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the background sweep")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")

	return cmd
}
