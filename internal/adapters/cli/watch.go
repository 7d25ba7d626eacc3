package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/kirillkom/filings-corpus/internal/adapters/http"
	"github.com/kirillkom/filings-corpus/internal/bootstrap"
	"github.com/kirillkom/filings-corpus/internal/config"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/trigger"
	"github.com/kirillkom/filings-corpus/internal/observability/metrics"
)

func watchCmd(root *rootOptions) *cobra.Command {
	var (
		debounce time.Duration
		interval time.Duration
		httpAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run continuously, ingesting whenever the source directory changes",
		Long: `Start a long-running ingester. A run starts at startup, after a burst of file
changes under the source directory settles, on every --interval tick and on
each sources-updated NATS notification. Runs never overlap; triggers that
arrive during a run collapse into one follow-up run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.newApp(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("debounce") {
					cfg.WatchDebounce = debounce
				}
				if cmd.Flags().Changed("interval") {
					cfg.WatchInterval = interval
				}
				if cmd.Flags().Changed("http-addr") {
					cfg.HTTPAddr = httpAddr
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Supervisor == nil {
				return bootstrap.ErrNoSourceDir
			}
			return watch(cmd.Context(), app)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period after file changes before a run")
	cmd.Flags().DurationVar(&interval, "interval", 0, "periodic run interval (0 = off)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "address for /healthz, /metrics and /v1/runs/last (empty = off)")
	return cmd
}

func watch(ctx context.Context, app *bootstrap.App) error {
	cfg := app.Config
	log := app.Logger
	coalescer := trigger.NewCoalescer()
	coalescer.Fire(trigger.ReasonStartup)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return trigger.WatchDir(gctx, trigger.WatchConfig{
			Root:       cfg.SourceDir,
			Extensions: cfg.SourceExtensions,
			Debounce:   cfg.WatchDebounce,
		}, coalescer.Fire, log)
	})
	g.Go(func() error {
		trigger.Every(gctx, cfg.WatchInterval, coalescer.Fire)
		return nil
	})
	if app.Queue != nil {
		g.Go(func() error {
			return app.Queue.SubscribeSourcesUpdated(gctx, func(context.Context) error {
				coalescer.Fire(trigger.ReasonNotification)
				return nil
			})
		})
	}

	if cfg.HTTPAddr != "" {
		httpMetrics := metrics.NewHTTPServerMetrics(bootstrap.ServiceName, app.Metrics.Registry())
		router := httpadapter.NewRouter(bootstrap.ServiceName, app.Supervisor, app.Metrics.Handler(), httpMetrics, log)
		server := httpadapter.NewServer(cfg.HTTPAddr, router.Handler())
		g.Go(func() error {
			log.Info("http_server_started", "addr", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case reason := <-coalescer.C():
				status := app.Supervisor.RunOnce(gctx, string(reason))
				if status.Summary != nil {
					log.Info("watch_run_finished",
						"trigger", status.Trigger,
						"shard", status.Summary.Shard,
						"processed", status.Summary.Processed,
						"failed", status.Summary.FailedExtraction,
						"ok", status.OK(),
					)
				}
			}
		}
	})

	log.Info("watch_started", "source_dir", cfg.SourceDir, "shard_dir", cfg.ShardDir, "interval", cfg.WatchInterval.String())
	err := g.Wait()
	log.Info("watch_stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}
