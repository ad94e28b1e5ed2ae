package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/schemaflow/internal/jobs"
	"github.com/randalmurphal/schemaflow/internal/server"
	"github.com/randalmurphal/schemaflow/internal/telemetry"
	"github.com/randalmurphal/schemaflow/internal/workflow"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				settings.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if settings.Telemetry {
				shutdown, err := telemetry.Setup(telemetry.Options{Writer: cmd.ErrOrStderr()})
				if err != nil {
					return err
				}
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.Warn("telemetry shutdown", "error", err)
					}
				}()
			}

			a, err := openApp(ctx, settings, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireLLM(); err != nil {
				return err
			}

			queue := jobs.NewLocalQueue(workflow.JobHandler(a.executor),
				jobs.WithWorkers(settings.Jobs.Workers),
				jobs.WithRetention(settings.Jobs.Retention),
				jobs.WithLogger(logger))
			defer queue.Close()

			srv, err := server.New(server.Config{
				Executor:       a.executor,
				Jobs:           queue,
				Repo:           a.repo,
				Registry:       a.registry,
				Logger:         logger,
				RequestTimeout: settings.Server.RequestTimeout,
				Stream: workflow.StreamOptions{
					PollInterval: settings.Stream.PollInterval,
					PollTimeout:  settings.Stream.PollTimeout,
					ChunkDelay:   settings.Stream.ChunkDelay,
				},
			})
			if err != nil {
				return err
			}
			return listen(ctx, &http.Server{
				Addr:              settings.Server.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// listen serves until ctx ends, then drains in-flight requests.
func listen(ctx context.Context, httpSrv *http.Server, a *app) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("schemaflow listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
