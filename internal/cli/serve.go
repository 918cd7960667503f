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

	"github.com/roach88/simrun/internal/api"
	"github.com/roach88/simrun/internal/metrics"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		Long: `Serve runs, progress and statistics from the database as JSON.

Routes:
  GET /health
  GET /runs
  GET /runs/{id}
  GET /runs/{id}/progress
  GET /runs/{id}/iterations
  GET /runs/{id}/units
  GET /runs/{id}/stats/{kind}/{field}
  GET /metrics

Example:
  simrun serve --db ./runs.db --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			diag := newFormatter(rootOpts, cmd).GetErrWriter()
			logger := newLogger(rootOpts, diag)
			st, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer st.Close()

			prom, err := metrics.NewPrometheus()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to register metrics", err)
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(st, prom.Handler(), logger).Handler(diag),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			logger.Info("api listening", "addr", addr, "db", rootOpts.Database)

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return WrapExitError(ExitCommandError, "api server failed", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return WrapExitError(ExitFailure, "api server shutdown", err)
			}
			logger.Info("api stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
