package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cqrtraffic/internal/api"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a station's datasets and models over HTTP",
		Long: `Serve exposes the station configured by flags or --config over a JSON
API. POST /api/model builds a model; GET /api/points, /api/models and
/api/runs read the results. Prometheus metrics are served on /metrics and
the cache admin tools under /debug/ when the day cache is enabled.

Examples:
  cqrtraffic serve --station 101 --days 2021:1-7 --build
  cqrtraffic serve -c station.json --listen :9090`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}
	cmd.Flags().String("listen", "", "Listen address (default :8080)")
	cmd.Flags().Bool("build", false, "Build a model before serving")
	cmd.Flags().String("period", "", "Aggregation period, e.g. 5m (default 5m)")
	cmd.Flags().Int("grid-x", 0, "Density grid size (default 70)")
	cmd.Flags().Int("grid-y", 0, "Flow grid size (default 400)")
	cmd.Flags().Float64Slice("tau", nil, "Quantile levels in (0, 1) (default 0.5)")
	cmd.Flags().Int("parallelism", 0, "Concurrent fits (default 1)")
	cmd.Flags().String("solver", "", "Frontier solver: interior or simplex (default interior)")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	station, err := a.station()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if build, _ := cmd.Flags().GetBool("build"); build {
		if _, err := station.MakeModel(ctx, a.modelOptions()); err != nil {
			return err
		}
	}

	var runs api.RunStore
	if a.store != nil {
		runs = a.store
	}
	mux := api.NewServer(station, a.modelOptions(), runs, a.metrics).ServeMux()
	if a.store != nil {
		if err := a.store.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:    cfg.GetListenAddr(),
		Handler: api.LoggingMiddleware(mux),
	}
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Serving TMS %d on %s", station.StationID(), server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("Graceful shutdown complete")
	return nil
}
