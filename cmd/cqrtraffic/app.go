package main

import (
	"fmt"

	"github.com/banshee-data/cqrtraffic/internal/cache"
	"github.com/banshee-data/cqrtraffic/internal/config"
	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/httputil"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/pipeline"
	"github.com/banshee-data/cqrtraffic/internal/solver"
	"github.com/banshee-data/cqrtraffic/internal/version"
)

// app holds the collaborators shared by the subcommands.
type app struct {
	cfg       *config.PipelineConfig
	files     *cache.Files
	store     *cache.Store // nil when the day cache is disabled
	retriever fintraffic.Retriever
	metrics   *monitoring.Metrics
}

// newApp wires the retrieval stack for cfg. http may be nil, in which case a
// client with the configured timeout is used.
func newApp(cfg *config.PipelineConfig, http httputil.HTTPClient) (*app, error) {
	if http == nil {
		http = httputil.NewTimeoutClient(cfg.GetHTTPTimeout())
	}
	a := &app{
		cfg:     cfg,
		files:   cache.NewFiles(nil),
		metrics: monitoring.NewMetrics(),
	}

	var retriever fintraffic.Retriever = fintraffic.NewClient(http,
		fintraffic.WithURLTemplate(cfg.GetURLTemplate()),
		fintraffic.WithSaver(a.files),
		fintraffic.WithUserAgent(version.UserAgent()),
	)
	if path := cfg.GetCacheDB(); path != "" {
		store, err := cache.OpenStore(path)
		if err != nil {
			return nil, fmt.Errorf("open cache %s: %w", path, err)
		}
		store.SetEmptyDayTTL(cfg.GetEmptyDayTTL())
		a.store = store
		retriever = cache.NewCachingRetriever(retriever, store)
	}
	a.retriever = retriever
	return a, nil
}

// Close releases the cache database.
func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// station builds a Station for the configured scope.
func (a *app) station() (*pipeline.Station, error) {
	deps := pipeline.StationDeps{
		Retriever:   a.retriever,
		Solver:      a.solver(),
		Saver:       a.files,
		Metrics:     a.metrics,
		Parallelism: a.cfg.GetParallelism(),
	}
	if a.store != nil {
		deps.Recorder = a.store
	}
	return pipeline.NewStation(a.cfg.LoadParams(), a.cfg.GetTaus(), deps)
}

// solver returns the configured frontier solver.
func (a *app) solver() pipeline.Solver {
	if a.cfg.GetSolver() == config.SolverSimplex {
		return solver.Simplex{MaxPoints: a.cfg.GetSolverMaxPoints()}
	}
	return solver.InteriorPoint{MaxPoints: a.cfg.GetSolverMaxPoints()}
}

// modelOptions returns the configured per-run settings.
func (a *app) modelOptions() pipeline.ModelOptions {
	return pipeline.ModelOptions{
		Period: a.cfg.GetAggregationPeriod(),
		GridX:  a.cfg.GetGridX(),
		GridY:  a.cfg.GetGridY(),
		Taus:   a.cfg.GetTaus(),
	}
}
