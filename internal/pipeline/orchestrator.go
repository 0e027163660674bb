package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/solver"
	"github.com/banshee-data/cqrtraffic/internal/timeutil"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// Solver fits one quantile regression problem.
type Solver interface {
	Fit(ctx context.Context, p *solver.Problem) (solver.Result, error)
}

// Orchestrator runs one fit per quantile level over a bagged dataset.
type Orchestrator struct {
	solver   Solver
	clock    timeutil.Clock
	metrics  *monitoring.Metrics
	parallel int
}

// NewOrchestrator creates an Orchestrator that fits sequentially. clock and
// metrics may be nil.
func NewOrchestrator(s Solver, clock timeutil.Clock, metrics *monitoring.Metrics) *Orchestrator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Orchestrator{solver: s, clock: clock, metrics: metrics, parallel: 1}
}

// SetParallelism lets up to n fits run at once. Values below 1 mean 1.
func (o *Orchestrator) SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	o.parallel = n
}

// Fit returns one model per tau, in the order of taus. Each problem uses the
// bagged centroid density as x, centroid flow as y and the cell weights, with
// the solver's default slope lower bound removed. A solver error fails the
// whole call with ErrSolverFailure.
func (o *Orchestrator) Fit(ctx context.Context, bag traffic.BaggedDataset, taus []float64) ([]traffic.FittedModel, error) {
	if err := traffic.ValidateTaus(taus); err != nil {
		return nil, err
	}
	if bag.Len() == 0 {
		return nil, fmt.Errorf("%w: no bagged cells to fit", traffic.ErrEmptyDataset)
	}

	x, y, w := bag.CentroidDensity(), bag.CentroidFlow(), bag.Weight()
	models := make([]traffic.FittedModel, len(taus))

	if o.parallel <= 1 {
		for i, tau := range taus {
			m, err := o.fitOne(ctx, x, y, w, tau)
			if err != nil {
				return nil, err
			}
			models[i] = m
		}
		return models, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallel)
	for i, tau := range taus {
		g.Go(func() error {
			m, err := o.fitOne(gctx, x, y, w, tau)
			if err != nil {
				return err
			}
			models[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return models, nil
}

func (o *Orchestrator) fitOne(ctx context.Context, x, y, w []float64, tau float64) (traffic.FittedModel, error) {
	p, err := solver.NewProblem(x, y, w, tau)
	if err != nil {
		return traffic.FittedModel{}, fmt.Errorf("%w: tau %v: %w", traffic.ErrSolverFailure, tau, err)
	}
	p.UnboundSlope()

	start := o.clock.Now()
	res, err := o.solver.Fit(ctx, p)
	elapsed := o.clock.Since(start)
	if err != nil {
		return traffic.FittedModel{}, fmt.Errorf("%w: tau %v: %w", traffic.ErrSolverFailure, tau, err)
	}
	if len(res.Frontier) != len(x) {
		return traffic.FittedModel{}, fmt.Errorf("%w: tau %v: frontier has %d values for %d points",
			traffic.ErrSolverFailure, tau, len(res.Frontier), len(x))
	}

	if o.metrics != nil {
		o.metrics.FitDurationSeconds.WithLabelValues(monitoring.TauLabel(tau)).Observe(elapsed.Seconds())
	}
	monitoring.Logf("Fitted tau=%v on %d cells in %.4f seconds", tau, len(x), monitoring.Seconds(elapsed))
	return traffic.NewFittedModel(tau, x, res.Frontier, elapsed), nil
}
