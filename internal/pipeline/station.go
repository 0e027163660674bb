package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/timeutil"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// ErrNotReady is returned when a stage is asked for before its input exists.
var ErrNotReady = errors.New("required stage has not run")

// ErrInputChanged is returned when a stage's input was replaced while the
// stage was computing. The cached results are left untouched.
var ErrInputChanged = errors.New("stage input changed during computation")

// DefaultTaus is used when neither the station nor the call names any.
var DefaultTaus = []float64{0.5}

// ModelOptions are the per-run settings of MakeModel. Zero Taus means the
// station's taus.
type ModelOptions struct {
	Period  time.Duration
	GridX   int
	GridY   int
	Taus    []float64
	SaveRaw string
}

// Run is the complete output of one MakeModel call.
type Run struct {
	Params    traffic.ModelParams
	Report    LoadReport
	Aggregate traffic.AggregateDataset
	Bagged    traffic.BaggedDataset
	Models    []traffic.FittedModel
	StartedAt time.Time
	Elapsed   time.Duration
}

// RunRecorder persists a finished run before it is committed.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// StationDeps are the collaborators of a Station. Saver is needed only for
// runs with SaveRaw; Recorder, Clock and Metrics are optional.
type StationDeps struct {
	Retriever fintraffic.Retriever
	Solver    Solver
	Saver     fintraffic.Saver
	Recorder  RunRecorder
	Clock     timeutil.Clock
	Metrics   *monitoring.Metrics
	// Parallelism bounds concurrent fits.
	Parallelism int
}

// Station models one TMS over a fixed set of days. It caches the latest
// output of every stage and is safe for concurrent readers.
type Station struct {
	load  traffic.LoadParams
	taus  []float64
	deps  StationDeps
	clock timeutil.Clock

	loader *Loader
	orch   *Orchestrator

	mu       sync.RWMutex
	raw      *traffic.RawDataset
	agg      *traffic.AggregateDataset
	bag      *traffic.BaggedDataset
	models   []traffic.FittedModel
	lastLoad *LoadReport
}

// NewStation validates load and creates a Station.
func NewStation(load traffic.LoadParams, taus []float64, deps StationDeps) (*Station, error) {
	if err := load.Validate(); err != nil {
		return nil, &traffic.StageError{Stage: traffic.StageValidate, Err: err}
	}
	if len(taus) == 0 {
		taus = DefaultTaus
	}
	if err := traffic.ValidateTaus(taus); err != nil {
		return nil, &traffic.StageError{Stage: traffic.StageValidate, Err: err}
	}
	if deps.Retriever == nil || deps.Solver == nil {
		return nil, errors.New("station needs a retriever and a solver")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}

	orch := NewOrchestrator(deps.Solver, deps.Clock, deps.Metrics)
	orch.SetParallelism(deps.Parallelism)
	return &Station{
		load:   load,
		taus:   append([]float64(nil), taus...),
		deps:   deps,
		clock:  deps.Clock,
		loader: NewLoader(deps.Retriever, deps.Clock, deps.Metrics),
		orch:   orch,
	}, nil
}

// StationID returns the TMS id.
func (s *Station) StationID() int { return s.load.StationID }

// LoadParams returns the retrieval scope of the station.
func (s *Station) LoadParams() traffic.LoadParams { return s.load }

// LoadRawData retrieves every day and replaces the cached raw dataset. The
// downstream caches are cleared.
func (s *Station) LoadRawData(ctx context.Context) error {
	ds, report, err := s.loader.Load(ctx, s.load)
	if err != nil {
		return &traffic.StageError{Stage: traffic.StageLoad, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw, s.lastLoad = &ds, &report
	s.agg, s.bag, s.models = nil, nil, nil
	return nil
}

// Aggregate bins the cached raw dataset and clears the bagged and model caches.
// It fails with ErrInputChanged if the raw dataset is replaced meanwhile.
func (s *Station) Aggregate(period time.Duration) error {
	s.mu.RLock()
	raw := s.raw
	s.mu.RUnlock()
	if raw == nil {
		return &traffic.StageError{Stage: traffic.StageAggregate, Err: fmt.Errorf("%w: load raw data first", ErrNotReady)}
	}

	agg, err := Aggregate(*raw, period)
	if err != nil {
		return &traffic.StageError{Stage: traffic.StageAggregate, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw != raw {
		return &traffic.StageError{Stage: traffic.StageAggregate, Err: ErrInputChanged}
	}
	s.agg = &agg
	s.bag, s.models = nil, nil
	return nil
}

// Bagging grids the cached aggregate dataset and clears the model cache.
// It fails with ErrInputChanged if the aggregate is replaced meanwhile.
func (s *Station) Bagging(gridX, gridY int) error {
	s.mu.RLock()
	agg := s.agg
	s.mu.RUnlock()
	if agg == nil {
		return &traffic.StageError{Stage: traffic.StageBag, Err: fmt.Errorf("%w: aggregate first", ErrNotReady)}
	}

	bag, err := Bag(*agg, gridX, gridY)
	if err != nil {
		return &traffic.StageError{Stage: traffic.StageBag, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agg != agg {
		return &traffic.StageError{Stage: traffic.StageBag, Err: ErrInputChanged}
	}
	s.setBagGauge(bag)
	s.bag = &bag
	s.models = nil
	return nil
}

// WeightedModel fits the cached bagged dataset for each tau, replacing the
// model list. Nil taus means the station's taus. It fails with
// ErrInputChanged if the bagged dataset is replaced meanwhile.
func (s *Station) WeightedModel(ctx context.Context, taus []float64) error {
	if taus == nil {
		taus = s.taus
	}
	s.mu.RLock()
	bag := s.bag
	s.mu.RUnlock()
	if bag == nil {
		return &traffic.StageError{Stage: traffic.StageFit, Err: fmt.Errorf("%w: bag first", ErrNotReady)}
	}

	models, err := s.orch.Fit(ctx, *bag, taus)
	if err != nil {
		return &traffic.StageError{Stage: traffic.StageFit, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bag != bag {
		return &traffic.StageError{Stage: traffic.StageFit, Err: ErrInputChanged}
	}
	s.models = models
	return nil
}

// MakeModel validates every parameter, then runs load, aggregate, bag and fit.
// The cached datasets and models are replaced only when every stage, and the
// optional raw save and run recording, succeed.
func (s *Station) MakeModel(ctx context.Context, opts ModelOptions) (Run, error) {
	taus := opts.Taus
	if len(taus) == 0 {
		taus = s.taus
	}
	params := traffic.ModelParams{
		Load:    s.load,
		Period:  opts.Period,
		GridX:   opts.GridX,
		GridY:   opts.GridY,
		Taus:    taus,
		SaveRaw: opts.SaveRaw,
	}
	if err := params.Validate(); err != nil {
		return Run{}, &traffic.StageError{Stage: traffic.StageValidate, Err: err}
	}
	if params.SaveRaw != "" && s.deps.Saver == nil {
		return Run{}, &traffic.StageError{Stage: traffic.StageValidate,
			Err: fmt.Errorf("%w: no saver configured for %s", traffic.ErrCachePersist, params.SaveRaw)}
	}

	started := s.clock.Now()
	raw, report, err := s.loader.Load(ctx, params.Load)
	if err != nil {
		return Run{}, &traffic.StageError{Stage: traffic.StageLoad, Err: err}
	}
	if params.SaveRaw != "" {
		if err := s.deps.Saver.SaveRaw(params.SaveRaw, raw); err != nil {
			return Run{}, &traffic.StageError{Stage: traffic.StagePersist, Err: err}
		}
		monitoring.Logf("Data is successfully saved to %s", params.SaveRaw)
	}

	agg, err := Aggregate(raw, params.Period)
	if err != nil {
		return Run{}, &traffic.StageError{Stage: traffic.StageAggregate, Err: err}
	}
	bag, err := Bag(agg, params.GridX, params.GridY)
	if err != nil {
		return Run{}, &traffic.StageError{Stage: traffic.StageBag, Err: err}
	}
	models, err := s.orch.Fit(ctx, bag, params.Taus)
	if err != nil {
		return Run{}, &traffic.StageError{Stage: traffic.StageFit, Err: err}
	}

	run := Run{
		Params:    params,
		Report:    report,
		Aggregate: agg,
		Bagged:    bag,
		Models:    models,
		StartedAt: started,
		Elapsed:   s.clock.Since(started),
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordRun(ctx, run); err != nil {
			return Run{}, &traffic.StageError{Stage: traffic.StagePersist, Err: err}
		}
	}

	s.setBagGauge(bag)
	s.mu.Lock()
	s.raw, s.agg, s.bag = &raw, &agg, &bag
	s.models = models
	s.lastLoad = &report
	s.mu.Unlock()

	monitoring.Logf("Model for TMS %d built: %d observations, %d cells, %d fits in %.4f seconds",
		s.load.StationID, agg.Len(), bag.Len(), len(models), monitoring.Seconds(run.Elapsed))
	return run, nil
}

func (s *Station) setBagGauge(bag traffic.BaggedDataset) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.BaggedCells.Set(float64(bag.Len()))
	}
}

// Points returns the cached dataset in the requested representation.
func (s *Station) Points(rep Representation) (Points, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch rep {
	case RepAggregate:
		if s.agg == nil {
			return nil, fmt.Errorf("%w: no aggregate data", ErrNotReady)
		}
		return AggregatePoints{Density: s.agg.Density(), Flow: s.agg.Flow()}, nil
	case RepBagged, RepWeightedBagged:
		if s.bag == nil {
			return nil, fmt.Errorf("%w: no bagged data", ErrNotReady)
		}
		if rep == RepBagged {
			return BaggedPoints{Density: s.bag.CentroidDensity(), Flow: s.bag.CentroidFlow()}, nil
		}
		return WeightedBaggedPoints{
			Density: s.bag.CentroidDensity(),
			Flow:    s.bag.CentroidFlow(),
			Weight:  s.bag.Weight(),
		}, nil
	}
	return nil, fmt.Errorf("%w: representation %s does not exist", traffic.ErrParameterInvalid, rep)
}

// Raw returns the cached raw dataset.
func (s *Station) Raw() (traffic.RawDataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.raw == nil {
		return traffic.RawDataset{}, false
	}
	return *s.raw, true
}

// AggregateData returns the cached aggregate dataset.
func (s *Station) AggregateData() (traffic.AggregateDataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.agg == nil {
		return traffic.AggregateDataset{}, false
	}
	return *s.agg, true
}

// BaggedData returns the cached bagged dataset.
func (s *Station) BaggedData() (traffic.BaggedDataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bag == nil {
		return traffic.BaggedDataset{}, false
	}
	return *s.bag, true
}

// Models returns the cached models in tau order.
func (s *Station) Models() []traffic.FittedModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]traffic.FittedModel(nil), s.models...)
}

// Timings returns the fit duration of each cached model.
func (s *Station) Timings() []time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]time.Duration, len(s.models))
	for i, m := range s.models {
		out[i] = m.Duration()
	}
	return out
}

// LastLoad returns the report of the latest successful load.
func (s *Station) LastLoad() (LoadReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastLoad == nil {
		return LoadReport{}, false
	}
	return *s.lastLoad, true
}
