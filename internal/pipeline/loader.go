// Package pipeline turns raw TMS detections into weighted grid data and
// quantile frontiers: load, aggregate, bag, fit.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/timeutil"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// DayOutcome records what the loader got for one requested day.
type DayOutcome struct {
	Day     traffic.DayRef    `json:"day"`
	Status  traffic.DayStatus `json:"status"`
	Records int               `json:"records"`
}

// LoadReport summarises a multi-day load. It is returned next to the dataset
// rather than inside it.
type LoadReport struct {
	Requested int           `json:"requested"`
	Loaded    int           `json:"loaded"`
	Days      []DayOutcome  `json:"days"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Loader retrieves and stitches several days of raw records.
type Loader struct {
	retriever fintraffic.Retriever
	clock     timeutil.Clock
	metrics   *monitoring.Metrics
}

// NewLoader creates a Loader. clock and metrics may be nil.
func NewLoader(r fintraffic.Retriever, clock timeutil.Clock, metrics *monitoring.Metrics) *Loader {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loader{retriever: r, clock: clock, metrics: metrics}
}

// Load fetches every day in p.Days in order and concatenates the non-empty
// ones. Empty days are skipped; any other retrieval error aborts the load.
// When no day yields data the error is ErrLoadExhausted.
func (l *Loader) Load(ctx context.Context, p traffic.LoadParams) (traffic.RawDataset, LoadReport, error) {
	report := LoadReport{Requested: len(p.Days)}
	if err := p.Validate(); err != nil {
		return traffic.RawDataset{}, report, err
	}

	start := l.clock.Now()
	ds := traffic.RawDataset{
		StationID:      p.StationID,
		Direction:      p.Direction,
		Window:         p.Window,
		DeleteIfFaulty: p.DeleteIfFaulty,
	}

	for _, day := range p.Days {
		if err := ctx.Err(); err != nil {
			return traffic.RawDataset{}, report, err
		}
		res, err := l.retriever.Retrieve(ctx, fintraffic.Request{
			StationID:      p.StationID,
			Day:            day,
			Direction:      p.Direction,
			Window:         p.Window,
			DeleteIfFaulty: p.DeleteIfFaulty,
		})
		if err != nil {
			return traffic.RawDataset{}, report, fmt.Errorf("day %s: %w", day, err)
		}

		outcome := DayOutcome{Day: day, Status: res.Status}
		if res.Status == traffic.DayOK {
			for _, rec := range res.Records {
				if p.Admits(rec) {
					ds.Records = append(ds.Records, rec)
					outcome.Records++
				}
			}
		}
		if outcome.Records == 0 {
			outcome.Status = traffic.DayEmpty
			monitoring.Logf("Skipping day %d of year %d for TMS %d: no data", day.Day, day.Year, p.StationID)
		} else {
			report.Loaded++
		}
		report.Days = append(report.Days, outcome)
		l.count(outcome)
	}

	report.Elapsed = l.clock.Since(start)
	if report.Loaded == 0 {
		return traffic.RawDataset{}, report, fmt.Errorf("%w: station %d, %d days requested",
			traffic.ErrLoadExhausted, p.StationID, report.Requested)
	}

	monitoring.Logf("Loading successful: %d out of %d files loaded in %.4f seconds",
		report.Loaded, report.Requested, monitoring.Seconds(report.Elapsed))
	return ds, report, nil
}

func (l *Loader) count(o DayOutcome) {
	if l.metrics == nil {
		return
	}
	l.metrics.DaysRequested.WithLabelValues(o.Status.String()).Inc()
	l.metrics.RecordsLoaded.Add(float64(o.Records))
}
