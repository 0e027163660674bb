package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors a pipeline run reports into. Each instance
// owns its registry so tests and multiple stations do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	// DaysRequested counts retrieval outcomes per day, labelled by status.
	DaysRequested *prometheus.CounterVec
	// RecordsLoaded counts raw records accepted by the loader.
	RecordsLoaded prometheus.Counter
	// FitDurationSeconds observes solver wall-clock time per tau.
	FitDurationSeconds *prometheus.HistogramVec
	// BaggedCells reports the number of cells in the latest bagged dataset.
	BaggedCells prometheus.Gauge
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		DaysRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cqrtraffic_days_requested_total",
			Help: "Days requested from the retrieval adapter, by outcome",
		}, []string{"status"}),
		RecordsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cqrtraffic_raw_records_loaded_total",
			Help: "Raw vehicle records accepted by the multi-day loader",
		}),
		FitDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cqrtraffic_fit_duration_seconds",
			Help:    "Wall-clock time of one quantile fit (in seconds)",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"tau"}),
		BaggedCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cqrtraffic_bagged_cells",
			Help: "Non-empty grid cells in the latest bagged dataset",
		}),
	}
	m.Registry.MustRegister(m.DaysRequested, m.RecordsLoaded, m.FitDurationSeconds, m.BaggedCells)
	return m
}

// TauLabel formats a quantile level as a label value.
func TauLabel(tau float64) string {
	return strconv.FormatFloat(tau, 'g', -1, 64)
}
