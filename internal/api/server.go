// Package api serves a modelled station over HTTP: the cached point
// representations, the fitted frontiers, the run history and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/cqrtraffic/internal/cache"
	"github.com/banshee-data/cqrtraffic/internal/httputil"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/pipeline"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// RunStore lists recorded runs. *cache.Store satisfies it.
type RunStore interface {
	Runs(ctx context.Context, stationID, limit int) ([]cache.RunSummary, error)
	RunModels(ctx context.Context, runID string) ([]traffic.FittedModel, error)
}

type Server struct {
	station  *pipeline.Station
	defaults pipeline.ModelOptions
	runs     RunStore
	metrics  *monitoring.Metrics

	// building is held while a MakeModel request runs.
	building sync.Mutex
}

// NewServer creates a Server. runs and metrics may be nil, in which case the
// matching routes report 404.
func NewServer(station *pipeline.Station, defaults pipeline.ModelOptions, runs RunStore, metrics *monitoring.Metrics) *Server {
	return &Server{
		station:  station,
		defaults: defaults,
		runs:     runs,
		metrics:  metrics,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/station", s.showStation)
	mux.HandleFunc("/api/points", s.showPoints)
	mux.HandleFunc("/api/models", s.showModels)
	mux.HandleFunc("/api/model", s.makeModel)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}/models", s.showRunModels)
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// errorStatus maps pipeline errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, traffic.ErrParameterInvalid):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotReady), errors.Is(err, pipeline.ErrInputChanged):
		return http.StatusConflict
	case errors.Is(err, traffic.ErrLoadExhausted), errors.Is(err, traffic.ErrEmptyDataset):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteJSONError(w, errorStatus(err), err.Error())
}

type stationResponse struct {
	StationID      int                  `json:"station_id"`
	Direction      traffic.Direction    `json:"direction"`
	Window         traffic.HourWindow   `json:"window"`
	DeleteIfFaulty bool                 `json:"delete_if_faulty"`
	Days           []traffic.DayRef     `json:"days"`
	LastLoad       *pipeline.LoadReport `json:"last_load,omitempty"`
	RawRecords     int                  `json:"raw_records"`
	Observations   int                  `json:"observations"`
	Cells          int                  `json:"cells"`
	Models         int                  `json:"models"`
}

func (s *Server) showStation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	p := s.station.LoadParams()
	resp := stationResponse{
		StationID:      p.StationID,
		Direction:      p.Direction,
		Window:         p.Window,
		DeleteIfFaulty: p.DeleteIfFaulty,
		Days:           p.Days,
		Models:         len(s.station.Models()),
	}
	if report, ok := s.station.LastLoad(); ok {
		resp.LastLoad = &report
	}
	if raw, ok := s.station.Raw(); ok {
		resp.RawRecords = raw.Len()
	}
	if agg, ok := s.station.AggregateData(); ok {
		resp.Observations = agg.Len()
	}
	if bag, ok := s.station.BaggedData(); ok {
		resp.Cells = bag.Len()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	name := r.URL.Query().Get("rep")
	if name == "" {
		name = pipeline.RepWeightedBagged.String()
	}
	rep, err := pipeline.ParseRepresentation(name)
	if err != nil {
		writeError(w, err)
		return
	}
	pts, err := s.station.Points(rep)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"representation": rep.String(),
		"points":         pts,
	})
}

type modelResponse struct {
	Tau        float64   `json:"tau"`
	X          []float64 `json:"x"`
	Frontier   []float64 `json:"frontier"`
	DurationMS float64   `json:"duration_ms"`
}

func modelsResponse(models []traffic.FittedModel) []modelResponse {
	out := make([]modelResponse, len(models))
	for i, m := range models {
		out[i] = modelResponse{
			Tau:        m.Tau(),
			X:          m.X(),
			Frontier:   m.Frontier(),
			DurationMS: float64(m.Duration().Nanoseconds()) / 1e6,
		}
	}
	return out
}

func (s *Server) showModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	models := s.station.Models()
	if len(models) == 0 {
		writeError(w, pipeline.ErrNotReady)
		return
	}
	httputil.WriteJSONOK(w, modelsResponse(models))
}

// modelRequest overrides the server defaults for one run. Zero fields keep
// the defaults.
type modelRequest struct {
	Period string    `json:"period"`
	GridX  int       `json:"grid_x"`
	GridY  int       `json:"grid_y"`
	Taus   []float64 `json:"taus"`
}

func (s *Server) makeModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	opts := s.defaults
	if r.ContentLength != 0 {
		var req modelRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			httputil.BadRequest(w, "invalid request body: "+err.Error())
			return
		}
		if req.Period != "" {
			d, err := time.ParseDuration(req.Period)
			if err != nil {
				httputil.BadRequest(w, "invalid period: "+err.Error())
				return
			}
			opts.Period = d
		}
		if req.GridX != 0 {
			opts.GridX = req.GridX
		}
		if req.GridY != 0 {
			opts.GridY = req.GridY
		}
		if len(req.Taus) > 0 {
			opts.Taus = req.Taus
		}
	}
	// Raw saves are a command line concern.
	opts.SaveRaw = ""

	if !s.building.TryLock() {
		httputil.WriteJSONError(w, http.StatusConflict, "a model is already being built")
		return
	}
	defer s.building.Unlock()

	run, err := s.station.MakeModel(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"load":         run.Report,
		"observations": run.Aggregate.Len(),
		"cells":        run.Bagged.Len(),
		"models":       modelsResponse(run.Models),
		"elapsed_ms":   float64(run.Elapsed.Nanoseconds()) / 1e6,
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httputil.NotFound(w, "run history is not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	stationID := s.station.StationID()
	if r.URL.Query().Get("all") == "true" {
		stationID = 0
	}
	runs, err := s.runs.Runs(r.Context(), stationID, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []cache.RunSummary{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showRunModels(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httputil.NotFound(w, "run history is not enabled")
		return
	}
	id := r.PathValue("id")
	models, err := s.runs.RunModels(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(models) == 0 {
		httputil.NotFound(w, "no models recorded for run "+id)
		return
	}
	httputil.WriteJSONOK(w, modelsResponse(models))
}
