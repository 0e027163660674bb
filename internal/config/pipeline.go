package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig is the run configuration of a station model. Every field is
// optional; the Get* methods supply defaults for the ones left out.
type PipelineConfig struct {
	// Retrieval scope
	StationID      *int     `json:"station_id,omitempty"`
	Days           [][2]int `json:"days,omitempty"` // [[year, day], ...]
	Direction      *int     `json:"direction,omitempty"`
	HourFrom       *int     `json:"hour_from,omitempty"`
	HourTo         *int     `json:"hour_to,omitempty"`
	DeleteIfFaulty *bool    `json:"delete_if_faulty,omitempty"`

	// Reduction and fitting
	AggregationPeriod *string   `json:"aggregation_period,omitempty"` // duration string like "5m"
	GridX             *int      `json:"grid_x,omitempty"`
	GridY             *int      `json:"grid_y,omitempty"`
	Taus              []float64 `json:"taus,omitempty"`
	Parallelism       *int      `json:"parallelism,omitempty"`
	Solver            *string   `json:"solver,omitempty"` // "interior" or "simplex"
	SolverMaxPoints   *int      `json:"solver_max_points,omitempty"`

	// Retrieval transport
	URLTemplate *string `json:"url_template,omitempty"`
	HTTPTimeout *string `json:"http_timeout,omitempty"` // duration string like "30s"

	// Persistence
	CacheDB     *string `json:"cache_db,omitempty"` // empty string disables the day cache
	CacheDir    *string `json:"cache_dir,omitempty"`
	EmptyDayTTL *string `json:"empty_day_ttl,omitempty"` // duration string; "0s" never reuses empty days

	// API server
	ListenAddr *string `json:"listen_addr,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyPipelineConfig returns a PipelineConfig with every field unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every default written out.
func DefaultPipelineConfig() *PipelineConfig {
	empty := EmptyPipelineConfig()
	return &PipelineConfig{
		Direction:         ptrInt(int(empty.GetDirection())),
		HourFrom:          ptrInt(empty.GetHourWindow().From),
		HourTo:            ptrInt(empty.GetHourWindow().To),
		DeleteIfFaulty:    ptrBool(empty.GetDeleteIfFaulty()),
		AggregationPeriod: ptrString(empty.GetAggregationPeriod().String()),
		GridX:             ptrInt(empty.GetGridX()),
		GridY:             ptrInt(empty.GetGridY()),
		Taus:              empty.GetTaus(),
		Parallelism:       ptrInt(empty.GetParallelism()),
		Solver:            ptrString(empty.GetSolver()),
		SolverMaxPoints:   ptrInt(empty.GetSolverMaxPoints()),
		URLTemplate:       ptrString(empty.GetURLTemplate()),
		HTTPTimeout:       ptrString(empty.GetHTTPTimeout().String()),
		CacheDB:           ptrString(empty.GetCacheDB()),
		CacheDir:          ptrString(empty.GetCacheDir()),
		EmptyDayTTL:       ptrString(empty.GetEmptyDayTTL().String()),
		ListenAddr:        ptrString(empty.GetListenAddr()),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. The file must
// have a .json extension and be at most 1MB. Omitted fields keep their
// defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory or
// one of its parents. It panics on failure and is meant for tests.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the fields that are set.
func (c *PipelineConfig) Validate() error {
	if c.StationID != nil && *c.StationID <= 0 {
		return fmt.Errorf("station_id must be positive, got %d", *c.StationID)
	}
	for _, d := range c.Days {
		if err := traffic.ValidateDay(traffic.DayRef{Year: d[0], Day: d[1]}); err != nil {
			return fmt.Errorf("days: %w", err)
		}
	}
	if c.Direction != nil {
		if err := traffic.ValidateDirection(traffic.Direction(*c.Direction)); err != nil {
			return err
		}
	}
	w := c.GetHourWindow()
	if err := w.Validate(); err != nil {
		return err
	}

	if c.AggregationPeriod != nil && *c.AggregationPeriod != "" {
		d, err := time.ParseDuration(*c.AggregationPeriod)
		if err != nil {
			return fmt.Errorf("invalid aggregation_period '%s': %w", *c.AggregationPeriod, err)
		}
		if err := traffic.ValidatePeriod(d, w); err != nil {
			return err
		}
	}
	if err := traffic.ValidateGrid(c.GetGridX(), c.GetGridY()); err != nil {
		return err
	}
	if c.Taus != nil {
		if err := traffic.ValidateTaus(c.Taus); err != nil {
			return err
		}
	}
	if c.Parallelism != nil && *c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", *c.Parallelism)
	}
	if c.Solver != nil && *c.Solver != "" && *c.Solver != SolverInterior && *c.Solver != SolverSimplex {
		return fmt.Errorf("solver must be %q or %q, got %q", SolverInterior, SolverSimplex, *c.Solver)
	}
	if c.SolverMaxPoints != nil && *c.SolverMaxPoints < 1 {
		return fmt.Errorf("solver_max_points must be at least 1, got %d", *c.SolverMaxPoints)
	}
	if c.HTTPTimeout != nil && *c.HTTPTimeout != "" {
		if _, err := time.ParseDuration(*c.HTTPTimeout); err != nil {
			return fmt.Errorf("invalid http_timeout '%s': %w", *c.HTTPTimeout, err)
		}
	}
	if c.EmptyDayTTL != nil && *c.EmptyDayTTL != "" {
		d, err := time.ParseDuration(*c.EmptyDayTTL)
		if err != nil {
			return fmt.Errorf("invalid empty_day_ttl '%s': %w", *c.EmptyDayTTL, err)
		}
		if d < 0 {
			return fmt.Errorf("empty_day_ttl must not be negative, got %s", d)
		}
	}
	return nil
}

// GetStationID returns the station id, or 0 when unset.
func (c *PipelineConfig) GetStationID() int {
	if c.StationID == nil {
		return 0
	}
	return *c.StationID
}

// GetDays returns the configured days in order.
func (c *PipelineConfig) GetDays() []traffic.DayRef {
	out := make([]traffic.DayRef, len(c.Days))
	for i, d := range c.Days {
		out[i] = traffic.DayRef{Year: d[0], Day: d[1]}
	}
	return out
}

// GetDirection returns the direction or the default.
func (c *PipelineConfig) GetDirection() traffic.Direction {
	if c.Direction == nil {
		return traffic.DirectionOne // default
	}
	return traffic.Direction(*c.Direction)
}

// GetHourWindow returns the hour window, defaulting to 6-20.
func (c *PipelineConfig) GetHourWindow() traffic.HourWindow {
	w := traffic.HourWindow{From: 6, To: 20}
	if c.HourFrom != nil {
		w.From = *c.HourFrom
	}
	if c.HourTo != nil {
		w.To = *c.HourTo
	}
	return w
}

// GetDeleteIfFaulty returns the delete_if_faulty value or the default.
func (c *PipelineConfig) GetDeleteIfFaulty() bool {
	if c.DeleteIfFaulty == nil {
		return true // default
	}
	return *c.DeleteIfFaulty
}

// GetAggregationPeriod parses and returns the aggregation period.
func (c *PipelineConfig) GetAggregationPeriod() time.Duration {
	if c.AggregationPeriod == nil || *c.AggregationPeriod == "" {
		return 5 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.AggregationPeriod)
	if err != nil {
		return 5 * time.Minute // default on parse error
	}
	return d
}

// GetGridX returns the density grid size or the default.
func (c *PipelineConfig) GetGridX() int {
	if c.GridX == nil {
		return 70 // default
	}
	return *c.GridX
}

// GetGridY returns the flow grid size or the default.
func (c *PipelineConfig) GetGridY() int {
	if c.GridY == nil {
		return 400 // default
	}
	return *c.GridY
}

// GetTaus returns the quantile levels or the default [0.5].
func (c *PipelineConfig) GetTaus() []float64 {
	if len(c.Taus) == 0 {
		return []float64{0.5}
	}
	return append([]float64(nil), c.Taus...)
}

// GetParallelism returns the number of concurrent fits.
func (c *PipelineConfig) GetParallelism() int {
	if c.Parallelism == nil {
		return 1 // default
	}
	return *c.Parallelism
}

// Solver names accepted by the solver field.
const (
	SolverInterior = "interior"
	SolverSimplex  = "simplex"
)

// GetSolver returns the solver name or the default.
func (c *PipelineConfig) GetSolver() string {
	if c.Solver == nil || *c.Solver == "" {
		return SolverInterior // default
	}
	return *c.Solver
}

// GetSolverMaxPoints returns the solver size limit. The default admits one
// point per cell of the default 70x400 grid.
func (c *PipelineConfig) GetSolverMaxPoints() int {
	if c.SolverMaxPoints == nil {
		return 70 * 400 // default
	}
	return *c.SolverMaxPoints
}

// GetURLTemplate returns the raw report URL template.
func (c *PipelineConfig) GetURLTemplate() string {
	if c.URLTemplate == nil || *c.URLTemplate == "" {
		return "https://tie.digitraffic.fi/api/tms/v1/history/raw/lamraw_{tms}_{yy}_{dd}.csv"
	}
	return *c.URLTemplate
}

// GetHTTPTimeout parses and returns the HTTP client timeout.
func (c *PipelineConfig) GetHTTPTimeout() time.Duration {
	if c.HTTPTimeout == nil || *c.HTTPTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.HTTPTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetCacheDB returns the cache database path. An explicit empty string
// disables the cache.
func (c *PipelineConfig) GetCacheDB() string {
	if c.CacheDB == nil {
		return "cqrtraffic.db" // default
	}
	return *c.CacheDB
}

// GetCacheDir returns the directory saved datasets may be written to.
func (c *PipelineConfig) GetCacheDir() string {
	if c.CacheDir == nil {
		return "data" // default
	}
	return *c.CacheDir
}

// GetEmptyDayTTL returns how long cached empty days are reused.
func (c *PipelineConfig) GetEmptyDayTTL() time.Duration {
	if c.EmptyDayTTL == nil || *c.EmptyDayTTL == "" {
		return 24 * time.Hour // default
	}
	d, err := time.ParseDuration(*c.EmptyDayTTL)
	if err != nil {
		return 24 * time.Hour // default on parse error
	}
	return d
}

// GetListenAddr returns the API server listen address.
func (c *PipelineConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080" // default
	}
	return *c.ListenAddr
}

// LoadParams assembles the retrieval scope.
func (c *PipelineConfig) LoadParams() traffic.LoadParams {
	return traffic.LoadParams{
		StationID:      c.GetStationID(),
		Days:           c.GetDays(),
		Direction:      c.GetDirection(),
		Window:         c.GetHourWindow(),
		DeleteIfFaulty: c.GetDeleteIfFaulty(),
	}
}
