package traffic

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/cqrtraffic/internal/units"
)

// FirstDataYear is the first year Fintraffic publishes raw TMS data for.
const FirstDataYear = 1995

// HourWindow is the half-open hour range [From, To).
type HourWindow struct {
	From int `json:"hour_from"`
	To   int `json:"hour_to"`
}

// Validate checks 0 <= From < To <= 24.
func (w HourWindow) Validate() error {
	if w.From < 0 || w.From >= 24 {
		return invalidf("hour_from must satisfy 0 <= hour_from < 24, got %d", w.From)
	}
	if w.To <= 0 || w.To > 24 {
		return invalidf("hour_to must satisfy 0 < hour_to <= 24, got %d", w.To)
	}
	if w.From >= w.To {
		return invalidf("hour_from (%d) must be less than hour_to (%d)", w.From, w.To)
	}
	return nil
}

// Start returns the window start in hundredths of a second since midnight.
func (w HourWindow) Start() int64 { return units.HoursToHundredths(w.From) }

// End returns the exclusive window end in hundredths of a second.
func (w HourWindow) End() int64 { return units.HoursToHundredths(w.To) }

// Length returns the window length.
func (w HourWindow) Length() time.Duration {
	return time.Duration(w.To-w.From) * time.Hour
}

// Contains reports whether a time of day (hundredths) falls inside the window.
func (w HourWindow) Contains(tod int64) bool {
	return tod >= w.Start() && tod < w.End()
}

// ValidateDay checks the year and ordinal day of a DayRef.
func ValidateDay(d DayRef) error {
	if d.Year < FirstDataYear {
		return invalidf("data is available starting from year %d only, got %d", FirstDataYear, d.Year)
	}
	if d.Day < 1 || d.Day > DaysInYear(d.Year) {
		return invalidf("day %d is out of range for year %d (1..%d)", d.Day, d.Year, DaysInYear(d.Year))
	}
	return nil
}

// ValidateDirection checks that d is 1 or 2.
func ValidateDirection(d Direction) error {
	if !d.Valid() {
		return invalidf("direction must be either 1 or 2, got %d", d)
	}
	return nil
}

// LoadParams scopes a multi-day retrieval.
type LoadParams struct {
	StationID      int
	Days           []DayRef
	Direction      Direction
	Window         HourWindow
	DeleteIfFaulty bool
}

// Validate runs every retrieval pre-flight check.
func (p LoadParams) Validate() error {
	if p.StationID <= 0 {
		return invalidf("station id must be positive, got %d", p.StationID)
	}
	if len(p.Days) == 0 {
		return invalidf("at least one day must be requested")
	}
	for _, d := range p.Days {
		if err := ValidateDay(d); err != nil {
			return err
		}
	}
	if err := ValidateDirection(p.Direction); err != nil {
		return err
	}
	return p.Window.Validate()
}

// Admits reports whether a record satisfies the RawDataset invariants for p.
func (p LoadParams) Admits(r RawRecord) bool {
	if r.Direction != p.Direction {
		return false
	}
	if p.DeleteIfFaulty && r.Faulty {
		return false
	}
	return p.Window.Contains(r.TimeOfDay)
}

// ValidatePeriod checks an aggregation period against a window. The period
// must tile the window exactly so every record falls in a whole bucket.
func ValidatePeriod(period time.Duration, w HourWindow) error {
	if period <= 0 {
		return invalidf("aggregation period must be positive, got %s", period)
	}
	ticks, ok := units.DurationToHundredths(period)
	if !ok {
		return invalidf("aggregation period %s is not a whole number of hundredths of a second", period)
	}
	if period > w.Length() {
		return invalidf("aggregation period %s exceeds the %s hour window", period, w.Length())
	}
	if (w.End()-w.Start())%ticks != 0 {
		return invalidf("aggregation period %s does not divide the %s hour window", period, w.Length())
	}
	return nil
}

// ValidateGrid checks bagging grid sizes.
func ValidateGrid(gridX, gridY int) error {
	if gridX < 1 || gridY < 1 {
		return invalidf("grid sizes must be positive, got %dx%d", gridX, gridY)
	}
	return nil
}

// ValidateTaus checks that every quantile level lies in (0, 1).
func ValidateTaus(taus []float64) error {
	if len(taus) == 0 {
		return invalidf("at least one tau must be requested")
	}
	for _, tau := range taus {
		if !(tau > 0 && tau < 1) {
			return invalidf("tau must lie in (0, 1), got %v", tau)
		}
	}
	return nil
}

// ModelParams is the full parameter set of one modelling run.
type ModelParams struct {
	Load   LoadParams
	Period time.Duration
	GridX  int
	GridY  int
	Taus   []float64
	// SaveRaw, when set, is the .gzip file the concatenated raw dataset is
	// written to.
	SaveRaw string
}

// Validate runs every pre-flight check before any I/O happens.
func (p ModelParams) Validate() error {
	if err := p.Load.Validate(); err != nil {
		return err
	}
	if err := ValidatePeriod(p.Period, p.Load.Window); err != nil {
		return err
	}
	if err := ValidateGrid(p.GridX, p.GridY); err != nil {
		return err
	}
	if p.SaveRaw != "" {
		if err := ValidateSaveName(p.SaveRaw); err != nil {
			return err
		}
	}
	return ValidateTaus(p.Taus)
}

// GzipSuffix is the only extension accepted for saved datasets.
const GzipSuffix = ".gzip"

// ValidateSaveName checks that a dataset file name carries the .gzip suffix.
func ValidateSaveName(name string) error {
	if !strings.HasSuffix(strings.ToLower(name), GzipSuffix) {
		return fmt.Errorf("%w: %q must have the %s extension", ErrCachePersist, name, GzipSuffix)
	}
	return nil
}
