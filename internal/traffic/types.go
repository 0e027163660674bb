// Package traffic holds the data model shared by the retrieval, aggregation,
// bagging and regression stages.
package traffic

import (
	"fmt"
	"time"
)

// Direction is the travel direction reported by a TMS, either 1 or 2.
type Direction int

const (
	DirectionOne Direction = 1
	DirectionTwo Direction = 2
)

// Valid reports whether d is a direction a TMS can report.
func (d Direction) Valid() bool {
	return d == DirectionOne || d == DirectionTwo
}

// VehicleClass is the Fintraffic vehicle classification code.
type VehicleClass int

// Fintraffic class codes that are counted. Everything else is uncounted.
const (
	ClassCar            VehicleClass = 1
	ClassTruckNoTrailer VehicleClass = 2
	ClassBus            VehicleClass = 3
	ClassSemiTrailer    VehicleClass = 4
	ClassFullTrailer    VehicleClass = 5
	ClassCarTrailer     VehicleClass = 6
	ClassCarCaravan     VehicleClass = 7
)

func (c VehicleClass) IsCar() bool { return c == ClassCar }

func (c VehicleClass) IsBus() bool { return c == ClassBus }

func (c VehicleClass) IsTruck() bool {
	switch c {
	case ClassTruckNoTrailer, ClassSemiTrailer, ClassFullTrailer, ClassCarTrailer, ClassCarCaravan:
		return true
	}
	return false
}

// Counted reports whether the class contributes to flow.
func (c VehicleClass) Counted() bool {
	return c.IsCar() || c.IsBus() || c.IsTruck()
}

// DayRef identifies one calendar day by year and ordinal day (1 = January 1st).
type DayRef struct {
	Year int `json:"year"`
	Day  int `json:"day"`
}

func (d DayRef) String() string {
	return fmt.Sprintf("%d/%03d", d.Year, d.Day)
}

// Date returns the calendar date of the day at midnight UTC.
func (d DayRef) Date() time.Time {
	return time.Date(d.Year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d.Day-1)
}

// DayOf converts a calendar date into a DayRef.
func DayOf(t time.Time) DayRef {
	return DayRef{Year: t.Year(), Day: t.YearDay()}
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay() == 366 {
		return 366
	}
	return 365
}

// RawRecord is one vehicle detection.
type RawRecord struct {
	StationID int
	Date      time.Time
	// TimeOfDay is hundredths of a second since midnight.
	TimeOfDay int64
	Direction Direction
	Class     VehicleClass
	Lane      int
	LengthM   float64
	SpeedKmh  float64
	Faulty    bool
}

func (r RawRecord) IsCar() bool   { return r.Class.IsCar() }
func (r RawRecord) IsBus() bool   { return r.Class.IsBus() }
func (r RawRecord) IsTruck() bool { return r.Class.IsTruck() }

// RawDataset is the ordered set of detections for one station, one direction
// and one hour window, possibly spanning several days.
type RawDataset struct {
	StationID      int
	Direction      Direction
	Window         HourWindow
	DeleteIfFaulty bool
	Records        []RawRecord
}

// Len returns the number of records.
func (ds RawDataset) Len() int { return len(ds.Records) }

// Days returns the distinct dates present, in first-seen order.
func (ds RawDataset) Days() []time.Time {
	seen := make(map[time.Time]bool)
	var days []time.Time
	for _, r := range ds.Records {
		if !seen[r.Date] {
			seen[r.Date] = true
			days = append(days, r.Date)
		}
	}
	return days
}

// AggregateObservation is the traffic state of one time bucket on one day.
type AggregateObservation struct {
	Date   time.Time `json:"date"`
	Bucket int       `json:"bucket"`
	// Start is the bucket start in hundredths of a second since midnight.
	Start    int64   `json:"start"`
	Count    int     `json:"count"`
	Cars     int     `json:"cars"`
	Buses    int     `json:"buses"`
	Trucks   int     `json:"trucks"`
	SpeedKmh float64 `json:"speed_kmh"`
	Flow     float64 `json:"flow"`
	Density  float64 `json:"density"`
}

// AggregateDataset is ordered by date then bucket.
type AggregateDataset struct {
	StationID    int
	Direction    Direction
	Window       HourWindow
	Period       time.Duration
	Observations []AggregateObservation
}

func (ds AggregateDataset) Len() int { return len(ds.Observations) }

// Flow returns the flow column.
func (ds AggregateDataset) Flow() []float64 {
	out := make([]float64, len(ds.Observations))
	for i, o := range ds.Observations {
		out[i] = o.Flow
	}
	return out
}

// Density returns the density column.
func (ds AggregateDataset) Density() []float64 {
	out := make([]float64, len(ds.Observations))
	for i, o := range ds.Observations {
		out[i] = o.Density
	}
	return out
}

// GridCell is one non-empty cell of the bagging grid.
type GridCell struct {
	X, Y            int
	Members         []int
	CentroidDensity float64
	CentroidFlow    float64
	Weight          float64
}

// BaggedDataset is the weighted grid representation of an AggregateDataset.
// Cells are ordered by X then Y.
type BaggedDataset struct {
	GridX, GridY int
	Total        int
	Cells        []GridCell
}

func (b BaggedDataset) Len() int { return len(b.Cells) }

func (b BaggedDataset) CentroidDensity() []float64 {
	out := make([]float64, len(b.Cells))
	for i, c := range b.Cells {
		out[i] = c.CentroidDensity
	}
	return out
}

func (b BaggedDataset) CentroidFlow() []float64 {
	out := make([]float64, len(b.Cells))
	for i, c := range b.Cells {
		out[i] = c.CentroidFlow
	}
	return out
}

func (b BaggedDataset) Weight() []float64 {
	out := make([]float64, len(b.Cells))
	for i, c := range b.Cells {
		out[i] = c.Weight
	}
	return out
}

// FittedModel is one quantile-regression result. Its fields are unexported so
// it cannot change after the orchestrator builds it.
type FittedModel struct {
	tau      float64
	x        []float64
	frontier []float64
	duration time.Duration
}

// NewFittedModel copies x and frontier into a new model.
func NewFittedModel(tau float64, x, frontier []float64, duration time.Duration) FittedModel {
	return FittedModel{
		tau:      tau,
		x:        append([]float64(nil), x...),
		frontier: append([]float64(nil), frontier...),
		duration: duration,
	}
}

func (m FittedModel) Tau() float64            { return m.tau }
func (m FittedModel) Duration() time.Duration { return m.duration }
func (m FittedModel) Len() int                { return len(m.frontier) }

// X returns the predictor values the frontier is aligned with.
func (m FittedModel) X() []float64 { return append([]float64(nil), m.x...) }

// Frontier returns the fitted flow at each X.
func (m FittedModel) Frontier() []float64 { return append([]float64(nil), m.frontier...) }
