package pipeline

import (
	"context"
	"sync"

	"github.com/banshee-data/cqrtraffic/internal/fintraffic"
	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/solver"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
	"github.com/banshee-data/cqrtraffic/internal/units"
)

func init() {
	monitoring.SetLogger(nil)
}

// fakeRetriever serves canned days. Days without an entry are empty.
type fakeRetriever struct {
	mu    sync.Mutex
	days  map[traffic.DayRef][]traffic.RawRecord
	errs  map[traffic.DayRef]error
	calls []fintraffic.Request
}

func newFakeRetriever() *fakeRetriever {
	return &fakeRetriever{
		days: make(map[traffic.DayRef][]traffic.RawRecord),
		errs: make(map[traffic.DayRef]error),
	}
}

func (f *fakeRetriever) Retrieve(_ context.Context, req fintraffic.Request) (traffic.DayResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err := f.errs[req.Day]; err != nil {
		return traffic.DayResult{}, err
	}
	recs, ok := f.days[req.Day]
	if !ok {
		return traffic.Empty(req.Day), nil
	}
	return traffic.OK(req.Day, recs), nil
}

func (f *fakeRetriever) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeSolver echoes y as the frontier and remembers every problem.
type fakeSolver struct {
	mu       sync.Mutex
	problems []*solver.Problem
	err      error
}

func (f *fakeSolver) Fit(_ context.Context, p *solver.Problem) (solver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.problems = append(f.problems, p)
	if f.err != nil {
		return solver.Result{}, f.err
	}
	return solver.Result{Frontier: append([]float64(nil), p.Y...)}, nil
}

func (f *fakeSolver) taus() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, len(f.problems))
	for i, p := range f.problems {
		out[i] = p.Tau
	}
	return out
}

func rec(day traffic.DayRef, dir traffic.Direction, class traffic.VehicleClass, speed float64, h, m, s int) traffic.RawRecord {
	return traffic.RawRecord{
		StationID: 123,
		Date:      day.Date(),
		TimeOfDay: units.ClockTicks(h, m, s, 0),
		Direction: dir,
		Class:     class,
		Lane:      1,
		LengthM:   4.5,
		SpeedKmh:  speed,
	}
}

// syntheticDay emits a vehicle every 20 seconds from 06:00 to 20:00, thinned
// per five-minute slot so flow varies, plus noise the loader must drop.
func syntheticDay(day traffic.DayRef) []traffic.RawRecord {
	var out []traffic.RawRecord
	for sec := 6 * 3600; sec < 20*3600; sec += 20 {
		slot := (sec - 6*3600) / 300
		if (sec/20)%(1+slot%3) != 0 {
			continue
		}
		class := traffic.ClassCar
		switch {
		case sec%600 == 0:
			class = traffic.ClassSemiTrailer
		case sec%900 == 0:
			class = traffic.ClassBus
		}
		speed := 50 + float64(slot%30) + float64(day.Day)
		out = append(out, rec(day, traffic.DirectionOne, class, speed, sec/3600, (sec/60)%60, sec%60))
	}

	noise := []traffic.RawRecord{
		rec(day, traffic.DirectionTwo, traffic.ClassCar, 80, 8, 0, 0),
		rec(day, traffic.DirectionOne, traffic.ClassCar, 80, 5, 59, 59),
		rec(day, traffic.DirectionOne, traffic.ClassCar, 80, 20, 0, 0),
	}
	faulty := rec(day, traffic.DirectionOne, traffic.ClassCar, 80, 9, 0, 1)
	faulty.Faulty = true
	return append(append(out, noise...), faulty)
}

func loadParams(days ...traffic.DayRef) traffic.LoadParams {
	return traffic.LoadParams{
		StationID:      123,
		Days:           days,
		Direction:      traffic.DirectionOne,
		Window:         traffic.HourWindow{From: 6, To: 20},
		DeleteIfFaulty: true,
	}
}

var (
	day1 = traffic.DayRef{Year: 2021, Day: 1}
	day2 = traffic.DayRef{Year: 2021, Day: 2}
	day3 = traffic.DayRef{Year: 2021, Day: 3}
)
