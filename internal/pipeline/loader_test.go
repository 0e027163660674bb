package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cqrtraffic/internal/monitoring"
	"github.com/banshee-data/cqrtraffic/internal/timeutil"
	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

func TestLoader_ConcatenatesInDayOrder(t *testing.T) {
	r := newFakeRetriever()
	r.days[day1] = syntheticDay(day1)
	r.days[day3] = syntheticDay(day3)

	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	clock.AutoAdvance(time.Second)
	metrics := monitoring.NewMetrics()

	ds, report, err := NewLoader(r, clock, metrics).Load(context.Background(), loadParams(day3, day2, day1))
	require.NoError(t, err)

	perDay := len(syntheticDay(day1)) - 4
	assert.Equal(t, 2*perDay, ds.Len())
	assert.Equal(t, []time.Time{day3.Date(), day1.Date()}, ds.Days())
	assert.Equal(t, traffic.HourWindow{From: 6, To: 20}, ds.Window)

	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, []DayOutcome{
		{Day: day3, Status: traffic.DayOK, Records: perDay},
		{Day: day2, Status: traffic.DayEmpty},
		{Day: day1, Status: traffic.DayOK, Records: perDay},
	}, report.Days)
	assert.Equal(t, time.Second, report.Elapsed)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DaysRequested.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DaysRequested.WithLabelValues("empty")))
	assert.Equal(t, float64(2*perDay), testutil.ToFloat64(metrics.RecordsLoaded))

	// Per-day record order is preserved
	for i := 1; i < perDay; i++ {
		assert.LessOrEqual(t, ds.Records[i-1].TimeOfDay, ds.Records[i].TimeOfDay)
	}
}

func TestLoader_ReappliesInvariants(t *testing.T) {
	r := newFakeRetriever()
	r.days[day1] = syntheticDay(day1)

	p := loadParams(day1)
	ds, _, err := NewLoader(r, nil, nil).Load(context.Background(), p)
	require.NoError(t, err)
	for _, rec := range ds.Records {
		assert.True(t, p.Admits(rec), "record %+v violates the dataset invariants", rec)
	}
}

func TestLoader_AllEmpty(t *testing.T) {
	r := newFakeRetriever()
	_, report, err := NewLoader(r, nil, nil).Load(context.Background(), loadParams(day1, day2))
	assert.ErrorIs(t, err, traffic.ErrLoadExhausted)
	assert.Equal(t, 0, report.Loaded)
	assert.Equal(t, 2, report.Requested)
	assert.Equal(t, 2, r.callCount())
}

func TestLoader_FilteredToNothingIsEmpty(t *testing.T) {
	r := newFakeRetriever()
	r.days[day1] = []traffic.RawRecord{rec(day1, traffic.DirectionTwo, traffic.ClassCar, 80, 8, 0, 0)}
	_, _, err := NewLoader(r, nil, nil).Load(context.Background(), loadParams(day1))
	assert.ErrorIs(t, err, traffic.ErrLoadExhausted)
}

func TestLoader_TransportErrorIsFatal(t *testing.T) {
	r := newFakeRetriever()
	r.days[day1] = syntheticDay(day1)
	boom := errors.New("connection reset")
	r.errs[day2] = boom
	r.days[day3] = syntheticDay(day3)

	_, _, err := NewLoader(r, nil, nil).Load(context.Background(), loadParams(day1, day2, day3))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, traffic.ErrLoadExhausted)
	assert.Equal(t, 2, r.callCount(), "loading stops at the failing day")
}

func TestLoader_ValidatesBeforeIO(t *testing.T) {
	r := newFakeRetriever()
	p := loadParams(day1)
	p.Window = traffic.HourWindow{From: 20, To: 6}

	_, _, err := NewLoader(r, nil, nil).Load(context.Background(), p)
	assert.ErrorIs(t, err, traffic.ErrParameterInvalid)
	assert.Equal(t, 0, r.callCount())
}

func TestLoader_Cancelled(t *testing.T) {
	r := newFakeRetriever()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewLoader(r, nil, nil).Load(ctx, loadParams(day1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.callCount())
}
