package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cqrtraffic/internal/traffic"
	"github.com/banshee-data/cqrtraffic/internal/units"
)

func rawDataset(window traffic.HourWindow, records ...traffic.RawRecord) traffic.RawDataset {
	return traffic.RawDataset{
		StationID: 123,
		Direction: traffic.DirectionOne,
		Window:    window,
		Records:   records,
	}
}

func TestAggregate_Buckets(t *testing.T) {
	w := traffic.HourWindow{From: 6, To: 7}
	ds := rawDataset(w,
		rec(day2, 1, traffic.ClassCar, 100, 6, 0, 0),
		rec(day2, 1, traffic.ClassTruckNoTrailer, 50, 6, 5, 0),
		rec(day2, 1, traffic.ClassBus, 60, 6, 12, 0),
		rec(day2, 1, traffic.VehicleClass(9), 80, 6, 12, 30),
		rec(day2, 1, traffic.ClassCar, 0, 6, 55, 0),
		rec(day1, 1, traffic.ClassCar, 90, 6, 30, 0),
	)

	agg, err := Aggregate(ds, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, agg.Len())
	assert.Equal(t, 10*time.Minute, agg.Period)
	assert.Equal(t, w, agg.Window)

	first := agg.Observations[0]
	assert.Equal(t, day1.Date(), first.Date, "earlier day comes first")
	assert.Equal(t, 3, first.Bucket)
	assert.Equal(t, units.ClockTicks(6, 30, 0, 0), first.Start)
	assert.InDelta(t, 6.0, first.Flow, 1e-9)
	assert.InDelta(t, 90.0, first.SpeedKmh, 1e-9)

	b0 := agg.Observations[1]
	assert.Equal(t, day2.Date(), b0.Date)
	assert.Equal(t, 0, b0.Bucket)
	assert.Equal(t, 2, b0.Count)
	assert.Equal(t, 1, b0.Cars)
	assert.Equal(t, 1, b0.Trucks)
	assert.InDelta(t, 12.0, b0.Flow, 1e-9)
	assert.InDelta(t, 200.0/3, b0.SpeedKmh, 1e-9, "harmonic mean of 100 and 50")
	assert.InDelta(t, 0.18, b0.Density, 1e-9)

	b1 := agg.Observations[2]
	assert.Equal(t, 1, b1.Bucket)
	assert.Equal(t, 1, b1.Buses)
	assert.Equal(t, 1, b1.Count, "uncounted classes do not contribute")
	assert.InDelta(t, 0.1, b1.Density, 1e-9)
}

func TestAggregate_FlowEqualsDensityTimesSpeed(t *testing.T) {
	p := loadParams(day1)
	var records []traffic.RawRecord
	for _, r := range syntheticDay(day1) {
		if p.Admits(r) {
			records = append(records, r)
		}
	}

	agg, err := Aggregate(rawDataset(p.Window, records...), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 14*12, agg.Len())
	for i, o := range agg.Observations {
		assert.InDelta(t, o.Flow, o.Density*o.SpeedKmh, 1e-9, "row %d", i)
		if i > 0 {
			assert.Less(t, agg.Observations[i-1].Bucket, o.Bucket)
		}
	}
}

func TestAggregate_RejectsPeriodNotDividingWindow(t *testing.T) {
	w := traffic.HourWindow{From: 6, To: 7}
	ds := rawDataset(w,
		rec(day1, 1, traffic.ClassCar, 80, 6, 0, 0),
		rec(day1, 1, traffic.ClassCar, 80, 6, 59, 0),
	)

	_, err := Aggregate(ds, 29*time.Minute)
	assert.ErrorIs(t, err, traffic.ErrParameterInvalid)

	agg, err := Aggregate(ds, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, agg.Len())
	assert.Equal(t, 1, agg.Observations[1].Bucket, "the last minute of the window lands in the last bucket")
}

func TestAggregate_SmallerPeriodNeverYieldsFewerBuckets(t *testing.T) {
	p := loadParams(day1, day2)
	var records []traffic.RawRecord
	for _, d := range p.Days {
		for _, r := range syntheticDay(d) {
			if p.Admits(r) {
				records = append(records, r)
			}
		}
	}
	ds := rawDataset(p.Window, records...)

	periods := []time.Duration{30 * time.Minute, 15 * time.Minute, 5 * time.Minute, time.Minute}
	prev := 0
	for _, period := range periods {
		agg, err := Aggregate(ds, period)
		require.NoError(t, err, "period %s", period)
		assert.GreaterOrEqual(t, agg.Len(), prev, "period %s", period)
		assert.Equal(t, 2*int(p.Window.Length()/period), agg.Len(), "dense data fills every bucket at %s", period)
		for _, o := range agg.Observations {
			assert.True(t, p.Window.Contains(o.Start), "bucket start %d outside the window", o.Start)
		}
		prev = agg.Len()
	}
}

func TestAggregate_WholeWindowPeriod(t *testing.T) {
	w := traffic.HourWindow{From: 6, To: 8}
	ds := rawDataset(w, rec(day1, 1, traffic.ClassCar, 80, 7, 59, 59))

	agg, err := Aggregate(ds, 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, agg.Len())
	assert.InDelta(t, 0.5, agg.Observations[0].Flow, 1e-9)
}

func TestAggregate_Errors(t *testing.T) {
	w := traffic.HourWindow{From: 6, To: 7}
	ds := rawDataset(w, rec(day1, 1, traffic.ClassCar, 80, 6, 10, 0))

	for _, period := range []time.Duration{0, -time.Minute, 2 * time.Hour, 5 * time.Millisecond} {
		_, err := Aggregate(ds, period)
		assert.ErrorIs(t, err, traffic.ErrParameterInvalid, "period %s", period)
	}

	_, err := Aggregate(rawDataset(w), time.Minute)
	assert.ErrorIs(t, err, traffic.ErrEmptyDataset)

	onlyStopped := rawDataset(w, rec(day1, 1, traffic.ClassCar, 0, 6, 10, 0))
	_, err = Aggregate(onlyStopped, time.Minute)
	assert.ErrorIs(t, err, traffic.ErrEmptyDataset)
}
