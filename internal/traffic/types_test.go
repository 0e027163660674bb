package traffic

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestVehicleClass(t *testing.T) {
	tests := []struct {
		class                      VehicleClass
		car, bus, truck, isCounted bool
	}{
		{ClassCar, true, false, false, true},
		{ClassTruckNoTrailer, false, false, true, true},
		{ClassBus, false, true, false, true},
		{ClassSemiTrailer, false, false, true, true},
		{ClassFullTrailer, false, false, true, true},
		{ClassCarTrailer, false, false, true, true},
		{ClassCarCaravan, false, false, true, true},
		{VehicleClass(0), false, false, false, false},
		{VehicleClass(8), false, false, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.car, tt.class.IsCar(), "IsCar(%d)", tt.class)
		assert.Equal(t, tt.bus, tt.class.IsBus(), "IsBus(%d)", tt.class)
		assert.Equal(t, tt.truck, tt.class.IsTruck(), "IsTruck(%d)", tt.class)
		assert.Equal(t, tt.isCounted, tt.class.Counted(), "Counted(%d)", tt.class)
	}
}

func TestDayRef(t *testing.T) {
	d := DayRef{Year: 2020, Day: 60}
	assert.Equal(t, time.Date(2020, time.February, 29, 0, 0, 0, 0, time.UTC), d.Date())
	assert.Equal(t, "2020/060", d.String())
	assert.Equal(t, d, DayOf(d.Date()))

	assert.Equal(t, DayRef{Year: 2021, Day: 365}, DayOf(time.Date(2021, time.December, 31, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, 366, DaysInYear(2020))
	assert.Equal(t, 365, DaysInYear(2021))
	assert.Equal(t, 365, DaysInYear(1900))
	assert.Equal(t, 366, DaysInYear(2000))
}

func TestRawDatasetDays(t *testing.T) {
	d1 := DayRef{Year: 2021, Day: 2}.Date()
	d2 := DayRef{Year: 2021, Day: 1}.Date()
	ds := RawDataset{Records: []RawRecord{{Date: d1}, {Date: d1}, {Date: d2}, {Date: d1}}}

	assert.Equal(t, 4, ds.Len())
	if diff := cmp.Diff([]time.Time{d1, d2}, ds.Days()); diff != "" {
		t.Errorf("Days() mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateColumns(t *testing.T) {
	ds := AggregateDataset{Observations: []AggregateObservation{
		{Flow: 1200, Density: 12},
		{Flow: 600, Density: 20},
	}}
	assert.Equal(t, []float64{1200, 600}, ds.Flow())
	assert.Equal(t, []float64{12, 20}, ds.Density())
	assert.Equal(t, 2, ds.Len())
}

func TestBaggedColumns(t *testing.T) {
	b := BaggedDataset{Cells: []GridCell{
		{CentroidDensity: 1, CentroidFlow: 10, Weight: 0.25},
		{CentroidDensity: 2, CentroidFlow: 20, Weight: 0.75},
	}}
	assert.Equal(t, []float64{1, 2}, b.CentroidDensity())
	assert.Equal(t, []float64{10, 20}, b.CentroidFlow())
	assert.Equal(t, []float64{0.25, 0.75}, b.Weight())
}

func TestFittedModelIsImmutable(t *testing.T) {
	x := []float64{1, 2, 3}
	f := []float64{10, 18, 24}
	m := NewFittedModel(0.5, x, f, 3*time.Second)

	x[0], f[0] = 99, 99
	assert.Equal(t, []float64{1, 2, 3}, m.X())
	assert.Equal(t, []float64{10, 18, 24}, m.Frontier())

	got := m.Frontier()
	got[1] = -1
	assert.Equal(t, 18.0, m.Frontier()[1])

	assert.Equal(t, 0.5, m.Tau())
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, 3*time.Second, m.Duration())
}

func TestDayResult(t *testing.T) {
	day := DayRef{Year: 2021, Day: 5}

	r := OK(day, []RawRecord{{StationID: 1}})
	assert.Equal(t, DayOK, r.Status)
	assert.Len(t, r.Records, 1)

	r = OK(day, nil)
	assert.Equal(t, DayEmpty, r.Status)
	assert.Nil(t, r.Records)
	assert.Equal(t, "empty", r.Status.String())
	assert.Equal(t, "ok", DayOK.String())
}
