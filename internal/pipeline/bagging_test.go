package pipeline

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

func aggOf(density, flow []float64) traffic.AggregateDataset {
	obs := make([]traffic.AggregateObservation, len(density))
	for i := range density {
		obs[i] = traffic.AggregateObservation{Bucket: i, Density: density[i], Flow: flow[i]}
	}
	return traffic.AggregateDataset{Observations: obs}
}

func TestBag_Cells(t *testing.T) {
	agg := aggOf([]float64{0, 1, 2, 10}, []float64{0, 0, 100, 100})

	bag, err := Bag(agg, 2, 2)
	require.NoError(t, err)

	want := []traffic.GridCell{
		{X: 0, Y: 0, Members: []int{0, 1}, CentroidDensity: 0.5, CentroidFlow: 0, Weight: 0.5},
		{X: 0, Y: 1, Members: []int{2}, CentroidDensity: 2, CentroidFlow: 100, Weight: 0.25},
		{X: 1, Y: 1, Members: []int{3}, CentroidDensity: 10, CentroidFlow: 100, Weight: 0.25},
	}
	if diff := cmp.Diff(want, bag.Cells); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, bag.Total)
	assert.Equal(t, 2, bag.GridX)
}

func TestBag_SingleCell(t *testing.T) {
	agg := aggOf([]float64{1, 2, 3}, []float64{10, 20, 60})
	bag, err := Bag(agg, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, bag.Len())
	assert.InDelta(t, 2, bag.Cells[0].CentroidDensity, 1e-12)
	assert.InDelta(t, 30, bag.Cells[0].CentroidFlow, 1e-12)
	assert.Equal(t, 1.0, bag.Cells[0].Weight)
}

func TestBag_DegenerateAxis(t *testing.T) {
	agg := aggOf([]float64{5, 5, 5}, []float64{0, 50, 100})
	bag, err := Bag(agg, 70, 2)
	require.NoError(t, err)
	require.Equal(t, 2, bag.Len())
	for _, c := range bag.Cells {
		assert.Equal(t, 0, c.X)
	}
	assert.Equal(t, []int{0}, bag.Cells[0].Members)
	assert.Equal(t, []int{1, 2}, bag.Cells[1].Members, "the maximum falls into the last bin")
}

func TestBag_WeightsAndDeterminism(t *testing.T) {
	r := newFakeRetriever()
	r.days[day1] = syntheticDay(day1)
	r.days[day2] = syntheticDay(day2)
	loader := NewLoader(r, nil, nil)

	raw, _, err := loader.Load(t.Context(), loadParams(day1, day2))
	require.NoError(t, err)
	agg, err := Aggregate(raw, 5*time.Minute)
	require.NoError(t, err)

	bag, err := Bag(agg, 70, 400)
	require.NoError(t, err)
	require.NotZero(t, bag.Len())
	assert.LessOrEqual(t, bag.Len(), 70*400)
	assert.LessOrEqual(t, bag.Len(), agg.Len())
	assert.InDelta(t, 1.0, floats.Sum(bag.Weight()), 1e-9)

	members := 0
	for i, c := range bag.Cells {
		assert.Greater(t, c.Weight, 0.0)
		members += len(c.Members)
		if i > 0 {
			prev := bag.Cells[i-1]
			assert.True(t, prev.X < c.X || (prev.X == c.X && prev.Y < c.Y), "cells out of order at %d", i)
		}
	}
	assert.Equal(t, agg.Len(), members)

	again, err := Bag(agg, 70, 400)
	require.NoError(t, err)
	if diff := cmp.Diff(bag, again); diff != "" {
		t.Errorf("bagging is not deterministic (-first +second):\n%s", diff)
	}
}

func TestBag_Errors(t *testing.T) {
	_, err := Bag(traffic.AggregateDataset{}, 70, 400)
	assert.ErrorIs(t, err, traffic.ErrEmptyDataset)

	_, err = Bag(aggOf([]float64{1}, []float64{1}), 0, 400)
	assert.ErrorIs(t, err, traffic.ErrParameterInvalid)
}
