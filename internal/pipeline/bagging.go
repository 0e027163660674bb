package pipeline

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// binner maps values in [min, max] onto n equal-width bins.
type binner struct {
	min, width float64
	n          int
}

func newBinner(values []float64, n int) binner {
	lo, hi := floats.Min(values), floats.Max(values)
	return binner{min: lo, width: (hi - lo) / float64(n), n: n}
}

// bin returns the bin of v. The maximum falls into the last bin and a
// degenerate range puts everything in bin 0.
func (b binner) bin(v float64) int {
	if b.width == 0 {
		return 0
	}
	i := int((v - b.min) / b.width)
	if i >= b.n {
		i = b.n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// Bag reduces agg to the centroids of the non-empty cells of a gridX by
// gridY grid over density (x) and flow (y). Each cell is weighted by its
// share of the observations. Cells are returned ordered by x bin then y bin.
func Bag(agg traffic.AggregateDataset, gridX, gridY int) (traffic.BaggedDataset, error) {
	if err := traffic.ValidateGrid(gridX, gridY); err != nil {
		return traffic.BaggedDataset{}, err
	}
	if agg.Len() == 0 {
		return traffic.BaggedDataset{}, fmt.Errorf("%w: no aggregate observations to bag", traffic.ErrEmptyDataset)
	}

	density, flow := agg.Density(), agg.Flow()
	bx, by := newBinner(density, gridX), newBinner(flow, gridY)

	type cellKey struct{ x, y int }
	members := make(map[cellKey][]int)
	for i := range density {
		k := cellKey{bx.bin(density[i]), by.bin(flow[i])}
		members[k] = append(members[k], i)
	}

	keys := make([]cellKey, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].x != keys[j].x {
			return keys[i].x < keys[j].x
		}
		return keys[i].y < keys[j].y
	})

	total := len(density)
	out := traffic.BaggedDataset{GridX: gridX, GridY: gridY, Total: total, Cells: make([]traffic.GridCell, 0, len(keys))}
	var xs, ys []float64
	for _, k := range keys {
		idx := members[k]
		xs, ys = xs[:0], ys[:0]
		for _, i := range idx {
			xs = append(xs, density[i])
			ys = append(ys, flow[i])
		}
		out.Cells = append(out.Cells, traffic.GridCell{
			X:               k.x,
			Y:               k.y,
			Members:         idx,
			CentroidDensity: stat.Mean(xs, nil),
			CentroidFlow:    stat.Mean(ys, nil),
			Weight:          float64(len(idx)) / float64(total),
		})
	}
	return out, nil
}
