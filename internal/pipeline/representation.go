package pipeline

import (
	"fmt"

	"github.com/banshee-data/cqrtraffic/internal/traffic"
)

// Representation selects which cached dataset a caller wants to draw.
type Representation int

const (
	RepAggregate Representation = iota + 1
	RepBagged
	RepWeightedBagged
)

var representationNames = map[Representation]string{
	RepAggregate:      "agg",
	RepBagged:         "bag",
	RepWeightedBagged: "bag_w",
}

func (r Representation) String() string {
	if s, ok := representationNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Representation(%d)", int(r))
}

// ParseRepresentation accepts the names agg, bag and bag_w.
func ParseRepresentation(s string) (Representation, error) {
	for r, name := range representationNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: representation %q does not exist", traffic.ErrParameterInvalid, s)
}

// Points is one of AggregatePoints, BaggedPoints or WeightedBaggedPoints.
type Points interface {
	Representation() Representation
	points()
}

// AggregatePoints is the aggregated density/flow scatter.
type AggregatePoints struct {
	Density []float64 `json:"density"`
	Flow    []float64 `json:"flow"`
}

// BaggedPoints is the unweighted centroid scatter.
type BaggedPoints struct {
	Density []float64 `json:"density"`
	Flow    []float64 `json:"flow"`
}

// WeightedBaggedPoints is the centroid scatter with marker weights.
type WeightedBaggedPoints struct {
	Density []float64 `json:"density"`
	Flow    []float64 `json:"flow"`
	Weight  []float64 `json:"weight"`
}

func (AggregatePoints) Representation() Representation      { return RepAggregate }
func (BaggedPoints) Representation() Representation         { return RepBagged }
func (WeightedBaggedPoints) Representation() Representation { return RepWeightedBagged }

func (AggregatePoints) points()      {}
func (BaggedPoints) points()         {}
func (WeightedBaggedPoints) points() {}
