package pipeline

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cqrtraffic/internal/traffic"
	"github.com/banshee-data/cqrtraffic/internal/units"
)

// bucketKey uses Unix seconds rather than time.Time so equal instants with
// different locations share a bucket.
type bucketKey struct {
	day    int64
	bucket int
}

type bucketAcc struct {
	date                time.Time
	cars, buses, trucks int
	speeds              []float64
}

func (a *bucketAcc) count() int { return a.cars + a.buses + a.trucks }

// Aggregate bins raw records into fixed periods of each day's hour window
// and derives flow and density per bin.
//
// A bucket covers [start + b*period, start + (b+1)*period) and the period
// must divide the window, so the buckets tile it exactly. Buckets with no
// counted vehicle or no positive speed are dropped. Flow is the counted vehicles scaled
// to an hourly rate. Density is flow over the harmonic mean of the recorded
// spot speeds, which is the space-mean speed of the bucket.
func Aggregate(ds traffic.RawDataset, period time.Duration) (traffic.AggregateDataset, error) {
	if err := ds.Window.Validate(); err != nil {
		return traffic.AggregateDataset{}, err
	}
	if err := traffic.ValidatePeriod(period, ds.Window); err != nil {
		return traffic.AggregateDataset{}, err
	}
	if ds.Len() == 0 {
		return traffic.AggregateDataset{}, fmt.Errorf("%w: no raw records to aggregate", traffic.ErrEmptyDataset)
	}

	ticks, _ := units.DurationToHundredths(period)
	start := ds.Window.Start()

	buckets := make(map[bucketKey]*bucketAcc)
	for _, r := range ds.Records {
		if !ds.Window.Contains(r.TimeOfDay) || !r.Class.Counted() {
			continue
		}
		b := int((r.TimeOfDay - start) / ticks)
		key := bucketKey{day: r.Date.Unix(), bucket: b}
		acc, ok := buckets[key]
		if !ok {
			acc = &bucketAcc{date: r.Date}
			buckets[key] = acc
		}
		switch {
		case r.IsCar():
			acc.cars++
		case r.IsBus():
			acc.buses++
		default:
			acc.trucks++
		}
		if r.SpeedKmh > 0 {
			acc.speeds = append(acc.speeds, r.SpeedKmh)
		}
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k, acc := range buckets {
		if acc.count() > 0 && len(acc.speeds) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].bucket < keys[j].bucket
	})

	out := traffic.AggregateDataset{
		StationID:    ds.StationID,
		Direction:    ds.Direction,
		Window:       ds.Window,
		Period:       period,
		Observations: make([]traffic.AggregateObservation, 0, len(keys)),
	}
	for _, k := range keys {
		acc := buckets[k]
		speed := stat.HarmonicMean(acc.speeds, nil)
		flow := units.HourlyRate(acc.count(), period)
		out.Observations = append(out.Observations, traffic.AggregateObservation{
			Date:     acc.date,
			Bucket:   k.bucket,
			Start:    start + int64(k.bucket)*ticks,
			Count:    acc.count(),
			Cars:     acc.cars,
			Buses:    acc.buses,
			Trucks:   acc.trucks,
			SpeedKmh: speed,
			Flow:     flow,
			Density:  units.Density(flow, speed),
		})
	}

	if out.Len() == 0 {
		return traffic.AggregateDataset{}, fmt.Errorf("%w: no bucket holds a counted vehicle with a usable speed", traffic.ErrEmptyDataset)
	}
	return out, nil
}
