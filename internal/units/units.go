// Package units provides the time and traffic-flow unit conversions used by
// the pipeline. Fintraffic timestamps are hundredths of a second since
// midnight and speeds are km/h.
package units

import (
	"math"
	"time"
)

// Time resolution constants
const (
	HundredthsPerSecond = 100
	HundredthsPerMinute = 60 * HundredthsPerSecond
	HundredthsPerHour   = 60 * HundredthsPerMinute
	SecondsPerHour      = 3600
)

// hundredth is the duration of one timestamp tick.
const hundredth = 10 * time.Millisecond

// HoursToHundredths converts whole hours since midnight into ticks.
func HoursToHundredths(hours int) int64 {
	return int64(hours) * HundredthsPerHour
}

// DurationToHundredths converts d into ticks. ok is false when d is not a
// whole number of ticks.
func DurationToHundredths(d time.Duration) (ticks int64, ok bool) {
	if d%hundredth != 0 {
		return int64(d / hundredth), false
	}
	return int64(d / hundredth), true
}

// HundredthsToDuration converts ticks into a time.Duration.
func HundredthsToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * hundredth
}

// ClockTicks builds a time of day in ticks from its clock components.
func ClockTicks(hour, minute, second, hundredths int) int64 {
	return int64(hour)*HundredthsPerHour + int64(minute)*HundredthsPerMinute +
		int64(second)*HundredthsPerSecond + int64(hundredths)
}

// HourlyRate scales a vehicle count observed over period to vehicles per hour.
func HourlyRate(count int, period time.Duration) float64 {
	return float64(count) * (SecondsPerHour / period.Seconds())
}

// Density returns vehicles per km from flow (veh/h) and space-mean speed
// (km/h), using flow = density * speed. It returns NaN for non-positive speed.
func Density(flowPerHour, speedKmh float64) float64 {
	if speedKmh <= 0 {
		return math.NaN()
	}
	return flowPerHour / speedKmh
}
