// Package series turns an irregular reading stream into a regular,
// bucketed series and estimates its linear trend.
package series

import (
	"math"
	"sort"
	"time"

	"ripeness-monitor/internal/clock"
	"ripeness-monitor/internal/models"
)

// DefaultBucketWidth is the resampling cadence
const DefaultBucketWidth = 30 * time.Minute

// Sample value indexes
const (
	Temperature = iota
	Humidity
	GasRaw
	GasVoltage
	numFields
)

// Sample is the numeric view of one reading. NaN marks a missing value.
type Sample struct {
	At     time.Time
	Values [numFields]float64
}

// FromReadings converts stored readings into samples
func FromReadings(readings []models.Reading) []Sample {
	out := make([]Sample, len(readings))
	for i, r := range readings {
		out[i] = Sample{
			At:     r.RecordedAt,
			Values: [numFields]float64{r.Temperature, r.Humidity, r.GasRaw, r.GasVoltage},
		}
	}
	return out
}

// FromPoints converts an aggregated series back into samples
func FromPoints(points []models.AggregatedPoint) []Sample {
	out := make([]Sample, len(points))
	for i, p := range points {
		out[i] = Sample{
			At:     p.Timestamp,
			Values: [numFields]float64{p.Temperature, p.Humidity, p.GasRaw, p.GasVoltage},
		}
	}
	return out
}

// Aggregate sorts samples by time, fills gaps, resamples them into
// epoch-aligned buckets of the given width and derives the gas slope.
// Buckets without samples are never emitted. Timestamps are rendered in loc.
func Aggregate(samples []Sample, width time.Duration, loc *time.Location) []models.AggregatedPoint {
	if len(samples) == 0 {
		return []models.AggregatedPoint{}
	}
	if width <= 0 {
		width = DefaultBucketWidth
	}
	if loc == nil {
		loc = clock.Civil
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	fillGaps(sorted)

	var points []models.AggregatedPoint
	for start := 0; start < len(sorted); {
		bucket := sorted[start].At.Truncate(width)
		end := start + 1
		for end < len(sorted) && sorted[end].At.Truncate(width).Equal(bucket) {
			end++
		}

		means := meanValues(sorted[start:end])
		points = append(points, models.AggregatedPoint{
			Timestamp:   bucket.In(loc),
			Temperature: means[Temperature],
			Humidity:    means[Humidity],
			GasRaw:      means[GasRaw],
			GasVoltage:  means[GasVoltage],
		})
		start = end
	}

	for i := 1; i < len(points); i++ {
		d := points[i].GasRaw - points[i-1].GasRaw
		if math.IsNaN(d) {
			d = 0
		}
		points[i].GasSlope = d
	}

	return points
}

// fillGaps copies each missing value from the nearest earlier sample, then
// from the nearest later one. Samples must be sorted.
func fillGaps(samples []Sample) {
	for f := 0; f < numFields; f++ {
		last := math.NaN()
		for i := range samples {
			if math.IsNaN(samples[i].Values[f]) {
				samples[i].Values[f] = last
			} else {
				last = samples[i].Values[f]
			}
		}

		next := math.NaN()
		for i := len(samples) - 1; i >= 0; i-- {
			if math.IsNaN(samples[i].Values[f]) {
				samples[i].Values[f] = next
			} else {
				next = samples[i].Values[f]
			}
		}
	}
}

// meanValues averages each field over the samples that carry it; a field
// no sample carries stays NaN
func meanValues(samples []Sample) [numFields]float64 {
	var out [numFields]float64
	for f := 0; f < numFields; f++ {
		sum, n := 0.0, 0
		for _, s := range samples {
			if !math.IsNaN(s.Values[f]) {
				sum += s.Values[f]
				n++
			}
		}
		if n == 0 {
			out[f] = math.NaN()
		} else {
			out[f] = sum / float64(n)
		}
	}
	return out
}
