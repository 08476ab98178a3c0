package biometrics

import (
	"math"
	"sort"
)

// Extras keys. The first four mirror the Vector layout.
const (
	FeatureAvgFlight       = "avg_flight"
	FeatureAvgDwell        = "avg_dwell"
	FeatureRhythmVariance  = "rhythm_variance"
	FeatureMouseVelocity   = "mouse_velocity"
	FeatureAngularVelocity = "angular_velocity"
)

// minPointerDelta keeps velocity finite when two samples share a timestamp.
const minPointerDelta = 1e-6

// Vector is the model input: avg flight (ms), avg dwell (ms),
// rhythm variance (ms²), avg pointer velocity (px/s).
type Vector [4]float64

// Slice returns a copy of the vector as a slice.
func (v Vector) Slice() []float64 {
	out := make([]float64, len(v))
	copy(out, v[:])
	return out
}

// Extras carries the named metrics returned to the client.
type Extras map[string]float64

// Features is the full extraction result for one batch.
type Features struct {
	Vector Vector
	Extras Extras

	// FlightSamples is the number of keydown→keydown intervals measured.
	// Zero means no typing rhythm could be observed.
	FlightSamples int
}

// Extract computes the feature set of a batch. It never fails: empty
// sequences yield zero-valued features.
func Extract(b *Batch) Features {
	if b == nil {
		b = &Batch{}
	}

	avgDwell := mean(dwellTimes(b.Keystrokes))

	flights := flightTimes(b.Keystrokes)
	avgFlight := mean(flights)
	rhythm := variance(flights)

	velocity, angular := pointerDynamics(b.Mouse)

	return Features{
		Vector: Vector{avgFlight, avgDwell, rhythm, velocity},
		Extras: Extras{
			FeatureAvgFlight:       avgFlight,
			FeatureAvgDwell:        avgDwell,
			FeatureRhythmVariance:  rhythm,
			FeatureMouseVelocity:   velocity,
			FeatureAngularVelocity: angular,
		},
		FlightSamples: len(flights),
	}
}

// dwellTimes pairs each keyup with the oldest pending keydown of the same key.
func dwellTimes(events []KeyEvent) []float64 {
	pending := make(map[string][]float64)
	var out []float64
	for _, e := range events {
		switch e.Type {
		case KeyDown:
			pending[e.Key] = append(pending[e.Key], e.Timestamp)
		case KeyUp:
			queue := pending[e.Key]
			if len(queue) == 0 {
				continue
			}
			start := queue[0]
			pending[e.Key] = queue[1:]
			out = append(out, math.Max(0, (e.Timestamp-start)*1000))
		}
	}
	return out
}

// flightTimes returns the gaps between consecutive keydowns, in time order.
func flightTimes(events []KeyEvent) []float64 {
	var downs []float64
	for _, e := range events {
		if e.Type == KeyDown {
			downs = append(downs, e.Timestamp)
		}
	}
	if len(downs) < 2 {
		return nil
	}
	sort.Float64s(downs)
	out := make([]float64, 0, len(downs)-1)
	for i := 1; i < len(downs); i++ {
		out = append(out, math.Max(0, (downs[i]-downs[i-1])*1000))
	}
	return out
}

// pointerDynamics returns the mean pointer velocity and the approximate
// angular velocity.
//
// The angle sequence is seeded with the first segment's heading; each later
// entry is |heading - previous entry|, so entries depend on their
// predecessor rather than on the previous heading. Clients calibrated against
// this metric rely on the exact values.
func pointerDynamics(samples []PointerSample) (velocity, angular float64) {
	if len(samples) < 2 {
		return 0, 0
	}
	velocities := make([]float64, 0, len(samples)-1)
	angles := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		a, b := samples[i-1], samples[i]
		dt := math.Max(minPointerDelta, b.Timestamp-a.Timestamp)
		dx, dy := b.X-a.X, b.Y-a.Y
		velocities = append(velocities, math.Hypot(dx, dy)/dt)

		heading := math.Atan2(dy, dx)
		if n := len(angles); n > 0 {
			angles = append(angles, math.Abs(heading-angles[n-1]))
		} else {
			angles = append(angles, heading)
		}
	}
	velocity = mean(velocities)

	if len(angles) > 1 {
		diffs := make([]float64, 0, len(angles)-1)
		for i := 1; i < len(angles); i++ {
			diffs = append(diffs, math.Abs(angles[i]-angles[i-1]))
		}
		angular = mean(diffs)
	}
	return velocity, angular
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// variance is the population variance.
func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}
