package pbench

import (
	"context"
	"errors"
	"math"
	"time"
)

var ErrNoSamples = errors.New("sample count must be at least 1")

// Sample is one measured call of a Routine.
type Sample struct {
	Iterations uint64
	Duration   time.Duration
}

// PerIteration is the sample's duration divided by its iteration count.
func (s Sample) PerIteration() time.Duration {
	if s.Iterations == 0 {
		return 0
	}
	return s.Duration / time.Duration(s.Iterations)
}

// Routine runs iters iterations of the measured work and reports how long
// they took.
type Routine func(ctx context.Context, iters uint64) (time.Duration, error)

// LinearSampler picks iteration counts for a Routine: it warms up with doubling
// counts to estimate the cost of one iteration, then takes Samples samples of
// d, 2d, 3d ... iterations with d sized so that all of them together fill
// MeasurementTime.
type LinearSampler struct {
	WarmUp          time.Duration
	MeasurementTime time.Duration
	Samples         int
	// Step rounds every iteration count up to a multiple of it. Zero means 1.
	Step uint64
}

func (l LinearSampler) Sample(ctx context.Context, r Routine) ([]Sample, error) {
	if l.Samples < 1 {
		return nil, ErrNoSamples
	}
	step := l.Step
	if step == 0 {
		step = 1
	}

	var (
		iters   = step
		total   uint64
		elapsed time.Duration
	)
	for {
		d, err := r(ctx, iters)
		if err != nil {
			return nil, err
		}
		total += iters
		elapsed += d
		if elapsed >= l.WarmUp {
			break
		}
		iters *= 2
	}

	perIter := float64(elapsed) / float64(total)
	if perIter <= 0 {
		perIter = 1
	}
	n := float64(l.Samples)
	d := math.Ceil(float64(l.MeasurementTime) / (perIter * n * (n + 1) / 2))
	if d < 1 {
		d = 1
	}

	samples := make([]Sample, 0, l.Samples)
	for i := 1; i <= l.Samples; i++ {
		iters := roundUp(uint64(d)*uint64(i), step)
		dur, err := r(ctx, iters)
		if err != nil {
			return nil, err
		}
		samples = append(samples, Sample{Iterations: iters, Duration: dur})
	}
	return samples, nil
}

func roundUp(v, step uint64) uint64 {
	if rem := v % step; rem != 0 {
		return v + step - rem
	}
	return v
}
