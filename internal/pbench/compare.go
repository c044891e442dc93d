package pbench

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Comparison ranks the models at one connection count.
type Comparison struct {
	Connections int
	// Mean holds each model's mean time per iteration in nanoseconds,
	// averaged over every run that measured it.
	Mean map[Model]float64
	Runs map[Model]int
	// Fastest is the model with the lowest Mean and Slowest the highest.
	Fastest Model
	Slowest Model
	// Ratio is Mean[Slowest] / Mean[Fastest].
	Ratio float64
}

// Compare groups results by connection count, in ascending order.
func Compare(results []BenchResult) []Comparison {
	type key struct {
		model       Model
		connections int
	}
	means := make(map[key][]float64)
	counts := make(map[int]struct{})
	for _, r := range results {
		k := key{r.Model, r.Connections}
		means[k] = append(means[k], r.Mean)
		counts[r.Connections] = struct{}{}
	}

	conns := make([]int, 0, len(counts))
	for c := range counts {
		conns = append(conns, c)
	}
	sort.Ints(conns)

	out := make([]Comparison, 0, len(conns))
	for _, c := range conns {
		cmp := Comparison{
			Connections: c,
			Mean:        make(map[Model]float64),
			Runs:        make(map[Model]int),
		}
		for _, m := range Models {
			xs, ok := means[key{m, c}]
			if !ok {
				continue
			}
			mean := stat.Mean(xs, nil)
			cmp.Mean[m] = mean
			cmp.Runs[m] = len(xs)
			if cmp.Fastest == "" || mean < cmp.Mean[cmp.Fastest] {
				cmp.Fastest = m
			}
			if cmp.Slowest == "" || mean > cmp.Mean[cmp.Slowest] {
				cmp.Slowest = m
			}
		}
		if fastest := cmp.Mean[cmp.Fastest]; fastest > 0 {
			cmp.Ratio = cmp.Mean[cmp.Slowest] / fastest
		}
		out = append(out, cmp)
	}
	return out
}
