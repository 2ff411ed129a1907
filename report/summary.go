// Package report summarises completed ranging rounds and keeps a log of them.
package report

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ystepanoff/polypoint/ranging"
)

// Summary describes the valid samples of one round. A zero distance marks a
// dropped sample and is excluded.
type Summary struct {
	Valid   int
	Dropped int
	Mean    float64
	Median  float64
	StdDev  float64
	Min     float64
	Max     float64
}

// Summarize computes the statistics of a round's distance histogram.
func Summarize(r ranging.RoundReport) Summary {
	samples := make([]float64, 0, len(r.Distances))
	for _, d := range r.Distances {
		if d != 0 {
			samples = append(samples, float64(d))
		}
	}
	s := Summary{Valid: len(samples), Dropped: len(r.Distances) - len(samples)}
	if len(samples) == 0 {
		return s
	}

	sort.Float64s(samples)
	s.Mean = stat.Mean(samples, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, samples, nil)
	s.Min = floats.Min(samples)
	s.Max = floats.Max(samples)
	if len(samples) > 1 {
		s.StdDev = stat.StdDev(samples, nil)
	}
	return s
}
