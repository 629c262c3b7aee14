package order

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Series is the append-only time series of a run's frame samples.
type Series struct {
	samples []FrameSample
}

func (s *Series) append(sample FrameSample) {
	s.samples = append(s.samples, sample)
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.samples)
}

// View returns the samples recorded so far. The slice is capped at its
// length so later appends never show through; callers must not modify it.
func (s *Series) View() []FrameSample {
	n := len(s.samples)
	return s.samples[:n:n]
}

// Last returns the most recent sample.
func (s *Series) Last() (FrameSample, bool) {
	if len(s.samples) == 0 {
		return FrameSample{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Summary describes a run's order parameters.
type Summary struct {
	Samples            int     `json:"samples"`
	Duration           float64 `json:"duration_s"`
	CurvatureMean      float64 `json:"curvature_mean_rad"`
	CurvatureStdDev    float64 `json:"curvature_stddev_rad"`
	PolarizationMean   float64 `json:"polarization_mean_rad"`
	PolarizationStdDev float64 `json:"polarization_stddev_rad"`
	CurvatureMin       float64 `json:"curvature_min_rad"`
	CurvatureMax       float64 `json:"curvature_max_rad"`
}

// Summarize computes descriptive statistics over samples. Standard
// deviations are zero when fewer than two samples exist.
func Summarize(samples []FrameSample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	curv := make([]float64, len(samples))
	pol := make([]float64, len(samples))
	for i, s := range samples {
		curv[i] = s.MeanCurvature
		pol[i] = s.MeanPolarization
	}

	sum := Summary{
		Samples:      len(samples),
		Duration:     samples[len(samples)-1].Timestamp - samples[0].Timestamp,
		CurvatureMin: math.Inf(1),
		CurvatureMax: math.Inf(-1),
	}
	for _, c := range curv {
		sum.CurvatureMin = math.Min(sum.CurvatureMin, c)
		sum.CurvatureMax = math.Max(sum.CurvatureMax, c)
	}

	if len(samples) < 2 {
		sum.CurvatureMean = curv[0]
		sum.PolarizationMean = pol[0]
		return sum
	}
	sum.CurvatureMean, sum.CurvatureStdDev = stat.MeanStdDev(curv, nil)
	sum.PolarizationMean, sum.PolarizationStdDev = stat.MeanStdDev(pol, nil)
	return sum
}
