package stats

import (
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"

	"github.com/heispv/biotrainer/internal/metrics"
	"github.com/heispv/biotrainer/internal/model"
)

// BootstrapConfig controls test-set resampling. Zero values fall back
// to 1000 iterations, full sample size and a 0.95 confidence level.
type BootstrapConfig struct {
	Iterations int     `json:"iterations"`
	SampleSize int     `json:"sample_size"`
	Seed       int64   `json:"seed"`
	Confidence float64 `json:"confidence"`
}

// Interval is a percentile bootstrap confidence interval for one
// metric.
type Interval struct {
	Mean  float64 `json:"mean"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// HalfWidth is the plus-minus band around the mean.
func (iv Interval) HalfWidth() float64 {
	return (iv.Upper - iv.Lower) / 2
}

func (c BootstrapConfig) normalized(n int) (BootstrapConfig, error) {
	if c.Iterations == 0 {
		c.Iterations = 1000
	}
	if c.Iterations < 0 {
		return c, fmt.Errorf("%w: bootstrap iterations must be > 0, got %d", model.ErrConfiguration, c.Iterations)
	}
	if c.SampleSize == 0 {
		c.SampleSize = n
	}
	if c.SampleSize < 0 {
		return c, fmt.Errorf("%w: bootstrap sample size must be > 0, got %d", model.ErrConfiguration, c.SampleSize)
	}
	if c.Confidence == 0 {
		c.Confidence = 0.95
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		return c, fmt.Errorf("%w: bootstrap confidence must be in (0, 1), got %g", model.ErrConfiguration, c.Confidence)
	}
	return c, nil
}

// BootstrapClassification resamples classification predictions with
// replacement and reports per-metric percentile intervals.
func BootstrapClassification(cfg BootstrapConfig, pred, truth []int, numClasses int) (map[string]Interval, error) {
	if len(pred) != len(truth) {
		return nil, fmt.Errorf("%w: %d predictions against %d labels", model.ErrData, len(pred), len(truth))
	}
	if len(pred) == 0 {
		return nil, fmt.Errorf("%w: nothing to bootstrap", model.ErrData)
	}
	cfg, err := cfg.normalized(len(pred))
	if err != nil {
		return nil, err
	}
	if _, err := metrics.Classification(pred, truth, numClasses); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	samples := make(map[string][]float64)
	rp := make([]int, cfg.SampleSize)
	rt := make([]int, cfg.SampleSize)
	for it := 0; it < cfg.Iterations; it++ {
		for i := range rp {
			j := rng.Intn(len(pred))
			rp[i] = pred[j]
			rt[i] = truth[j]
		}
		values, err := metrics.Classification(rp, rt, numClasses)
		if err != nil {
			return nil, err
		}
		for name, value := range values {
			samples[name] = append(samples[name], value)
		}
	}
	return intervals(samples, cfg.Confidence)
}

// BootstrapRegression resamples regression predictions with
// replacement and reports per-metric percentile intervals.
func BootstrapRegression(cfg BootstrapConfig, pred, truth []float64) (map[string]Interval, error) {
	if len(pred) != len(truth) {
		return nil, fmt.Errorf("%w: %d predictions against %d labels", model.ErrData, len(pred), len(truth))
	}
	if len(pred) == 0 {
		return nil, fmt.Errorf("%w: nothing to bootstrap", model.ErrData)
	}
	cfg, err := cfg.normalized(len(pred))
	if err != nil {
		return nil, err
	}
	if _, err := metrics.Regression(pred, truth); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	samples := make(map[string][]float64)
	rp := make([]float64, cfg.SampleSize)
	rt := make([]float64, cfg.SampleSize)
	for it := 0; it < cfg.Iterations; it++ {
		for i := range rp {
			j := rng.Intn(len(pred))
			rp[i] = pred[j]
			rt[i] = truth[j]
		}
		values, err := metrics.Regression(rp, rt)
		if err != nil {
			return nil, err
		}
		for name, value := range values {
			samples[name] = append(samples[name], value)
		}
	}
	return intervals(samples, cfg.Confidence)
}

func intervals(samples map[string][]float64, confidence float64) (map[string]Interval, error) {
	alpha := (1 - confidence) / 2
	result := make(map[string]Interval, len(samples))
	for name, values := range samples {
		mean := 0.0
		for _, v := range values {
			mean += v
		}
		mean /= float64(len(values))

		lower, err := Percentile(values, alpha)
		if err != nil {
			return nil, err
		}
		upper, err := Percentile(values, 1-alpha)
		if err != nil {
			return nil, err
		}
		result[name] = Interval{Mean: mean, Lower: lower, Upper: upper}
	}
	return result, nil
}

// Percentile returns the p-quantile by linear interpolation between
// closest ranks. values are not modified.
func Percentile[T constraints.Float](values []T, p float64) (T, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: percentile of empty slice", model.ErrData)
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if p <= 0 {
		return sorted[0], nil
	}
	if p >= 1 {
		return sorted[len(sorted)-1], nil
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := T(rank - float64(lo))
	return sorted[lo] + frac*(sorted[hi]-sorted[lo]), nil
}
