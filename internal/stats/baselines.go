package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/metrics"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
)

// Baseline computes the trivial predictor's score on a partition:
// majority class for classification, label mean for regression. A
// trained model that does not beat it is suspect.
func Baseline(part *dataset.Partition) (string, map[string]float64, error) {
	if part == nil || part.Len() == 0 {
		return "", nil, fmt.Errorf("%w: no samples to score a baseline on", model.ErrData)
	}
	if part.Descriptor().Classification {
		return majorityClassBaseline(part)
	}
	return meanValueBaseline(part)
}

func majorityClassBaseline(part *dataset.Partition) (string, map[string]float64, error) {
	counts := part.ClassCounts()
	total := 0
	best := 0
	for _, count := range counts {
		total += count
		if count > best {
			best = count
		}
	}
	if total == 0 {
		return "", nil, fmt.Errorf("%w: no labeled positions", model.ErrData)
	}
	return "majority_class", map[string]float64{
		"accuracy": float64(best) / float64(total),
	}, nil
}

func meanValueBaseline(part *dataset.Partition) (string, map[string]float64, error) {
	values := collectValues(part)
	if len(values) == 0 {
		return "", nil, fmt.Errorf("%w: no labeled positions", model.ErrData)
	}
	mean, err := nn.Avg(values)
	if err != nil {
		return "", nil, err
	}
	mse := 0.0
	for _, v := range values {
		d := v - mean
		mse += d * d
	}
	mse /= float64(len(values))
	return "mean_value", map[string]float64{
		"mse":  mse,
		"rmse": math.Sqrt(mse),
	}, nil
}

func collectValues(part *dataset.Partition) []float64 {
	desc := part.Descriptor()
	values := make([]float64, 0, part.Len())
	for i := 0; i < part.Len(); i++ {
		s := part.At(i)
		if !desc.PerResidue {
			values = append(values, s.Value)
			continue
		}
		for j, v := range s.ResidueValues {
			if s.Mask != nil && !s.Mask[j] {
				continue
			}
			values = append(values, v)
		}
	}
	return values
}

// SanityWarnings flags aggregated test metrics that fail to beat the
// baseline. Warnings are run-level, so they carry fold -1.
func SanityWarnings(aggregate map[string]model.MetricStats, baselineName string, baseline map[string]float64) []model.Warning {
	var warnings []model.Warning
	for _, name := range sortedKeys(baseline) {
		base := baseline[name]
		stats, ok := aggregate[name]
		if !ok {
			continue
		}
		beats := stats.Mean > base
		if metrics.DefaultDirection(name) == model.DirectionMinimize {
			beats = stats.Mean < base
		}
		if beats {
			continue
		}
		warnings = append(warnings, model.Warning{
			Kind: model.WarnSanityCheck,
			Fold: -1,
			Message: fmt.Sprintf("test %s %.4f does not beat %s baseline %.4f",
				name, stats.Mean, baselineName, base),
		})
	}
	return warnings
}

func sortedKeys(values map[string]float64) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
