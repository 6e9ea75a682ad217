// Package metrics computes evaluation metrics from concatenated
// predictions and labels. Every function is pure: no state survives
// between calls, so repeated evaluation of the same inputs always
// agrees.
package metrics

import (
	"fmt"
	"math"
	"sort"

	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
)

// Loss is the metric name under which the epoch runner reports the
// evaluation loss; it is monitorable for every protocol.
const Loss = "loss"

// Names lists the metric names a family reports, excluding Loss.
func Names(family string) ([]string, error) {
	switch family {
	case protocol.MetricFamilyClassification:
		return []string{"accuracy", "precision", "recall", "f1_score", "mcc"}, nil
	case protocol.MetricFamilyRegression:
		return []string{"mse", "rmse", "spearman"}, nil
	default:
		return nil, fmt.Errorf("%w: unknown metric family: %s", model.ErrConfiguration, family)
	}
}

// DefaultDirection is the improvement direction a metric is monitored
// with when the configuration leaves it open: error-style metrics go
// down, score-style metrics go up.
func DefaultDirection(name string) model.Direction {
	switch name {
	case Loss, "mse", "rmse":
		return model.DirectionMinimize
	default:
		return model.DirectionMaximize
	}
}

// Monitorable reports whether name is a valid monitored metric for the
// descriptor's family.
func Monitorable(desc protocol.Descriptor, name string) bool {
	if name == Loss {
		return true
	}
	names, err := Names(desc.MetricFamily)
	if err != nil {
		return false
	}
	for _, candidate := range names {
		if candidate == name {
			return true
		}
	}
	return false
}

// Classification computes accuracy, macro precision/recall/F1 and the
// multi-class Matthews correlation coefficient over aligned class ids.
func Classification(pred, truth []int, numClasses int) (map[string]float64, error) {
	if len(pred) != len(truth) {
		return nil, fmt.Errorf("%w: predictions and labels disagree: got=%d want=%d", model.ErrData, len(pred), len(truth))
	}
	if len(pred) == 0 {
		return nil, fmt.Errorf("%w: no predictions to score", model.ErrData)
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("%w: class count must be >= 1, got %d", model.ErrData, numClasses)
	}

	confusion := make([][]float64, numClasses)
	for i := range confusion {
		confusion[i] = make([]float64, numClasses)
	}
	correct := 0.0
	for i := range pred {
		if pred[i] < 0 || pred[i] >= numClasses {
			return nil, fmt.Errorf("%w: predicted class %d out of range", model.ErrData, pred[i])
		}
		if truth[i] < 0 || truth[i] >= numClasses {
			return nil, fmt.Errorf("%w: true class %d out of range", model.ErrData, truth[i])
		}
		confusion[truth[i]][pred[i]]++
		if pred[i] == truth[i] {
			correct++
		}
	}

	total := float64(len(pred))
	precision, recall, f1 := 0.0, 0.0, 0.0
	for k := 0; k < numClasses; k++ {
		tp := confusion[k][k]
		rowSum, colSum := 0.0, 0.0
		for j := 0; j < numClasses; j++ {
			rowSum += confusion[k][j]
			colSum += confusion[j][k]
		}
		p := safeDiv(tp, colSum)
		r := safeDiv(tp, rowSum)
		precision += p
		recall += r
		f1 += safeDiv(2*p*r, p+r)
	}
	classes := float64(numClasses)

	return map[string]float64{
		"accuracy":  correct / total,
		"precision": precision / classes,
		"recall":    recall / classes,
		"f1_score":  f1 / classes,
		"mcc":       matthews(confusion, correct, total),
	}, nil
}

// matthews is the multi-class Matthews correlation over a confusion
// matrix; zero when either marginal has no variance.
func matthews(confusion [][]float64, correct, total float64) float64 {
	sumPT, sumPP, sumTT := 0.0, 0.0, 0.0
	for k := range confusion {
		rowSum, colSum := 0.0, 0.0
		for j := range confusion {
			rowSum += confusion[k][j]
			colSum += confusion[j][k]
		}
		sumPT += rowSum * colSum
		sumPP += colSum * colSum
		sumTT += rowSum * rowSum
	}
	num := correct*total - sumPT
	den := math.Sqrt((total*total - sumPP) * (total*total - sumTT))
	return safeDiv(num, den)
}

// Regression computes mean squared error, its root and the Spearman
// rank correlation over aligned values.
func Regression(pred, truth []float64) (map[string]float64, error) {
	if len(pred) != len(truth) {
		return nil, fmt.Errorf("%w: predictions and labels disagree: got=%d want=%d", model.ErrData, len(pred), len(truth))
	}
	if len(pred) == 0 {
		return nil, fmt.Errorf("%w: no predictions to score", model.ErrData)
	}

	mse := 0.0
	for i := range pred {
		diff := pred[i] - truth[i]
		mse += diff * diff
	}
	mse /= float64(len(pred))

	return map[string]float64{
		"mse":      mse,
		"rmse":     math.Sqrt(mse),
		"spearman": Spearman(pred, truth),
	}, nil
}

// Spearman is the rank correlation of two aligned value slices, with
// average ranks for ties. Zero when either side has no rank variance.
func Spearman(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	return pearson(ranks(a), ranks(b))
}

// ranks assigns 1-based ranks, averaging over runs of equal values.
func ranks(values []float64) []float64 {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return values[order[i]] < values[order[j]]
	})

	result := make([]float64, len(values))
	for start := 0; start < len(order); {
		end := start + 1
		for end < len(order) && values[order[end]] == values[order[start]] {
			end++
		}
		avg := float64(start+end+1) / 2
		for k := start; k < end; k++ {
			result[order[k]] = avg
		}
		start = end
	}
	return result
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	meanA, meanB := 0.0, 0.0
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	cov, varA, varB := 0.0, 0.0, 0.0
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	return safeDiv(cov, math.Sqrt(varA*varB))
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
