package stats

import (
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
)

// CurvePoint is one epoch of a learning curve.
type CurvePoint struct {
	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`
}

// AverageCurve averages per-epoch series position-wise across folds.
// Folds stop at different epochs, so later points average over fewer
// series until every series is consumed.
func AverageCurve(series [][]float64) []CurvePoint {
	points := make([]CurvePoint, 0, 128)
	epoch := 1
	current := cloneCurveSeries(series)
	for {
		values := make([]float64, 0, len(current))
		next := make([][]float64, 0, len(current))
		for _, list := range current {
			if len(list) == 0 {
				continue
			}
			values = append(values, list[0])
			if len(list) > 1 {
				tail := append([]float64(nil), list[1:]...)
				next = append(next, tail)
			}
		}
		if len(values) == 0 {
			break
		}
		avg, _ := nn.Avg(values)
		points = append(points, CurvePoint{Epoch: epoch, Value: avg})
		epoch++
		current = next
	}
	return points
}

// TrainLossCurve extracts the fold train-loss histories from a report
// and averages them.
func TrainLossCurve(folds []model.FoldResult) []CurvePoint {
	series := make([][]float64, 0, len(folds))
	for _, fr := range folds {
		if fr.Status != model.FoldStatusOK || len(fr.TrainLossByEpoch) == 0 {
			continue
		}
		series = append(series, fr.TrainLossByEpoch)
	}
	return AverageCurve(series)
}

// ValMetricCurve averages the monitored validation metric histories of
// successful folds.
func ValMetricCurve(folds []model.FoldResult) []CurvePoint {
	series := make([][]float64, 0, len(folds))
	for _, fr := range folds {
		if fr.Status != model.FoldStatusOK || len(fr.ValMetricByEpoch) == 0 {
			continue
		}
		series = append(series, fr.ValMetricByEpoch)
	}
	return AverageCurve(series)
}

func cloneCurveSeries(series [][]float64) [][]float64 {
	cloned := make([][]float64, 0, len(series))
	for _, list := range series {
		if len(list) == 0 {
			continue
		}
		cloned = append(cloned, append([]float64(nil), list...))
	}
	return cloned
}
