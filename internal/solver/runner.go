package solver

import (
	"context"
	"fmt"

	"github.com/heispv/biotrainer/internal/arch"
	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/loss"
	"github.com/heispv/biotrainer/internal/metrics"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
	"github.com/heispv/biotrainer/internal/run"
)

// Runner drives epochs for one fold. It owns no partitions; callers
// hand it assemblers so train and eval splits stay separate.
type Runner struct {
	Desc      protocol.Descriptor
	Model     arch.Model
	Optimizer nn.Optimizer
	Criterion loss.Criterion
	RC        *run.Context
	Fold      int
}

// TrainResult summarizes one training epoch.
type TrainResult struct {
	Loss     float64
	Batches  int
	Skipped  int
	Warnings []model.Warning
}

// TrainEpoch runs one pass over the epoch's batches: forward, masked
// loss, backward, optimizer step. A batch whose loss or gradients are
// not finite contributes nothing: the step is skipped, a
// numeric-instability warning is recorded and training continues. The
// returned loss is the position-weighted mean over the finite batches.
func (r *Runner) TrainEpoch(ctx context.Context, asm *dataset.Assembler, epoch int) (TrainResult, error) {
	var res TrainResult
	stream := asm.Batches(epoch)
	totalLoss, totalRows := 0.0, 0

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		batch, ok := stream.Next()
		if !ok {
			break
		}
		res.Batches++

		rows := batch.LabelRows(r.Desc)
		if len(rows) == 0 {
			continue
		}
		scores, err := r.Model.Forward(batch, rows, true)
		if err != nil {
			return res, err
		}
		value, rowGrads, err := loss.EvalRows(r.Criterion, scores, rows)
		if err != nil {
			return res, err
		}
		if !nn.Finite(value) {
			r.skip(&res, epoch, fmt.Sprintf("batch loss is not finite: %v", value))
			continue
		}
		grads, err := r.Model.Backward(rowGrads)
		if err != nil {
			return res, err
		}
		if !grads.Finite() {
			r.skip(&res, epoch, "batch gradients are not finite")
			continue
		}
		if err := r.Model.Step(r.Optimizer, grads); err != nil {
			return res, err
		}
		totalLoss += value * float64(len(rows))
		totalRows += len(rows)
	}

	if totalRows > 0 {
		res.Loss = totalLoss / float64(totalRows)
	}
	return res, nil
}

func (r *Runner) skip(res *TrainResult, epoch int, message string) {
	res.Skipped++
	w := model.Warning{
		Kind:    model.WarnNumericInstability,
		Fold:    r.Fold,
		Epoch:   epoch,
		Batch:   res.Batches,
		Message: message,
	}
	res.Warnings = append(res.Warnings, w)
	r.RC.Warn(w)
}

// EvalResult summarizes a gradient-free pass over one split.
type EvalResult struct {
	Loss    float64
	Metrics map[string]float64
	Rows    int
}

// EvalEpoch scores a split without touching weights. Predictions and
// labels for valid positions are concatenated across every batch and
// the metric family computed once over the whole split; the mean loss
// joins the metric map under "loss".
func (r *Runner) EvalEpoch(ctx context.Context, asm *dataset.Assembler) (EvalResult, error) {
	var res EvalResult
	stream := asm.Batches(0)

	var predClasses, trueClasses []int
	var predValues, trueValues []float64
	totalLoss := 0.0

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		batch, ok := stream.Next()
		if !ok {
			break
		}
		rows := batch.LabelRows(r.Desc)
		if len(rows) == 0 {
			continue
		}
		scores, err := r.Model.Forward(batch, rows, false)
		if err != nil {
			return res, err
		}
		value, _, err := loss.EvalRows(r.Criterion, scores, rows)
		if err != nil {
			return res, err
		}
		totalLoss += value * float64(len(rows))
		res.Rows += len(rows)

		pred := arch.Decode(r.Desc, scores)
		if r.Desc.Classification {
			predClasses = append(predClasses, pred.Classes...)
			for _, row := range rows {
				trueClasses = append(trueClasses, row.Class)
			}
		} else {
			predValues = append(predValues, pred.Values...)
			for _, row := range rows {
				trueValues = append(trueValues, row.Value)
			}
		}
	}

	if res.Rows == 0 {
		return res, fmt.Errorf("%w: no valid positions to evaluate", model.ErrData)
	}
	res.Loss = totalLoss / float64(res.Rows)

	var computed map[string]float64
	var err error
	if r.Desc.Classification {
		computed, err = metrics.Classification(predClasses, trueClasses, r.Model.OutputDim())
	} else {
		computed, err = metrics.Regression(predValues, trueValues)
	}
	if err != nil {
		return res, err
	}
	computed[metrics.Loss] = res.Loss
	res.Metrics = computed
	return res, nil
}
