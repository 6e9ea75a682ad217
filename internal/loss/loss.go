// Package loss scores model outputs against labels, one valid position
// at a time. Criteria return both the loss value and its gradient with
// respect to the raw outputs so the epoch runner can drive backprop
// without knowing the protocol.
package loss

import (
	"fmt"
	"math"

	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
)

const logFloor = 1e-12

// Criterion scores one output row against its label row. Implementations
// hold no state between calls.
type Criterion interface {
	Name() string
	Eval(outputs []float64, row dataset.LabelRow) (float64, []float64, error)
}

// ForFamily selects the criterion for a descriptor's loss family.
// classWeights applies to cross entropy only and may be nil.
func ForFamily(family string, classWeights []float64) (Criterion, error) {
	switch family {
	case protocol.LossCrossEntropy:
		return &CrossEntropy{weights: classWeights}, nil
	case protocol.LossMeanSquaredError:
		if classWeights != nil {
			return nil, fmt.Errorf("%w: class weights require a classification loss", model.ErrConfiguration)
		}
		return MeanSquaredError{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown loss family: %s", model.ErrConfiguration, family)
	}
}

// CrossEntropy is softmax cross entropy over class logits, optionally
// weighted per class.
type CrossEntropy struct {
	weights []float64
}

func NewCrossEntropy(weights []float64) *CrossEntropy {
	return &CrossEntropy{weights: weights}
}

func (c *CrossEntropy) Name() string { return protocol.LossCrossEntropy }

func (c *CrossEntropy) Eval(logits []float64, row dataset.LabelRow) (float64, []float64, error) {
	if len(logits) == 0 {
		return 0, nil, fmt.Errorf("%w: cross entropy needs at least one logit", model.ErrData)
	}
	if row.Class < 0 || row.Class >= len(logits) {
		return 0, nil, fmt.Errorf("%w: class %d out of range for %d logits", model.ErrData, row.Class, len(logits))
	}
	weight := 1.0
	if c.weights != nil {
		if row.Class >= len(c.weights) {
			return 0, nil, fmt.Errorf("%w: class %d has no weight (%d weights)", model.ErrData, row.Class, len(c.weights))
		}
		weight = c.weights[row.Class]
	}

	probs := nn.Softmax(logits)
	p := probs[row.Class]
	if p < logFloor {
		p = logFloor
	}
	value := -weight * math.Log(p)

	grad := make([]float64, len(logits))
	for i, prob := range probs {
		grad[i] = weight * prob
	}
	grad[row.Class] -= weight
	return value, grad, nil
}

// MeanSquaredError is the squared error of a single regression output.
type MeanSquaredError struct{}

func (MeanSquaredError) Name() string { return protocol.LossMeanSquaredError }

func (MeanSquaredError) Eval(outputs []float64, row dataset.LabelRow) (float64, []float64, error) {
	if len(outputs) != 1 {
		return 0, nil, fmt.Errorf("%w: squared error expects one output, got %d", model.ErrData, len(outputs))
	}
	diff := outputs[0] - row.Value
	return diff * diff, []float64{2 * diff}, nil
}

// EvalRows scores aligned output and label rows and returns the mean
// loss plus per-row gradients scaled by 1/n, so gradients accumulated
// over the rows match the mean loss. No rows means zero loss.
func EvalRows(c Criterion, outputs [][]float64, rows []dataset.LabelRow) (float64, [][]float64, error) {
	if len(outputs) != len(rows) {
		return 0, nil, fmt.Errorf("%w: outputs and label rows disagree: got=%d want=%d", model.ErrData, len(outputs), len(rows))
	}
	if len(rows) == 0 {
		return 0, nil, nil
	}

	total := 0.0
	grads := make([][]float64, len(rows))
	scale := 1 / float64(len(rows))
	for i, row := range rows {
		value, grad, err := c.Eval(outputs[i], row)
		if err != nil {
			return 0, nil, err
		}
		total += value
		for j := range grad {
			grad[j] *= scale
		}
		grads[i] = grad
	}
	return total * scale, grads, nil
}

// InverseFrequencyWeights derives balanced class weights from training
// label counts: total/(classes*count). Classes absent from training
// keep a neutral weight of one.
func InverseFrequencyWeights(counts []int) ([]float64, error) {
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: no class counts", model.ErrData)
	}
	total := 0
	for i, count := range counts {
		if count < 0 {
			return nil, fmt.Errorf("%w: class %d has negative count %d", model.ErrData, i, count)
		}
		total += count
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: all class counts are zero", model.ErrData)
	}

	weights := make([]float64, len(counts))
	for i, count := range counts {
		if count == 0 {
			weights[i] = 1
			continue
		}
		weights[i] = float64(total) / (float64(len(counts)) * float64(count))
	}
	return weights, nil
}
