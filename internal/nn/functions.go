package nn

import (
	"fmt"
	"math"
)

type ActivationFunc func(x float64) float64

// Activation resolves a built-in activation by name. The set is closed;
// architectures select from it by configuration.
func Activation(name string) (ActivationFunc, error) {
	switch name {
	case "identity":
		return func(x float64) float64 { return x }, nil
	case "relu":
		return func(x float64) float64 {
			if x < 0 {
				return 0
			}
			return x
		}, nil
	case "tanh":
		return math.Tanh, nil
	case "sigmoid":
		return func(x float64) float64 {
			return 1.0 / (1.0 + math.Exp(-x))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported activation: %s", name)
	}
}

func ActivationNames() []string {
	return []string{"identity", "relu", "sigmoid", "tanh"}
}

// Softmax returns the softmax of logits, shifted for numeric stability.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	if sum == 0 {
		uniform := 1.0 / float64(len(logits))
		for i := range out {
			out[i] = uniform
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ArgMax returns the index of the largest value, lowest index on ties.
func ArgMax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// MeanPool averages per-residue rows into one vector.
func MeanPool(rows [][]float64) ([]float64, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("rows must not be empty")
	}
	width := len(rows[0])
	out := make([]float64, width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d width mismatch: %d != %d", i, len(row), width)
		}
		for j, v := range row {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(rows))
	}
	return out, nil
}

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// Avg returns the arithmetic mean of values.
func Avg(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("values must not be empty")
	}
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	return sum / float64(len(values)), nil
}

// Std returns population standard deviation.
func Std(values []float64) (float64, error) {
	mean, err := Avg(values)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, value := range values {
		diff := mean - value
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values))), nil
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
