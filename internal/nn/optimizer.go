package nn

import (
	"fmt"
	"math"
)

// Optimizer applies accumulated gradients to a network's parameters.
// Implementations keep per-network state and must not be shared across
// networks or folds.
type Optimizer interface {
	Name() string
	Step(net *Network, grads *Gradients) error
}

type SGD struct {
	LearningRate float64
	Momentum     float64

	velocityW [][][]float64
	velocityB [][]float64
}

func NewSGD(learningRate, momentum float64) (*SGD, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0, got %g", learningRate)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %g", momentum)
	}
	return &SGD{LearningRate: learningRate, Momentum: momentum}, nil
}

func (s *SGD) Name() string { return "sgd" }

func (s *SGD) Step(net *Network, grads *Gradients) error {
	if err := checkShapes(net, grads); err != nil {
		return err
	}
	if s.velocityW == nil {
		s.velocityW, s.velocityB = zeroLike(net)
	}
	for l := range net.weights {
		for j := range net.weights[l] {
			for i := range net.weights[l][j] {
				v := s.Momentum*s.velocityW[l][j][i] - s.LearningRate*grads.Weights[l][j][i]
				s.velocityW[l][j][i] = v
				net.weights[l][j][i] += v
			}
		}
		for j := range net.biases[l] {
			v := s.Momentum*s.velocityB[l][j] - s.LearningRate*grads.Biases[l][j]
			s.velocityB[l][j] = v
			net.biases[l][j] += v
		}
	}
	return nil
}

type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step    int
	momentW [][][]float64
	momentB [][]float64
	velocW  [][][]float64
	velocB  [][]float64
}

func NewAdam(learningRate, beta1, beta2, epsilon float64) (*Adam, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0, got %g", learningRate)
	}
	if beta1 < 0 || beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %g", beta1)
	}
	if beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %g", beta2)
	}
	if epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be > 0, got %g", epsilon)
	}
	return &Adam{LearningRate: learningRate, Beta1: beta1, Beta2: beta2, Epsilon: epsilon}, nil
}

func (a *Adam) Name() string { return "adam" }

func (a *Adam) Step(net *Network, grads *Gradients) error {
	if err := checkShapes(net, grads); err != nil {
		return err
	}
	if a.momentW == nil {
		a.momentW, a.momentB = zeroLike(net)
		a.velocW, a.velocB = zeroLike(net)
	}
	a.step++
	correction1 := 1 - math.Pow(a.Beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.Beta2, float64(a.step))

	update := func(param *float64, grad float64, m, v *float64) {
		*m = a.Beta1**m + (1-a.Beta1)*grad
		*v = a.Beta2**v + (1-a.Beta2)*grad*grad
		mHat := *m / correction1
		vHat := *v / correction2
		*param -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
	}

	for l := range net.weights {
		for j := range net.weights[l] {
			for i := range net.weights[l][j] {
				update(&net.weights[l][j][i], grads.Weights[l][j][i], &a.momentW[l][j][i], &a.velocW[l][j][i])
			}
		}
		for j := range net.biases[l] {
			update(&net.biases[l][j], grads.Biases[l][j], &a.momentB[l][j], &a.velocB[l][j])
		}
	}
	return nil
}

func checkShapes(net *Network, grads *Gradients) error {
	if grads == nil {
		return fmt.Errorf("gradients are required")
	}
	if len(grads.Weights) != len(net.weights) || len(grads.Biases) != len(net.biases) {
		return fmt.Errorf("gradient depth mismatch: got=%d want=%d", len(grads.Weights), len(net.weights))
	}
	for l := range net.weights {
		if len(grads.Weights[l]) != len(net.weights[l]) || len(grads.Biases[l]) != len(net.biases[l]) {
			return fmt.Errorf("gradient layer %d size mismatch", l)
		}
	}
	return nil
}

func zeroLike(net *Network) ([][][]float64, [][]float64) {
	weights := make([][][]float64, len(net.weights))
	biases := make([][]float64, len(net.biases))
	for l := range net.weights {
		weights[l] = make([][]float64, len(net.weights[l]))
		for j := range net.weights[l] {
			weights[l][j] = make([]float64, len(net.weights[l][j]))
		}
		biases[l] = make([]float64, len(net.biases[l]))
	}
	return weights, biases
}
