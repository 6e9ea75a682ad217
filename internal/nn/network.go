package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Spec describes a dense feed-forward network. Hidden layers share one
// activation; the output layer is linear so losses can interpret raw
// scores.
type Spec struct {
	Inputs     int     `json:"inputs"`
	Hidden     []int   `json:"hidden,omitempty"`
	Outputs    int     `json:"outputs"`
	Activation string  `json:"activation"`
	Dropout    float64 `json:"dropout,omitempty"`
}

func (s Spec) validate() error {
	if s.Inputs <= 0 {
		return fmt.Errorf("inputs must be > 0, got %d", s.Inputs)
	}
	if s.Outputs <= 0 {
		return fmt.Errorf("outputs must be > 0, got %d", s.Outputs)
	}
	for i, h := range s.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden layer %d must be > 0, got %d", i, h)
		}
	}
	if s.Dropout < 0 || s.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %g", s.Dropout)
	}
	if _, err := Activation(s.Activation); err != nil {
		return err
	}
	return nil
}

func (s Spec) layerSizes() []int {
	sizes := make([]int, 0, len(s.Hidden)+2)
	sizes = append(sizes, s.Inputs)
	sizes = append(sizes, s.Hidden...)
	sizes = append(sizes, s.Outputs)
	return sizes
}

// Network holds weights for one dense feed-forward net. It is not safe
// for concurrent mutation; each fold owns its own instance.
type Network struct {
	spec    Spec
	act     ActivationFunc
	weights [][][]float64 // layer -> out -> in
	biases  [][]float64   // layer -> out
}

func NewNetwork(spec Spec, seed int64) (*Network, error) {
	if spec.Activation == "" {
		spec.Activation = "relu"
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("network spec: %w", err)
	}
	act, err := Activation(spec.Activation)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	sizes := spec.layerSizes()
	weights := make([][][]float64, len(sizes)-1)
	biases := make([][]float64, len(sizes)-1)
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(2.0 / float64(in))
		weights[l] = make([][]float64, out)
		biases[l] = make([]float64, out)
		for j := 0; j < out; j++ {
			row := make([]float64, in)
			for i := range row {
				row[i] = rng.NormFloat64() * scale
			}
			weights[l][j] = row
		}
	}

	return &Network{spec: spec, act: act, weights: weights, biases: biases}, nil
}

func (n *Network) Spec() Spec {
	spec := n.spec
	spec.Hidden = append([]int(nil), n.spec.Hidden...)
	return spec
}

func (n *Network) Inputs() int  { return n.spec.Inputs }
func (n *Network) Outputs() int { return n.spec.Outputs }

func (n *Network) ParamCount() int {
	count := 0
	for l := range n.weights {
		for _, row := range n.weights[l] {
			count += len(row)
		}
		count += len(n.biases[l])
	}
	return count
}

// Trace retains per-layer pre-activations and activations from one
// forward pass so Backward can run without recomputation.
type Trace struct {
	acts     [][]float64 // acts[0] is the input
	preacts  [][]float64
	dropMask [][]float64 // nil when dropout was inactive
}

func (n *Network) Forward(input []float64) ([]float64, error) {
	out, _, err := n.forward(input, false, nil)
	return out, err
}

// ForwardTrain runs a forward pass with dropout active, returning the
// trace needed for Backward. rng drives the dropout mask.
func (n *Network) ForwardTrain(input []float64, rng *rand.Rand) ([]float64, *Trace, error) {
	return n.forward(input, true, rng)
}

// ForwardStochastic applies dropout without recording a trace. Used for
// Monte-Carlo dropout inference.
func (n *Network) ForwardStochastic(input []float64, rng *rand.Rand) ([]float64, error) {
	out, _, err := n.forward(input, true, rng)
	return out, err
}

func (n *Network) forward(input []float64, train bool, rng *rand.Rand) ([]float64, *Trace, error) {
	if len(input) != n.spec.Inputs {
		return nil, nil, fmt.Errorf("input width mismatch: got=%d want=%d", len(input), n.spec.Inputs)
	}
	dropout := train && n.spec.Dropout > 0 && rng != nil

	trace := &Trace{
		acts:    make([][]float64, len(n.weights)+1),
		preacts: make([][]float64, len(n.weights)),
	}
	if dropout {
		trace.dropMask = make([][]float64, len(n.weights))
	}
	trace.acts[0] = append([]float64(nil), input...)

	current := trace.acts[0]
	for l := range n.weights {
		last := l == len(n.weights)-1
		out := make([]float64, len(n.weights[l]))
		pre := make([]float64, len(n.weights[l]))
		for j, row := range n.weights[l] {
			sum := n.biases[l][j]
			for i, w := range row {
				sum += w * current[i]
			}
			pre[j] = sum
			if last {
				out[j] = sum
			} else {
				out[j] = n.act(sum)
			}
		}
		if dropout && !last {
			keep := 1 - n.spec.Dropout
			mask := make([]float64, len(out))
			for j := range out {
				if rng.Float64() < keep {
					mask[j] = 1 / keep
				}
				out[j] *= mask[j]
			}
			trace.dropMask[l] = mask
		}
		trace.preacts[l] = pre
		trace.acts[l+1] = out
		current = out
	}
	return current, trace, nil
}

// Gradients accumulates parameter gradients across positions of a batch.
type Gradients struct {
	Weights [][][]float64
	Biases  [][]float64
}

func (n *Network) NewGradients() *Gradients {
	g := &Gradients{
		Weights: make([][][]float64, len(n.weights)),
		Biases:  make([][]float64, len(n.biases)),
	}
	for l := range n.weights {
		g.Weights[l] = make([][]float64, len(n.weights[l]))
		for j := range n.weights[l] {
			g.Weights[l][j] = make([]float64, len(n.weights[l][j]))
		}
		g.Biases[l] = make([]float64, len(n.biases[l]))
	}
	return g
}

func (g *Gradients) Scale(factor float64) {
	for l := range g.Weights {
		for j := range g.Weights[l] {
			for i := range g.Weights[l][j] {
				g.Weights[l][j][i] *= factor
			}
		}
		for j := range g.Biases[l] {
			g.Biases[l][j] *= factor
		}
	}
}

func (g *Gradients) Finite() bool {
	for l := range g.Weights {
		for j := range g.Weights[l] {
			for _, v := range g.Weights[l][j] {
				if !Finite(v) {
					return false
				}
			}
		}
		for _, v := range g.Biases[l] {
			if !Finite(v) {
				return false
			}
		}
	}
	return true
}

// Backward propagates outGrad (d loss / d output) through the trace and
// accumulates parameter gradients into grads.
func (n *Network) Backward(trace *Trace, outGrad []float64, grads *Gradients) error {
	if trace == nil || len(trace.preacts) != len(n.weights) {
		return fmt.Errorf("trace does not match network depth")
	}
	if len(outGrad) != n.spec.Outputs {
		return fmt.Errorf("output grad width mismatch: got=%d want=%d", len(outGrad), n.spec.Outputs)
	}

	delta := append([]float64(nil), outGrad...)
	for l := len(n.weights) - 1; l >= 0; l-- {
		if l < len(n.weights)-1 {
			// Hidden layer: apply dropout mask and activation derivative.
			for j := range delta {
				if trace.dropMask != nil && trace.dropMask[l] != nil {
					delta[j] *= trace.dropMask[l][j]
				}
				d, err := Derivative(n.spec.Activation, trace.preacts[l][j])
				if err != nil {
					return err
				}
				delta[j] *= d
			}
		}

		prev := trace.acts[l]
		for j, dj := range delta {
			grads.Biases[l][j] += dj
			row := grads.Weights[l][j]
			for i, a := range prev {
				row[i] += dj * a
			}
		}

		if l > 0 {
			next := make([]float64, len(prev))
			for i := range next {
				sum := 0.0
				for j, dj := range delta {
					sum += dj * n.weights[l][j][i]
				}
				next[i] = sum
			}
			delta = next
		}
	}
	return nil
}

// Snapshot is a deep copy of the network's parameters.
type Snapshot struct {
	Weights [][][]float64 `json:"weights"`
	Biases  [][]float64   `json:"biases"`
}

func (n *Network) Snapshot() Snapshot {
	weights := make([][][]float64, len(n.weights))
	biases := make([][]float64, len(n.biases))
	for l := range n.weights {
		weights[l] = make([][]float64, len(n.weights[l]))
		for j := range n.weights[l] {
			weights[l][j] = append([]float64(nil), n.weights[l][j]...)
		}
		biases[l] = append([]float64(nil), n.biases[l]...)
	}
	return Snapshot{Weights: weights, Biases: biases}
}

func (n *Network) Restore(snapshot Snapshot) error {
	if len(snapshot.Weights) != len(n.weights) || len(snapshot.Biases) != len(n.biases) {
		return fmt.Errorf("snapshot depth mismatch: got=%d want=%d", len(snapshot.Weights), len(n.weights))
	}
	for l := range n.weights {
		if len(snapshot.Weights[l]) != len(n.weights[l]) || len(snapshot.Biases[l]) != len(n.biases[l]) {
			return fmt.Errorf("snapshot layer %d size mismatch", l)
		}
		for j := range n.weights[l] {
			if len(snapshot.Weights[l][j]) != len(n.weights[l][j]) {
				return fmt.Errorf("snapshot layer %d row %d width mismatch", l, j)
			}
			copy(n.weights[l][j], snapshot.Weights[l][j])
		}
		copy(n.biases[l], snapshot.Biases[l])
	}
	return nil
}
