// Package arch binds dense networks to prediction protocols. A Model
// scores one output row per valid label position, so the training loop
// stays protocol agnostic: position handling and pair concatenation
// live here.
package arch

import (
	"fmt"
	"math/rand"

	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
)

const (
	NameFNN      = "fnn"
	NameLinear   = "linear"
	NamePairwise = "pairwise"
)

func Names() []string {
	return []string{NameFNN, NameLinear, NamePairwise}
}

// Config selects and shapes a built-in architecture. Zero values fall
// back to an fnn with one hidden layer of 32 relu units and no dropout.
type Config struct {
	Name       string  `json:"name"`
	Hidden     []int   `json:"hidden,omitempty"`
	Activation string  `json:"activation,omitempty"`
	Dropout    float64 `json:"dropout,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = NameFNN
	}
	if c.Activation == "" {
		c.Activation = "relu"
	}
	if c.Hidden == nil && c.Name != NameLinear {
		c.Hidden = []int{32}
	}
	return c
}

// Model scores batches row by row. Forward with train=true records the
// traces the next Backward consumes; implementations are not safe for
// concurrent use.
type Model interface {
	Name() string
	InputDim() int
	OutputDim() int
	ParamCount() int
	Forward(batch dataset.Batch, rows []dataset.LabelRow, train bool) ([][]float64, error)
	// Stochastic scores rows with dropout active and no trace recording.
	Stochastic(batch dataset.Batch, rows []dataset.LabelRow) ([][]float64, error)
	Backward(rowGrads [][]float64) (*nn.Gradients, error)
	Step(opt nn.Optimizer, grads *nn.Gradients) error
	Snapshot() nn.Snapshot
	Restore(nn.Snapshot) error
}

// Factory builds a fresh model for one fold from the training
// partition's embedding dimension and class count.
type Factory func(dim, numClasses int, seed int64) (Model, error)

// Factory binds the config to a descriptor so each fold can build its
// own instance.
func (c Config) Factory(desc protocol.Descriptor) Factory {
	return func(dim, numClasses int, seed int64) (Model, error) {
		return New(desc, c, dim, numClasses, seed)
	}
}

// New builds a model for the descriptor. Classification protocols need
// numClasses >= 2; regression protocols ignore it.
func New(desc protocol.Descriptor, cfg Config, dim, numClasses int, seed int64) (Model, error) {
	cfg = cfg.withDefaults()

	outputs := 1
	if desc.Classification {
		if numClasses < 2 {
			return nil, fmt.Errorf("%w: %s needs at least 2 classes, got %d", model.ErrConfiguration, desc.Name, numClasses)
		}
		outputs = numClasses
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be > 0, got %d", model.ErrConfiguration, dim)
	}

	switch cfg.Name {
	case NameFNN, NamePairwise:
	case NameLinear:
		if len(cfg.Hidden) != 0 {
			return nil, fmt.Errorf("%w: linear model takes no hidden layers", model.ErrConfiguration)
		}
		if cfg.Dropout != 0 {
			return nil, fmt.Errorf("%w: linear model takes no dropout", model.ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("%w: unknown model: %s", model.ErrConfiguration, cfg.Name)
	}
	if desc.Pairwise != (cfg.Name == NamePairwise) {
		if desc.Pairwise {
			return nil, fmt.Errorf("%w: %s needs the %s model", model.ErrConfiguration, desc.Name, NamePairwise)
		}
		return nil, fmt.Errorf("%w: %s model needs a pair protocol, got %s", model.ErrConfiguration, NamePairwise, desc.Name)
	}

	width := dim
	if desc.Pairwise {
		width = 2 * dim
	}
	net, err := nn.NewNetwork(nn.Spec{
		Inputs:     width,
		Hidden:     cfg.Hidden,
		Outputs:    outputs,
		Activation: cfg.Activation,
		Dropout:    cfg.Dropout,
	}, seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}

	return &netModel{
		name: cfg.Name,
		pair: desc.Pairwise,
		dim:  dim,
		net:  net,
		rng:  rand.New(rand.NewSource(seed + 1)),
	}, nil
}

type netModel struct {
	name   string
	pair   bool
	dim    int
	net    *nn.Network
	rng    *rand.Rand
	traces []*nn.Trace
}

func (m *netModel) Name() string    { return m.name }
func (m *netModel) InputDim() int   { return m.net.Inputs() }
func (m *netModel) OutputDim() int  { return m.net.Outputs() }
func (m *netModel) ParamCount() int { return m.net.ParamCount() }

func (m *netModel) input(batch dataset.Batch, row dataset.LabelRow) []float64 {
	emb := batch.Embeddings[row.Sample]
	if !m.pair {
		return emb[row.I]
	}
	joined := make([]float64, 0, 2*m.dim)
	joined = append(joined, emb[row.I]...)
	joined = append(joined, emb[row.J]...)
	return joined
}

func (m *netModel) Forward(batch dataset.Batch, rows []dataset.LabelRow, train bool) ([][]float64, error) {
	scores := make([][]float64, len(rows))
	if train {
		m.traces = make([]*nn.Trace, len(rows))
	} else {
		m.traces = nil
	}
	for i, row := range rows {
		input := m.input(batch, row)
		if train {
			out, trace, err := m.net.ForwardTrain(input, m.rng)
			if err != nil {
				return nil, err
			}
			scores[i] = out
			m.traces[i] = trace
			continue
		}
		out, err := m.net.Forward(input)
		if err != nil {
			return nil, err
		}
		scores[i] = out
	}
	return scores, nil
}

func (m *netModel) Stochastic(batch dataset.Batch, rows []dataset.LabelRow) ([][]float64, error) {
	scores := make([][]float64, len(rows))
	for i, row := range rows {
		out, err := m.net.ForwardStochastic(m.input(batch, row), m.rng)
		if err != nil {
			return nil, err
		}
		scores[i] = out
	}
	return scores, nil
}

func (m *netModel) Backward(rowGrads [][]float64) (*nn.Gradients, error) {
	if m.traces == nil {
		return nil, fmt.Errorf("backward without a preceding training forward")
	}
	if len(rowGrads) != len(m.traces) {
		return nil, fmt.Errorf("gradient rows disagree with forward rows: got=%d want=%d", len(rowGrads), len(m.traces))
	}
	grads := m.net.NewGradients()
	for i, trace := range m.traces {
		if err := m.net.Backward(trace, rowGrads[i], grads); err != nil {
			return nil, err
		}
	}
	m.traces = nil
	return grads, nil
}

func (m *netModel) Step(opt nn.Optimizer, grads *nn.Gradients) error {
	return opt.Step(m.net, grads)
}

func (m *netModel) Snapshot() nn.Snapshot { return m.net.Snapshot() }

func (m *netModel) Restore(snapshot nn.Snapshot) error { return m.net.Restore(snapshot) }

// Predictions holds decoded scores: class ids plus probabilities for
// classification rows, scalar values for regression rows.
type Predictions struct {
	Classes []int
	Probs   [][]float64
	Values  []float64
}

// Decode maps raw score rows to protocol-shaped predictions.
func Decode(desc protocol.Descriptor, scores [][]float64) Predictions {
	var pred Predictions
	if desc.Classification {
		pred.Classes = make([]int, len(scores))
		pred.Probs = make([][]float64, len(scores))
		for i, row := range scores {
			pred.Classes[i] = nn.ArgMax(row)
			pred.Probs[i] = nn.Softmax(row)
		}
		return pred
	}
	pred.Values = make([]float64, len(scores))
	for i, row := range scores {
		pred.Values[i] = row[0]
	}
	return pred
}
