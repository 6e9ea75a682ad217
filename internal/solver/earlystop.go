// Package solver drives training for a single fold: the epoch loop,
// early stopping with best-weight restoration, and checkpoint
// persistence.
package solver

import (
	"fmt"
	"math"

	"github.com/heispv/biotrainer/internal/arch"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
)

type State string

const (
	StateTraining State = "training"
	StateImproved State = "improved"
	StateStalled  State = "stalled"
	StateStopped  State = "stopped"
)

// Controller tracks the monitored validation metric and decides when
// training stops. It keeps the best weights in memory so the model can
// be restored to its best epoch, never its last.
type Controller struct {
	maxEpochs int
	patience  int
	minDelta  float64
	direction model.Direction

	state     State
	best      float64
	bestEpoch int
	wait      int
	snapshot  nn.Snapshot
	hasBest   bool
}

func NewController(maxEpochs, patience int, minDelta float64, direction model.Direction) (*Controller, error) {
	if maxEpochs <= 0 {
		return nil, fmt.Errorf("%w: max epochs must be > 0, got %d", model.ErrConfiguration, maxEpochs)
	}
	if patience < 0 {
		return nil, fmt.Errorf("%w: patience must be >= 0, got %d", model.ErrConfiguration, patience)
	}
	if minDelta < 0 {
		return nil, fmt.Errorf("%w: min delta must be >= 0, got %g", model.ErrConfiguration, minDelta)
	}
	switch direction {
	case model.DirectionMaximize, model.DirectionMinimize:
	default:
		return nil, fmt.Errorf("%w: unknown metric direction: %s", model.ErrConfiguration, direction)
	}
	return &Controller{
		maxEpochs: maxEpochs,
		patience:  patience,
		minDelta:  minDelta,
		direction: direction,
		state:     StateTraining,
	}, nil
}

func (c *Controller) State() State   { return c.state }
func (c *Controller) Best() float64  { return c.best }
func (c *Controller) BestEpoch() int { return c.bestEpoch }
func (c *Controller) Wait() int      { return c.wait }

// BestSnapshot is the weight snapshot taken at the best epoch. Only
// meaningful after an Improved observation.
func (c *Controller) BestSnapshot() nn.Snapshot { return c.snapshot }

// Observe records the monitored metric for an epoch (1-based) and
// returns the resulting state. An improvement snapshots the model's
// weights; a NaN metric never counts as improvement.
func (c *Controller) Observe(epoch int, metric float64, m arch.Model) (State, error) {
	if c.state == StateStopped {
		return c.state, fmt.Errorf("observe after stop")
	}

	if c.improves(metric) {
		c.best = metric
		c.bestEpoch = epoch
		c.wait = 0
		c.snapshot = m.Snapshot()
		c.hasBest = true
		c.state = StateImproved
	} else {
		c.wait++
		c.state = StateStalled
	}

	if (c.wait > 0 && c.wait >= c.patience) || epoch >= c.maxEpochs {
		c.state = StateStopped
	}
	return c.state, nil
}

func (c *Controller) improves(metric float64) bool {
	if math.IsNaN(metric) {
		return false
	}
	if !c.hasBest {
		return true
	}
	if c.direction == model.DirectionMaximize {
		return metric > c.best+c.minDelta
	}
	return metric < c.best-c.minDelta
}

// Finish restores the best weights into the model. ok is false when no
// finite metric was ever observed, in which case the model is left
// untouched.
func (c *Controller) Finish(m arch.Model) (bestEpoch int, best float64, ok bool, err error) {
	if !c.hasBest {
		return 0, 0, false, nil
	}
	if err := m.Restore(c.snapshot); err != nil {
		return 0, 0, false, err
	}
	return c.bestEpoch, c.best, true, nil
}
