package protocol

import (
	"fmt"

	"github.com/heispv/biotrainer/internal/model"
)

// Protocol identifies the label/shape contract of a training run: what a
// sample's label looks like, how padding is masked, and which loss and
// metric families apply.
type Protocol string

const (
	SequenceToClass    Protocol = "sequence_to_class"
	SequenceToValue    Protocol = "sequence_to_value"
	ResidueToClass     Protocol = "residue_to_class"
	ResidueToValue     Protocol = "residue_to_value"
	ResiduePairToClass Protocol = "residue_pair_to_class"
)

const (
	LossCrossEntropy     = "cross_entropy"
	LossMeanSquaredError = "mean_squared_error"

	MetricFamilyClassification = "classification"
	MetricFamilyRegression     = "regression"
)

// Descriptor fixes the contract for one protocol. Adding a protocol means
// adding a constant and a table row, nothing else.
type Descriptor struct {
	Name             Protocol        `json:"name"`
	PerResidue       bool            `json:"per_residue"`
	Pairwise         bool            `json:"pairwise"`
	Classification   bool            `json:"classification"`
	LossFamily       string          `json:"loss_family"`
	MetricFamily     string          `json:"metric_family"`
	DefaultMonitor   string          `json:"default_monitor"`
	DefaultDirection model.Direction `json:"default_direction"`
}

func All() []Protocol {
	return []Protocol{
		SequenceToClass,
		SequenceToValue,
		ResidueToClass,
		ResidueToValue,
		ResiduePairToClass,
	}
}

func Describe(p Protocol) (Descriptor, error) {
	switch p {
	case SequenceToClass:
		return Descriptor{
			Name:             SequenceToClass,
			Classification:   true,
			LossFamily:       LossCrossEntropy,
			MetricFamily:     MetricFamilyClassification,
			DefaultMonitor:   "loss",
			DefaultDirection: model.DirectionMinimize,
		}, nil
	case SequenceToValue:
		return Descriptor{
			Name:             SequenceToValue,
			LossFamily:       LossMeanSquaredError,
			MetricFamily:     MetricFamilyRegression,
			DefaultMonitor:   "loss",
			DefaultDirection: model.DirectionMinimize,
		}, nil
	case ResidueToClass:
		return Descriptor{
			Name:             ResidueToClass,
			PerResidue:       true,
			Classification:   true,
			LossFamily:       LossCrossEntropy,
			MetricFamily:     MetricFamilyClassification,
			DefaultMonitor:   "loss",
			DefaultDirection: model.DirectionMinimize,
		}, nil
	case ResidueToValue:
		return Descriptor{
			Name:             ResidueToValue,
			PerResidue:       true,
			LossFamily:       LossMeanSquaredError,
			MetricFamily:     MetricFamilyRegression,
			DefaultMonitor:   "loss",
			DefaultDirection: model.DirectionMinimize,
		}, nil
	case ResiduePairToClass:
		return Descriptor{
			Name:             ResiduePairToClass,
			PerResidue:       true,
			Pairwise:         true,
			Classification:   true,
			LossFamily:       LossCrossEntropy,
			MetricFamily:     MetricFamilyClassification,
			DefaultMonitor:   "loss",
			DefaultDirection: model.DirectionMinimize,
		}, nil
	default:
		return Descriptor{}, fmt.Errorf("%w: unknown protocol: %s", model.ErrConfiguration, p)
	}
}

// MustDescribe is for the five built-in constants only.
func MustDescribe(p Protocol) Descriptor {
	desc, err := Describe(p)
	if err != nil {
		panic(err)
	}
	return desc
}
