package main

import (
	"fmt"

	"github.com/heispv/biotrainer/internal/stats"
)

// trainProfile is a named bundle of per-protocol training defaults.
// Residue protocols score many positions per sequence, so their
// profiles shrink the batch and the epoch budget; the pair protocol
// scores L x L positions and shrinks both further.
type trainProfile struct {
	Protocol   string
	Model      string
	Hidden     []int
	Activation string
	Dropout    float64
	BatchSize  int
	MaxEpochs  int
	Patience   int
}

func trainProfiles() []trainProfile {
	return []trainProfile{
		{
			Protocol:   "sequence_to_class",
			Model:      "fnn",
			Hidden:     []int{64, 32},
			Activation: "relu",
			Dropout:    0.25,
			BatchSize:  128,
			MaxEpochs:  200,
			Patience:   20,
		},
		{
			Protocol:   "sequence_to_value",
			Model:      "fnn",
			Hidden:     []int{64, 32},
			Activation: "relu",
			Dropout:    0.1,
			BatchSize:  128,
			MaxEpochs:  200,
			Patience:   20,
		},
		{
			Protocol:   "residue_to_class",
			Model:      "fnn",
			Hidden:     []int{32},
			Activation: "relu",
			Dropout:    0.25,
			BatchSize:  64,
			MaxEpochs:  150,
			Patience:   15,
		},
		{
			Protocol:   "residue_to_value",
			Model:      "fnn",
			Hidden:     []int{32},
			Activation: "relu",
			Dropout:    0.1,
			BatchSize:  64,
			MaxEpochs:  150,
			Patience:   15,
		},
		{
			Protocol:   "residue_pair_to_class",
			Model:      "pairwise",
			Hidden:     []int{32},
			Activation: "relu",
			Dropout:    0.25,
			BatchSize:  16,
			MaxEpochs:  100,
			Patience:   10,
		},
	}
}

func resolveTrainProfile(id string) (trainProfile, error) {
	for _, profile := range trainProfiles() {
		if profile.Protocol == id {
			return profile, nil
		}
	}
	return trainProfile{}, fmt.Errorf("profile not found: %s", id)
}

func applyTrainProfile(cfg *stats.RunConfig, id string) error {
	profile, err := resolveTrainProfile(id)
	if err != nil {
		return err
	}
	if cfg.Protocol == "" {
		cfg.Protocol = profile.Protocol
	}
	cfg.Model = profile.Model
	cfg.Hidden = profile.Hidden
	cfg.Activation = profile.Activation
	cfg.Dropout = profile.Dropout
	cfg.BatchSize = profile.BatchSize
	cfg.MaxEpochs = profile.MaxEpochs
	cfg.Patience = profile.Patience
	return nil
}
