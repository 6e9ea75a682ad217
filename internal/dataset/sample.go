package dataset

import (
	"fmt"

	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
)

// IgnoreLabel marks residue and pair label positions that must never
// contribute loss or metric signal. Padded positions receive it, and
// ingestion may use it for unresolved residues.
const IgnoreLabel = -100

// Sample is one labeled sequence: an L×D embedding plus the label family
// of its protocol. Exactly one label family may be populated. Mask, when
// present, disables individual positions; padding masks are derived
// later by the batch assembler.
type Sample struct {
	ID             string
	Embedding      [][]float64
	Class          int
	Value          float64
	ResidueClasses []int
	ResidueValues  []float64
	PairClasses    [][]int
	Mask           []bool
}

func (s Sample) Length() int { return len(s.Embedding) }

func (s Sample) validate(desc protocol.Descriptor, dim int) error {
	if s.ID == "" {
		return fmt.Errorf("%w: sample id is required", model.ErrData)
	}
	length := len(s.Embedding)
	if length == 0 {
		return fmt.Errorf("%w: sample %s has empty embedding", model.ErrData, s.ID)
	}
	for i, row := range s.Embedding {
		if len(row) != dim {
			return fmt.Errorf("%w: sample %s embedding row %d width: got=%d want=%d", model.ErrData, s.ID, i, len(row), dim)
		}
	}
	if !desc.PerResidue && length != 1 {
		return fmt.Errorf("%w: sample %s: %s expects pooled embeddings, got length %d", model.ErrData, s.ID, desc.Name, length)
	}
	if s.Mask != nil && len(s.Mask) != length {
		return fmt.Errorf("%w: sample %s mask length: got=%d want=%d", model.ErrData, s.ID, len(s.Mask), length)
	}
	if !desc.PerResidue && s.Mask != nil && !s.Mask[0] {
		return fmt.Errorf("%w: sample %s: mask disables the only position", model.ErrData, s.ID)
	}

	switch desc.Name {
	case protocol.SequenceToClass:
		if err := s.requireOnly("class", false, false, false); err != nil {
			return err
		}
		if s.Class < 0 {
			return fmt.Errorf("%w: sample %s class must be >= 0, got %d", model.ErrData, s.ID, s.Class)
		}
	case protocol.SequenceToValue:
		if err := s.requireOnly("value", false, false, false); err != nil {
			return err
		}
		if !nn.Finite(s.Value) {
			return fmt.Errorf("%w: sample %s value is not finite", model.ErrData, s.ID)
		}
	case protocol.ResidueToClass:
		if err := s.requireOnly("residue classes", true, false, false); err != nil {
			return err
		}
		if len(s.ResidueClasses) != length {
			return fmt.Errorf("%w: sample %s residue classes length: got=%d want=%d", model.ErrData, s.ID, len(s.ResidueClasses), length)
		}
		for i, class := range s.ResidueClasses {
			if class < 0 && class != IgnoreLabel {
				return fmt.Errorf("%w: sample %s residue class %d invalid: %d", model.ErrData, s.ID, i, class)
			}
		}
	case protocol.ResidueToValue:
		if err := s.requireOnly("residue values", false, true, false); err != nil {
			return err
		}
		if len(s.ResidueValues) != length {
			return fmt.Errorf("%w: sample %s residue values length: got=%d want=%d", model.ErrData, s.ID, len(s.ResidueValues), length)
		}
		for i, v := range s.ResidueValues {
			if !nn.Finite(v) {
				return fmt.Errorf("%w: sample %s residue value %d is not finite", model.ErrData, s.ID, i)
			}
		}
	case protocol.ResiduePairToClass:
		if err := s.requireOnly("pair classes", false, false, true); err != nil {
			return err
		}
		if len(s.PairClasses) != length {
			return fmt.Errorf("%w: sample %s pair classes rows: got=%d want=%d", model.ErrData, s.ID, len(s.PairClasses), length)
		}
		for i, row := range s.PairClasses {
			if len(row) != length {
				return fmt.Errorf("%w: sample %s pair classes row %d length: got=%d want=%d", model.ErrData, s.ID, i, len(row), length)
			}
			for j, class := range row {
				if class < 0 && class != IgnoreLabel {
					return fmt.Errorf("%w: sample %s pair class (%d,%d) invalid: %d", model.ErrData, s.ID, i, j, class)
				}
			}
		}
	default:
		return fmt.Errorf("%w: unknown protocol: %s", model.ErrConfiguration, desc.Name)
	}
	return nil
}

// requireOnly rejects label families that do not belong to the protocol.
// keep names the allowed family for the error message.
func (s Sample) requireOnly(keep string, residueClasses, residueValues, pairClasses bool) error {
	if !residueClasses && s.ResidueClasses != nil {
		return fmt.Errorf("%w: sample %s carries residue classes, expected %s only", model.ErrData, s.ID, keep)
	}
	if !residueValues && s.ResidueValues != nil {
		return fmt.Errorf("%w: sample %s carries residue values, expected %s only", model.ErrData, s.ID, keep)
	}
	if !pairClasses && s.PairClasses != nil {
		return fmt.Errorf("%w: sample %s carries pair classes, expected %s only", model.ErrData, s.ID, keep)
	}
	return nil
}
