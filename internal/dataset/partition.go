package dataset

import (
	"fmt"

	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
)

// Partition is an ordered, validated collection of samples for one split.
// It takes ownership of the sample slice at construction and is treated
// as immutable afterwards.
type Partition struct {
	proto   protocol.Protocol
	desc    protocol.Descriptor
	samples []Sample
	dim     int
	classes int
}

func NewPartition(proto protocol.Protocol, samples []Sample) (*Partition, error) {
	desc, err := protocol.Describe(proto)
	if err != nil {
		return nil, err
	}

	p := &Partition{proto: proto, desc: desc, samples: samples}
	if len(samples) == 0 {
		return p, nil
	}

	if len(samples[0].Embedding) == 0 || len(samples[0].Embedding[0]) == 0 {
		return nil, fmt.Errorf("%w: sample %s has empty embedding", model.ErrData, samples[0].ID)
	}
	p.dim = len(samples[0].Embedding[0])

	seen := make(map[string]struct{}, len(samples))
	for _, sample := range samples {
		if err := sample.validate(desc, p.dim); err != nil {
			return nil, err
		}
		if _, exists := seen[sample.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate sample id: %s", model.ErrData, sample.ID)
		}
		seen[sample.ID] = struct{}{}
	}
	p.classes = deriveClassCount(desc, samples)
	return p, nil
}

func (p *Partition) Protocol() protocol.Protocol     { return p.proto }
func (p *Partition) Descriptor() protocol.Descriptor { return p.desc }
func (p *Partition) Len() int                        { return len(p.samples) }
func (p *Partition) Dim() int                        { return p.dim }

// NumClasses is the derived class count (max class id + 1) over the
// partition's labels; zero for regression protocols.
func (p *Partition) NumClasses() int { return p.classes }

func (p *Partition) At(i int) Sample { return p.samples[i] }

func (p *Partition) IDs() []string {
	ids := make([]string, len(p.samples))
	for i, sample := range p.samples {
		ids[i] = sample.ID
	}
	return ids
}

func (p *Partition) Lengths() []int {
	lengths := make([]int, len(p.samples))
	for i, sample := range p.samples {
		lengths[i] = sample.Length()
	}
	return lengths
}

// Subset builds a partition over the samples at the given indices,
// sharing sample data with the parent. Order follows indices.
func (p *Partition) Subset(indices []int) (*Partition, error) {
	samples := make([]Sample, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(p.samples) {
			return nil, fmt.Errorf("%w: subset index out of range: %d", model.ErrData, idx)
		}
		samples = append(samples, p.samples[idx])
	}
	sub := &Partition{proto: p.proto, desc: p.desc, samples: samples, dim: p.dim}
	sub.classes = deriveClassCount(p.desc, samples)
	return sub, nil
}

// ClassCounts tallies label occurrences per class over valid positions;
// nil for regression protocols.
func (p *Partition) ClassCounts() []int {
	if !p.desc.Classification || p.classes == 0 {
		return nil
	}
	counts := make([]int, p.classes)
	for _, sample := range p.samples {
		switch p.desc.Name {
		case protocol.SequenceToClass:
			counts[sample.Class]++
		case protocol.ResidueToClass:
			for i, class := range sample.ResidueClasses {
				if class == IgnoreLabel || (sample.Mask != nil && !sample.Mask[i]) {
					continue
				}
				counts[class]++
			}
		case protocol.ResiduePairToClass:
			for i, row := range sample.PairClasses {
				for j, class := range row {
					if class == IgnoreLabel {
						continue
					}
					if sample.Mask != nil && (!sample.Mask[i] || !sample.Mask[j]) {
						continue
					}
					counts[class]++
				}
			}
		}
	}
	return counts
}

func deriveClassCount(desc protocol.Descriptor, samples []Sample) int {
	if !desc.Classification {
		return 0
	}
	max := -1
	for _, sample := range samples {
		switch desc.Name {
		case protocol.SequenceToClass:
			if sample.Class > max {
				max = sample.Class
			}
		case protocol.ResidueToClass:
			for _, class := range sample.ResidueClasses {
				if class != IgnoreLabel && class > max {
					max = class
				}
			}
		case protocol.ResiduePairToClass:
			for _, row := range sample.PairClasses {
				for _, class := range row {
					if class != IgnoreLabel && class > max {
						max = class
					}
				}
			}
		}
	}
	return max + 1
}
