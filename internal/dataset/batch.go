package dataset

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
)

// Batch is one collated group of samples, padded to the batch's longest
// sequence. Embeddings pad with zeros, class labels with IgnoreLabel,
// values with zero; Mask marks exactly the valid positions. Batches are
// ephemeral and never alias partition data.
type Batch struct {
	IDs        []string
	Lengths    []int
	Embeddings [][][]float64
	Mask       [][]bool

	Classes        []int
	Values         []float64
	ResidueClasses [][]int
	ResidueValues  [][]float64
	PairClasses    [][][]int
	PairMask       [][][]bool
}

func (b Batch) Size() int { return len(b.IDs) }

// MaxLen is the padded sequence length shared by the batch's tensors.
func (b Batch) MaxLen() int {
	if len(b.Mask) == 0 {
		return 0
	}
	return len(b.Mask[0])
}

// LabelRow is one scorable position of a batch: the sample index, the
// residue indices it covers (J is -1 except for pair rows) and its
// label. Exactly one of Class or Value is meaningful per protocol.
type LabelRow struct {
	Sample int
	I      int
	J      int
	Class  int
	Value  float64
}

// LabelRows enumerates the batch's valid label positions in a fixed
// order: samples ascending, positions ascending, pair rows row-major.
// Padded, masked and ignore-labeled positions yield no row, so model
// scores built from the same enumeration align with labels one to one.
func (b Batch) LabelRows(desc protocol.Descriptor) []LabelRow {
	var rows []LabelRow
	switch desc.Name {
	case protocol.SequenceToClass:
		for s := range b.IDs {
			rows = append(rows, LabelRow{Sample: s, I: 0, J: -1, Class: b.Classes[s]})
		}
	case protocol.SequenceToValue:
		for s := range b.IDs {
			rows = append(rows, LabelRow{Sample: s, I: 0, J: -1, Value: b.Values[s]})
		}
	case protocol.ResidueToClass:
		for s := range b.IDs {
			for i, valid := range b.Mask[s] {
				if !valid || b.ResidueClasses[s][i] == IgnoreLabel {
					continue
				}
				rows = append(rows, LabelRow{Sample: s, I: i, J: -1, Class: b.ResidueClasses[s][i]})
			}
		}
	case protocol.ResidueToValue:
		for s := range b.IDs {
			for i, valid := range b.Mask[s] {
				if !valid {
					continue
				}
				rows = append(rows, LabelRow{Sample: s, I: i, J: -1, Value: b.ResidueValues[s][i]})
			}
		}
	case protocol.ResiduePairToClass:
		for s := range b.IDs {
			for i := range b.PairMask[s] {
				for j, valid := range b.PairMask[s][i] {
					if !valid || b.PairClasses[s][i][j] == IgnoreLabel {
						continue
					}
					rows = append(rows, LabelRow{Sample: s, I: i, J: j, Class: b.PairClasses[s][i][j]})
				}
			}
		}
	}
	return rows
}

type Options struct {
	BatchSize      int
	Shuffle        bool
	BucketByLength bool
	Seed           int64
}

// Assembler groups a partition into batches. The same seed and epoch
// always reproduce the same batch sequence.
type Assembler struct {
	part *Partition
	opts Options
}

func NewAssembler(part *Partition, opts Options) (*Assembler, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", model.ErrConfiguration, opts.BatchSize)
	}
	if part == nil || part.Len() == 0 {
		return nil, fmt.Errorf("%w: partition is empty", model.ErrConfiguration)
	}
	return &Assembler{part: part, opts: opts}, nil
}

// InputRows enumerates scorable positions by validity mask alone, in
// the same order LabelRows uses. It serves prediction on unlabeled
// batches; label fields in the returned rows stay zero.
func (b Batch) InputRows(desc protocol.Descriptor) []LabelRow {
	var rows []LabelRow
	switch {
	case desc.Pairwise:
		for s := range b.IDs {
			for i := range b.PairMask[s] {
				for j, valid := range b.PairMask[s][i] {
					if valid {
						rows = append(rows, LabelRow{Sample: s, I: i, J: j})
					}
				}
			}
		}
	case desc.PerResidue:
		for s := range b.IDs {
			for i, valid := range b.Mask[s] {
				if valid {
					rows = append(rows, LabelRow{Sample: s, I: i, J: -1})
				}
			}
		}
	default:
		for s := range b.IDs {
			rows = append(rows, LabelRow{Sample: s, I: 0, J: -1})
		}
	}
	return rows
}

func (a *Assembler) NumBatches() int {
	return (a.part.Len() + a.opts.BatchSize - 1) / a.opts.BatchSize
}

// Batches opens a finite, restartable stream over the epoch's batches.
// Collation happens lazily on Next.
func (a *Assembler) Batches(epoch int) *BatchStream {
	stream := &BatchStream{assembler: a, epoch: epoch}
	stream.Reset()
	return stream
}

type BatchStream struct {
	assembler *Assembler
	epoch     int
	order     []int
	cursor    int
}

// Reset replays the stream from the beginning with the identical order.
func (s *BatchStream) Reset() {
	s.order = s.assembler.epochOrder(s.epoch)
	s.cursor = 0
}

func (s *BatchStream) Next() (Batch, bool) {
	if s.cursor >= len(s.order) {
		return Batch{}, false
	}
	end := s.cursor + s.assembler.opts.BatchSize
	if end > len(s.order) {
		end = len(s.order)
	}
	batch := s.assembler.collate(s.order[s.cursor:end])
	s.cursor = end
	return batch, true
}

// epochOrder fixes the sample order for one epoch. Bucketing sorts by
// length and shuffles whole buckets so the short tail bucket stays last
// and batches keep uniform lengths where the data allows.
func (a *Assembler) epochOrder(epoch int) []int {
	n := a.part.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	rng := rand.New(rand.NewSource(a.opts.Seed + int64(epoch)))
	if a.opts.BucketByLength {
		lengths := a.part.Lengths()
		sort.SliceStable(order, func(i, j int) bool {
			return lengths[order[i]] < lengths[order[j]]
		})
		if a.opts.Shuffle {
			size := a.opts.BatchSize
			full := n / size
			buckets := make([][]int, 0, full+1)
			for b := 0; b < full; b++ {
				buckets = append(buckets, order[b*size:(b+1)*size])
			}
			rng.Shuffle(len(buckets), func(i, j int) {
				buckets[i], buckets[j] = buckets[j], buckets[i]
			})
			shuffled := make([]int, 0, n)
			for _, bucket := range buckets {
				shuffled = append(shuffled, bucket...)
			}
			shuffled = append(shuffled, order[full*size:]...)
			return shuffled
		}
		return order
	}

	if a.opts.Shuffle {
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

func (a *Assembler) collate(indices []int) Batch {
	desc := a.part.Descriptor()
	size := len(indices)

	maxLen := 0
	for _, idx := range indices {
		if l := a.part.At(idx).Length(); l > maxLen {
			maxLen = l
		}
	}

	batch := Batch{
		IDs:        make([]string, size),
		Lengths:    make([]int, size),
		Embeddings: make([][][]float64, size),
		Mask:       make([][]bool, size),
	}
	switch desc.Name {
	case protocol.SequenceToClass:
		batch.Classes = make([]int, size)
	case protocol.SequenceToValue:
		batch.Values = make([]float64, size)
	case protocol.ResidueToClass:
		batch.ResidueClasses = make([][]int, size)
	case protocol.ResidueToValue:
		batch.ResidueValues = make([][]float64, size)
	case protocol.ResiduePairToClass:
		batch.PairClasses = make([][][]int, size)
		batch.PairMask = make([][][]bool, size)
	}

	for b, idx := range indices {
		sample := a.part.At(idx)
		length := sample.Length()
		batch.IDs[b] = sample.ID
		batch.Lengths[b] = length

		rows := make([][]float64, maxLen)
		mask := make([]bool, maxLen)
		for i := 0; i < maxLen; i++ {
			row := make([]float64, a.part.Dim())
			if i < length {
				copy(row, sample.Embedding[i])
				mask[i] = sample.Mask == nil || sample.Mask[i]
			}
			rows[i] = row
		}
		batch.Embeddings[b] = rows
		batch.Mask[b] = mask

		switch desc.Name {
		case protocol.SequenceToClass:
			batch.Classes[b] = sample.Class
		case protocol.SequenceToValue:
			batch.Values[b] = sample.Value
		case protocol.ResidueToClass:
			classes := make([]int, maxLen)
			for i := range classes {
				if i < length {
					classes[i] = sample.ResidueClasses[i]
				} else {
					classes[i] = IgnoreLabel
				}
			}
			batch.ResidueClasses[b] = classes
		case protocol.ResidueToValue:
			values := make([]float64, maxLen)
			copy(values, sample.ResidueValues)
			batch.ResidueValues[b] = values
		case protocol.ResiduePairToClass:
			classes := make([][]int, maxLen)
			pairMask := make([][]bool, maxLen)
			for i := 0; i < maxLen; i++ {
				classRow := make([]int, maxLen)
				maskRow := make([]bool, maxLen)
				for j := 0; j < maxLen; j++ {
					if i < length && j < length {
						classRow[j] = sample.PairClasses[i][j]
						maskRow[j] = mask[i] && mask[j]
					} else {
						classRow[j] = IgnoreLabel
					}
				}
				classes[i] = classRow
				pairMask[i] = maskRow
			}
			batch.PairClasses[b] = classes
			batch.PairMask[b] = pairMask
		}
	}
	return batch
}
