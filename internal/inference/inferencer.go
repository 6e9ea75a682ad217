package inference

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/heispv/biotrainer/internal/arch"
	"github.com/heispv/biotrainer/internal/dataio"
	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
)

const predictBatchSize = 32

// Inferencer rebuilds an exported model and scores new embedding files
// with it. Not safe for concurrent use; all predictions share one
// model instance.
type Inferencer struct {
	export Export
	desc   protocol.Descriptor
	model  arch.Model
}

// NewInferencer rebuilds the exported model. seed drives only the
// stochastic passes of Monte-Carlo dropout; deterministic predictions
// do not depend on it.
func NewInferencer(exp Export, seed int64) (*Inferencer, error) {
	if err := exp.validate(); err != nil {
		return nil, err
	}
	desc, err := protocol.Describe(exp.Protocol)
	if err != nil {
		return nil, err
	}
	m, err := arch.New(desc, exp.Arch, exp.InputDim, exp.NumClasses, seed)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(exp.Weights); err != nil {
		return nil, fmt.Errorf("%w: export weights: %v", model.ErrData, err)
	}
	return &Inferencer{export: exp, desc: desc, model: m}, nil
}

// LoadInferencer reads an export artifact and rebuilds its model.
func LoadInferencer(path string, seed int64) (*Inferencer, error) {
	exp, err := ReadExportFile(path)
	if err != nil {
		return nil, err
	}
	return NewInferencer(exp, seed)
}

func (inf *Inferencer) Export() Export                  { return inf.export }
func (inf *Inferencer) Descriptor() protocol.Descriptor { return inf.desc }

// Result carries decoded predictions for one embedding file, ids
// ascending. Only the fields of the model's protocol are populated;
// the name fields stay empty when the export carries no class names.
type Result struct {
	Protocol protocol.Protocol `json:"protocol"`
	IDs      []string          `json:"ids"`

	Classes []int       `json:"classes,omitempty"`
	Labels  []string    `json:"labels,omitempty"`
	Probs   [][]float64 `json:"probs,omitempty"`
	Values  []float64   `json:"values,omitempty"`

	ResidueClasses [][]int     `json:"residue_classes,omitempty"`
	ResidueLabels  []string    `json:"residue_labels,omitempty"`
	ResidueValues  [][]float64 `json:"residue_values,omitempty"`

	PairClasses [][][]int `json:"pair_classes,omitempty"`
}

// Predict scores every sequence of the embedding file in id order.
// Per-residue embeddings are mean-pooled for sequence-level protocols.
func (inf *Inferencer) Predict(ctx context.Context, file dataio.EmbeddingFile) (Result, error) {
	part, err := inf.partition(file)
	if err != nil {
		return Result{}, err
	}
	asm, err := dataset.NewAssembler(part, dataset.Options{BatchSize: predictBatchSize})
	if err != nil {
		return Result{}, err
	}

	res := Result{Protocol: inf.desc.Name, IDs: part.IDs()}
	switch inf.desc.Name {
	case protocol.SequenceToClass:
		res.Classes = make([]int, part.Len())
		res.Probs = make([][]float64, part.Len())
	case protocol.SequenceToValue:
		res.Values = make([]float64, part.Len())
	case protocol.ResidueToClass:
		res.ResidueClasses = make([][]int, part.Len())
		for i := range res.ResidueClasses {
			res.ResidueClasses[i] = make([]int, part.At(i).Length())
		}
	case protocol.ResidueToValue:
		res.ResidueValues = make([][]float64, part.Len())
		for i := range res.ResidueValues {
			res.ResidueValues[i] = make([]float64, part.At(i).Length())
		}
	case protocol.ResiduePairToClass:
		res.PairClasses = make([][][]int, part.Len())
		for i := range res.PairClasses {
			length := part.At(i).Length()
			pairs := make([][]int, length)
			for j := range pairs {
				pairs[j] = make([]int, length)
			}
			res.PairClasses[i] = pairs
		}
	}

	offset := 0
	stream := asm.Batches(0)
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		batch, ok := stream.Next()
		if !ok {
			break
		}
		rows := batch.InputRows(inf.desc)
		scores, err := inf.model.Forward(batch, rows, false)
		if err != nil {
			return Result{}, err
		}
		pred := arch.Decode(inf.desc, scores)
		for r, row := range rows {
			global := offset + row.Sample
			switch inf.desc.Name {
			case protocol.SequenceToClass:
				res.Classes[global] = pred.Classes[r]
				res.Probs[global] = pred.Probs[r]
			case protocol.SequenceToValue:
				res.Values[global] = pred.Values[r]
			case protocol.ResidueToClass:
				res.ResidueClasses[global][row.I] = pred.Classes[r]
			case protocol.ResidueToValue:
				res.ResidueValues[global][row.I] = pred.Values[r]
			case protocol.ResiduePairToClass:
				res.PairClasses[global][row.I][row.J] = pred.Classes[r]
			}
		}
		offset += batch.Size()
	}

	inf.nameClasses(&res)
	return res, nil
}

// partition wraps the embedding file in an unlabeled-input partition.
// Neutral labels satisfy the protocol's label-family validation; the
// scoring path never reads them.
func (inf *Inferencer) partition(file dataio.EmbeddingFile) (*dataset.Partition, error) {
	if len(file.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: embedding file has no entries", model.ErrData)
	}
	if file.Dim != inf.export.InputDim {
		return nil, fmt.Errorf("%w: embedding dimension: got=%d want=%d", model.ErrData, file.Dim, inf.export.InputDim)
	}
	if inf.desc.PerResidue && !file.PerResidue {
		return nil, fmt.Errorf("%w: %s needs per-residue embeddings, the embedding file is pooled", model.ErrConfiguration, inf.desc.Name)
	}

	ids := make([]string, 0, len(file.Embeddings))
	for id := range file.Embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	samples := make([]dataset.Sample, 0, len(ids))
	for _, id := range ids {
		rows := file.Embeddings[id]
		if !inf.desc.PerResidue && file.PerResidue {
			rows = [][]float64{dataio.MeanPool(rows)}
		}
		sample := dataset.Sample{ID: id, Embedding: rows}
		switch inf.desc.Name {
		case protocol.ResidueToClass:
			sample.ResidueClasses = make([]int, len(rows))
		case protocol.ResidueToValue:
			sample.ResidueValues = make([]float64, len(rows))
		case protocol.ResiduePairToClass:
			pairs := make([][]int, len(rows))
			for i := range pairs {
				pairs[i] = make([]int, len(rows))
			}
			sample.PairClasses = pairs
		}
		samples = append(samples, sample)
	}
	return dataset.NewPartition(inf.desc.Name, samples)
}

func (inf *Inferencer) nameClasses(res *Result) {
	names := inf.export.ClassNames
	if len(names) == 0 {
		return
	}
	switch inf.desc.Name {
	case protocol.SequenceToClass:
		res.Labels = make([]string, len(res.Classes))
		for i, class := range res.Classes {
			res.Labels[i] = names[class]
		}
	case protocol.ResidueToClass:
		res.ResidueLabels = make([]string, len(res.ResidueClasses))
		for i, classes := range res.ResidueClasses {
			var b strings.Builder
			for _, class := range classes {
				b.WriteString(names[class])
			}
			res.ResidueLabels[i] = b.String()
		}
	}
}
