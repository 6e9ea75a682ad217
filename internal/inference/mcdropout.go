package inference

import (
	"context"
	"fmt"

	"github.com/heispv/biotrainer/internal/dataio"
	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
)

// UncertaintyRow summarizes the stochastic passes for one scored
// position. Mean and Std cover the decoded outputs per unit: class
// probabilities for classification, the raw value for regression.
// Class is the argmax of the mean probabilities and Agreement the
// fraction of passes voting for it; both stay zero for regression.
type UncertaintyRow struct {
	Sequence  int       `json:"sequence"`
	I         int       `json:"i"`
	J         int       `json:"j"`
	Mean      []float64 `json:"mean"`
	Std       []float64 `json:"std"`
	Class     int       `json:"class"`
	Agreement float64   `json:"agreement"`
}

// MCDropout is the Monte-Carlo dropout summary over one embedding
// file: one row per scored position, ids ascending, positions
// ascending, pair rows row-major.
type MCDropout struct {
	Protocol protocol.Protocol `json:"protocol"`
	Passes   int               `json:"passes"`
	IDs      []string          `json:"ids"`
	Rows     []UncertaintyRow  `json:"rows"`
}

// MonteCarloDropout runs the given number of stochastic forward passes
// over the file and summarizes per-position uncertainty. The export
// must carry a dropout architecture; without dropout every pass scores
// identically.
func (inf *Inferencer) MonteCarloDropout(ctx context.Context, file dataio.EmbeddingFile, passes int) (MCDropout, error) {
	if passes <= 0 {
		return MCDropout{}, fmt.Errorf("%w: monte-carlo dropout passes must be > 0, got %d", model.ErrConfiguration, passes)
	}
	if inf.export.Arch.Dropout <= 0 {
		return MCDropout{}, fmt.Errorf("%w: monte-carlo dropout needs dropout > 0, the export has %g", model.ErrConfiguration, inf.export.Arch.Dropout)
	}

	part, err := inf.partition(file)
	if err != nil {
		return MCDropout{}, err
	}
	asm, err := dataset.NewAssembler(part, dataset.Options{BatchSize: predictBatchSize})
	if err != nil {
		return MCDropout{}, err
	}

	out := MCDropout{Protocol: inf.desc.Name, Passes: passes, IDs: part.IDs()}
	offset := 0
	stream := asm.Batches(0)
	for {
		select {
		case <-ctx.Done():
			return MCDropout{}, ctx.Err()
		default:
		}
		batch, ok := stream.Next()
		if !ok {
			break
		}
		rows := batch.InputRows(inf.desc)

		// decoded[r][p] is pass p's decoded output for position r.
		decoded := make([][][]float64, len(rows))
		for r := range decoded {
			decoded[r] = make([][]float64, passes)
		}
		for p := 0; p < passes; p++ {
			scores, err := inf.model.Stochastic(batch, rows)
			if err != nil {
				return MCDropout{}, err
			}
			for r, score := range scores {
				if inf.desc.Classification {
					decoded[r][p] = nn.Softmax(score)
				} else {
					decoded[r][p] = score
				}
			}
		}

		for r, row := range rows {
			summary, err := summarizePasses(decoded[r], inf.desc.Classification)
			if err != nil {
				return MCDropout{}, err
			}
			summary.Sequence = offset + row.Sample
			summary.I = row.I
			summary.J = row.J
			out.Rows = append(out.Rows, summary)
		}
		offset += batch.Size()
	}
	return out, nil
}

func summarizePasses(outputs [][]float64, classification bool) (UncertaintyRow, error) {
	units := len(outputs[0])
	row := UncertaintyRow{
		Mean: make([]float64, units),
		Std:  make([]float64, units),
	}
	column := make([]float64, len(outputs))
	for u := 0; u < units; u++ {
		for p, out := range outputs {
			column[p] = out[u]
		}
		mean, err := nn.Avg(column)
		if err != nil {
			return UncertaintyRow{}, err
		}
		std, err := nn.Std(column)
		if err != nil {
			return UncertaintyRow{}, err
		}
		row.Mean[u] = mean
		row.Std[u] = std
	}
	if classification {
		row.Class = nn.ArgMax(row.Mean)
		votes := 0
		for _, out := range outputs {
			if nn.ArgMax(out) == row.Class {
				votes++
			}
		}
		row.Agreement = float64(votes) / float64(len(outputs))
	}
	return row, nil
}
