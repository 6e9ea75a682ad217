package dataio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
)

const (
	embeddingSchemaVersion = 1
	embeddingCodecVersion  = 1
)

// EmbeddingFile is the JSON envelope for precomputed embeddings keyed by
// sequence id. Per-residue files carry L×D matrices, pooled files a
// single 1×D row per id.
type EmbeddingFile struct {
	model.VersionedRecord
	Embedder   string                 `json:"embedder"`
	Dim        int                    `json:"dim"`
	PerResidue bool                   `json:"per_residue"`
	Embeddings map[string][][]float64 `json:"embeddings"`
}

func NewEmbeddingFile(embedder string, dim int, perResidue bool) EmbeddingFile {
	return EmbeddingFile{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: embeddingSchemaVersion,
			CodecVersion:  embeddingCodecVersion,
		},
		Embedder:   embedder,
		Dim:        dim,
		PerResidue: perResidue,
		Embeddings: make(map[string][][]float64),
	}
}

func (f EmbeddingFile) validate() error {
	if f.SchemaVersion != embeddingSchemaVersion || f.CodecVersion != embeddingCodecVersion {
		return fmt.Errorf("%w: embedding file version: got schema=%d codec=%d want schema=%d codec=%d",
			model.ErrData, f.SchemaVersion, f.CodecVersion, embeddingSchemaVersion, embeddingCodecVersion)
	}
	if f.Dim <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", model.ErrData, f.Dim)
	}
	for id, rows := range f.Embeddings {
		if len(rows) == 0 {
			return fmt.Errorf("%w: embedding %s is empty", model.ErrData, id)
		}
		if !f.PerResidue && len(rows) != 1 {
			return fmt.Errorf("%w: pooled embedding %s has %d rows, want 1", model.ErrData, id, len(rows))
		}
		for i, row := range rows {
			if len(row) != f.Dim {
				return fmt.Errorf("%w: embedding %s row %d width: got=%d want=%d", model.ErrData, id, i, len(row), f.Dim)
			}
			for _, v := range row {
				if !nn.Finite(v) {
					return fmt.Errorf("%w: embedding %s row %d contains a non-finite value", model.ErrData, id, i)
				}
			}
		}
	}
	return nil
}

func ReadEmbeddingsFile(path string) (EmbeddingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EmbeddingFile{}, err
	}
	var f EmbeddingFile
	if err := json.Unmarshal(data, &f); err != nil {
		return EmbeddingFile{}, fmt.Errorf("%s: %w: %v", path, model.ErrData, err)
	}
	if err := f.validate(); err != nil {
		return EmbeddingFile{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func WriteEmbeddingsFile(path string, f EmbeddingFile) error {
	if err := f.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// MeanPool reduces a per-residue L×D embedding to a single pooled row.
func MeanPool(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	pooled := make([]float64, len(rows[0]))
	for _, row := range rows {
		for d, v := range row {
			pooled[d] += v
		}
	}
	for d := range pooled {
		pooled[d] /= float64(len(rows))
	}
	return pooled
}
