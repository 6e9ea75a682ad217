// Package inference reloads exported models and scores new embedding
// files: deterministic batch prediction plus Monte-Carlo dropout
// uncertainty.
package inference

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/heispv/biotrainer/internal/arch"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
)

const (
	exportSchemaVersion = 1
	exportCodecVersion  = 1
)

// Export is the self-contained artifact of one trained model: the
// architecture settings and weights needed to rebuild it, plus the
// protocol and class names needed to interpret its outputs.
type Export struct {
	model.VersionedRecord
	Protocol     protocol.Protocol `json:"protocol"`
	Arch         arch.Config       `json:"arch"`
	InputDim     int               `json:"input_dim"`
	NumClasses   int               `json:"num_classes,omitempty"`
	ClassNames   []string          `json:"class_names,omitempty"`
	Embedder     string            `json:"embedder,omitempty"`
	Weights      nn.Snapshot       `json:"weights"`
	CreatedAtUTC string            `json:"created_at_utc"`
}

// NewExport captures a trained model next to the settings that built
// it. dim is the embedding dimension the model was trained on, not the
// network input width.
func NewExport(proto protocol.Protocol, cfg arch.Config, m arch.Model, dim, numClasses int, classNames []string) Export {
	return Export{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: exportSchemaVersion,
			CodecVersion:  exportCodecVersion,
		},
		Protocol:     proto,
		Arch:         cfg,
		InputDim:     dim,
		NumClasses:   numClasses,
		ClassNames:   append([]string(nil), classNames...),
		Weights:      m.Snapshot(),
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
}

func (e Export) validate() error {
	if e.SchemaVersion != exportSchemaVersion || e.CodecVersion != exportCodecVersion {
		return fmt.Errorf("%w: export version: got schema=%d codec=%d want schema=%d codec=%d",
			model.ErrData, e.SchemaVersion, e.CodecVersion, exportSchemaVersion, exportCodecVersion)
	}
	desc, err := protocol.Describe(e.Protocol)
	if err != nil {
		return err
	}
	if e.InputDim <= 0 {
		return fmt.Errorf("%w: export input dimension must be positive, got %d", model.ErrData, e.InputDim)
	}
	if desc.Classification && e.NumClasses < 2 {
		return fmt.Errorf("%w: export for %s needs at least 2 classes, got %d", model.ErrData, e.Protocol, e.NumClasses)
	}
	if len(e.ClassNames) > 0 && len(e.ClassNames) != e.NumClasses {
		return fmt.Errorf("%w: export class names: got=%d want=%d", model.ErrData, len(e.ClassNames), e.NumClasses)
	}
	if len(e.Weights.Weights) == 0 || len(e.Weights.Weights) != len(e.Weights.Biases) {
		return fmt.Errorf("%w: export weights are malformed", model.ErrData)
	}
	return nil
}

// ReadExportFile loads and validates an exported model artifact.
func ReadExportFile(path string) (Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Export{}, err
	}
	var e Export
	if err := json.Unmarshal(data, &e); err != nil {
		return Export{}, fmt.Errorf("%s: %w: %v", path, model.ErrData, err)
	}
	if err := e.validate(); err != nil {
		return Export{}, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}

// WriteExportFile validates and writes the artifact, creating parent
// directories as needed.
func WriteExportFile(path string, e Export) error {
	if err := e.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
