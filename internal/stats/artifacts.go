package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"

	"github.com/heispv/biotrainer/internal/model"
)

const (
	runIndexFile = "run_index.json"
	outFile      = "out.json"
)

// RunConfig is the flat run configuration: what the CLI decodes and
// what gets echoed into every run's out.json.
type RunConfig struct {
	RunID          string `json:"run_id"`
	Protocol       string `json:"protocol"`
	SequencesPath  string `json:"sequences_path,omitempty"`
	LabelsPath     string `json:"labels_path,omitempty"`
	MasksPath      string `json:"masks_path,omitempty"`
	EmbeddingsPath string `json:"embeddings_path,omitempty"`
	Embedder       string `json:"embedder,omitempty"`

	Model      string  `json:"model"`
	Hidden     []int   `json:"hidden,omitempty"`
	Activation string  `json:"activation,omitempty"`
	Dropout    float64 `json:"dropout,omitempty"`

	Optimizer    string  `json:"optimizer"`
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum,omitempty"`

	BatchSize       int     `json:"batch_size"`
	Shuffle         bool    `json:"shuffle"`
	BucketByLength  bool    `json:"bucket_by_length"`
	MaxEpochs       int     `json:"max_epochs"`
	Patience        int     `json:"patience"`
	MinDelta        float64 `json:"min_delta"`
	Monitor         string  `json:"monitor,omitempty"`
	UseClassWeights bool    `json:"use_class_weights"`

	Method      string  `json:"method"`
	K           int     `json:"k,omitempty"`
	Stratified  bool    `json:"stratified,omitempty"`
	ValFraction float64 `json:"val_fraction,omitempty"`
	Workers     int     `json:"workers"`
	Seed        int64   `json:"seed"`

	BootstrapIterations int     `json:"bootstrap_iterations,omitempty"`
	BootstrapConfidence float64 `json:"bootstrap_confidence,omitempty"`
	SanityChecks        bool    `json:"sanity_checks"`

	Storage     string `json:"storage,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
	OutDir      string `json:"out_dir,omitempty"`
}

// RunArtifacts is the content of a run's out.json: the configuration
// that produced the run next to the full report, plus the optional
// post-training analyses when the run computed them.
type RunArtifacts struct {
	Config    RunConfig           `json:"config"`
	Report    model.RunReport     `json:"report"`
	Bootstrap map[string]Interval `json:"bootstrap,omitempty"`
	Baseline  *BaselineReport     `json:"baseline,omitempty"`
	Curves    *CurveSet           `json:"curves,omitempty"`
}

// BaselineReport records the trivial predictor a run was compared
// against.
type BaselineReport struct {
	Name    string             `json:"name"`
	Metrics map[string]float64 `json:"metrics"`
}

// CurveSet holds the per-epoch curves averaged across folds.
type CurveSet struct {
	TrainLoss []CurvePoint `json:"train_loss,omitempty"`
	ValMetric []CurvePoint `json:"val_metric,omitempty"`
}

// NewRunID stamps a sortable timestamp plus a short random suffix, so
// runs started within the same second stay distinct.
func NewRunID(now time.Time) string {
	stamp := strftime.Format("%Y%m%d-%H%M%S", now.UTC())
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return stamp + "-" + suffix
}

// RunDir returns the per-run artifact directory under baseDir.
func RunDir(baseDir, runID string) string {
	return filepath.Join(baseDir, runID)
}

// WriteRunArtifacts writes out.json into the run's directory, creating
// it as needed, and returns the directory path.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	runID := artifacts.Config.RunID
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := RunDir(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, outFile), artifacts); err != nil {
		return "", err
	}
	return runDir, nil
}

// ReadRunArtifacts loads a run's out.json. A missing run reports
// ok=false without an error.
func ReadRunArtifacts(baseDir, runID string) (RunArtifacts, bool, error) {
	data, err := os.ReadFile(filepath.Join(RunDir(baseDir, runID), outFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunArtifacts{}, false, nil
		}
		return RunArtifacts{}, false, err
	}
	var artifacts RunArtifacts
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return RunArtifacts{}, false, err
	}
	return artifacts, true, nil
}

// AppendRunIndex upserts one run summary into the base directory's
// index, keyed by run id.
func AppendRunIndex(baseDir string, entry model.RunSummary) error {
	if strings.TrimSpace(entry.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the run summaries newest-first. A missing index
// reads as an empty listing.
func ListRunIndex(baseDir string) ([]model.RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []model.RunSummary{}, nil
		}
		return nil, err
	}

	var entries []model.RunSummary
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry model.RunSummary
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]model.RunSummary, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
