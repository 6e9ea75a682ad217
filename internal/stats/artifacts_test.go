package stats

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/heispv/biotrainer/internal/model"
)

func sampleArtifacts(runID string) RunArtifacts {
	return RunArtifacts{
		Config: RunConfig{
			RunID:     runID,
			Protocol:  "sequence_to_class",
			Model:     "fnn",
			Optimizer: "adam",
			BatchSize: 16,
			MaxEpochs: 30,
			Method:    "k_fold",
			K:         3,
			Seed:      42,
		},
		Report: model.RunReport{
			RunID:    runID,
			Protocol: "sequence_to_class",
			Folds: []model.FoldResult{
				{FoldIndex: 0, Status: model.FoldStatusOK, BestEpoch: 7, BestValMetric: 0.12},
			},
			Aggregate:    map[string]model.MetricStats{"accuracy": {Mean: 0.91, Std: 0.02}},
			CreatedAtUTC: "2026-08-22T10:00:00Z",
		},
	}
}

func TestWriteReadRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := sampleArtifacts("run-a")

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("WriteRunArtifacts: %v", err)
	}
	if runDir != filepath.Join(baseDir, "run-a") {
		t.Fatalf("run dir: got=%s", runDir)
	}
	if _, err := os.Stat(filepath.Join(runDir, "out.json")); err != nil {
		t.Fatalf("out.json: %v", err)
	}

	loaded, ok, err := ReadRunArtifacts(baseDir, "run-a")
	if err != nil || !ok {
		t.Fatalf("ReadRunArtifacts: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(loaded, artifacts) {
		t.Fatalf("artifacts roundtrip mismatch:\ngot=%+v\nwant=%+v", loaded, artifacts)
	}

	_, ok, err = ReadRunArtifacts(baseDir, "missing-run")
	if err != nil || ok {
		t.Fatalf("missing run: ok=%v err=%v", ok, err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	_, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{})
	if err == nil {
		t.Fatalf("empty run id must fail")
	}
}

func TestRunIndexNewestFirst(t *testing.T) {
	baseDir := t.TempDir()
	entries := []model.RunSummary{
		{RunID: "r1", CreatedAtUTC: "2026-01-01T00:00:00Z", Protocol: "sequence_to_class"},
		{RunID: "r3", CreatedAtUTC: "2026-01-03T00:00:00Z", Protocol: "residue_to_class"},
		{RunID: "r2", CreatedAtUTC: "2026-01-02T00:00:00Z", Protocol: "sequence_to_value"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("AppendRunIndex(%s): %v", entry.RunID, err)
		}
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("ListRunIndex: %v", err)
	}
	gotOrder := []string{index[0].RunID, index[1].RunID, index[2].RunID}
	wantOrder := []string{"r3", "r2", "r1"}
	if !reflect.DeepEqual(gotOrder, wantOrder) {
		t.Fatalf("index order: got=%v want=%v", gotOrder, wantOrder)
	}
}

func TestRunIndexUpserts(t *testing.T) {
	baseDir := t.TempDir()
	if err := AppendRunIndex(baseDir, model.RunSummary{RunID: "r1", CreatedAtUTC: "2026-01-01T00:00:00Z", Folds: 1}); err != nil {
		t.Fatalf("AppendRunIndex: %v", err)
	}
	if err := AppendRunIndex(baseDir, model.RunSummary{RunID: "r1", CreatedAtUTC: "2026-01-01T00:00:00Z", Folds: 5}); err != nil {
		t.Fatalf("AppendRunIndex again: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("ListRunIndex: %v", err)
	}
	if len(index) != 1 {
		t.Fatalf("index length: got=%d want=1", len(index))
	}
	if index[0].Folds != 5 {
		t.Fatalf("upsert folds: got=%d want=5", index[0].Folds)
	}
}

func TestListRunIndexMissing(t *testing.T) {
	index, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("ListRunIndex: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("missing index: got=%v want empty", index)
	}
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2026, 8, 22, 10, 30, 0, 0, time.UTC)
	id := NewRunID(now)
	if !strings.HasPrefix(id, "20260822-103000-") {
		t.Fatalf("run id prefix: got=%s", id)
	}
	suffix := strings.TrimPrefix(id, "20260822-103000-")
	if len(suffix) != 8 {
		t.Fatalf("run id suffix length: got=%d want=8", len(suffix))
	}
	if other := NewRunID(now); other == id {
		t.Fatalf("run ids must differ across calls")
	}
}

func TestWriteJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preds", "predictions.jsonl")
	items := []any{
		map[string]any{"id": "Seq1", "class": 2},
		map[string]any{"id": "Seq2", "class": 0},
	}
	if err := WriteJSONLines(path, items); err != nil {
		t.Fatalf("WriteJSONLines: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var lines int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var decoded map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines: got=%d want=2", lines)
	}
}

func TestWriteJSONLinesRequiresPath(t *testing.T) {
	if err := WriteJSONLines("", []any{1}); err == nil {
		t.Fatalf("empty path must fail")
	}
}
