package storage

import (
	"context"
	"testing"

	"github.com/heispv/biotrainer/internal/model"
)

func TestMemoryStoreRunSummaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := model.RunSummary{
		VersionedRecord: Stamp(),
		RunID:           "run-1",
		CreatedAtUTC:    "2026-08-22T10:30:00Z",
		Protocol:        "sequence_to_class",
		Method:          "k_fold",
		Folds:           5,
		Model:           "FNN",
		Seed:            42,
		MonitoredMetric: "accuracy",
		BestValMetric:   0.91,
		TotalSamples:    120,
	}
	if err := store.SaveRunSummary(ctx, input); err != nil {
		t.Fatalf("save summary: %v", err)
	}

	output, ok, err := store.GetRunSummary(ctx, "run-1")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted summary")
	}
	if output.Protocol != input.Protocol || output.BestValMetric != input.BestValMetric {
		t.Fatalf("unexpected summary: %+v", output)
	}

	_, ok, err = store.GetRunSummary(ctx, "run-missing")
	if err != nil {
		t.Fatalf("get missing summary: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown run")
	}
}

func TestMemoryStoreListRunSummariesNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	summaries := []model.RunSummary{
		{VersionedRecord: Stamp(), RunID: "run-a", CreatedAtUTC: "2026-08-20T08:00:00Z"},
		{VersionedRecord: Stamp(), RunID: "run-b", CreatedAtUTC: "2026-08-21T08:00:00Z"},
		{VersionedRecord: Stamp(), RunID: "run-c", CreatedAtUTC: "2026-08-21T08:00:00Z"},
	}
	for _, summary := range summaries {
		if err := store.SaveRunSummary(ctx, summary); err != nil {
			t.Fatalf("save summary %s: %v", summary.RunID, err)
		}
	}

	listed, err := store.ListRunSummaries(ctx)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("unexpected summary count: got=%d want=3", len(listed))
	}
	wantOrder := []string{"run-c", "run-b", "run-a"}
	for i, want := range wantOrder {
		if listed[i].RunID != want {
			t.Fatalf("position %d: got=%s want=%s", i, listed[i].RunID, want)
		}
	}
}

func TestMemoryStoreRunReportRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := model.RunReport{
		VersionedRecord: Stamp(),
		RunID:           "run-1",
		Protocol:        "sequence_to_value",
		MonitoredMetric: "mse",
		MetricDirection: model.DirectionMinimize,
		Folds: []model.FoldResult{
			{FoldIndex: 0, Status: model.FoldStatusOK, BestEpoch: 4, BestValMetric: 0.12},
		},
		Aggregate:    map[string]model.MetricStats{"mse": {Mean: 0.12, Std: 0}},
		SampleCounts: model.SampleCounts{Pool: 80, Test: 20, Total: 100},
		CreatedAtUTC: "2026-08-22T10:30:00Z",
	}
	if err := store.SaveRunReport(ctx, input); err != nil {
		t.Fatalf("save report: %v", err)
	}

	output, ok, err := store.GetRunReport(ctx, "run-1")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted report")
	}
	if len(output.Folds) != 1 || output.Folds[0].BestEpoch != 4 {
		t.Fatalf("unexpected report folds: %+v", output.Folds)
	}
	if output.SampleCounts.Total != 100 {
		t.Fatalf("unexpected sample counts: %+v", output.SampleCounts)
	}
}

func TestMemoryStoreCheckpointMetaUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	metas := []model.CheckpointMeta{
		{VersionedRecord: Stamp(), RunID: "run-1", Fold: 1, Epoch: 3, Metric: 0.7, Path: "f1.json"},
		{VersionedRecord: Stamp(), RunID: "run-1", Fold: 0, Epoch: 2, Metric: 0.6, Path: "f0.json"},
		{VersionedRecord: Stamp(), RunID: "run-1", Fold: 0, Epoch: 5, Metric: 0.8, Path: "f0.json"},
		{VersionedRecord: Stamp(), RunID: "run-2", Fold: 0, Epoch: 1, Metric: 0.5, Path: "other.json"},
	}
	for _, meta := range metas {
		if err := store.SaveCheckpointMeta(ctx, meta); err != nil {
			t.Fatalf("save checkpoint fold %d: %v", meta.Fold, err)
		}
	}

	listed, err := store.ListCheckpointMetas(ctx, "run-1")
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("unexpected checkpoint count: got=%d want=2", len(listed))
	}
	if listed[0].Fold != 0 || listed[1].Fold != 1 {
		t.Fatalf("expected fold-ascending order, got: %+v", listed)
	}
	if listed[0].Epoch != 5 {
		t.Fatalf("expected later save to win for fold 0: %+v", listed[0])
	}
}

func TestMemoryStoreExportRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := model.ExportRecord{
		VersionedRecord: Stamp(),
		RunID:           "run-1",
		Protocol:        "residue_to_class",
		Path:            "export.json",
		InputShape:      []int{1, 128},
		CreatedAtUTC:    "2026-08-22T10:30:00Z",
	}
	if err := store.SaveExportRecord(ctx, input); err != nil {
		t.Fatalf("save export: %v", err)
	}

	output, ok, err := store.GetExportRecord(ctx, "run-1")
	if err != nil {
		t.Fatalf("get export: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted export record")
	}
	if len(output.InputShape) != 2 || output.InputShape[1] != 128 {
		t.Fatalf("unexpected input shape: %+v", output.InputShape)
	}

	_, ok, err = store.GetExportRecord(ctx, "run-missing")
	if err != nil {
		t.Fatalf("get missing export: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown run")
	}
}
