package storage

import (
	"context"

	"github.com/heispv/biotrainer/internal/model"
)

// Store persists the records a training run leaves behind. Getters
// report ok=false for unknown keys instead of an error.
type Store interface {
	Init(ctx context.Context) error
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRunSummaries(ctx context.Context) ([]model.RunSummary, error)
	SaveRunReport(ctx context.Context, report model.RunReport) error
	GetRunReport(ctx context.Context, runID string) (model.RunReport, bool, error)
	SaveCheckpointMeta(ctx context.Context, meta model.CheckpointMeta) error
	ListCheckpointMetas(ctx context.Context, runID string) ([]model.CheckpointMeta, error)
	SaveExportRecord(ctx context.Context, record model.ExportRecord) error
	GetExportRecord(ctx context.Context, runID string) (model.ExportRecord, bool, error)
}
