package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type Direction string

const (
	DirectionMaximize Direction = "maximize"
	DirectionMinimize Direction = "minimize"
)

const (
	FoldStatusOK     = "ok"
	FoldStatusFailed = "failed"
)

const (
	WarnNumericInstability = "numeric_instability"
	WarnCheckpointIO       = "checkpoint_io"
	WarnFoldFailure        = "fold_failure"
	WarnSanityCheck        = "sanity_check"
)

type Warning struct {
	Kind    string `json:"kind"`
	Fold    int    `json:"fold"`
	Epoch   int    `json:"epoch,omitempty"`
	Batch   int    `json:"batch,omitempty"`
	Message string `json:"message"`
}

type MetricStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

type FoldResult struct {
	FoldIndex        int                `json:"fold_index"`
	Status           string             `json:"status"`
	Error            string             `json:"error,omitempty"`
	BestEpoch        int                `json:"best_epoch"`
	StoppedEpoch     int                `json:"stopped_epoch"`
	BestValMetric    float64            `json:"best_val_metric"`
	TestMetrics      map[string]float64 `json:"test_metrics,omitempty"`
	TrainLossByEpoch []float64          `json:"train_loss_by_epoch,omitempty"`
	ValMetricByEpoch []float64          `json:"val_metric_by_epoch,omitempty"`
	TrainSamples     int                `json:"train_samples"`
	ValSamples       int                `json:"val_samples"`
	TestSamples      int                `json:"test_samples"`
	Warnings         []Warning          `json:"warnings,omitempty"`
}

// SampleCounts totals the samples a run saw per split. Pool covers the
// train+validation material before fold assignment.
type SampleCounts struct {
	Pool  int `json:"pool"`
	Test  int `json:"test"`
	Total int `json:"total"`
}

type RunReport struct {
	VersionedRecord
	RunID           string                 `json:"run_id"`
	Protocol        string                 `json:"protocol"`
	MonitoredMetric string                 `json:"monitored_metric"`
	MetricDirection Direction              `json:"metric_direction"`
	Folds           []FoldResult           `json:"folds"`
	FailedFolds     int                    `json:"failed_folds"`
	Aggregate       map[string]MetricStats `json:"aggregate"`
	SampleCounts    SampleCounts           `json:"sample_counts"`
	Warnings        []Warning              `json:"warnings,omitempty"`
	CreatedAtUTC    string                 `json:"created_at_utc"`
}

type RunSummary struct {
	VersionedRecord
	RunID           string  `json:"run_id"`
	CreatedAtUTC    string  `json:"created_at_utc"`
	Protocol        string  `json:"protocol"`
	Method          string  `json:"method"`
	Folds           int     `json:"folds"`
	FailedFolds     int     `json:"failed_folds"`
	Model           string  `json:"model"`
	Seed            int64   `json:"seed"`
	MonitoredMetric string  `json:"monitored_metric"`
	BestValMetric   float64 `json:"best_val_metric"`
	TotalSamples    int     `json:"total_samples"`
}

type CheckpointMeta struct {
	VersionedRecord
	RunID        string  `json:"run_id"`
	Fold         int     `json:"fold"`
	Epoch        int     `json:"epoch"`
	Metric       float64 `json:"metric"`
	Path         string  `json:"path"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

type ExportRecord struct {
	VersionedRecord
	RunID        string `json:"run_id"`
	Protocol     string `json:"protocol"`
	Path         string `json:"path"`
	InputShape   []int  `json:"input_shape"`
	CreatedAtUTC string `json:"created_at_utc"`
}
