// Package stats turns fold results into run reports and on-disk run
// artifacts: aggregation, bootstrap confidence intervals, baseline
// sanity checks and the run index.
package stats

import (
	"sort"
	"time"

	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
)

const (
	reportSchemaVersion = 1
	reportCodecVersion  = 1
)

// BuildReport assembles the run report from per-fold results. The
// aggregate covers successful folds only; failed folds stay visible
// through their status and the failed fold count.
func BuildReport(runID, proto, monitored string, direction model.Direction, folds []model.FoldResult, counts model.SampleCounts, warnings []model.Warning) model.RunReport {
	report := model.RunReport{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: reportSchemaVersion,
			CodecVersion:  reportCodecVersion,
		},
		RunID:           runID,
		Protocol:        proto,
		MonitoredMetric: monitored,
		MetricDirection: direction,
		Folds:           folds,
		Aggregate:       AggregateMetrics(folds),
		SampleCounts:    counts,
		Warnings:        warnings,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, fr := range folds {
		if fr.Status != model.FoldStatusOK {
			report.FailedFolds++
		}
	}
	return report
}

// AggregateMetrics computes mean and population std per test metric
// over the folds that finished successfully.
func AggregateMetrics(folds []model.FoldResult) map[string]model.MetricStats {
	byMetric := make(map[string][]float64)
	for _, fr := range folds {
		if fr.Status != model.FoldStatusOK {
			continue
		}
		for name, value := range fr.TestMetrics {
			byMetric[name] = append(byMetric[name], value)
		}
	}

	aggregate := make(map[string]model.MetricStats, len(byMetric))
	for name, values := range byMetric {
		mean, err := nn.Avg(values)
		if err != nil {
			continue
		}
		std, err := nn.Std(values)
		if err != nil {
			continue
		}
		aggregate[name] = model.MetricStats{Mean: mean, Std: std}
	}
	return aggregate
}

// Summarize condenses a report into the run index record.
func Summarize(report model.RunReport, method, modelName string, seed int64) model.RunSummary {
	best := bestFoldMetric(report)
	return model.RunSummary{
		VersionedRecord: report.VersionedRecord,
		RunID:           report.RunID,
		CreatedAtUTC:    report.CreatedAtUTC,
		Protocol:        report.Protocol,
		Method:          method,
		Folds:           len(report.Folds),
		FailedFolds:     report.FailedFolds,
		Model:           modelName,
		Seed:            seed,
		MonitoredMetric: report.MonitoredMetric,
		BestValMetric:   best,
		TotalSamples:    report.SampleCounts.Total,
	}
}

// bestFoldMetric picks the best monitored validation metric across
// successful folds, honoring the metric direction.
func bestFoldMetric(report model.RunReport) float64 {
	var best float64
	seen := false
	for _, fr := range report.Folds {
		if fr.Status != model.FoldStatusOK {
			continue
		}
		if !seen {
			best = fr.BestValMetric
			seen = true
			continue
		}
		if report.MetricDirection == model.DirectionMinimize {
			if fr.BestValMetric < best {
				best = fr.BestValMetric
			}
		} else if fr.BestValMetric > best {
			best = fr.BestValMetric
		}
	}
	return best
}

// MetricNames lists the aggregated metric names sorted for stable
// rendering.
func MetricNames(aggregate map[string]model.MetricStats) []string {
	names := make([]string, 0, len(aggregate))
	for name := range aggregate {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
