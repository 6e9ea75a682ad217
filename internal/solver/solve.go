package solver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/heispv/biotrainer/internal/arch"
	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/loss"
	"github.com/heispv/biotrainer/internal/metrics"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
	"github.com/heispv/biotrainer/internal/run"
)

// OptimizerFactory builds a fresh optimizer for one fold.
type OptimizerFactory func() (nn.Optimizer, error)

// Config is the per-fold training configuration. Zero Monitor and
// Direction fall back to the protocol's defaults.
type Config struct {
	BatchSize       int
	Shuffle         bool
	BucketByLength  bool
	MaxEpochs       int
	Patience        int
	MinDelta        float64
	Monitor         string
	Direction       model.Direction
	UseClassWeights bool

	Model       arch.Factory
	Optimizer   OptimizerFactory
	Checkpoints *Checkpointer
}

// Normalized fills protocol defaults and validates the configuration.
// Violations are configuration errors and fatal before training starts.
func (c Config) Normalized(desc protocol.Descriptor) (Config, error) {
	if c.Monitor == "" {
		c.Monitor = desc.DefaultMonitor
	}
	if c.Direction == "" {
		c.Direction = metrics.DefaultDirection(c.Monitor)
	}

	if c.BatchSize <= 0 {
		return c, fmt.Errorf("%w: batch size must be > 0, got %d", model.ErrConfiguration, c.BatchSize)
	}
	if c.MaxEpochs <= 0 {
		return c, fmt.Errorf("%w: max epochs must be > 0, got %d", model.ErrConfiguration, c.MaxEpochs)
	}
	if c.Patience < 0 {
		return c, fmt.Errorf("%w: patience must be >= 0, got %d", model.ErrConfiguration, c.Patience)
	}
	if c.MinDelta < 0 {
		return c, fmt.Errorf("%w: min delta must be >= 0, got %g", model.ErrConfiguration, c.MinDelta)
	}
	if !metrics.Monitorable(desc, c.Monitor) {
		return c, fmt.Errorf("%w: metric %q is not monitorable for %s", model.ErrConfiguration, c.Monitor, desc.Name)
	}
	switch c.Direction {
	case model.DirectionMaximize, model.DirectionMinimize:
	default:
		return c, fmt.Errorf("%w: unknown metric direction: %s", model.ErrConfiguration, c.Direction)
	}
	if c.UseClassWeights && !desc.Classification {
		return c, fmt.Errorf("%w: class weights require a classification protocol", model.ErrConfiguration)
	}
	if c.Model == nil {
		return c, fmt.Errorf("%w: model factory is required", model.ErrConfiguration)
	}
	if c.Optimizer == nil {
		return c, fmt.Errorf("%w: optimizer factory is required", model.ErrConfiguration)
	}
	return c, nil
}

// Fold bundles the partitions one fold trains on. Test may be nil.
type Fold struct {
	Index int
	Train *dataset.Partition
	Val   *dataset.Partition
	Test  *dataset.Partition
}

// Solve trains one fold to completion: epoch loop, early stopping,
// best-weight restoration, then test evaluation with the restored
// weights. cfg must already be normalized. The returned model carries
// the best weights.
func Solve(ctx context.Context, rc *run.Context, cfg Config, fold Fold, numClasses int) (model.FoldResult, arch.Model, error) {
	desc := fold.Train.Descriptor()
	seed := rc.FoldSeed(fold.Index)

	result := model.FoldResult{
		FoldIndex:    fold.Index,
		Status:       model.FoldStatusOK,
		TrainSamples: fold.Train.Len(),
	}
	if fold.Val != nil {
		result.ValSamples = fold.Val.Len()
	}
	if fold.Test != nil {
		result.TestSamples = fold.Test.Len()
	}

	m, err := cfg.Model(fold.Train.Dim(), numClasses, seed)
	if err != nil {
		return result, nil, err
	}
	opt, err := cfg.Optimizer()
	if err != nil {
		return result, nil, err
	}
	criterion, err := buildCriterion(desc, cfg, fold.Train, numClasses)
	if err != nil {
		return result, nil, err
	}

	trainAsm, err := dataset.NewAssembler(fold.Train, dataset.Options{
		BatchSize:      cfg.BatchSize,
		Shuffle:        cfg.Shuffle,
		BucketByLength: cfg.BucketByLength,
		Seed:           seed,
	})
	if err != nil {
		return result, nil, fmt.Errorf("train split: %w", err)
	}
	valAsm, err := dataset.NewAssembler(fold.Val, dataset.Options{BatchSize: cfg.BatchSize})
	if err != nil {
		return result, nil, fmt.Errorf("validation split: %w", err)
	}

	ctrl, err := NewController(cfg.MaxEpochs, cfg.Patience, cfg.MinDelta, cfg.Direction)
	if err != nil {
		return result, nil, err
	}
	runner := &Runner{
		Desc:      desc,
		Model:     m,
		Optimizer: opt,
		Criterion: criterion,
		RC:        rc,
		Fold:      fold.Index,
	}

	for epoch := 1; epoch <= cfg.MaxEpochs; epoch++ {
		select {
		case <-ctx.Done():
			return result, nil, ctx.Err()
		default:
		}

		tr, err := runner.TrainEpoch(ctx, trainAsm, epoch)
		if err != nil {
			return result, nil, err
		}
		result.TrainLossByEpoch = append(result.TrainLossByEpoch, tr.Loss)
		result.Warnings = append(result.Warnings, tr.Warnings...)

		ev, err := runner.EvalEpoch(ctx, valAsm)
		if err != nil {
			return result, nil, err
		}
		monitored := ev.Metrics[cfg.Monitor]
		result.ValMetricByEpoch = append(result.ValMetricByEpoch, monitored)

		state, err := ctrl.Observe(epoch, monitored, m)
		if err != nil {
			return result, nil, err
		}
		rc.Eventf("fold=%d epoch=%d state=%s train_loss=%.6f val_%s=%.6f",
			fold.Index, epoch, state, tr.Loss, cfg.Monitor, monitored)

		if state == StateImproved || (state == StateStopped && ctrl.BestEpoch() == epoch) {
			if warn := cfg.Checkpoints.Save(fold.Index, epoch, monitored, ctrl.BestSnapshot()); warn != nil {
				result.Warnings = append(result.Warnings, *warn)
				rc.Warn(*warn)
			}
		}
		if state == StateStopped {
			result.StoppedEpoch = epoch
			break
		}
	}

	bestEpoch, best, ok, err := ctrl.Finish(m)
	if err != nil {
		return result, nil, err
	}
	if !ok {
		return result, nil, fmt.Errorf("%w: monitored metric %s was never comparable", model.ErrData, cfg.Monitor)
	}
	result.BestEpoch = bestEpoch
	result.BestValMetric = best

	if fold.Test != nil && fold.Test.Len() > 0 {
		testAsm, err := dataset.NewAssembler(fold.Test, dataset.Options{BatchSize: cfg.BatchSize})
		if err != nil {
			return result, nil, fmt.Errorf("test split: %w", err)
		}
		tev, err := runner.EvalEpoch(ctx, testAsm)
		if err != nil {
			return result, nil, err
		}
		result.TestMetrics = tev.Metrics
		rc.Eventf("fold=%d split=test %s", fold.Index, formatMetrics(tev.Metrics))
	}
	return result, m, nil
}

func buildCriterion(desc protocol.Descriptor, cfg Config, train *dataset.Partition, numClasses int) (loss.Criterion, error) {
	var weights []float64
	if cfg.UseClassWeights {
		counts := make([]int, numClasses)
		copy(counts, train.ClassCounts())
		w, err := loss.InverseFrequencyWeights(counts)
		if err != nil {
			return nil, err
		}
		weights = w
	}
	return loss.ForFamily(desc.LossFamily, weights)
}

func formatMetrics(values map[string]float64) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.6f", name, values[name])
	}
	return strings.Join(parts, " ")
}
