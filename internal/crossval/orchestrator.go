package crossval

import (
	"context"
	"fmt"
	"sync"

	"github.com/heispv/biotrainer/internal/arch"
	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
	"github.com/heispv/biotrainer/internal/run"
	"github.com/heispv/biotrainer/internal/solver"
)

// Config selects the split method and how folds execute. Solver is the
// per-fold training configuration; every fold trains under the same
// one, only seeds and partitions differ.
type Config struct {
	Method      Method
	K           int
	Stratified  bool
	ValFraction float64
	Workers     int
	Seed        int64

	Solver solver.Config
}

// Normalized fills defaults and validates both the split setup and the
// embedded solver configuration.
func (c Config) Normalized(desc protocol.Descriptor) (Config, error) {
	if c.Method == "" {
		c.Method = MethodHoldOut
	}
	if c.Method == MethodHoldOut {
		c.K = 1
	}
	if c.ValFraction == 0 {
		c.ValFraction = defaultValFraction
	}
	if c.Workers < 0 {
		return c, fmt.Errorf("%w: workers must be >= 0, got %d", model.ErrConfiguration, c.Workers)
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if _, err := NewSplitter(c.Method, c.K, c.Stratified, c.ValFraction, c.Seed); err != nil {
		return c, err
	}
	sc, err := c.Solver.Normalized(desc)
	if err != nil {
		return c, err
	}
	c.Solver = sc
	return c, nil
}

// Data holds the partitions a run starts from. Val carries an explicit
// validation split and is only honored for hold-out; k-fold always
// resplits the pool. Test may be nil.
type Data struct {
	Pool *dataset.Partition
	Val  *dataset.Partition
	Test *dataset.Partition
}

// Result collects every fold's outcome. Models is indexed like Folds
// and holds nil for failed folds; each surviving model carries its
// fold's best weights.
type Result struct {
	Folds    []model.FoldResult
	Models   []arch.Model
	Classes  int
	Warnings []model.Warning
}

// Run splits the pool and trains all folds. Folds are isolated: each
// gets fresh partitions, its own model, optimizer and controller, and
// an error or panic inside one fold is recorded as a failed result
// while the others proceed. With Workers > 1 folds run concurrently on
// a bounded pool. Only when every fold fails does Run return an error.
func Run(ctx context.Context, rc *run.Context, cfg Config, data Data) (Result, error) {
	var result Result
	if data.Pool == nil || data.Pool.Len() == 0 {
		return result, fmt.Errorf("%w: no training samples", model.ErrData)
	}
	if data.Val != nil && cfg.Method != MethodHoldOut {
		return result, fmt.Errorf("%w: an explicit validation split requires %s", model.ErrConfiguration, MethodHoldOut)
	}

	folds, err := materializeFolds(cfg, data)
	if err != nil {
		return result, err
	}
	numClasses := classSpan(data.Pool, data.Val, data.Test)

	result.Classes = numClasses
	result.Folds = make([]model.FoldResult, len(folds))
	result.Models = make([]arch.Model, len(folds))

	workers := cfg.Workers
	if workers > len(folds) {
		workers = len(folds)
	}
	jobs := make(chan int, len(folds))
	for i := range folds {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result.Folds[i], result.Models[i] = solveFold(ctx, rc, cfg, folds[i], numClasses)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	succeeded := 0
	for _, fr := range result.Folds {
		if fr.Status == model.FoldStatusOK {
			succeeded++
			continue
		}
		result.Warnings = append(result.Warnings, model.Warning{
			Kind:    model.WarnFoldFailure,
			Fold:    fr.FoldIndex,
			Message: fr.Error,
		})
	}
	if succeeded == 0 {
		return result, fmt.Errorf("all %d folds failed: %s", len(folds), result.Folds[0].Error)
	}
	return result, nil
}

// solveFold shields the run from one fold: errors and panics both end
// up as a failed FoldResult instead of tearing the run down.
func solveFold(ctx context.Context, rc *run.Context, cfg Config, fold solver.Fold, numClasses int) (res model.FoldResult, m arch.Model) {
	defer func() {
		if r := recover(); r != nil {
			res = model.FoldResult{
				FoldIndex:    fold.Index,
				Status:       model.FoldStatusFailed,
				Error:        fmt.Sprintf("panic: %v", r),
				TrainSamples: fold.Train.Len(),
			}
			if fold.Val != nil {
				res.ValSamples = fold.Val.Len()
			}
			if fold.Test != nil {
				res.TestSamples = fold.Test.Len()
			}
			m = nil
			warnFoldFailure(rc, &res)
		}
	}()

	res, m, err := solver.Solve(ctx, rc, cfg.Solver, fold, numClasses)
	if err != nil {
		res.Status = model.FoldStatusFailed
		res.Error = err.Error()
		m = nil
		warnFoldFailure(rc, &res)
	}
	return res, m
}

func warnFoldFailure(rc *run.Context, res *model.FoldResult) {
	w := model.Warning{Kind: model.WarnFoldFailure, Fold: res.FoldIndex, Message: res.Error}
	res.Warnings = append(res.Warnings, w)
	rc.Warn(w)
}

// materializeFolds builds per-fold partitions. An explicit validation
// split becomes the single hold-out fold as given; otherwise the
// splitter derives the fold index sets and each fold subsets the pool.
func materializeFolds(cfg Config, data Data) ([]solver.Fold, error) {
	if data.Val != nil {
		if data.Val.Len() == 0 {
			return nil, fmt.Errorf("%w: explicit validation split is empty", model.ErrData)
		}
		if data.Val.Protocol() != data.Pool.Protocol() {
			return nil, fmt.Errorf("%w: validation protocol %s does not match pool protocol %s",
				model.ErrData, data.Val.Protocol(), data.Pool.Protocol())
		}
		return []solver.Fold{{Index: 0, Train: data.Pool, Val: data.Val, Test: data.Test}}, nil
	}

	splitter, err := NewSplitter(cfg.Method, cfg.K, cfg.Stratified, cfg.ValFraction, cfg.Seed)
	if err != nil {
		return nil, err
	}
	indices, err := splitter.Folds(data.Pool)
	if err != nil {
		return nil, err
	}

	folds := make([]solver.Fold, len(indices))
	for i, fi := range indices {
		train, err := data.Pool.Subset(fi.Train)
		if err != nil {
			return nil, err
		}
		val, err := data.Pool.Subset(fi.Val)
		if err != nil {
			return nil, err
		}
		folds[i] = solver.Fold{Index: i, Train: train, Val: val, Test: data.Test}
	}
	return folds, nil
}

func classSpan(parts ...*dataset.Partition) int {
	span := 0
	for _, p := range parts {
		if p != nil && p.NumClasses() > span {
			span = p.NumClasses()
		}
	}
	return span
}
