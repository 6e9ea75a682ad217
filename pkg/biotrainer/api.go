package biotrainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/heispv/biotrainer/internal/arch"
	"github.com/heispv/biotrainer/internal/crossval"
	"github.com/heispv/biotrainer/internal/dataio"
	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/inference"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
	"github.com/heispv/biotrainer/internal/run"
	"github.com/heispv/biotrainer/internal/solver"
	"github.com/heispv/biotrainer/internal/stats"
	"github.com/heispv/biotrainer/internal/storage"
)

const (
	defaultRunsDir  = "runs"
	defaultDBPath   = "biotrainer.db"
	exportFile      = "model.json"
	predictionsFile = "test_predictions.jsonl"
)

type Options struct {
	StoreKind string
	DBPath    string
	RunsDir   string
}

type Client struct {
	store storage.Store
	ready bool

	storeKind string
	dbPath    string
	runsDir   string
}

type TrainRequest struct {
	RunID    string
	Protocol string

	SequencesPath  string
	LabelsPath     string
	MasksPath      string
	EmbeddingsPath string
	Embedder       string

	Model      string
	Hidden     []int
	Activation string
	Dropout    float64

	Optimizer    string
	LearningRate float64
	Momentum     float64

	BatchSize       int
	Shuffle         bool
	BucketByLength  bool
	MaxEpochs       int
	Patience        int
	MinDelta        float64
	Monitor         string
	UseClassWeights bool

	Method      string
	K           int
	Stratified  bool
	ValFraction float64
	Workers     int
	Seed        int64

	BootstrapIterations int
	BootstrapConfidence float64
	SanityChecks        bool

	EventSink io.Writer
}

type TrainSummary struct {
	RunID           string
	RunDir          string
	Protocol        string
	Method          string
	MonitoredMetric string
	Folds           int
	FailedFolds     int
	BestFold        int
	BestValMetric   float64
	Classes         int
	Aggregate       map[string]model.MetricStats
	Bootstrap       map[string]stats.Interval
	ExportPath      string
	Warnings        []model.Warning
}

type PredictRequest struct {
	ModelPath      string
	RunID          string
	Latest         bool
	EmbeddingsPath string
	Seed           int64
}

type UncertaintyRequest struct {
	ModelPath      string
	RunID          string
	Latest         bool
	EmbeddingsPath string
	Passes         int
	Seed           int64
}

type RunsRequest struct {
	Limit int
}

type ReportRequest struct {
	RunID  string
	Latest bool
}

type CheckpointsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:     store,
		storeKind: storeKind,
		dbPath:    dbPath,
		runsDir:   runsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.Protocol == "" {
		return TrainSummary{}, errors.New("protocol is required")
	}
	if req.SequencesPath == "" {
		return TrainSummary{}, errors.New("sequences path is required")
	}
	if req.EmbeddingsPath == "" {
		return TrainSummary{}, errors.New("embeddings path is required")
	}
	if req.Model == "" {
		req.Model = "fnn"
	}
	if req.Optimizer == "" {
		req.Optimizer = "adam"
	}
	if req.LearningRate <= 0 {
		req.LearningRate = 0.001
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 128
	}
	if req.MaxEpochs <= 0 {
		req.MaxEpochs = 200
	}
	if req.Patience <= 0 {
		req.Patience = 20
	}
	if req.MinDelta <= 0 {
		req.MinDelta = 0.001
	}
	if req.Method == "" {
		req.Method = string(crossval.MethodHoldOut)
	}
	if req.Method == string(crossval.MethodKFold) && req.K == 0 {
		req.K = 5
	}
	if req.Seed == 0 {
		req.Seed = 42
	}

	proto := protocol.Protocol(req.Protocol)
	desc, err := protocol.Describe(proto)
	if err != nil {
		return TrainSummary{}, err
	}
	optimizer, err := optimizerFromRequest(req.Optimizer, req.LearningRate, req.Momentum)
	if err != nil {
		return TrainSummary{}, err
	}
	if _, err := optimizer(); err != nil {
		return TrainSummary{}, err
	}

	sequences, err := dataio.ReadFASTAFile(req.SequencesPath)
	if err != nil {
		return TrainSummary{}, err
	}
	var labels, masks []dataio.Record
	if req.LabelsPath != "" {
		if labels, err = dataio.ReadFASTAFile(req.LabelsPath); err != nil {
			return TrainSummary{}, err
		}
	}
	if req.MasksPath != "" {
		if masks, err = dataio.ReadFASTAFile(req.MasksPath); err != nil {
			return TrainSummary{}, err
		}
	}
	embeddings, err := dataio.ReadEmbeddingsFile(req.EmbeddingsPath)
	if err != nil {
		return TrainSummary{}, err
	}
	split, err := dataio.BuildPartitions(proto, dataio.BuildInputs{
		Sequences:  sequences,
		Labels:     labels,
		Masks:      masks,
		Embeddings: embeddings,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	embedder := req.Embedder
	if embedder == "" {
		embedder = embeddings.Embedder
	}

	pool := split.Train
	val := split.Val
	if req.Method == string(crossval.MethodKFold) {
		if pool, err = mergePool(split.Train, split.Val); err != nil {
			return TrainSummary{}, err
		}
		val = nil
	} else if val != nil && val.Len() == 0 {
		val = nil
	}

	numClasses := classSpan(pool, val, split.Test)
	archCfg := arch.Config{Name: req.Model, Hidden: req.Hidden, Activation: req.Activation, Dropout: req.Dropout}
	if _, err := arch.New(desc, archCfg, pool.Dim(), numClasses, req.Seed); err != nil {
		return TrainSummary{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = stats.NewRunID(time.Now())
	}
	runDir := stats.RunDir(c.runsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return TrainSummary{}, err
	}

	cfg := crossval.Config{
		Method:      crossval.Method(req.Method),
		K:           req.K,
		Stratified:  req.Stratified,
		ValFraction: req.ValFraction,
		Workers:     req.Workers,
		Seed:        req.Seed,
		Solver: solver.Config{
			BatchSize:       req.BatchSize,
			Shuffle:         req.Shuffle,
			BucketByLength:  req.BucketByLength,
			MaxEpochs:       req.MaxEpochs,
			Patience:        req.Patience,
			MinDelta:        req.MinDelta,
			Monitor:         req.Monitor,
			UseClassWeights: req.UseClassWeights,
			Model:           archCfg.Factory(desc),
			Optimizer:       optimizer,
			Checkpoints:     solver.NewCheckpointer(runDir, runID),
		},
	}
	if cfg, err = cfg.Normalized(desc); err != nil {
		return TrainSummary{}, err
	}

	rc := run.NewContext(runID, req.Seed, req.EventSink)
	rc.Eventf("run start id=%s protocol=%s method=%s folds=%d pool=%d test=%d device=%q",
		runID, desc.Name, cfg.Method, cfg.K, pool.Len(), split.Test.Len(), rc.Device)

	result, err := crossval.Run(ctx, rc, cfg, crossval.Data{Pool: pool, Val: val, Test: split.Test})
	if err != nil {
		return TrainSummary{}, err
	}
	best := bestFold(result.Folds, result.Models, cfg.Solver.Direction)
	if best < 0 {
		return TrainSummary{}, errors.New("no fold produced a model")
	}

	counts := model.SampleCounts{Pool: pool.Len()}
	if val != nil {
		counts.Pool += val.Len()
	}
	counts.Test = split.Test.Len()
	counts.Total = counts.Pool + counts.Test

	var preds testPredictions
	var bootstrap map[string]stats.Interval
	if split.Test.Len() > 0 {
		preds, err = collectTestPredictions(ctx, desc, result.Models[best], split.Test, cfg.Solver.BatchSize)
		if err != nil {
			return TrainSummary{}, err
		}
		if err := stats.WriteJSONLines(filepath.Join(runDir, predictionsFile), preds.records); err != nil {
			return TrainSummary{}, err
		}
		bcfg := stats.BootstrapConfig{
			Iterations: req.BootstrapIterations,
			Confidence: req.BootstrapConfidence,
			Seed:       req.Seed,
		}
		if desc.Classification {
			bootstrap, err = stats.BootstrapClassification(bcfg, preds.predClasses, preds.trueClasses, result.Classes)
		} else {
			bootstrap, err = stats.BootstrapRegression(bcfg, preds.predValues, preds.trueValues)
		}
		if err != nil {
			return TrainSummary{}, err
		}
	}

	warnings := result.Warnings
	var baseline *stats.BaselineReport
	if req.SanityChecks && split.Test.Len() > 0 {
		name, values, err := stats.Baseline(split.Test)
		if err != nil {
			return TrainSummary{}, err
		}
		baseline = &stats.BaselineReport{Name: name, Metrics: values}
		warnings = append(warnings, stats.SanityWarnings(stats.AggregateMetrics(result.Folds), name, values)...)
	}

	report := stats.BuildReport(runID, string(desc.Name), cfg.Solver.Monitor, cfg.Solver.Direction, result.Folds, counts, warnings)

	exp := inference.NewExport(proto, archCfg, result.Models[best], pool.Dim(), result.Classes, split.ClassNames)
	exp.Embedder = embedder
	exportPath := filepath.Join(runDir, exportFile)
	if err := inference.WriteExportFile(exportPath, exp); err != nil {
		return TrainSummary{}, err
	}

	artifacts := stats.RunArtifacts{
		Config:    c.echoConfig(req, runID, embedder, cfg),
		Report:    report,
		Bootstrap: bootstrap,
		Baseline:  baseline,
		Curves: &stats.CurveSet{
			TrainLoss: stats.TrainLossCurve(result.Folds),
			ValMetric: stats.ValMetricCurve(result.Folds),
		},
	}
	if _, err := stats.WriteRunArtifacts(c.runsDir, artifacts); err != nil {
		return TrainSummary{}, err
	}
	summary := stats.Summarize(report, string(cfg.Method), req.Model, cfg.Seed)
	if err := stats.AppendRunIndex(c.runsDir, summary); err != nil {
		return TrainSummary{}, err
	}

	if err := c.ensureStore(ctx); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveRunSummary(ctx, summary); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveRunReport(ctx, report); err != nil {
		return TrainSummary{}, err
	}
	for _, meta := range cfg.Solver.Checkpoints.Metas() {
		if err := c.store.SaveCheckpointMeta(ctx, meta); err != nil {
			return TrainSummary{}, err
		}
	}
	record := model.ExportRecord{
		VersionedRecord: exp.VersionedRecord,
		RunID:           runID,
		Protocol:        string(desc.Name),
		Path:            exportPath,
		InputShape:      []int{result.Models[best].InputDim()},
		CreatedAtUTC:    exp.CreatedAtUTC,
	}
	if err := c.store.SaveExportRecord(ctx, record); err != nil {
		return TrainSummary{}, err
	}

	rc.Eventf("run done id=%s folds=%d failed=%d best_fold=%d best_val_%s=%.6f",
		runID, len(result.Folds), report.FailedFolds, best, cfg.Solver.Monitor, result.Folds[best].BestValMetric)

	return TrainSummary{
		RunID:           runID,
		RunDir:          filepath.Clean(runDir),
		Protocol:        string(desc.Name),
		Method:          string(cfg.Method),
		MonitoredMetric: cfg.Solver.Monitor,
		Folds:           len(result.Folds),
		FailedFolds:     report.FailedFolds,
		BestFold:        best,
		BestValMetric:   result.Folds[best].BestValMetric,
		Classes:         result.Classes,
		Aggregate:       report.Aggregate,
		Bootstrap:       bootstrap,
		ExportPath:      exportPath,
		Warnings:        warnings,
	}, nil
}

func (c *Client) Predict(ctx context.Context, req PredictRequest) (inference.Result, error) {
	if req.EmbeddingsPath == "" {
		return inference.Result{}, errors.New("embeddings path is required")
	}
	path, err := c.resolveModelPath(ctx, req.ModelPath, req.RunID, req.Latest)
	if err != nil {
		return inference.Result{}, err
	}
	inf, err := inference.LoadInferencer(path, req.Seed)
	if err != nil {
		return inference.Result{}, err
	}
	file, err := dataio.ReadEmbeddingsFile(req.EmbeddingsPath)
	if err != nil {
		return inference.Result{}, err
	}
	return inf.Predict(ctx, file)
}

func (c *Client) Uncertainty(ctx context.Context, req UncertaintyRequest) (inference.MCDropout, error) {
	if req.EmbeddingsPath == "" {
		return inference.MCDropout{}, errors.New("embeddings path is required")
	}
	if req.Passes <= 0 {
		req.Passes = 30
	}
	path, err := c.resolveModelPath(ctx, req.ModelPath, req.RunID, req.Latest)
	if err != nil {
		return inference.MCDropout{}, err
	}
	inf, err := inference.LoadInferencer(path, req.Seed)
	if err != nil {
		return inference.MCDropout{}, err
	}
	file, err := dataio.ReadEmbeddingsFile(req.EmbeddingsPath)
	if err != nil {
		return inference.MCDropout{}, err
	}
	return inf.MonteCarloDropout(ctx, file, req.Passes)
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]model.RunSummary, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

func (c *Client) Report(ctx context.Context, req ReportRequest) (model.RunReport, error) {
	if req.RunID != "" && req.Latest {
		return model.RunReport{}, errors.New("use either run id or latest")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return model.RunReport{}, err
		}
		if len(entries) == 0 {
			return model.RunReport{}, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return model.RunReport{}, errors.New("report requires run id or latest")
	}

	if err := c.ensureStore(ctx); err != nil {
		return model.RunReport{}, err
	}
	report, ok, err := c.store.GetRunReport(ctx, runID)
	if err != nil {
		return model.RunReport{}, err
	}
	if ok {
		return report, nil
	}
	artifacts, ok, err := stats.ReadRunArtifacts(c.runsDir, runID)
	if err != nil {
		return model.RunReport{}, err
	}
	if ok {
		return artifacts.Report, nil
	}
	return model.RunReport{}, fmt.Errorf("report not found for run id: %s", runID)
}

func (c *Client) Checkpoints(ctx context.Context, req CheckpointsRequest) ([]model.CheckpointMeta, error) {
	if req.RunID != "" && req.Latest {
		return nil, errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no runs available")
		}
		runID = entries[0].RunID
	}
	if runID == "" {
		return nil, errors.New("checkpoints requires run id or latest")
	}

	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	metas, err := c.store.ListCheckpointMetas(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		metas, err = diskCheckpointMetas(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if req.Limit > 0 && len(metas) > req.Limit {
		metas = metas[:req.Limit]
	}
	return metas, nil
}

// diskCheckpointMetas rebuilds checkpoint metadata from the run
// directory's fold_NN_best.json files, covering runs recorded by a
// store that did not outlive the training process.
func diskCheckpointMetas(runsDir, runID string) ([]model.CheckpointMeta, error) {
	pattern := filepath.Join(stats.RunDir(runsDir, runID), "fold_*_best.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var metas []model.CheckpointMeta
	for _, path := range paths {
		record, err := solver.LoadCheckpoint(path)
		if err != nil {
			return nil, err
		}
		metas = append(metas, model.CheckpointMeta{
			VersionedRecord: record.VersionedRecord,
			RunID:           record.RunID,
			Fold:            record.Fold,
			Epoch:           record.Epoch,
			Metric:          record.Metric,
			Path:            path,
			CreatedAtUTC:    record.CreatedAtUTC,
		})
	}
	return metas, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.ready {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.ready = true
	return nil
}

// resolveModelPath maps a predict-style request onto an export file. A
// run id resolves through the store first and falls back to the run
// directory, so exports written by another process stay reachable.
func (c *Client) resolveModelPath(ctx context.Context, modelPath, runID string, latest bool) (string, error) {
	if modelPath != "" && (runID != "" || latest) {
		return "", errors.New("use either a model path or a run")
	}
	if modelPath != "" {
		return modelPath, nil
	}
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("prediction requires a model path, run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		runID = entries[0].RunID
	}

	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	record, ok, err := c.store.GetExportRecord(ctx, runID)
	if err != nil {
		return "", err
	}
	if ok {
		return record.Path, nil
	}
	path := filepath.Join(stats.RunDir(c.runsDir, runID), exportFile)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("no exported model for run id: %s", runID)
}

// echoConfig records the effective configuration after defaulting, so
// out.json reproduces the run without knowing the request defaults.
func (c *Client) echoConfig(req TrainRequest, runID, embedder string, cfg crossval.Config) stats.RunConfig {
	return stats.RunConfig{
		RunID:          runID,
		Protocol:       req.Protocol,
		SequencesPath:  req.SequencesPath,
		LabelsPath:     req.LabelsPath,
		MasksPath:      req.MasksPath,
		EmbeddingsPath: req.EmbeddingsPath,
		Embedder:       embedder,

		Model:      req.Model,
		Hidden:     req.Hidden,
		Activation: req.Activation,
		Dropout:    req.Dropout,

		Optimizer:    req.Optimizer,
		LearningRate: req.LearningRate,
		Momentum:     req.Momentum,

		BatchSize:       cfg.Solver.BatchSize,
		Shuffle:         cfg.Solver.Shuffle,
		BucketByLength:  cfg.Solver.BucketByLength,
		MaxEpochs:       cfg.Solver.MaxEpochs,
		Patience:        cfg.Solver.Patience,
		MinDelta:        cfg.Solver.MinDelta,
		Monitor:         cfg.Solver.Monitor,
		UseClassWeights: cfg.Solver.UseClassWeights,

		Method:      string(cfg.Method),
		K:           cfg.K,
		Stratified:  cfg.Stratified,
		ValFraction: cfg.ValFraction,
		Workers:     cfg.Workers,
		Seed:        cfg.Seed,

		BootstrapIterations: req.BootstrapIterations,
		BootstrapConfidence: req.BootstrapConfidence,
		SanityChecks:        req.SanityChecks,

		Storage:     c.storeKind,
		StoragePath: c.dbPath,
		OutDir:      c.runsDir,
	}
}

func optimizerFromRequest(name string, learningRate, momentum float64) (solver.OptimizerFactory, error) {
	switch name {
	case "sgd":
		return func() (nn.Optimizer, error) {
			return nn.NewSGD(learningRate, momentum)
		}, nil
	case "adam":
		return func() (nn.Optimizer, error) {
			return nn.NewAdam(learningRate, 0.9, 0.999, 1e-8)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported optimizer: %s", name)
	}
}

// mergePool folds an explicit validation split back into the pool;
// k-fold derives its own validation folds.
func mergePool(train, val *dataset.Partition) (*dataset.Partition, error) {
	if val == nil || val.Len() == 0 {
		return train, nil
	}
	samples := make([]dataset.Sample, 0, train.Len()+val.Len())
	for i := 0; i < train.Len(); i++ {
		samples = append(samples, train.At(i))
	}
	for i := 0; i < val.Len(); i++ {
		samples = append(samples, val.At(i))
	}
	return dataset.NewPartition(train.Protocol(), samples)
}

func classSpan(parts ...*dataset.Partition) int {
	span := 0
	for _, p := range parts {
		if p == nil {
			continue
		}
		if n := p.NumClasses(); n > span {
			span = n
		}
	}
	return span
}

func bestFold(folds []model.FoldResult, models []arch.Model, direction model.Direction) int {
	best := -1
	for i, fr := range folds {
		if fr.Status != model.FoldStatusOK || models[i] == nil {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		if direction == model.DirectionMaximize {
			if fr.BestValMetric > folds[best].BestValMetric {
				best = i
			}
		} else if fr.BestValMetric < folds[best].BestValMetric {
			best = i
		}
	}
	return best
}

type classPrediction struct {
	Sample    string `json:"sample"`
	I         int    `json:"i"`
	J         int    `json:"j"`
	Predicted int    `json:"predicted"`
	Truth     int    `json:"truth"`
}

type valuePrediction struct {
	Sample    string  `json:"sample"`
	I         int     `json:"i"`
	J         int     `json:"j"`
	Predicted float64 `json:"predicted"`
	Truth     float64 `json:"truth"`
}

type testPredictions struct {
	records     []any
	predClasses []int
	trueClasses []int
	predValues  []float64
	trueValues  []float64
}

// collectTestPredictions replays the best model over the test split and
// keeps per-position predictions for the JSONL artifact and bootstrap.
func collectTestPredictions(ctx context.Context, desc protocol.Descriptor, m arch.Model, test *dataset.Partition, batchSize int) (testPredictions, error) {
	var out testPredictions
	asm, err := dataset.NewAssembler(test, dataset.Options{BatchSize: batchSize})
	if err != nil {
		return out, err
	}
	stream := asm.Batches(0)
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		batch, ok := stream.Next()
		if !ok {
			break
		}
		rows := batch.LabelRows(desc)
		if len(rows) == 0 {
			continue
		}
		scores, err := m.Forward(batch, rows, false)
		if err != nil {
			return out, err
		}
		pred := arch.Decode(desc, scores)
		if desc.Classification {
			for k, row := range rows {
				out.records = append(out.records, classPrediction{
					Sample:    batch.IDs[row.Sample],
					I:         row.I,
					J:         row.J,
					Predicted: pred.Classes[k],
					Truth:     row.Class,
				})
				out.predClasses = append(out.predClasses, pred.Classes[k])
				out.trueClasses = append(out.trueClasses, row.Class)
			}
		} else {
			for k, row := range rows {
				out.records = append(out.records, valuePrediction{
					Sample:    batch.IDs[row.Sample],
					I:         row.I,
					J:         row.J,
					Predicted: pred.Values[k],
					Truth:     row.Value,
				})
				out.predValues = append(out.predValues, pred.Values[k])
				out.trueValues = append(out.trueValues, row.Value)
			}
		}
	}
	return out, nil
}
