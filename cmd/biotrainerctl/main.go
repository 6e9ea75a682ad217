package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/heispv/biotrainer/internal/dataio"
	"github.com/heispv/biotrainer/internal/protocol"
	runctx "github.com/heispv/biotrainer/internal/run"
	"github.com/heispv/biotrainer/internal/stats"
	bioapi "github.com/heispv/biotrainer/pkg/biotrainer"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "train":
		return runTrain(ctx, args[1:])
	case "predict":
		return runPredict(ctx, args[1:])
	case "uncertainty":
		return runUncertainty(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "report":
		return runReport(ctx, args[1:])
	case "checkpoints":
		return runCheckpoints(ctx, args[1:])
	case "protocols":
		return runProtocols(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "config":
		return runConfig(ctx, args[1:])
	case "device":
		return runDevice(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	profileName := fs.String("profile", "", "per-protocol training profile: sequence_to_class|sequence_to_value|residue_to_class|residue_to_value|residue_pair_to_class")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	protoName := fs.String("protocol", "", "prediction protocol (see the protocols command)")
	sequencesPath := fs.String("sequences", "", "sequence FASTA path")
	labelsPath := fs.String("labels", "", "label FASTA path (residue protocols)")
	masksPath := fs.String("masks", "", "mask FASTA path (residue protocols, optional)")
	embeddingsPath := fs.String("embeddings", "", "embedding JSON path")
	embedder := fs.String("embedder", "", "embedder name recorded in artifacts (defaults to the embedding file's)")
	modelName := fs.String("model", "fnn", "model architecture: fnn|linear|pairwise")
	hidden := fs.String("hidden", "32", "comma-separated hidden layer sizes (empty for none)")
	activation := fs.String("activation", "relu", "hidden activation: relu|tanh|sigmoid")
	dropout := fs.Float64("dropout", 0, "dropout rate in [0, 1)")
	optimizerName := fs.String("optimizer", "adam", "optimizer: adam|sgd")
	learningRate := fs.Float64("lr", 0.001, "learning rate")
	momentum := fs.Float64("momentum", 0, "sgd momentum in [0, 1)")
	batchSize := fs.Int("batch-size", 128, "training batch size")
	shuffle := fs.Bool("shuffle", true, "reshuffle training batches every epoch")
	bucketByLength := fs.Bool("bucket-by-length", false, "group similar-length sequences into batches")
	maxEpochs := fs.Int("max-epochs", 200, "epoch limit per fold")
	patience := fs.Int("patience", 20, "early-stopping patience in epochs")
	minDelta := fs.Float64("min-delta", 0.001, "minimum monitored improvement that resets patience")
	monitor := fs.String("monitor", "", "validation metric to monitor (defaults to the protocol's)")
	classWeights := fs.Bool("class-weights", false, "weight the loss by inverse class frequency")
	method := fs.String("method", "hold_out", "model selection method: hold_out|k_fold")
	k := fs.Int("k", 5, "fold count for k_fold")
	stratified := fs.Bool("stratified", false, "stratify k_fold folds by class")
	valFraction := fs.Float64("val-fraction", 0.2, "hold_out validation fraction when the data has no validation split")
	workers := fs.Int("workers", 1, "concurrent fold workers")
	seed := fs.Int64("seed", 42, "rng seed")
	bootstrapIterations := fs.Int("bootstrap-iterations", 1000, "bootstrap resampling iterations over test predictions")
	bootstrapConfidence := fs.Float64("bootstrap-confidence", 0.95, "bootstrap confidence level in (0, 1)")
	sanityChecks := fs.Bool("sanity-checks", true, "compare test metrics against the trivial baseline")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "biotrainer.db", "sqlite database path")
	outDir := fs.String("out-dir", "runs", "run artifact base directory")
	verbose := fs.Bool("verbose", false, "stream epoch events to stderr even without a TTY")
	asJSON := fs.Bool("json", false, "print the training summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg, err := loadOrDefaultRunConfig(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		hiddenSizes, err := parseHidden(*hidden)
		if err != nil {
			return err
		}
		cfg = stats.RunConfig{
			RunID:               *runID,
			Protocol:            *protoName,
			SequencesPath:       *sequencesPath,
			LabelsPath:          *labelsPath,
			MasksPath:           *masksPath,
			EmbeddingsPath:      *embeddingsPath,
			Embedder:            *embedder,
			Model:               *modelName,
			Hidden:              hiddenSizes,
			Activation:          *activation,
			Dropout:             *dropout,
			Optimizer:           *optimizerName,
			LearningRate:        *learningRate,
			Momentum:            *momentum,
			BatchSize:           *batchSize,
			Shuffle:             *shuffle,
			BucketByLength:      *bucketByLength,
			MaxEpochs:           *maxEpochs,
			Patience:            *patience,
			MinDelta:            *minDelta,
			Monitor:             *monitor,
			UseClassWeights:     *classWeights,
			Method:              *method,
			K:                   *k,
			Stratified:          *stratified,
			ValFraction:         *valFraction,
			Workers:             *workers,
			Seed:                *seed,
			BootstrapIterations: *bootstrapIterations,
			BootstrapConfidence: *bootstrapConfidence,
			SanityChecks:        *sanityChecks,
			Storage:             *storeKind,
			StoragePath:         *dbPath,
			OutDir:              *outDir,
		}
	} else {
		err := overrideFromFlags(&cfg, setFlags, map[string]any{
			"run-id":               *runID,
			"protocol":             *protoName,
			"sequences":            *sequencesPath,
			"labels":               *labelsPath,
			"masks":                *masksPath,
			"embeddings":           *embeddingsPath,
			"embedder":             *embedder,
			"model":                *modelName,
			"hidden":               *hidden,
			"activation":           *activation,
			"dropout":              *dropout,
			"optimizer":            *optimizerName,
			"lr":                   *learningRate,
			"momentum":             *momentum,
			"batch-size":           *batchSize,
			"shuffle":              *shuffle,
			"bucket-by-length":     *bucketByLength,
			"max-epochs":           *maxEpochs,
			"patience":             *patience,
			"min-delta":            *minDelta,
			"monitor":              *monitor,
			"class-weights":        *classWeights,
			"method":               *method,
			"k":                    *k,
			"stratified":           *stratified,
			"val-fraction":         *valFraction,
			"workers":              *workers,
			"seed":                 *seed,
			"bootstrap-iterations": *bootstrapIterations,
			"bootstrap-confidence": *bootstrapConfidence,
			"sanity-checks":        *sanityChecks,
			"store":                *storeKind,
			"db-path":              *dbPath,
			"out-dir":              *outDir,
		})
		if err != nil {
			return err
		}
	}
	if *profileName != "" {
		if err := applyTrainProfile(&cfg, *profileName); err != nil {
			return err
		}
	}

	client, err := bioapi.New(bioapi.Options{
		StoreKind: cfg.Storage,
		DBPath:    cfg.StoragePath,
		RunsDir:   cfg.OutDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := trainRequestFromConfig(cfg)
	req.EventSink = eventSink(*verbose)

	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("trained run_id=%s protocol=%s method=%s folds=%d failed=%d best_fold=%d best_val_%s=%.6f classes=%d\n",
		summary.RunID,
		summary.Protocol,
		summary.Method,
		summary.Folds,
		summary.FailedFolds,
		summary.BestFold,
		summary.MonitoredMetric,
		summary.BestValMetric,
		summary.Classes,
	)
	names := make([]string, 0, len(summary.Aggregate))
	for name := range summary.Aggregate {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stat := summary.Aggregate[name]
		line := fmt.Sprintf("metric name=%s mean=%.6f std=%.6f", name, stat.Mean, stat.Std)
		if interval, ok := summary.Bootstrap[name]; ok {
			line += fmt.Sprintf(" ci_lower=%.6f ci_upper=%.6f", interval.Lower, interval.Upper)
		}
		fmt.Println(line)
	}
	for _, warning := range summary.Warnings {
		fmt.Printf("warning kind=%s fold=%d message=%q\n", warning.Kind, warning.Fold, warning.Message)
	}
	fmt.Printf("artifacts dir=%s export=%s\n", summary.RunDir, summary.ExportPath)
	return nil
}

func runPredict(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	modelPath := fs.String("model", "", "exported model JSON path")
	runID := fs.String("run-id", "", "run id whose exported model to load")
	latest := fs.Bool("latest", false, "load the most recent run's exported model")
	embeddingsPath := fs.String("embeddings", "", "embedding JSON path to score")
	seed := fs.Int64("seed", 1, "rng seed (stochastic passes only)")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "biotrainer.db", "sqlite database path")
	outDir := fs.String("out-dir", "runs", "run artifact base directory")
	asJSON := fs.Bool("json", false, "print predictions as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelPath != "" && (*runID != "" || *latest) {
		return errors.New("use either --model or --run-id/--latest, not both")
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *modelPath == "" && *runID == "" && !*latest {
		return errors.New("predict requires --model, --run-id or --latest")
	}
	if *embeddingsPath == "" {
		return errors.New("predict requires --embeddings")
	}

	client, err := bioapi.New(bioapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Predict(ctx, bioapi.PredictRequest{
		ModelPath:      *modelPath,
		RunID:          *runID,
		Latest:         *latest,
		EmbeddingsPath: *embeddingsPath,
		Seed:           *seed,
	})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("predicted protocol=%s sequences=%s\n", result.Protocol, humanize.Comma(int64(len(result.IDs))))
	switch result.Protocol {
	case protocol.SequenceToClass:
		for i, id := range result.IDs {
			line := fmt.Sprintf("prediction id=%s class=%d", id, result.Classes[i])
			if len(result.Labels) > 0 {
				line += fmt.Sprintf(" label=%s", result.Labels[i])
			}
			if len(result.Probs) > 0 {
				line += fmt.Sprintf(" prob=%.4f", result.Probs[i][result.Classes[i]])
			}
			fmt.Println(line)
		}
	case protocol.SequenceToValue:
		for i, id := range result.IDs {
			fmt.Printf("prediction id=%s value=%.6f\n", id, result.Values[i])
		}
	case protocol.ResidueToClass:
		for i, id := range result.IDs {
			if len(result.ResidueLabels) > 0 && result.ResidueLabels[i] != "" {
				fmt.Printf("prediction id=%s residues=%d labels=%s\n", id, len(result.ResidueClasses[i]), result.ResidueLabels[i])
				continue
			}
			fmt.Printf("prediction id=%s residues=%d classes=%s\n", id, len(result.ResidueClasses[i]), joinInts(result.ResidueClasses[i]))
		}
	case protocol.ResidueToValue:
		for i, id := range result.IDs {
			values := result.ResidueValues[i]
			fmt.Printf("prediction id=%s residues=%d mean_value=%.6f\n", id, len(values), meanOf(values))
		}
	case protocol.ResiduePairToClass:
		for i, id := range result.IDs {
			matrix := result.PairClasses[i]
			fmt.Printf("prediction id=%s pair_matrix=%dx%d contacts=%d\n", id, len(matrix), len(matrix), countPositive(matrix))
		}
	}
	return nil
}

func runUncertainty(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("uncertainty", flag.ContinueOnError)
	modelPath := fs.String("model", "", "exported model JSON path")
	runID := fs.String("run-id", "", "run id whose exported model to load")
	latest := fs.Bool("latest", false, "load the most recent run's exported model")
	embeddingsPath := fs.String("embeddings", "", "embedding JSON path to score")
	passes := fs.Int("passes", 30, "stochastic forward passes")
	seed := fs.Int64("seed", 1, "rng seed for the dropout passes")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "biotrainer.db", "sqlite database path")
	outDir := fs.String("out-dir", "runs", "run artifact base directory")
	asJSON := fs.Bool("json", false, "print the uncertainty summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modelPath != "" && (*runID != "" || *latest) {
		return errors.New("use either --model or --run-id/--latest, not both")
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *modelPath == "" && *runID == "" && !*latest {
		return errors.New("uncertainty requires --model, --run-id or --latest")
	}
	if *embeddingsPath == "" {
		return errors.New("uncertainty requires --embeddings")
	}

	client, err := bioapi.New(bioapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	mc, err := client.Uncertainty(ctx, bioapi.UncertaintyRequest{
		ModelPath:      *modelPath,
		RunID:          *runID,
		Latest:         *latest,
		EmbeddingsPath: *embeddingsPath,
		Passes:         *passes,
		Seed:           *seed,
	})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mc)
	}

	desc, err := protocol.Describe(mc.Protocol)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("uncertainty protocol=%s passes=%d sequences=%d rows=%s", mc.Protocol, mc.Passes, len(mc.IDs), humanize.Comma(int64(len(mc.Rows))))
	if desc.Classification {
		total := 0.0
		for _, row := range mc.Rows {
			total += row.Agreement
		}
		if len(mc.Rows) > 0 {
			line += fmt.Sprintf(" mean_agreement=%.4f", total/float64(len(mc.Rows)))
		}
	}
	fmt.Println(line)
	if !desc.PerResidue {
		for _, row := range mc.Rows {
			id := mc.IDs[row.Sequence]
			if desc.Classification {
				fmt.Printf("row id=%s class=%d agreement=%.4f std=%.4f\n", id, row.Class, row.Agreement, row.Std[row.Class])
				continue
			}
			fmt.Printf("row id=%s mean=%.6f std=%.6f\n", id, row.Mean[0], row.Std[0])
		}
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	outDir := fs.String("out-dir", "runs", "run artifact base directory")
	asJSON := fs.Bool("json", false, "print run summaries as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := bioapi.New(bioapi.Options{RunsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Runs(ctx, bioapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, entry := range entries {
		created := entry.CreatedAtUTC
		if stamp, err := time.Parse(time.RFC3339Nano, entry.CreatedAtUTC); err == nil {
			created = humanize.Time(stamp)
		}
		fmt.Printf("run_id=%s created=%q protocol=%s method=%s folds=%d failed=%d model=%s seed=%d best_val_%s=%.6f samples=%d\n",
			entry.RunID,
			created,
			entry.Protocol,
			entry.Method,
			entry.Folds,
			entry.FailedFolds,
			entry.Model,
			entry.Seed,
			entry.MonitoredMetric,
			entry.BestValMetric,
			entry.TotalSamples,
		)
	}
	return nil
}

func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "report the most recent run")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "biotrainer.db", "sqlite database path")
	outDir := fs.String("out-dir", "runs", "run artifact base directory")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("report requires --run-id or --latest")
	}

	client, err := bioapi.New(bioapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, err := client.Report(ctx, bioapi.ReportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("report run_id=%s protocol=%s monitored=%s direction=%s folds=%d failed=%d created=%s\n",
		report.RunID,
		report.Protocol,
		report.MonitoredMetric,
		report.MetricDirection,
		len(report.Folds),
		report.FailedFolds,
		report.CreatedAtUTC,
	)
	fmt.Printf("samples pool=%d test=%d total=%d\n", report.SampleCounts.Pool, report.SampleCounts.Test, report.SampleCounts.Total)
	for _, fold := range report.Folds {
		line := fmt.Sprintf("fold=%d status=%s best_epoch=%d stopped_epoch=%d best_val=%.6f train=%d val=%d test=%d",
			fold.FoldIndex,
			fold.Status,
			fold.BestEpoch,
			fold.StoppedEpoch,
			fold.BestValMetric,
			fold.TrainSamples,
			fold.ValSamples,
			fold.TestSamples,
		)
		if fold.Error != "" {
			line += fmt.Sprintf(" error=%q", fold.Error)
		}
		fmt.Println(line)
	}
	names := make([]string, 0, len(report.Aggregate))
	for name := range report.Aggregate {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stat := report.Aggregate[name]
		fmt.Printf("metric name=%s mean=%.6f std=%.6f\n", name, stat.Mean, stat.Std)
	}
	for _, warning := range report.Warnings {
		fmt.Printf("warning kind=%s fold=%d message=%q\n", warning.Kind, warning.Fold, warning.Message)
	}
	return nil
}

func runCheckpoints(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoints", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "list the most recent run's checkpoints")
	limit := fs.Int("limit", 0, "maximum checkpoints to list (0 lists all)")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "biotrainer.db", "sqlite database path")
	outDir := fs.String("out-dir", "runs", "run artifact base directory")
	asJSON := fs.Bool("json", false, "print checkpoint metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("checkpoints requires --run-id or --latest")
	}
	if *limit < 0 {
		return errors.New("limit must be >= 0")
	}

	client, err := bioapi.New(bioapi.Options{StoreKind: *storeKind, DBPath: *dbPath, RunsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	metas, err := client.Checkpoints(ctx, bioapi.CheckpointsRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(metas)
	}
	if len(metas) == 0 {
		fmt.Println("no checkpoints found")
		return nil
	}
	for _, meta := range metas {
		fmt.Printf("checkpoint fold=%d epoch=%d metric=%.6f path=%s\n", meta.Fold, meta.Epoch, meta.Metric, meta.Path)
	}
	return nil
}

func runProtocols(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("protocols", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print protocol descriptors as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	descriptors := make([]protocol.Descriptor, 0, len(protocol.All()))
	for _, proto := range protocol.All() {
		desc, err := protocol.Describe(proto)
		if err != nil {
			return err
		}
		descriptors = append(descriptors, desc)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(descriptors)
	}
	for _, desc := range descriptors {
		fmt.Printf("protocol=%s per_residue=%t pairwise=%t classification=%t loss=%s metrics=%s monitor=%s direction=%s\n",
			desc.Name,
			desc.PerResidue,
			desc.Pairwise,
			desc.Classification,
			desc.LossFamily,
			desc.MetricFamily,
			desc.DefaultMonitor,
			desc.DefaultDirection,
		)
	}
	return nil
}

func runGenerate(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	protoName := fs.String("protocol", "", "prediction protocol to fabricate data for")
	outDir := fs.String("out", "", "output directory for the dataset files")
	samples := fs.Int("samples", 60, "sample count")
	dim := fs.Int("dim", 8, "embedding dimension")
	minLen := fs.Int("min-len", 12, "minimum sequence length")
	maxLen := fs.Int("max-len", 30, "maximum sequence length")
	classes := fs.Int("classes", 0, "class count for classification protocols (0 uses the default)")
	embedder := fs.String("embedder", "synthetic", "embedder name stamped into the embedding file")
	seed := fs.Int64("seed", 1, "rng seed")
	asJSON := fs.Bool("json", false, "print written paths as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *protoName == "" {
		return errors.New("generate requires --protocol")
	}
	if *outDir == "" {
		return errors.New("generate requires --out")
	}

	files, err := dataio.GenerateFiles(dataio.GenerateConfig{
		Protocol: protocol.Protocol(*protoName),
		Samples:  *samples,
		Dim:      *dim,
		MinLen:   *minLen,
		MaxLen:   *maxLen,
		Classes:  *classes,
		Embedder: *embedder,
		Seed:     *seed,
	})
	if err != nil {
		return err
	}
	paths, err := dataio.WriteFiles(*outDir, files)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Protocol   string `json:"protocol"`
			Samples    int    `json:"samples"`
			Dim        int    `json:"dim"`
			Sequences  string `json:"sequences"`
			Labels     string `json:"labels,omitempty"`
			Masks      string `json:"masks,omitempty"`
			Embeddings string `json:"embeddings"`
		}{*protoName, len(files.Sequences), *dim, paths.Sequences, paths.Labels, paths.Masks, paths.Embeddings})
	}

	fmt.Printf("generated protocol=%s samples=%d dim=%d dir=%s\n", *protoName, len(files.Sequences), *dim, filepath.Clean(*outDir))
	printDatasetFile("sequences", paths.Sequences)
	if paths.Labels != "" {
		printDatasetFile("labels", paths.Labels)
	}
	if paths.Masks != "" {
		printDatasetFile("masks", paths.Masks)
	}
	printDatasetFile("embeddings", paths.Embeddings)
	return nil
}

func runConfig(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	filePath := fs.String("file", "", "run config JSON path to validate")
	asJSON := fs.Bool("json", false, "print the resolved config as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *filePath == "" {
		return errors.New("config requires --file")
	}

	cfg, err := loadRunConfig(*filePath)
	if err != nil {
		return err
	}
	resolved := resolveRunConfig(cfg)
	if resolved.Protocol != "" {
		if _, err := protocol.Describe(protocol.Protocol(resolved.Protocol)); err != nil {
			return err
		}
	}
	switch resolved.Optimizer {
	case "adam", "sgd":
	default:
		return fmt.Errorf("unsupported optimizer: %s", resolved.Optimizer)
	}
	switch resolved.Method {
	case "hold_out", "k_fold":
	default:
		return fmt.Errorf("unsupported method: %s", resolved.Method)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resolved)
	}

	fmt.Printf("config ok file=%s\n", *filePath)
	fmt.Printf("run protocol=%s method=%s k=%d seed=%d workers=%d\n", resolved.Protocol, resolved.Method, resolved.K, resolved.Seed, resolved.Workers)
	fmt.Printf("data sequences=%s labels=%s masks=%s embeddings=%s embedder=%s\n", resolved.SequencesPath, resolved.LabelsPath, resolved.MasksPath, resolved.EmbeddingsPath, resolved.Embedder)
	fmt.Printf("model name=%s hidden=%s activation=%s dropout=%.2f\n", resolved.Model, formatHidden(resolved.Hidden), resolved.Activation, resolved.Dropout)
	fmt.Printf("optimizer name=%s lr=%.4f momentum=%.2f\n", resolved.Optimizer, resolved.LearningRate, resolved.Momentum)
	fmt.Printf("training batch_size=%d shuffle=%t bucket_by_length=%t max_epochs=%d patience=%d min_delta=%.4f monitor=%s class_weights=%t\n",
		resolved.BatchSize, resolved.Shuffle, resolved.BucketByLength, resolved.MaxEpochs, resolved.Patience, resolved.MinDelta, resolved.Monitor, resolved.UseClassWeights)
	fmt.Printf("analysis bootstrap_iterations=%d bootstrap_confidence=%.2f sanity_checks=%t\n", resolved.BootstrapIterations, resolved.BootstrapConfidence, resolved.SanityChecks)
	fmt.Printf("storage kind=%s path=%s out_dir=%s\n", resolved.Storage, resolved.StoragePath, resolved.OutDir)
	return nil
}

func runDevice(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("device", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the device report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	device := runctx.DetectDevice()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(device)
	}
	fmt.Printf("device %s\n", device)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: biotrainerctl <train|predict|uncertainty|runs|report|checkpoints|protocols|generate|config|device> [flags]", msg)
}

// eventSink picks where live epoch events go: stderr when someone is
// watching, nowhere otherwise.
func eventSink(verbose bool) io.Writer {
	if verbose || isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return os.Stderr
	}
	return nil
}

func printDatasetFile(kind, path string) {
	line := fmt.Sprintf("file kind=%s path=%s", kind, path)
	if info, err := os.Stat(path); err == nil {
		line += fmt.Sprintf(" size=%s", humanize.Bytes(uint64(info.Size())))
	}
	fmt.Println(line)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func countPositive(matrix [][]int) int {
	count := 0
	for _, row := range matrix {
		for _, class := range row {
			if class > 0 {
				count++
			}
		}
	}
	return count
}
