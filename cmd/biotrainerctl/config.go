package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/heispv/biotrainer/internal/protocol"
	"github.com/heispv/biotrainer/internal/stats"
	bioapi "github.com/heispv/biotrainer/pkg/biotrainer"
)

// loadRunConfig decodes a run config file strictly: a misspelled key
// fails instead of silently training with defaults.
func loadRunConfig(path string) (stats.RunConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return stats.RunConfig{}, err
	}
	defer func() {
		_ = file.Close()
	}()

	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	var cfg stats.RunConfig
	if err := dec.Decode(&cfg); err != nil {
		return stats.RunConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

func loadOrDefaultRunConfig(configPath string) (stats.RunConfig, error) {
	if configPath == "" {
		return stats.RunConfig{}, nil
	}
	cfg, err := loadRunConfig(configPath)
	if err != nil {
		return stats.RunConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func overrideFromFlags(cfg *stats.RunConfig, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			cfg.RunID = v.(string)
		case "protocol":
			cfg.Protocol = v.(string)
		case "sequences":
			cfg.SequencesPath = v.(string)
		case "labels":
			cfg.LabelsPath = v.(string)
		case "masks":
			cfg.MasksPath = v.(string)
		case "embeddings":
			cfg.EmbeddingsPath = v.(string)
		case "embedder":
			cfg.Embedder = v.(string)
		case "model":
			cfg.Model = v.(string)
		case "hidden":
			sizes, err := parseHidden(v.(string))
			if err != nil {
				return err
			}
			cfg.Hidden = sizes
		case "activation":
			cfg.Activation = v.(string)
		case "dropout":
			cfg.Dropout = v.(float64)
		case "optimizer":
			cfg.Optimizer = v.(string)
		case "lr":
			cfg.LearningRate = v.(float64)
		case "momentum":
			cfg.Momentum = v.(float64)
		case "batch-size":
			cfg.BatchSize = v.(int)
		case "shuffle":
			cfg.Shuffle = v.(bool)
		case "bucket-by-length":
			cfg.BucketByLength = v.(bool)
		case "max-epochs":
			cfg.MaxEpochs = v.(int)
		case "patience":
			cfg.Patience = v.(int)
		case "min-delta":
			cfg.MinDelta = v.(float64)
		case "monitor":
			cfg.Monitor = v.(string)
		case "class-weights":
			cfg.UseClassWeights = v.(bool)
		case "method":
			cfg.Method = v.(string)
		case "k":
			cfg.K = v.(int)
		case "stratified":
			cfg.Stratified = v.(bool)
		case "val-fraction":
			cfg.ValFraction = v.(float64)
		case "workers":
			cfg.Workers = v.(int)
		case "seed":
			cfg.Seed = v.(int64)
		case "bootstrap-iterations":
			cfg.BootstrapIterations = v.(int)
		case "bootstrap-confidence":
			cfg.BootstrapConfidence = v.(float64)
		case "sanity-checks":
			cfg.SanityChecks = v.(bool)
		case "store":
			cfg.Storage = v.(string)
		case "db-path":
			cfg.StoragePath = v.(string)
		case "out-dir":
			cfg.OutDir = v.(string)
		}
	}
	return nil
}

func parseHidden(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, part := range parts {
		size, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid hidden layer size %q", part)
		}
		if size <= 0 {
			return nil, fmt.Errorf("hidden layer sizes must be > 0, got %d", size)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

func formatHidden(sizes []int) string {
	if len(sizes) == 0 {
		return "none"
	}
	parts := make([]string, len(sizes))
	for i, size := range sizes {
		parts[i] = strconv.Itoa(size)
	}
	return strings.Join(parts, ",")
}

// resolveRunConfig fills the defaults a run would train with, so the
// config command echoes the record out.json would carry.
func resolveRunConfig(cfg stats.RunConfig) stats.RunConfig {
	if cfg.Model == "" {
		cfg.Model = "fnn"
	}
	if cfg.Activation == "" {
		cfg.Activation = "relu"
	}
	if cfg.Hidden == nil && cfg.Model != "linear" {
		cfg.Hidden = []int{32}
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = "adam"
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.MaxEpochs <= 0 {
		cfg.MaxEpochs = 200
	}
	if cfg.Patience <= 0 {
		cfg.Patience = 20
	}
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = 0.001
	}
	if cfg.Method == "" {
		cfg.Method = "hold_out"
	}
	if cfg.Method == "k_fold" && cfg.K == 0 {
		cfg.K = 5
	}
	if cfg.ValFraction <= 0 {
		cfg.ValFraction = 0.2
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.BootstrapIterations == 0 {
		cfg.BootstrapIterations = 1000
	}
	if cfg.BootstrapConfidence == 0 {
		cfg.BootstrapConfidence = 0.95
	}
	if cfg.Monitor == "" && cfg.Protocol != "" {
		if desc, err := protocol.Describe(protocol.Protocol(cfg.Protocol)); err == nil {
			cfg.Monitor = desc.DefaultMonitor
		}
	}
	if cfg.Storage == "" {
		cfg.Storage = "memory"
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "biotrainer.db"
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "runs"
	}
	return cfg
}

func trainRequestFromConfig(cfg stats.RunConfig) bioapi.TrainRequest {
	return bioapi.TrainRequest{
		RunID:               cfg.RunID,
		Protocol:            cfg.Protocol,
		SequencesPath:       cfg.SequencesPath,
		LabelsPath:          cfg.LabelsPath,
		MasksPath:           cfg.MasksPath,
		EmbeddingsPath:      cfg.EmbeddingsPath,
		Embedder:            cfg.Embedder,
		Model:               cfg.Model,
		Hidden:              cfg.Hidden,
		Activation:          cfg.Activation,
		Dropout:             cfg.Dropout,
		Optimizer:           cfg.Optimizer,
		LearningRate:        cfg.LearningRate,
		Momentum:            cfg.Momentum,
		BatchSize:           cfg.BatchSize,
		Shuffle:             cfg.Shuffle,
		BucketByLength:      cfg.BucketByLength,
		MaxEpochs:           cfg.MaxEpochs,
		Patience:            cfg.Patience,
		MinDelta:            cfg.MinDelta,
		Monitor:             cfg.Monitor,
		UseClassWeights:     cfg.UseClassWeights,
		Method:              cfg.Method,
		K:                   cfg.K,
		Stratified:          cfg.Stratified,
		ValFraction:         cfg.ValFraction,
		Workers:             cfg.Workers,
		Seed:                cfg.Seed,
		BootstrapIterations: cfg.BootstrapIterations,
		BootstrapConfidence: cfg.BootstrapConfidence,
		SanityChecks:        cfg.SanityChecks,
	}
}
