package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/heispv/biotrainer/internal/protocol"
	"github.com/heispv/biotrainer/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func generateDataset(t *testing.T, proto, dir string, samples int) {
	t.Helper()
	err := run(context.Background(), []string{
		"generate",
		"--protocol", proto,
		"--out", dir,
		"--samples", strconv.Itoa(samples),
		"--dim", "6",
		"--seed", "19",
	})
	if err != nil {
		t.Fatalf("generate command: %v", err)
	}
}

func TestTrainCommandCreatesArtifacts(t *testing.T) {
	chdirTemp(t)
	generateDataset(t, "sequence_to_class", "data", 40)

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"train",
			"--run-id", "cli-train",
			"--protocol", "sequence_to_class",
			"--sequences", filepath.Join("data", "sequences.fasta"),
			"--embeddings", filepath.Join("data", "embeddings.json"),
			"--hidden", "16",
			"--activation", "tanh",
			"--optimizer", "sgd",
			"--lr", "0.05",
			"--batch-size", "16",
			"--max-epochs", "12",
			"--patience", "4",
			"--seed", "7",
		})
	})
	if err != nil {
		t.Fatalf("train command: %v", err)
	}
	if !strings.Contains(out, "trained run_id=cli-train") {
		t.Fatalf("missing trained line: %s", out)
	}
	if !strings.Contains(out, "metric name=accuracy") {
		t.Fatalf("missing accuracy metric line: %s", out)
	}
	if !strings.Contains(out, "artifacts dir=") {
		t.Fatalf("missing artifacts line: %s", out)
	}

	runDir := filepath.Join("runs", "cli-train")
	for _, file := range []string{"out.json", "model.json", "fold_00_best.json", "test_predictions.jsonl"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}

	artifacts, ok, err := stats.ReadRunArtifacts("runs", "cli-train")
	if err != nil || !ok {
		t.Fatalf("read run artifacts: ok=%t err=%v", ok, err)
	}
	if artifacts.Config.Optimizer != "sgd" || artifacts.Config.BatchSize != 16 {
		t.Fatalf("unexpected config echo: %+v", artifacts.Config)
	}
	if artifacts.Config.Storage != "memory" || artifacts.Config.OutDir != "runs" {
		t.Fatalf("unexpected storage echo: %+v", artifacts.Config)
	}
	if len(artifacts.Bootstrap) == 0 {
		t.Fatal("expected bootstrap intervals in out.json")
	}
	if artifacts.Baseline == nil || artifacts.Baseline.Name != "majority_class" {
		t.Fatalf("unexpected baseline: %+v", artifacts.Baseline)
	}
}

func TestTrainCommandConfigFileAndFlagOverrides(t *testing.T) {
	workdir := chdirTemp(t)
	generateDataset(t, "sequence_to_class", "data", 40)

	configPath := filepath.Join(workdir, "train_config.json")
	cfg := map[string]any{
		"protocol":        "sequence_to_class",
		"sequences_path":  filepath.Join("data", "sequences.fasta"),
		"embeddings_path": filepath.Join("data", "embeddings.json"),
		"optimizer":       "sgd",
		"learning_rate":   0.05,
		"batch_size":      32,
		"max_epochs":      10,
		"patience":        3,
		"shuffle":         true,
		"seed":            7,
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err = run(context.Background(), []string{
		"train",
		"--config", configPath,
		"--run-id", "cli-config-run",
		"--max-epochs", "6",
		"--hidden", "8",
	})
	if err != nil {
		t.Fatalf("train command with config: %v", err)
	}

	artifacts, ok, err := stats.ReadRunArtifacts("runs", "cli-config-run")
	if err != nil || !ok {
		t.Fatalf("read run artifacts: ok=%t err=%v", ok, err)
	}
	if artifacts.Config.RunID != "cli-config-run" {
		t.Fatalf("expected run id override, got %s", artifacts.Config.RunID)
	}
	if artifacts.Config.MaxEpochs != 6 {
		t.Fatalf("expected --max-epochs override 6, got %d", artifacts.Config.MaxEpochs)
	}
	if artifacts.Config.BatchSize != 32 {
		t.Fatalf("expected file batch size 32, got %d", artifacts.Config.BatchSize)
	}
	if len(artifacts.Config.Hidden) != 1 || artifacts.Config.Hidden[0] != 8 {
		t.Fatalf("expected --hidden override [8], got %v", artifacts.Config.Hidden)
	}
	if artifacts.Config.Optimizer != "sgd" {
		t.Fatalf("expected file optimizer sgd, got %s", artifacts.Config.Optimizer)
	}
	if artifacts.Baseline != nil {
		t.Fatalf("expected no baseline without sanity_checks, got %+v", artifacts.Baseline)
	}
}

func TestTrainCommandRejectsUnknownConfigKeys(t *testing.T) {
	workdir := chdirTemp(t)
	configPath := filepath.Join(workdir, "bad_config.json")
	if err := os.WriteFile(configPath, []byte(`{"protocol":"sequence_to_class","learning_rte":0.1}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err := run(context.Background(), []string{"train", "--config", configPath})
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestPredictReportRunsCheckpointsFlow(t *testing.T) {
	chdirTemp(t)
	generateDataset(t, "sequence_to_class", "data", 40)

	err := run(context.Background(), []string{
		"train",
		"--run-id", "cli-flow",
		"--protocol", "sequence_to_class",
		"--sequences", filepath.Join("data", "sequences.fasta"),
		"--embeddings", filepath.Join("data", "embeddings.json"),
		"--hidden", "16",
		"--optimizer", "sgd",
		"--lr", "0.05",
		"--batch-size", "16",
		"--max-epochs", "8",
		"--patience", "3",
		"--seed", "7",
	})
	if err != nil {
		t.Fatalf("train command: %v", err)
	}

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"runs", "--limit", "5"})
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(out, "run_id=cli-flow") {
		t.Fatalf("runs output missing run id: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"report", "--latest"})
	})
	if err != nil {
		t.Fatalf("report command: %v", err)
	}
	if !strings.Contains(out, "report run_id=cli-flow") {
		t.Fatalf("report output missing run id: %s", out)
	}
	if !strings.Contains(out, "samples pool=34 test=6 total=40") {
		t.Fatalf("report output missing sample counts: %s", out)
	}
	if !strings.Contains(out, "fold=0 status=ok") {
		t.Fatalf("report output missing fold line: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{
			"predict",
			"--latest",
			"--embeddings", filepath.Join("data", "embeddings.json"),
		})
	})
	if err != nil {
		t.Fatalf("predict command: %v", err)
	}
	if !strings.Contains(out, "predicted protocol=sequence_to_class sequences=40") {
		t.Fatalf("predict output missing header: %s", out)
	}
	if !strings.Contains(out, "prediction id=S0001 class=") {
		t.Fatalf("predict output missing prediction line: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"checkpoints", "--run-id", "cli-flow"})
	})
	if err != nil {
		t.Fatalf("checkpoints command: %v", err)
	}
	if !strings.Contains(out, "checkpoint fold=0 epoch=") {
		t.Fatalf("checkpoints output missing line: %s", out)
	}
}

func TestUncertaintyCommandOverDropoutRun(t *testing.T) {
	chdirTemp(t)
	generateDataset(t, "sequence_to_class", "data", 30)

	err := run(context.Background(), []string{
		"train",
		"--run-id", "cli-mc",
		"--protocol", "sequence_to_class",
		"--sequences", filepath.Join("data", "sequences.fasta"),
		"--embeddings", filepath.Join("data", "embeddings.json"),
		"--hidden", "8",
		"--dropout", "0.3",
		"--batch-size", "16",
		"--max-epochs", "5",
		"--patience", "2",
		"--seed", "5",
	})
	if err != nil {
		t.Fatalf("train command: %v", err)
	}

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"uncertainty",
			"--run-id", "cli-mc",
			"--embeddings", filepath.Join("data", "embeddings.json"),
			"--passes", "5",
			"--seed", "3",
		})
	})
	if err != nil {
		t.Fatalf("uncertainty command: %v", err)
	}
	if !strings.Contains(out, "uncertainty protocol=sequence_to_class passes=5") {
		t.Fatalf("uncertainty output missing header: %s", out)
	}
	if !strings.Contains(out, "mean_agreement=") {
		t.Fatalf("uncertainty output missing agreement: %s", out)
	}
	if !strings.Contains(out, "row id=S0001 class=") {
		t.Fatalf("uncertainty output missing row line: %s", out)
	}
}

func TestGenerateCommandWritesResidueDataset(t *testing.T) {
	chdirTemp(t)

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"generate",
			"--protocol", "residue_to_class",
			"--out", "rdata",
			"--samples", "12",
			"--dim", "4",
			"--seed", "3",
		})
	})
	if err != nil {
		t.Fatalf("generate command: %v", err)
	}
	if !strings.Contains(out, "generated protocol=residue_to_class samples=12") {
		t.Fatalf("generate output missing header: %s", out)
	}
	if !strings.Contains(out, "file kind=labels") {
		t.Fatalf("generate output missing labels file line: %s", out)
	}
	for _, file := range []string{"sequences.fasta", "labels.fasta", "masks.fasta", "embeddings.json"} {
		if _, err := os.Stat(filepath.Join("rdata", file)); err != nil {
			t.Fatalf("expected generated file %s: %v", file, err)
		}
	}
}

func TestGenerateCommandValidation(t *testing.T) {
	if err := run(context.Background(), []string{"generate"}); err == nil || !strings.Contains(err.Error(), "generate requires --protocol") {
		t.Fatalf("expected missing protocol error, got %v", err)
	}
	if err := run(context.Background(), []string{"generate", "--protocol", "sequence_to_class"}); err == nil || !strings.Contains(err.Error(), "generate requires --out") {
		t.Fatalf("expected missing out error, got %v", err)
	}
}

func TestProtocolsCommandListsDescriptors(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"protocols"})
	})
	if err != nil {
		t.Fatalf("protocols command: %v", err)
	}
	if !strings.Contains(out, "protocol=sequence_to_class") || !strings.Contains(out, "protocol=residue_pair_to_class") {
		t.Fatalf("protocols output missing entries: %s", out)
	}
	if !strings.Contains(out, "loss=cross_entropy") || !strings.Contains(out, "loss=mean_squared_error") {
		t.Fatalf("protocols output missing loss families: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"protocols", "--json"})
	})
	if err != nil {
		t.Fatalf("protocols json command: %v", err)
	}
	var descriptors []protocol.Descriptor
	if err := json.Unmarshal([]byte(out), &descriptors); err != nil {
		t.Fatalf("decode protocols json: %v", err)
	}
	if len(descriptors) != 5 {
		t.Fatalf("expected 5 descriptors, got %d", len(descriptors))
	}
}

func TestConfigCommandValidatesAndEchoes(t *testing.T) {
	workdir := chdirTemp(t)
	configPath := filepath.Join(workdir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"protocol":"sequence_to_class"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"config", "--file", configPath})
	})
	if err != nil {
		t.Fatalf("config command: %v", err)
	}
	if !strings.Contains(out, "config ok") {
		t.Fatalf("config output missing ok line: %s", out)
	}
	if !strings.Contains(out, "model name=fnn hidden=32") {
		t.Fatalf("config output missing model defaults: %s", out)
	}
	if !strings.Contains(out, "optimizer name=adam") {
		t.Fatalf("config output missing optimizer defaults: %s", out)
	}
	if !strings.Contains(out, "monitor=loss") {
		t.Fatalf("config output missing monitor default: %s", out)
	}
	if !strings.Contains(out, "storage kind=memory") {
		t.Fatalf("config output missing storage defaults: %s", out)
	}

	badProtocol := filepath.Join(workdir, "bad_protocol.json")
	if err := os.WriteFile(badProtocol, []byte(`{"protocol":"bogus"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run(context.Background(), []string{"config", "--file", badProtocol}); err == nil || !strings.Contains(err.Error(), "unknown protocol") {
		t.Fatalf("expected unknown protocol error, got %v", err)
	}

	badOptimizer := filepath.Join(workdir, "bad_optimizer.json")
	if err := os.WriteFile(badOptimizer, []byte(`{"optimizer":"rmsprop"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run(context.Background(), []string{"config", "--file", badOptimizer}); err == nil || !strings.Contains(err.Error(), "unsupported optimizer: rmsprop") {
		t.Fatalf("expected unsupported optimizer error, got %v", err)
	}

	unknownKey := filepath.Join(workdir, "unknown_key.json")
	if err := os.WriteFile(unknownKey, []byte(`{"protocl":"sequence_to_class"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run(context.Background(), []string{"config", "--file", unknownKey}); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestDeviceCommand(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"device"})
	})
	if err != nil {
		t.Fatalf("device command: %v", err)
	}
	if !strings.Contains(out, "device cpu") || !strings.Contains(out, "cores=") {
		t.Fatalf("unexpected device output: %s", out)
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"device", "--json"})
	})
	if err != nil {
		t.Fatalf("device json command: %v", err)
	}
	var report map[string]any
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode device json: %v", err)
	}
	if report["kind"] != "cpu" {
		t.Fatalf("unexpected device kind: %v", report["kind"])
	}
}

func TestCommandValidation(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"missing command", nil, "usage:"},
		{"unknown command", []string{"bogus"}, "unknown command: bogus"},
		{"predict no selector", []string{"predict", "--embeddings", "x.json"}, "predict requires --model, --run-id or --latest"},
		{"predict selector conflict", []string{"predict", "--run-id", "a", "--latest", "--embeddings", "x.json"}, "use either --run-id or --latest, not both"},
		{"predict model conflict", []string{"predict", "--model", "m.json", "--latest", "--embeddings", "x.json"}, "use either --model or --run-id/--latest, not both"},
		{"predict no embeddings", []string{"predict", "--latest"}, "predict requires --embeddings"},
		{"uncertainty no selector", []string{"uncertainty", "--embeddings", "x.json"}, "uncertainty requires --model, --run-id or --latest"},
		{"uncertainty no embeddings", []string{"uncertainty", "--latest"}, "uncertainty requires --embeddings"},
		{"report no selector", []string{"report"}, "report requires --run-id or --latest"},
		{"report selector conflict", []string{"report", "--run-id", "a", "--latest"}, "use either --run-id or --latest, not both"},
		{"checkpoints no selector", []string{"checkpoints"}, "checkpoints requires --run-id or --latest"},
		{"checkpoints negative limit", []string{"checkpoints", "--run-id", "a", "--limit", "-1"}, "limit must be >= 0"},
		{"runs zero limit", []string{"runs", "--limit", "0"}, "limit must be > 0"},
		{"config no file", []string{"config"}, "config requires --file"},
	}
	for _, tc := range cases {
		err := run(context.Background(), tc.args)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRunsCommandEmptyState(t *testing.T) {
	chdirTemp(t)
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"runs"})
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(out, "no runs found") {
		t.Fatalf("expected empty state message, got %s", out)
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}
