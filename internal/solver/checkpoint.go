package solver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
)

const (
	checkpointSchemaVersion = 1
	checkpointCodecVersion  = 1
)

// CheckpointRecord is the on-disk form of a best-epoch snapshot.
type CheckpointRecord struct {
	model.VersionedRecord
	RunID        string      `json:"run_id"`
	Fold         int         `json:"fold"`
	Epoch        int         `json:"epoch"`
	Metric       float64     `json:"metric"`
	Snapshot     nn.Snapshot `json:"snapshot"`
	CreatedAtUTC string      `json:"created_at_utc"`
}

// Checkpointer persists best-weight snapshots, one file per fold,
// through a write-temp-then-rename sequence so a crash never leaves a
// partial file as the latest checkpoint. The first write failure
// degrades the checkpointer to memory-only: it warns once and later
// saves stop touching the disk. Safe for concurrent folds.
type Checkpointer struct {
	dir   string
	runID string

	mu       sync.Mutex
	degraded bool
	metas    []model.CheckpointMeta
}

// NewCheckpointer writes checkpoints under dir. An empty dir means
// memory-only from the start: saves succeed without touching disk.
func NewCheckpointer(dir, runID string) *Checkpointer {
	return &Checkpointer{dir: dir, runID: runID}
}

// Save persists a snapshot for one fold's best epoch. It returns a
// checkpoint-io warning instead of an error on failure; the in-memory
// snapshot held by the controller stays authoritative either way.
func (c *Checkpointer) Save(fold, epoch int, metric float64, snapshot nn.Snapshot) *model.Warning {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dir == "" || c.degraded {
		return nil
	}

	record := CheckpointRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: checkpointSchemaVersion,
			CodecVersion:  checkpointCodecVersion,
		},
		RunID:        c.runID,
		Fold:         fold,
		Epoch:        epoch,
		Metric:       metric,
		Snapshot:     snapshot,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
	path := filepath.Join(c.dir, fmt.Sprintf("fold_%02d_best.json", fold))
	if err := writeFileAtomic(path, record); err != nil {
		c.degraded = true
		return &model.Warning{
			Kind:    model.WarnCheckpointIO,
			Fold:    fold,
			Epoch:   epoch,
			Message: fmt.Sprintf("checkpoint write failed, keeping snapshots in memory: %v", err),
		}
	}

	meta := model.CheckpointMeta{
		VersionedRecord: record.VersionedRecord,
		RunID:           c.runID,
		Fold:            fold,
		Epoch:           epoch,
		Metric:          metric,
		Path:            path,
		CreatedAtUTC:    record.CreatedAtUTC,
	}
	for i := range c.metas {
		if c.metas[i].Fold == fold {
			c.metas[i] = meta
			return nil
		}
	}
	c.metas = append(c.metas, meta)
	return nil
}

// Metas lists the latest persisted checkpoint per fold.
func (c *Checkpointer) Metas() []model.CheckpointMeta {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.CheckpointMeta(nil), c.metas...)
}

// Degraded reports whether a write failure switched the checkpointer to
// memory-only.
func (c *Checkpointer) Degraded() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// LoadCheckpoint reads a checkpoint file back, rejecting unknown schema
// versions.
func LoadCheckpoint(path string) (CheckpointRecord, error) {
	var record CheckpointRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if record.SchemaVersion != checkpointSchemaVersion {
		return record, fmt.Errorf("checkpoint %s: unsupported schema version %d", path, record.SchemaVersion)
	}
	return record, nil
}

// writeFileAtomic writes v as JSON to a temp file in path's directory,
// syncs it, then renames it over path.
func writeFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
