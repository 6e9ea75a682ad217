package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/heispv/biotrainer/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	summaries   map[string]model.RunSummary
	reports     map[string]model.RunReport
	checkpoints map[string]map[int]model.CheckpointMeta
	exports     map[string]model.ExportRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.summaries = make(map[string]model.RunSummary)
	s.reports = make(map[string]model.RunReport)
	s.checkpoints = make(map[string]map[int]model.CheckpointMeta)
	s.exports = make(map[string]model.ExportRecord)
	return nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRunSummaries(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]model.RunSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAtUTC == summaries[j].CreatedAtUTC {
			return summaries[i].RunID > summaries[j].RunID
		}
		return summaries[i].CreatedAtUTC > summaries[j].CreatedAtUTC
	})
	return summaries, nil
}

func (s *MemoryStore) SaveRunReport(_ context.Context, report model.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[report.RunID] = report
	return nil
}

func (s *MemoryStore) GetRunReport(_ context.Context, runID string) (model.RunReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[runID]
	return report, ok, nil
}

func (s *MemoryStore) SaveCheckpointMeta(_ context.Context, meta model.CheckpointMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byFold, ok := s.checkpoints[meta.RunID]
	if !ok {
		byFold = make(map[int]model.CheckpointMeta)
		s.checkpoints[meta.RunID] = byFold
	}
	byFold[meta.Fold] = meta
	return nil
}

func (s *MemoryStore) ListCheckpointMetas(_ context.Context, runID string) ([]model.CheckpointMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byFold := s.checkpoints[runID]
	metas := make([]model.CheckpointMeta, 0, len(byFold))
	for _, meta := range byFold {
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Fold < metas[j].Fold })
	return metas, nil
}

func (s *MemoryStore) SaveExportRecord(_ context.Context, record model.ExportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exports[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetExportRecord(_ context.Context, runID string) (model.ExportRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.exports[runID]
	return record, ok, nil
}
