package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
)

// CheckpointStore keeps per-tool resumption cursors in memory.
type CheckpointStore struct {
	mu     sync.RWMutex
	byTool map[string]*models.Checkpoint
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{byTool: make(map[string]*models.Checkpoint)}
}

func (s *CheckpointStore) Get(ctx context.Context, toolID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byTool[toolID]
	if !ok {
		return nil, nil
	}
	out := *cp
	return &out, nil
}

func (s *CheckpointStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *cp
	s.byTool[cp.ToolID] = &out
	return nil
}

// ManifestStore keeps per-document chunk manifests in memory.
type ManifestStore struct {
	mu    sync.RWMutex
	byDoc map[string]*models.ChunkManifest
}

func NewManifestStore() *ManifestStore {
	return &ManifestStore{byDoc: make(map[string]*models.ChunkManifest)}
}

func (s *ManifestStore) Get(ctx context.Context, docID string) (*models.ChunkManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byDoc[docID]
	if !ok {
		return nil, nil
	}
	out := *m
	out.ChunkIDs = append([]string(nil), m.ChunkIDs...)
	return &out, nil
}

func (s *ManifestStore) Save(ctx context.Context, m *models.ChunkManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *m
	out.ChunkIDs = append([]string(nil), m.ChunkIDs...)
	s.byDoc[m.DocID] = &out
	return nil
}

// AuditStore keeps the invocation log in memory, oldest first.
type AuditStore struct {
	mu   sync.RWMutex
	recs []*models.AuditRecord
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(ctx context.Context, rec *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs = append(s.recs, &cp)
	return nil
}

func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]*models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.recs) {
		limit = len(s.recs)
	}
	out := make([]*models.AuditRecord, 0, limit)
	for i := len(s.recs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.recs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *AuditStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.recs[:0]
	var purged int64
	for _, r := range s.recs {
		if r.Ts.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, r)
	}
	s.recs = kept
	return purged, nil
}

// RunStore keeps pipeline runs in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*models.PipelineRun
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*models.PipelineRun)}
}

func (s *RunStore) Create(ctx context.Context, run *models.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *RunStore) Update(ctx context.Context, run *models.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return faults.Errorf(faults.NotFound, "runs.update", "run %s not found", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*models.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, faults.Errorf(faults.NotFound, "runs.get", "run %s not found", id)
	}
	cp := *run
	return &cp, nil
}

func (s *RunStore) List(ctx context.Context, f models.RunFilters) ([]*models.PipelineRun, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.PipelineRun
	for _, run := range s.runs {
		if f.TenantID != "" && run.TenantID != f.TenantID {
			continue
		}
		if f.ToolID != "" && run.ToolID != f.ToolID {
			continue
		}
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		cp := *run
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= total {
			return nil, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *RunStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, run := range s.runs {
		if run.Terminal() && run.StartedAt.Before(cutoff) {
			delete(s.runs, id)
			purged++
		}
	}
	return purged, nil
}
