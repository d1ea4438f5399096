package runstore

import (
	"context"
	"sync"
	"time"

	"github.com/Kunal-debug-png/GoComet/internal/model"
)

// MemStore is an in-memory Store, used by tests and by the CLI commands
// when storage.db_path is set empty.
type MemStore struct {
	mu    sync.Mutex
	runs  map[string]model.Run
	nodes map[string]map[string]model.NodeRun // run_id -> node_id -> NodeRun
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:  make(map[string]model.Run),
		nodes: make(map[string]map[string]model.NodeRun),
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) CreateRun(_ context.Context, run model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.runs[run.RunID] = run
	if _, ok := s.nodes[run.RunID]; !ok {
		s.nodes[run.RunID] = make(map[string]model.NodeRun)
	}
	return nil
}

func (s *MemStore) GetRun(_ context.Context, runID string) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return run, nil
}

func (s *MemStore) UpdateRunState(_ context.Context, runID string, state model.RunState, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.State = state
	run.Error = errMsg
	if state == model.RunSucceeded || state == model.RunFailed || state == model.RunCancelled {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	s.runs[runID] = run
	return nil
}

func (s *MemStore) UpsertNodeRun(_ context.Context, nr model.NodeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[nr.RunID]; !ok {
		s.nodes[nr.RunID] = make(map[string]model.NodeRun)
	}
	s.nodes[nr.RunID][nr.NodeID] = nr
	return nil
}

func (s *MemStore) GetNodeRun(_ context.Context, runID, nodeID string) (model.NodeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNode, ok := s.nodes[runID]
	if !ok {
		return model.NodeRun{}, ErrNotFound
	}
	nr, ok := byNode[nodeID]
	if !ok {
		return model.NodeRun{}, ErrNotFound
	}
	return nr, nil
}

func (s *MemStore) ListNodeRuns(_ context.Context, runID string) ([]model.NodeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNode, ok := s.nodes[runID]
	if !ok {
		return nil, nil
	}
	out := make([]model.NodeRun, 0, len(byNode))
	for _, nr := range byNode {
		out = append(out, nr)
	}
	return out, nil
}

func (s *MemStore) FindSucceededByIdempotencyKey(_ context.Context, idempotencyKey string) (model.NodeRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best model.NodeRun
	var found bool
	for _, byNode := range s.nodes {
		for _, nr := range byNode {
			if nr.IdempotencyKey != idempotencyKey || nr.State != model.NodeSucceeded {
				continue
			}
			if !found || (nr.FinishedAt != nil && (best.FinishedAt == nil || nr.FinishedAt.After(*best.FinishedAt))) {
				best, found = nr, true
			}
		}
	}
	return best, found, nil
}

var _ Store = (*MemStore)(nil)
var _ Store = (*SQLStore)(nil)
