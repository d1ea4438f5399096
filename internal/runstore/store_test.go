package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Kunal-debug-png/GoComet/internal/model"
)

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func runStoreConformance(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	run := model.Run{RunID: "run-1", PlanID: "plan-1", State: model.RunCreated, CreatedAt: time.Now().UTC()}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.PlanID != "plan-1" || got.State != model.RunCreated {
		t.Errorf("GetRun = %+v, want plan-1/created", got)
	}

	if err := s.UpdateRunState(ctx, "run-1", model.RunRunning, ""); err != nil {
		t.Fatalf("UpdateRunState: %v", err)
	}
	got, _ = s.GetRun(ctx, "run-1")
	if got.State != model.RunRunning {
		t.Errorf("state after update = %v, want running", got.State)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt should stay nil for a non-terminal state")
	}

	if err := s.UpdateRunState(ctx, "run-1", model.RunFailed, "boom"); err != nil {
		t.Fatalf("UpdateRunState: %v", err)
	}
	got, _ = s.GetRun(ctx, "run-1")
	if got.State != model.RunFailed || got.Error != "boom" {
		t.Errorf("got %+v, want failed/boom", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set for a terminal state")
	}

	_, err = s.GetRun(ctx, "no-such-run")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun missing: err = %v, want ErrNotFound", err)
	}

	nr := model.NodeRun{
		RunID:          "run-1",
		NodeID:         "node-a",
		State:          model.NodeSucceeded,
		Attempts:       1,
		IdempotencyKey: "key-abc",
		Output:         map[string]any{"rows": float64(4)},
		ArtifactURIs:   []string{"artifact://node-a/out.csv"},
	}
	if err := s.UpsertNodeRun(ctx, nr); err != nil {
		t.Fatalf("UpsertNodeRun: %v", err)
	}

	gotNR, err := s.GetNodeRun(ctx, "run-1", "node-a")
	if err != nil {
		t.Fatalf("GetNodeRun: %v", err)
	}
	if gotNR.State != model.NodeSucceeded || gotNR.IdempotencyKey != "key-abc" {
		t.Errorf("GetNodeRun = %+v", gotNR)
	}
	if gotNR.Output["rows"] != float64(4) {
		t.Errorf("Output[rows] = %v, want 4", gotNR.Output["rows"])
	}
	if len(gotNR.ArtifactURIs) != 1 || gotNR.ArtifactURIs[0] != "artifact://node-a/out.csv" {
		t.Errorf("ArtifactURIs = %v", gotNR.ArtifactURIs)
	}

	// Upsert again (retry bumping attempts) replaces, not appends.
	nr.Attempts = 2
	if err := s.UpsertNodeRun(ctx, nr); err != nil {
		t.Fatalf("UpsertNodeRun (update): %v", err)
	}
	list, err := s.ListNodeRuns(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListNodeRuns: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(ListNodeRuns) = %d, want 1", len(list))
	}
	if list[0].Attempts != 2 {
		t.Errorf("Attempts after re-upsert = %d, want 2", list[0].Attempts)
	}

	cached, ok, err := s.FindSucceededByIdempotencyKey(ctx, "key-abc")
	if err != nil {
		t.Fatalf("FindSucceededByIdempotencyKey: %v", err)
	}
	if !ok || cached.NodeID != "node-a" {
		t.Errorf("FindSucceededByIdempotencyKey = %+v, %v", cached, ok)
	}

	_, ok, err = s.FindSucceededByIdempotencyKey(ctx, "no-such-key")
	if err != nil {
		t.Fatalf("FindSucceededByIdempotencyKey: %v", err)
	}
	if ok {
		t.Error("FindSucceededByIdempotencyKey should miss for an unknown key")
	}

	// A second, entirely separate run with the same idempotency key
	// (e.g. identical plan + context, re-run) must still hit the cache —
	// spec.md's cache-hit scenario re-runs a succeeded plan in a new Run
	// and expects every tool NodeRun to resolve `cached`. What does NOT
	// cross runs is artifact storage itself (see internal/executor).
	run2 := model.Run{RunID: "run-2", PlanID: "plan-1", State: model.RunCreated, CreatedAt: time.Now().UTC()}
	if err := s.CreateRun(ctx, run2); err != nil {
		t.Fatalf("CreateRun run-2: %v", err)
	}
	cached, ok, err = s.FindSucceededByIdempotencyKey(ctx, "key-abc")
	if err != nil {
		t.Fatalf("FindSucceededByIdempotencyKey (cross-run): %v", err)
	}
	if !ok || cached.RunID != "run-1" {
		t.Errorf("FindSucceededByIdempotencyKey from run-2 = %+v, %v, want a hit against run-1's NodeRun", cached, ok)
	}
}

func TestMemStore_Conformance(t *testing.T) {
	runStoreConformance(t, NewMemStore())
}

func TestSQLStore_Conformance(t *testing.T) {
	runStoreConformance(t, newSQLStore(t))
}

func TestSQLStore_CreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
}
