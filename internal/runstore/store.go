// Package runstore persists Run and NodeRun state: the single source of
// truth the executor transitions through a per-run serialization point,
// and the substrate the idempotency cache is derived from.
package runstore

import (
	"context"
	"errors"

	"github.com/Kunal-debug-png/GoComet/internal/model"
)

// ErrNotFound is returned when a Run or NodeRun lookup misses.
var ErrNotFound = errors.New("runstore: not found")

// Store is the persistence facade for Run and NodeRun records. Domain code
// (router, planner, executor, CLI) depends only on this interface;
// SQLite and in-memory implementations satisfy it.
type Store interface {
	// CreateRun inserts a new Run, created in model.RunCreated state.
	CreateRun(ctx context.Context, run model.Run) error
	// GetRun returns the Run by ID, or ErrNotFound.
	GetRun(ctx context.Context, runID string) (model.Run, error)
	// UpdateRunState transitions a Run's state and records an optional
	// terminal error and finish time.
	UpdateRunState(ctx context.Context, runID string, state model.RunState, errMsg string) error

	// UpsertNodeRun inserts or replaces the NodeRun for (run_id, node_id).
	UpsertNodeRun(ctx context.Context, nr model.NodeRun) error
	// GetNodeRun returns the NodeRun for (runID, nodeID), or ErrNotFound.
	GetNodeRun(ctx context.Context, runID, nodeID string) (model.NodeRun, error)
	// ListNodeRuns returns all NodeRuns for a Run, in no particular order.
	ListNodeRuns(ctx context.Context, runID string) ([]model.NodeRun, error)

	// FindSucceededByIdempotencyKey looks up any prior succeeded NodeRun
	// (in this run or an earlier one) sharing idempotencyKey, for
	// cache-hit checks. The lookup is deliberately global: spec.md's
	// cache-hit scenario runs the same plan twice in separate Runs and
	// expects every tool NodeRun to resolve `cached` on the second run.
	// What does NOT cross runs is artifact storage itself — a cache hit
	// against a different run's NodeRun still requires the executor to
	// copy the referenced artifact bytes into the new run's own
	// directory, since the Artifact Store is run-scoped and an artifact's
	// lifetime is tied to its owning run.
	FindSucceededByIdempotencyKey(ctx context.Context, idempotencyKey string) (model.NodeRun, bool, error)

	Close() error
}
