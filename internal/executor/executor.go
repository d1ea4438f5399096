// Package executor implements the DAG Executor: given a validated Plan,
// it schedules nodes across a bounded worker pool in topological order,
// dispatches tool nodes through the Tool Client and agent nodes through
// the Agent Registry, persists every NodeRun transition to the Run
// Store, and resolves artifact-backed arguments through the Artifact
// Store. It is the only package that mutates Run/NodeRun state once a
// Plan has been accepted.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Kunal-debug-png/GoComet/internal/agent"
	"github.com/Kunal-debug-png/GoComet/internal/artifactstore"
	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/logging"
	"github.com/Kunal-debug-png/GoComet/internal/metrics"
	"github.com/Kunal-debug-png/GoComet/internal/model"
	"github.com/Kunal-debug-png/GoComet/internal/runstore"
	"github.com/Kunal-debug-png/GoComet/internal/toolclient"
)

// Defaults for the bounded concurrency the executor imposes, per-run and
// across every run sharing one Executor.
const (
	DefaultWorkersPerRun   = 4
	DefaultGlobalInFlight  = 16
	defaultRetryBackoff    = 250 * time.Millisecond
	defaultAgentTimeout    = 10 * time.Second
)

// Executor runs Plans. The zero value is not usable; build one with New.
type Executor struct {
	store     runstore.Store
	artifacts *artifactstore.Store
	tools     *toolclient.Client
	agents    agent.Registry
	idx       *capability.Index
	logger    *slog.Logger
	metrics   *metrics.Metrics

	workersPerRun int
	globalSem     *semaphore.Weighted
	retryBackoff  time.Duration
	agentTimeout  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Option configures an Executor built by New.
type Option func(*Executor)

// WithWorkersPerRun overrides the default per-run worker-pool size.
func WithWorkersPerRun(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workersPerRun = n
		}
	}
}

// WithGlobalInFlight overrides the default cap on total tool processes
// in flight across every run sharing this Executor.
func WithGlobalInFlight(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.globalSem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRetryBackoff overrides the fixed delay between a node's first
// attempt and its single retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.retryBackoff = d
		}
	}
}

// WithAgentTimeout overrides the deadline applied to an agent-kind
// node's in-process call, used when the node itself sets none.
func WithAgentTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.agentTimeout = d
		}
	}
}

// WithAgents swaps in a Registry other than agent.Default.
func WithAgents(r agent.Registry) Option {
	return func(e *Executor) { e.agents = r }
}

// WithMetrics points the Executor at a *metrics.Metrics registered
// against a real Prometheus registry, instead of the unexposed Noop
// registry New builds by default.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New builds an Executor wired to its collaborators. idx is the
// Capability Index the Tool Client was built from; it is read again here
// (rather than threaded only through tools) because dispatch needs
// manifest details — method name, wants_inline — the Tool Client's own
// Call signature doesn't expose.
func New(store runstore.Store, artifacts *artifactstore.Store, tools *toolclient.Client, idx *capability.Index, opts ...Option) *Executor {
	e := &Executor{
		store:         store,
		artifacts:     artifacts,
		tools:         tools,
		agents:        agent.Default,
		idx:           idx,
		logger:        logging.New("executor"),
		metrics:       metrics.Noop(),
		workersPerRun: DefaultWorkersPerRun,
		globalSem:     semaphore.NewWeighted(DefaultGlobalInFlight),
		retryBackoff:  defaultRetryBackoff,
		agentTimeout:  defaultAgentTimeout,
		cancels:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute mints a new run for plan, seeds every node as pending, and
// schedules it asynchronously. It returns as soon as the run is
// recorded and scheduling has begun; callers observe progress through
// the Run Store (or Status) and wait for completion out of band.
func (e *Executor) Execute(ctx context.Context, plan model.Plan) (string, error) {
	runID := uuid.NewString()
	now := time.Now().UTC()
	run := model.Run{RunID: runID, PlanID: plan.PlanID, State: model.RunCreated, CreatedAt: now}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("executor: create run: %w", err)
	}
	for _, n := range plan.Nodes {
		nr := model.NodeRun{RunID: runID, NodeID: n.NodeID, State: model.NodePending}
		if err := e.store.UpsertNodeRun(ctx, nr); err != nil {
			return "", fmt.Errorf("executor: seed node run %s: %w", n.NodeID, err)
		}
	}
	if err := e.store.UpdateRunState(ctx, runID, model.RunRunning, ""); err != nil {
		return "", fmt.Errorf("executor: mark run running: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[runID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.cancels, runID)
			e.mu.Unlock()
			cancel()
		}()
		e.runPlan(runCtx, plan, runID)
	}()

	return runID, nil
}

// Cancel requests cooperative cancellation of an in-flight run: pending
// nodes are marked skipped, running nodes are signaled to stop (a tool
// process is killed as soon as its dispatch goroutine observes the
// cancellation), and the run transitions to cancelled. Cancel on a run
// this Executor is not currently tracking (already finished, or never
// started by it) is a no-op.
func (e *Executor) Cancel(runID string) {
	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Status returns the run and its node runs as currently recorded.
func (e *Executor) Status(ctx context.Context, runID string) (model.Run, []model.NodeRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return model.Run{}, nil, err
	}
	nodeRuns, err := e.store.ListNodeRuns(ctx, runID)
	if err != nil {
		return model.Run{}, nil, err
	}
	return run, nodeRuns, nil
}
