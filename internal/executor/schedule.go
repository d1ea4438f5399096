package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kunal-debug-png/GoComet/internal/model"
)

// runPlan schedules plan's nodes across a bounded worker pool in
// topological order: a node becomes eligible the instant every node it
// depends on has reached a successful terminal state, not in
// synchronous waves, so independent branches of the DAG run concurrently
// up to workersPerRun. Modeled on the teacher's runParallelCalibration
// worker-pool pattern (errgroup.WithContext + SetLimit over a channel of
// jobs), generalized from that function's two fixed phases to a
// dynamically-growing ready set driven by in-degree bookkeeping.
func (e *Executor) runPlan(ctx context.Context, plan model.Plan, runID string) {
	nodeByID := make(map[string]model.NodeSpec, len(plan.Nodes))
	inDegree := make(map[string]int, len(plan.Nodes))
	downstream := make(map[string][]string, len(plan.Nodes))
	for _, n := range plan.Nodes {
		nodeByID[n.NodeID] = n
		inDegree[n.NodeID] = len(n.Upstream)
	}
	for _, edge := range plan.Edges {
		downstream[edge.From] = append(downstream[edge.From], edge.To)
	}

	var mu sync.Mutex
	state := make(map[string]model.NodeRunState, len(plan.Nodes))
	pending := len(plan.Nodes)
	var failure error

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()

	ready := make(chan string, len(plan.Nodes)+1)
	doneCh := make(chan struct{})
	var closeDoneOnce sync.Once
	finish := func() { closeDoneOnce.Do(func() { close(doneCh) }) }

	enqueueReadyLocked := func() {
		for id, d := range inDegree {
			if d == 0 && state[id] == "" {
				state[id] = model.NodePending
				ready <- id
			}
		}
	}

	mu.Lock()
	enqueueReadyLocked()
	if pending == 0 {
		finish()
	}
	mu.Unlock()

	complete := func(id string, outcome model.NodeRunState) {
		mu.Lock()
		defer mu.Unlock()
		state[id] = outcome
		pending--
		switch outcome {
		case model.NodeSucceeded, model.NodeCached:
			for _, next := range downstream[id] {
				inDegree[next]--
			}
			enqueueReadyLocked()
		case model.NodeFailed:
			if failure == nil {
				failure = fmt.Errorf("node %q failed", id)
				cancelDispatch()
				e.skipRemainingLocked(runID, nodeByID, state)
				pending = 0
			}
		}
		if pending <= 0 {
			finish()
		}
	}

	// A run-level cancellation (Cancel(runID), or the caller's own ctx
	// expiring) must sweep not-yet-started nodes to skipped exactly like
	// an internal failure does, even though it arrives on ctx rather than
	// through a node outcome.
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			if failure == nil {
				cancelDispatch()
				e.skipRemainingLocked(runID, nodeByID, state)
				pending = 0
			}
			mu.Unlock()
			finish()
		case <-doneCh:
		}
	}()

	g, gctx := errgroup.WithContext(dispatchCtx)
	g.SetLimit(e.workersPerRun)

consume:
	for {
		select {
		case id := <-ready:
			mu.Lock()
			stop := failure != nil
			mu.Unlock()
			if stop {
				continue
			}
			nodeID := id
			g.Go(func() error {
				outcome := e.dispatchNode(gctx, runID, nodeByID[nodeID])
				complete(nodeID, outcome)
				return nil
			})
		case <-doneCh:
			break consume
		}
	}
	_ = g.Wait()

	e.finalizeRun(ctx, runID, failure)
}

// skipRemainingLocked marks every node that has neither finished nor
// started dispatching as skipped. Nodes already running are left alone:
// their own in-flight dispatchNode call observes the cancelled dispatch
// context and resolves itself to failed/cancelled rather than being
// overwritten out from under it here.
func (e *Executor) skipRemainingLocked(runID string, nodeByID map[string]model.NodeSpec, state map[string]model.NodeRunState) {
	now := time.Now().UTC()
	for id := range nodeByID {
		switch state[id] {
		case model.NodeSucceeded, model.NodeCached, model.NodeFailed, model.NodeSkipped, model.NodeRunning:
			continue
		}
		_ = e.store.UpsertNodeRun(context.Background(), model.NodeRun{
			RunID: runID, NodeID: id, State: model.NodeSkipped, StartedAt: &now, FinishedAt: &now,
		})
		state[id] = model.NodeSkipped
	}
}

// finalizeRun records the run's terminal state. ctx is the run's own
// context (the one Cancel(runID) cancels) — its Err is checked directly
// rather than inferred from failure, so an externally cancelled run is
// reported cancelled even on the rare case where it also raced a
// concurrent node failure.
func (e *Executor) finalizeRun(ctx context.Context, runID string, failure error) {
	var state model.RunState
	var errMsg string
	switch {
	case ctx.Err() != nil:
		state = model.RunCancelled
	case failure != nil:
		state = model.RunFailed
		errMsg = failure.Error()
	default:
		state = model.RunSucceeded
	}
	_ = e.store.UpdateRunState(context.Background(), runID, state, errMsg)
}
