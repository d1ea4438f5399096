package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Kunal-debug-png/GoComet/internal/agent"
	"github.com/Kunal-debug-png/GoComet/internal/artifactstore"
	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/logging"
	"github.com/Kunal-debug-png/GoComet/internal/model"
	"github.com/Kunal-debug-png/GoComet/internal/toolclient"
)

// inlineOutputLimit is the byte threshold past which a string field in a
// node's result is promoted out of the NodeRun's Output row and into the
// Artifact Store, replaced by its artifact:// URI. Keeps node_runs rows
// small and gives large blobs (extracted text, rendered tables) the same
// atomic-write/content-addressed handling any other artifact gets.
const inlineOutputLimit = 4096

// primaryMethod resolves the single JSON-RPC method a tool-kind node
// call dispatches to. See DESIGN.md's internal/toolclient entry: no node
// carries a method selector, so a tool is expected to declare exactly
// one; a manifest declaring more than one is resolved deterministically
// by sorted name rather than rejected outright.
func primaryMethod(tool capability.Tool) (capability.Method, bool) {
	if len(tool.Methods) == 0 {
		return capability.Method{}, false
	}
	names := make([]string, 0, len(tool.Methods))
	for name := range tool.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return tool.Methods[names[0]], true
}

// SchemaViolationError reports that a node's resolved arguments, or a
// tool's returned result, failed validation against the tool's declared
// JSON Schema. Always fatal: a schema mismatch reflects a wiring or tool
// bug that a retry cannot fix.
type SchemaViolationError struct {
	Stage string // "input" or "output"
	Tool  string
	Err   error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("executor: %s: %s schema violation: %v", e.Tool, e.Stage, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

// classify maps a dispatch error onto the ErrorKind label persisted on a
// failed NodeRun and the retry decision the dispatch loop makes from it.
// Only ToolError's retryability is manifest-declared; Timeout is treated
// as transient by default, while ProtocolError and SpawnError are not
// retried since a second attempt within the same backoff window is very
// unlikely to see a different outcome (a malformed response or an
// unknown/unavailable tool won't resolve itself between attempts).
func classify(err error) (kind string, retryable bool) {
	var schemaErr *SchemaViolationError
	if errors.As(err, &schemaErr) {
		return "schema_violation", false
	}
	var callErr *toolclient.CallError
	if errors.As(err, &callErr) {
		switch callErr.Kind {
		case toolclient.Timeout:
			return "timeout", true
		case toolclient.ProtocolError:
			return "protocol_error", false
		case toolclient.SpawnError:
			return "spawn_error", false
		case toolclient.ToolError:
			return "tool_error", callErr.Retryable()
		}
	}
	var missing *MissingArtifactError
	if errors.As(err, &missing) {
		return "missing_artifact", false
	}
	var unknownAgent agent.ErrUnknownAgent
	if errors.As(err, &unknownAgent) {
		return "unknown_agent", false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled", false
	}
	return "agent_error", false
}

// dispatchTool hands a resolved call to the Tool Client, bounded by the
// cross-run global semaphore so the total number of tool processes in
// flight never exceeds the Executor's configured cap regardless of how
// many runs are active at once.
func (e *Executor) dispatchTool(ctx context.Context, node model.NodeSpec, args map[string]any) (map[string]any, error) {
	tool, ok := e.idx.ByName(node.Name)
	if !ok {
		return nil, &toolclient.CallError{Kind: toolclient.SpawnError, Message: fmt.Sprintf("unknown tool %q", node.Name)}
	}
	method, hasMethod := primaryMethod(tool)
	methodName := ""
	if hasMethod {
		methodName = method.Name
		if err := method.ValidateInput(args); err != nil {
			return nil, &SchemaViolationError{Stage: "input", Tool: node.Name, Err: err}
		}
	} else {
		e.logger.Warn("tool declares no methods", "tool", node.Name)
	}

	if err := e.globalSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.globalSem.Release(1)

	timeout := time.Duration(node.TimeoutMS) * time.Millisecond
	callStart := time.Now()
	result, err := e.tools.Call(ctx, node.Name, methodName, args, timeout)
	e.metrics.ToolCallDuration.WithLabelValues(node.Name).Observe(time.Since(callStart).Seconds())
	if err != nil {
		return nil, err
	}
	if hasMethod {
		if verr := method.ValidateOutput(result); verr != nil {
			return nil, &SchemaViolationError{Stage: "output", Tool: node.Name, Err: verr}
		}
	}
	return result, nil
}

// dispatchAgent runs a pure agent Func under a watchdog timeout. A
// misbehaving Func that never returns leaks one goroutine rather than
// hanging the node's dispatch forever — acceptable since Default's four
// agents are pure, allocation-only transforms with no blocking call
// anywhere in them, so the watchdog firing would itself be the anomaly
// worth investigating, not routine behavior the executor must recover
// resources from.
func (e *Executor) dispatchAgent(ctx context.Context, node model.NodeSpec, args map[string]any) (map[string]any, error) {
	fn, ok := e.agents.Lookup(node.Name)
	if !ok {
		return nil, agent.ErrUnknownAgent{Name: node.Name}
	}

	timeout := e.agentTimeout
	if node.TimeoutMS > 0 {
		timeout = time.Duration(node.TimeoutMS) * time.Millisecond
	}

	type outcome struct {
		out map[string]any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := fn(args)
		done <- outcome{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("executor: agent %q exceeded %s", node.Name, timeout)
	}
}

// dispatchNode runs one node to a terminal NodeRunState: a global cache
// hit short-circuits straight to cached (after copying the referenced
// artifact bytes into this run's own directory, since artifact storage
// itself never aliases across runs); otherwise it dispatches, retrying
// once on a retryable failure with a fixed backoff, per spec's
// attempts <= max_retries+1 budget.
func (e *Executor) dispatchNode(ctx context.Context, runID string, node model.NodeSpec) model.NodeRunState {
	nodeLogger := logging.ForNode(logging.ForRun("executor", runID), node.NodeID)
	idemKey := ComputeIdempotencyKey(node)

	if cached, ok, err := e.store.FindSucceededByIdempotencyKey(ctx, idemKey); err == nil && ok {
		state, adoptErr := e.adoptCached(ctx, runID, node, idemKey, cached)
		if adoptErr == nil {
			e.metrics.CacheHits.Inc()
			nodeLogger.Info("cache hit", "source_run_id", cached.RunID, "source_node_id", cached.NodeID)
			return state
		}
		nodeLogger.Warn("cache hit could not be adopted, dispatching fresh", "error", adoptErr)
	}

	maxAttempts := node.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return e.finishFailed(runID, node, idemKey, attempt, time.Now().UTC(), "cancelled", ctx.Err())
		}

		started := time.Now().UTC()
		_ = e.store.UpsertNodeRun(ctx, model.NodeRun{
			RunID: runID, NodeID: node.NodeID, State: model.NodeRunning,
			Attempts: attempt, StartedAt: &started, IdempotencyKey: idemKey,
		})

		args, err := e.resolveArgs(ctx, runID, node)
		if err != nil {
			return e.finishFailed(runID, node, idemKey, attempt, started, "missing_artifact_or_placeholder", err)
		}

		var result map[string]any
		if node.Kind == model.KindTool {
			result, err = e.dispatchTool(ctx, node, args)
		} else {
			result, err = e.dispatchAgent(ctx, node, args)
		}

		if err == nil {
			return e.finishSucceeded(runID, node, idemKey, attempt, started, result)
		}

		kind, retryable := classify(err)
		if ctx.Err() != nil {
			// The dispatch context fired mid-call: this is a cancellation,
			// not whatever the underlying error happens to be labeled
			// (the Tool Client itself can't tell a caller-driven
			// cancellation from a genuine timeout, since both show up as
			// its ctx.Done() case firing).
			kind, retryable = "cancelled", false
		}
		if !retryable || attempt == maxAttempts {
			return e.finishFailed(runID, node, idemKey, attempt, started, kind, err)
		}

		e.metrics.Retries.Inc()
		nodeLogger.Warn("retrying node", "attempt", attempt, "kind", kind, "error", err)
		select {
		case <-ctx.Done():
			return e.finishFailed(runID, node, idemKey, attempt, started, "cancelled", ctx.Err())
		case <-time.After(e.retryBackoff):
		}
	}
	// Unreachable: the loop above always returns on its last iteration.
	return model.NodeFailed
}

// finishSucceeded materializes any large output fields out to the
// Artifact Store and persists the terminal succeeded NodeRun.
func (e *Executor) finishSucceeded(runID string, node model.NodeSpec, idemKey string, attempt int, started time.Time, result map[string]any) model.NodeRunState {
	ctx := context.Background()
	output, uris, err := e.materializeOutput(ctx, runID, node, result)
	finished := time.Now().UTC()
	if err != nil {
		_ = e.store.UpsertNodeRun(ctx, model.NodeRun{
			RunID: runID, NodeID: node.NodeID, State: model.NodeFailed, Attempts: attempt,
			StartedAt: &started, FinishedAt: &finished, IdempotencyKey: idemKey,
			Error: err.Error(), ErrorKind: "artifact_write",
		})
		e.metrics.NodesDispatched.WithLabelValues(string(node.Kind), "failed").Inc()
		return model.NodeFailed
	}
	_ = e.store.UpsertNodeRun(ctx, model.NodeRun{
		RunID: runID, NodeID: node.NodeID, State: model.NodeSucceeded, Attempts: attempt,
		StartedAt: &started, FinishedAt: &finished, IdempotencyKey: idemKey,
		Output: output, ArtifactURIs: uris,
	})
	e.metrics.NodesDispatched.WithLabelValues(string(node.Kind), "succeeded").Inc()
	return model.NodeSucceeded
}

// finishFailed persists the terminal failed NodeRun. Store writes on
// every finish path use a background context deliberately: a node that
// failed because its own context was cancelled must still get its
// failure recorded, not lose the write to the same cancellation.
func (e *Executor) finishFailed(runID string, node model.NodeSpec, idemKey string, attempt int, started time.Time, kind string, err error) model.NodeRunState {
	finished := time.Now().UTC()
	_ = e.store.UpsertNodeRun(context.Background(), model.NodeRun{
		RunID: runID, NodeID: node.NodeID, State: model.NodeFailed, Attempts: attempt,
		StartedAt: &started, FinishedAt: &finished, IdempotencyKey: idemKey,
		Error: err.Error(), ErrorKind: kind,
	})
	e.metrics.NodesDispatched.WithLabelValues(string(node.Kind), "failed").Inc()
	return model.NodeFailed
}

// materializeOutput writes a node's declared artifact-output fields to
// the Artifact Store under their manifest-declared filenames, then
// promotes any remaining oversized string field out under a generated
// "<field>.blob" name. Declared fields are written regardless of size:
// a chart is an artifact because of what it is, not because it happens
// to be large.
func (e *Executor) materializeOutput(ctx context.Context, runID string, node model.NodeSpec, result map[string]any) (map[string]any, []string, error) {
	declared := e.declaredArtifacts(node)
	out := make(map[string]any, len(result))
	var uris []string
	for k, v := range result {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		filename, isDeclared := declared[k]
		if !isDeclared {
			if len(s) <= inlineOutputLimit {
				out[k] = v
				continue
			}
			filename = k + ".blob"
		}
		uri, err := e.artifacts.Put(ctx, runID, node.NodeID, filename, []byte(s))
		if err != nil {
			return nil, nil, fmt.Errorf("materialize output %q: %w", k, err)
		}
		out[k] = uri
		uris = append(uris, uri)
	}
	return out, uris, nil
}

// declaredArtifacts returns the result-field -> artifact-filename mapping
// a tool-kind node's primary method declares, implementing spec's
// "producing nodes write bytes to the Artifact Store and emit
// artifact://{node_id}/{name}" contract for outputs whose filename a
// downstream ArtifactRef binding depends on. Agent-kind nodes never
// declare one; they return values directly through placeholders.
func (e *Executor) declaredArtifacts(node model.NodeSpec) map[string]string {
	if node.Kind != model.KindTool {
		return nil
	}
	tool, ok := e.idx.ByName(node.Name)
	if !ok {
		return nil
	}
	method, ok := primaryMethod(tool)
	if !ok {
		return nil
	}
	return method.OutputArtifacts
}

// adoptCached copies the bytes behind every artifact a cached NodeRun
// produced into this run's own Artifact Store directory under this
// node's ID, then records the cache hit as a terminal cached NodeRun.
// The copy is what keeps "cross-run artifact sharing" out of scope
// while still letting the cache hit itself cross runs: each run's
// Artifact Store subtree stays self-contained.
func (e *Executor) adoptCached(ctx context.Context, runID string, node model.NodeSpec, idemKey string, cached model.NodeRun) (model.NodeRunState, error) {
	newURIs := make([]string, 0, len(cached.ArtifactURIs))
	for _, uri := range cached.ArtifactURIs {
		_, filename, ok := artifactstore.Parse(uri)
		if !ok {
			continue
		}
		data, err := e.artifacts.Get(ctx, cached.RunID, cached.NodeID, filename)
		if err != nil {
			return model.NodeFailed, fmt.Errorf("copy cached artifact %s: %w", uri, err)
		}
		newURI, err := e.artifacts.Put(ctx, runID, node.NodeID, filename, data)
		if err != nil {
			return model.NodeFailed, fmt.Errorf("store copied artifact %s: %w", uri, err)
		}
		newURIs = append(newURIs, newURI)
	}

	now := time.Now().UTC()
	if err := e.store.UpsertNodeRun(ctx, model.NodeRun{
		RunID: runID, NodeID: node.NodeID, State: model.NodeCached, Attempts: 0,
		StartedAt: &now, FinishedAt: &now, IdempotencyKey: idemKey,
		Output: cached.Output, ArtifactURIs: newURIs,
	}); err != nil {
		return model.NodeFailed, err
	}
	return model.NodeCached, nil
}
