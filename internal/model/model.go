// Package model defines the core data types shared by the router, planner,
// and executor: queries, routing context, plans, nodes, runs, and the
// tagged Value type used for argument binding.
package model

import (
	"errors"
	"time"
)

// Query is the orchestrator's entry point input.
type Query struct {
	Text     string `json:"text"`
	FilePath string `json:"file_path,omitempty"`
}

// Context is the router's structured extraction from a Query. Unknown
// fields are absent (nil/zero), never null-sentinels.
type Context struct {
	OutletID      *int       `json:"outlet_id,omitempty"`
	WeekCount     *int       `json:"week_count,omitempty"`
	WeekRange     *WeekRange `json:"week_range,omitempty"`
	MonthCount    *int       `json:"month_count,omitempty"`
	FilePath      string     `json:"file_path,omitempty"`
	ProductFilter string     `json:"product_filter,omitempty"`
	TrackingID    string     `json:"tracking_id,omitempty"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
}

// WeekRange is an inclusive pair of ISO-8601 "YYYY-Www" week tokens.
type WeekRange struct {
	Lo string `json:"lo"`
	Hi string `json:"hi"`
}

// FlowKind names a class of workflow the router can select.
type FlowKind string

const (
	FlowPlot        FlowKind = "plot"
	FlowPDFTracking FlowKind = "pdf_tracking"
	FlowDynamic     FlowKind = "dynamic"
)

// NodeKind distinguishes tool calls from in-process agent calls.
type NodeKind string

const (
	KindTool  NodeKind = "tool"
	KindAgent NodeKind = "agent"
)

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	ValueLiteral     ValueKind = "literal"
	ValueArtifactRef ValueKind = "artifact_ref"
	ValuePlaceholder ValueKind = "placeholder"
)

// Value is either a literal, an artifact reference (artifact://node/file),
// or an upstream placeholder (${node.output_field}), resolved at dispatch
// time. Exactly one of Literal/ArtifactNode+ArtifactFile/PlaceholderNode+
// PlaceholderField is populated, selected by Kind.
type Value struct {
	Kind Kind

	Literal any

	ArtifactNode string
	ArtifactFile string

	PlaceholderNode  string
	PlaceholderField string
}

// Kind is an alias kept for readability at call sites (model.Kind vs
// model.ValueKind reads the same either way; both names resolve to the
// same type so literals like model.ValueLiteral type-check as a Kind).
type Kind = ValueKind

// Literal builds a literal Value.
func Literal(v any) Value { return Value{Kind: ValueLiteral, Literal: v} }

// ArtifactRef builds an artifact-reference Value.
func ArtifactRef(node, file string) Value {
	return Value{Kind: ValueArtifactRef, ArtifactNode: node, ArtifactFile: file}
}

// Placeholder builds an upstream-placeholder Value.
func Placeholder(node, field string) Value {
	return Value{Kind: ValuePlaceholder, PlaceholderNode: node, PlaceholderField: field}
}

// NodeSpec is one node in a Plan.
type NodeSpec struct {
	NodeID     string           `json:"node_id"`
	Kind       NodeKind         `json:"kind"`
	Name       string           `json:"name"`
	Args       map[string]Value `json:"args"`
	Upstream   []string         `json:"upstream"`
	TimeoutMS  int              `json:"timeout_ms"`
	MaxRetries int              `json:"max_retries"`
}

// Edge is a directed dependency from one node to another within a Plan.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Plan is a materialized, immutable DAG of nodes.
type Plan struct {
	PlanID   string     `json:"plan_id"`
	FlowKind FlowKind   `json:"flow_kind"`
	Nodes    []NodeSpec `json:"nodes"`
	Edges    []Edge     `json:"edges"`
}

// NodeByID returns the node with the given ID, or false if absent.
func (p *Plan) NodeByID(id string) (NodeSpec, bool) {
	for _, n := range p.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// EdgesFrom returns edges originating at nodeID, in plan definition order.
func (p *Plan) EdgesFrom(nodeID string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns edges terminating at nodeID, in plan definition order.
func (p *Plan) EdgesTo(nodeID string) []Edge {
	var out []Edge
	for _, e := range p.Edges {
		if e.To == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// RunState is the lifecycle state of a Run.
type RunState string

const (
	RunCreated   RunState = "created"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Run is one execution of a Plan.
type Run struct {
	RunID      string     `json:"run_id"`
	PlanID     string     `json:"plan_id"`
	State      RunState   `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NodeRunState is the lifecycle state of one NodeRun.
type NodeRunState string

const (
	NodePending   NodeRunState = "pending"
	NodeRunning   NodeRunState = "running"
	NodeSucceeded NodeRunState = "succeeded"
	NodeFailed    NodeRunState = "failed"
	NodeCached    NodeRunState = "cached"
	NodeSkipped   NodeRunState = "skipped"
)

// IsTerminal reports whether a NodeRun state no longer transitions.
func (s NodeRunState) IsTerminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeCached, NodeSkipped:
		return true
	default:
		return false
	}
}

// NodeRun is the execution record for one node within one run.
type NodeRun struct {
	RunID         string         `json:"run_id"`
	NodeID        string         `json:"node_id"`
	State         NodeRunState   `json:"state"`
	Attempts      int            `json:"attempts"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
	Output        map[string]any `json:"output,omitempty"`
	ArtifactURIs  []string       `json:"artifact_uris,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
}

// ErrAmbiguousFlow is returned by the router when no classifier scores
// above its minimum threshold and no context extractor fired.
var ErrAmbiguousFlow = errors.New("model: ambiguous flow")

// ErrPlanInvalid is returned by the planner when its own output fails
// validation (cycle, dangling placeholder, unresolved required argument).
var ErrPlanInvalid = errors.New("model: invalid plan")
