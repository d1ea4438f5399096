// Package planner expands a Flow Kind and Context into a materialized
// Plan: a DAG of NodeSpecs with argument bindings. Known flows use fixed
// templates; the dynamic flow backward-chains over the Capability Index.
package planner

import (
	"fmt"
	"sort"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/model"
)

// Planner expands flows into Plans against a loaded Capability Index.
type Planner struct {
	idx *capability.Index
}

// New returns a Planner bound to idx, used by dynamic synthesis to look
// up tool input/output schemas.
func New(idx *capability.Index) *Planner {
	return &Planner{idx: idx}
}

// Plan expands flowKind into a materialized Plan and validates it before
// returning. planID is supplied by the caller (the CLI's buildPlan mints
// one per route); nothing here needs to coordinate ID allocation.
func (p *Planner) Plan(planID string, flowKind model.FlowKind, ctx model.Context, suggestedTools []string) (model.Plan, error) {
	var plan model.Plan
	switch flowKind {
	case model.FlowPlot:
		plan = p.plotTemplate(planID, ctx)
	case model.FlowPDFTracking:
		plan = p.pdfTrackingTemplate(planID, ctx)
	case model.FlowDynamic:
		var err error
		plan, err = p.dynamicSynthesis(planID, ctx, suggestedTools)
		if err != nil {
			return model.Plan{}, fmt.Errorf("%w: %v", model.ErrPlanInvalid, err)
		}
	default:
		return model.Plan{}, fmt.Errorf("%w: unknown flow kind %q", model.ErrPlanInvalid, flowKind)
	}

	if err := Validate(&plan); err != nil {
		return model.Plan{}, err
	}
	if err := ValidateRequiredArgs(&plan, p.idx); err != nil {
		return model.Plan{}, err
	}
	return plan, nil
}

func whereClause(ctx model.Context) string {
	clause := ""
	add := func(cond string) {
		if clause != "" {
			clause += " AND "
		}
		clause += cond
	}
	if ctx.OutletID != nil {
		add(fmt.Sprintf("outlet_id = %d", *ctx.OutletID))
	}
	if ctx.ProductFilter != "" {
		add(fmt.Sprintf("product = '%s'", ctx.ProductFilter))
	}
	if ctx.WeekRange != nil {
		add(fmt.Sprintf("week BETWEEN '%s' AND '%s'", ctx.WeekRange.Lo, ctx.WeekRange.Hi))
	}
	return clause
}

// plotTemplate builds the 5-node plot flow: sql -> pandas_transform ->
// viz_spec(agent) -> plotly_render -> reducer(agent), with a validator
// agent gated on pandas_transform running in parallel to plotly_render.
func (p *Planner) plotTemplate(planID string, ctx model.Context) model.Plan {
	nodes := []model.NodeSpec{
		{
			NodeID: "sql", Kind: model.KindTool, Name: "sql",
			Args:       map[string]model.Value{"where": model.Literal(whereClause(ctx))},
			MaxRetries: 1, TimeoutMS: 30_000,
		},
		{
			NodeID: "pandas_transform", Kind: model.KindTool, Name: "pandas_transform",
			Args:       map[string]model.Value{"table": model.Placeholder("sql", "table")},
			Upstream:   []string{"sql"},
			MaxRetries: 1, TimeoutMS: 30_000,
		},
		{
			NodeID: "viz_spec", Kind: model.KindAgent, Name: "viz_spec",
			Args:       map[string]model.Value{"table": model.Placeholder("pandas_transform", "table")},
			Upstream:   []string{"pandas_transform"},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
		{
			NodeID: "validator", Kind: model.KindAgent, Name: "validator",
			Args:       map[string]model.Value{"table": model.Placeholder("pandas_transform", "table")},
			Upstream:   []string{"pandas_transform"},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
		{
			NodeID: "plotly_render", Kind: model.KindTool, Name: "plotly_render",
			Args: map[string]model.Value{
				"data": model.Placeholder("pandas_transform", "table"),
				"spec": model.Placeholder("viz_spec", "spec"),
			},
			Upstream:   []string{"pandas_transform", "viz_spec"},
			MaxRetries: 1, TimeoutMS: 30_000,
		},
		{
			NodeID: "reducer", Kind: model.KindAgent, Name: "reducer",
			Args: map[string]model.Value{
				"chart":     model.ArtifactRef("plotly_render", "chart.png"),
				"validated": model.Placeholder("validator", "ok"),
			},
			Upstream:   []string{"plotly_render", "validator"},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
	}
	return model.Plan{
		PlanID:   planID,
		FlowKind: model.FlowPlot,
		Nodes:    nodes,
		Edges:    edgesFromUpstream(nodes),
	}
}

// pdfTrackingTemplate builds the 5-node pdf_tracking flow: file_read ->
// extraction_agent -> tracking_upsert -> validator -> reducer.
func (p *Planner) pdfTrackingTemplate(planID string, ctx model.Context) model.Plan {
	upsertKey := "tracking_id"
	if ctx.TrackingID == "" {
		upsertKey = "invoice_number"
	}
	nodes := []model.NodeSpec{
		{
			NodeID: "file_read", Kind: model.KindTool, Name: "file_read",
			Args:       map[string]model.Value{"path": model.Literal(ctx.FilePath)},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
		{
			NodeID: "extraction_agent", Kind: model.KindAgent, Name: "extraction_normalizer",
			Args:       map[string]model.Value{"bytes": model.Placeholder("file_read", "data")},
			Upstream:   []string{"file_read"},
			MaxRetries: 1, TimeoutMS: 20_000,
		},
		{
			NodeID: "tracking_upsert", Kind: model.KindTool, Name: "tracking_upsert",
			Args: map[string]model.Value{
				"record":  model.Placeholder("extraction_agent", "record"),
				"key_field": model.Literal(upsertKey),
			},
			Upstream:   []string{"extraction_agent"},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
		{
			NodeID: "validator", Kind: model.KindAgent, Name: "validator",
			Args:       map[string]model.Value{"record": model.Placeholder("extraction_agent", "record")},
			Upstream:   []string{"extraction_agent", "tracking_upsert"},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
		{
			NodeID: "reducer", Kind: model.KindAgent, Name: "reducer",
			Args:       map[string]model.Value{"validated": model.Placeholder("validator", "ok")},
			Upstream:   []string{"validator"},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
	}
	return model.Plan{
		PlanID:   planID,
		FlowKind: model.FlowPDFTracking,
		Nodes:    nodes,
		Edges:    edgesFromUpstream(nodes),
	}
}

func edgesFromUpstream(nodes []model.NodeSpec) []model.Edge {
	var edges []model.Edge
	for _, n := range nodes {
		for _, up := range n.Upstream {
			edges = append(edges, model.Edge{From: up, To: n.NodeID})
		}
	}
	return edges
}

// dynamicSynthesis greedily backward-chains from suggestedTools: the
// terminal tool is the first suggested tool present in the index (else
// the lexicographically earliest tool), and each required input is
// walked to another tool whose tags name that field (see backwardChain),
// stopping where no further producer is found. Where several tools could
// supply an input, the lexicographically earliest unvisited one is taken;
// alternative chains are not built or compared, so no fewer-nodes
// preference is applied. The chain always ends with validator + reducer.
func (p *Planner) dynamicSynthesis(planID string, ctx model.Context, suggestedTools []string) (model.Plan, error) {
	if p.idx == nil || len(p.idx.Tools()) == 0 {
		return model.Plan{}, fmt.Errorf("dynamic synthesis: empty capability index")
	}

	terminal := pickTerminal(suggestedTools, p.idx)
	if terminal == "" {
		return model.Plan{}, fmt.Errorf("dynamic synthesis: no suggested tool available in capability index")
	}

	chain := []string{terminal}
	visited := map[string]bool{terminal: true}
	p.backwardChain(terminal, visited, &chain)

	// chain was built terminal-first; reverse to source-first order so
	// earlier nodes (sources) get assigned before their consumers.
	reversed := make([]string, len(chain))
	for i, name := range chain {
		reversed[len(chain)-1-i] = name
	}

	var nodes []model.NodeSpec
	var prev string
	for _, toolName := range reversed {
		tool, _ := p.idx.ByName(toolName)
		args := map[string]model.Value{}
		var upstream []string
		if prev == "" {
			if ctx.FilePath != "" {
				args["path"] = model.Literal(ctx.FilePath)
			}
		} else {
			args["input"] = model.ArtifactRef(prev, "output")
			upstream = []string{prev}
			// Required inputs are bound to the preceding node's output
			// field of the same name.
			for _, m := range tool.Methods {
				required, _ := m.InputSchema["required"].([]any)
				for _, req := range required {
					if field, _ := req.(string); field != "" {
						args[field] = model.Placeholder(prev, field)
					}
				}
			}
		}
		nodes = append(nodes, model.NodeSpec{
			NodeID: toolName, Kind: model.KindTool, Name: tool.Name,
			Args: args, Upstream: upstream,
			MaxRetries: 1, TimeoutMS: tool.DefaultTimeoutMS,
		})
		prev = toolName
	}

	nodes = append(nodes,
		model.NodeSpec{
			NodeID: "validator", Kind: model.KindAgent, Name: "validator",
			Args:       map[string]model.Value{"input": model.ArtifactRef(prev, "output")},
			Upstream:   []string{prev},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
		model.NodeSpec{
			NodeID: "reducer", Kind: model.KindAgent, Name: "reducer",
			Args:       map[string]model.Value{"validated": model.Placeholder("validator", "ok")},
			Upstream:   []string{"validator"},
			MaxRetries: 1, TimeoutMS: 10_000,
		},
	)

	return model.Plan{
		PlanID:   planID,
		FlowKind: model.FlowDynamic,
		Nodes:    nodes,
		Edges:    edgesFromUpstream(nodes),
	}, nil
}

// pickTerminal chooses the starting terminal tool: the first suggested
// tool present in the index, else the lexicographically earliest tool.
func pickTerminal(suggestedTools []string, idx *capability.Index) string {
	for _, name := range suggestedTools {
		if _, ok := idx.ByName(name); ok {
			return name
		}
	}
	all := idx.Tools()
	if len(all) == 0 {
		return ""
	}
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names[0]
}

// backwardChain appends producers for current's required inputs: for each
// field in a method's input-schema "required" list it takes the tool
// findProducer picks, marks it visited, appends it to chain and recurses
// into that tool's own required inputs. A field with no producer adds
// nothing. Producers are matched by tags, not by declared output schemas.
func (p *Planner) backwardChain(current string, visited map[string]bool, chain *[]string) {
	tool, ok := p.idx.ByName(current)
	if !ok {
		return
	}
	for _, m := range tool.Methods {
		if m.InputSchema == nil {
			continue
		}
		required, _ := m.InputSchema["required"].([]any)
		for _, req := range required {
			field, _ := req.(string)
			producer := p.findProducer(field, visited)
			if producer == "" {
				continue
			}
			visited[producer] = true
			*chain = append(*chain, producer)
			p.backwardChain(producer, visited, chain)
		}
	}
}

// findProducer returns the lexicographically earliest unvisited tool
// whose tags include field, used as a stand-in for output-schema
// matching (see backwardChain).
func (p *Planner) findProducer(field string, visited map[string]bool) string {
	var candidates []string
	for _, t := range p.idx.Tools() {
		if visited[t.Name] {
			continue
		}
		for _, tag := range t.Tags {
			if tag == field {
				candidates = append(candidates, t.Name)
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return candidates[0]
}
