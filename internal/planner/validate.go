package planner

import (
	"fmt"

	"github.com/Kunal-debug-png/GoComet/internal/capability"
	"github.com/Kunal-debug-png/GoComet/internal/model"
)

// Validate rejects a Plan if (a) its edge set is not a DAG, or (b) any
// placeholder or artifact reference targets a node absent from the plan.
// Unresolved required arguments are checked by ValidateRequiredArgs, not
// here. It never mutates plan.
func Validate(plan *model.Plan) error {
	nodeIndex := make(map[string]model.NodeSpec, len(plan.Nodes))
	for _, n := range plan.Nodes {
		if _, dup := nodeIndex[n.NodeID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", model.ErrPlanInvalid, n.NodeID)
		}
		nodeIndex[n.NodeID] = n
	}

	for _, e := range plan.Edges {
		if _, ok := nodeIndex[e.From]; !ok {
			return fmt.Errorf("%w: edge references unknown source %q", model.ErrPlanInvalid, e.From)
		}
		if _, ok := nodeIndex[e.To]; !ok {
			return fmt.Errorf("%w: edge references unknown target %q", model.ErrPlanInvalid, e.To)
		}
	}

	for _, n := range plan.Nodes {
		for argName, v := range n.Args {
			target := ""
			switch v.Kind {
			case model.ValueArtifactRef:
				target = v.ArtifactNode
			case model.ValuePlaceholder:
				target = v.PlaceholderNode
			default:
				continue
			}
			if _, ok := nodeIndex[target]; !ok {
				return fmt.Errorf("%w: node %q arg %q references unknown node %q",
					model.ErrPlanInvalid, n.NodeID, argName, target)
			}
		}
	}

	if err := checkAcyclic(plan); err != nil {
		return err
	}

	return nil
}

// checkAcyclic runs Kahn's algorithm: repeatedly remove nodes with
// in-degree zero. If nodes remain once no more can be removed, a cycle
// exists among them.
func checkAcyclic(plan *model.Plan) error {
	inDegree := make(map[string]int, len(plan.Nodes))
	adjacency := make(map[string][]string, len(plan.Nodes))
	for _, n := range plan.Nodes {
		inDegree[n.NodeID] = 0
	}
	for _, e := range plan.Edges {
		inDegree[e.To]++
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	visited := 0
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		visited++
		for _, next := range adjacency[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if visited != len(plan.Nodes) {
		return fmt.Errorf("%w: cycle detected (%d of %d nodes are reachable via topological order)",
			model.ErrPlanInvalid, visited, len(plan.Nodes))
	}
	return nil
}

// ValidateRequiredArgs checks, for every tool node, that each argument
// named in its declared method's required list is present in Args.
// Agent nodes are not checked here — the Agent Registry enforces its own
// input contract at call time.
func ValidateRequiredArgs(plan *model.Plan, idx *capability.Index) error {
	if idx == nil {
		return nil
	}
	for _, n := range plan.Nodes {
		if n.Kind != model.KindTool {
			continue
		}
		tool, ok := idx.ByName(n.Name)
		if !ok {
			continue // availability is the Tool Client's concern, not the planner's
		}
		for _, method := range tool.Methods {
			required, _ := method.InputSchema["required"].([]any)
			for _, req := range required {
				field, _ := req.(string)
				if field == "" {
					continue
				}
				if _, present := n.Args[field]; !present {
					return fmt.Errorf("%w: node %q missing required argument %q for method %q",
						model.ErrPlanInvalid, n.NodeID, field, method.Name)
				}
			}
		}
	}
	return nil
}
