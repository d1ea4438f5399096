package executor

import (
	"context"
	"fmt"

	"github.com/Kunal-debug-png/GoComet/internal/artifactstore"
	"github.com/Kunal-debug-png/GoComet/internal/model"
)

// MissingArtifactError is returned when a node's Args reference an
// artifact that isn't (or is no longer) resolvable in this run's
// Artifact Store — spec.md's MissingArtifact node failure.
type MissingArtifactError struct {
	URI   string
	Cause error
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("executor: missing artifact %s: %v", e.URI, e.Cause)
}

func (e *MissingArtifactError) Unwrap() error { return e.Cause }

// resolveArgs turns a node's declared Args into the concrete map handed
// to the Tool Client or an agent Func: literals pass through verbatim,
// placeholders are read from the upstream NodeRun's Output, and artifact
// references are resolved either to their artifact:// URI (the default,
// for tool nodes whose manifest doesn't ask for inline bytes) or to
// their actual bytes (always for agent nodes, since an agent must not
// perform I/O itself and so cannot resolve a URI on its own).
func (e *Executor) resolveArgs(ctx context.Context, runID string, node model.NodeSpec) (map[string]any, error) {
	wantsInline := node.Kind == model.KindAgent
	if node.Kind == model.KindTool {
		if tool, ok := e.idx.ByName(node.Name); ok {
			if m, ok := primaryMethod(tool); ok && m.WantsInline {
				wantsInline = true
			}
		}
	}

	out := make(map[string]any, len(node.Args))
	for key, v := range node.Args {
		switch v.Kind {
		case model.ValueLiteral:
			out[key] = v.Literal

		case model.ValueArtifactRef:
			uri := artifactstore.URI(v.ArtifactNode, v.ArtifactFile)
			if wantsInline {
				data, err := e.artifacts.Get(ctx, runID, v.ArtifactNode, v.ArtifactFile)
				if err != nil {
					return nil, &MissingArtifactError{URI: uri, Cause: err}
				}
				out[key] = string(data)
			} else {
				if !e.artifacts.Exists(runID, v.ArtifactNode, v.ArtifactFile) {
					return nil, &MissingArtifactError{URI: uri, Cause: artifactstore.ErrMissing}
				}
				out[key] = uri
			}

		case model.ValuePlaceholder:
			nr, err := e.store.GetNodeRun(ctx, runID, v.PlaceholderNode)
			if err != nil {
				return nil, fmt.Errorf("executor: resolve %s.%s: %w", v.PlaceholderNode, v.PlaceholderField, err)
			}
			val, ok := nr.Output[v.PlaceholderField]
			if !ok {
				return nil, fmt.Errorf("executor: upstream node %q produced no output field %q", v.PlaceholderNode, v.PlaceholderField)
			}
			out[key] = val

		default:
			return nil, fmt.Errorf("executor: node %q arg %q has unrecognized value kind %q", node.NodeID, key, v.Kind)
		}
	}
	return out, nil
}
