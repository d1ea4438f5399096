package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/Kunal-debug-png/GoComet/internal/model"
)

// versionTag is folded into every idempotency key alongside kind, name,
// and canonicalized args. Neither the Capability Index nor the Agent
// Registry carries an explicit version field (no SPEC_FULL.md component
// defines a tool/agent versioning scheme), so this is a fixed constant
// rather than something threaded through from a manifest — bumping it
// would invalidate every cached NodeRun in one step if the node
// semantics themselves ever changed.
const versionTag = "v1"

// ComputeIdempotencyKey hashes (kind, name, canonicalized args, version)
// into the deterministic key the cache-hit check is keyed on. Args are
// canonicalized per spec.md §9: mapping keys sorted, numeric types
// normalized, and placeholders expanded to the upstream node/field *key*
// they reference rather than the value that key will resolve to — the
// key must be computable before any upstream node has run.
func ComputeIdempotencyKey(node model.NodeSpec) string {
	argNames := make([]string, 0, len(node.Args))
	for name := range node.Args {
		argNames = append(argNames, name)
	}
	sort.Strings(argNames)

	canonicalArgs := make(map[string]any, len(argNames))
	for _, name := range argNames {
		canonicalArgs[name] = canonicalValue(node.Args[name])
	}

	payload := struct {
		Kind    model.NodeKind `json:"kind"`
		Name    string         `json:"name"`
		Args    map[string]any `json:"args"`
		Version string         `json:"version"`
	}{
		Kind:    node.Kind,
		Name:    node.Name,
		Args:    canonicalArgs,
		Version: versionTag,
	}

	// A Go map keeps no insertion order, so the sorted key order in the
	// hashed bytes comes from encoding/json, which always writes
	// map[string]any keys in sorted order.
	data, err := json.Marshal(payload)
	if err != nil {
		// Args are built entirely from Value's own constructors
		// (Literal/ArtifactRef/Placeholder); nothing here can produce an
		// unmarshalable value (channels, funcs), so this never triggers
		// outside of a future Value variant that breaks that invariant.
		panic("executor: idempotency payload did not marshal: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func canonicalValue(v model.Value) any {
	switch v.Kind {
	case model.ValueLiteral:
		return normalizeNumeric(v.Literal)
	case model.ValueArtifactRef:
		return map[string]string{"artifact_ref": v.ArtifactNode + "/" + v.ArtifactFile}
	case model.ValuePlaceholder:
		return map[string]string{"placeholder": v.PlaceholderNode + "." + v.PlaceholderField}
	default:
		return nil
	}
}

// normalizeNumeric collapses Go's several numeric literal representations
// (int, int64, float32, float64 — whatever a caller happened to
// construct a Value.Literal with) onto float64, so two logically equal
// numbers never hash to different keys because one was typed as an int
// and the other as a float64.
func normalizeNumeric(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return v
	}
}
