// Package capability loads and exposes the Capability Index: the
// immutable, startup-loaded registry of available tools, their tags,
// keyword patterns, and JSON-RPC method schemas.
package capability

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

// Method describes one JSON-RPC method a tool server exposes.
type Method struct {
	Name           string         `yaml:"name" json:"name"`
	InputSchema    map[string]any `yaml:"input_schema" json:"input_schema"`
	OutputSchema   map[string]any `yaml:"output_schema" json:"output_schema"`
	RetryableCodes []int          `yaml:"retryable_codes" json:"retryable_codes"`
	WantsInline    bool           `yaml:"wants_inline" json:"wants_inline"`

	// OutputArtifacts maps a result field name to the fixed artifact
	// filename it must be written under, regardless of size. Without a
	// declared entry, a result field is only promoted to the Artifact
	// Store when it exceeds inlineOutputLimit, and then under a
	// generated "<field>.blob" name — too generic for a consumer that
	// needs a specific artifact:// URI such as plotly_render's chart.png.
	OutputArtifacts map[string]string `yaml:"output_artifacts" json:"output_artifacts"`

	resolvedInput  *jsonschema.Resolved `yaml:"-" json:"-"`
	resolvedOutput *jsonschema.Resolved `yaml:"-" json:"-"`
}

// Retryable reports whether a JSON-RPC error code is declared transient
// for this method.
func (m Method) Retryable(code int) bool {
	for _, c := range m.RetryableCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ValidateInput checks args against the method's declared input schema.
// A method with no declared input schema accepts anything.
func (m Method) ValidateInput(args map[string]any) error {
	if m.resolvedInput == nil {
		return nil
	}
	if err := m.resolvedInput.Validate(args); err != nil {
		return fmt.Errorf("capability: %s: input schema violation: %w", m.Name, err)
	}
	return nil
}

// ValidateOutput checks a tool's result against the method's declared
// output schema, catching a schema-violating-output tool bug before the
// executor persists it as a NodeRun's output.
func (m Method) ValidateOutput(result map[string]any) error {
	if m.resolvedOutput == nil {
		return nil
	}
	if err := m.resolvedOutput.Validate(result); err != nil {
		return fmt.Errorf("capability: %s: output schema violation: %w", m.Name, err)
	}
	return nil
}

// compileSchemas resolves the method's raw JSON-Schema maps (decoded from
// YAML) into jsonschema-go's validator form, so Validate doesn't re-parse
// the schema on every call.
func (m *Method) compileSchemas(toolName string) error {
	in, err := resolveSchema(m.InputSchema)
	if err != nil {
		return fmt.Errorf("capability: tool %s: method %s: input schema: %w", toolName, m.Name, err)
	}
	m.resolvedInput = in
	out, err := resolveSchema(m.OutputSchema)
	if err != nil {
		return fmt.Errorf("capability: tool %s: method %s: output schema: %w", toolName, m.Name, err)
	}
	m.resolvedOutput = out
	return nil
}

func resolveSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}

// ToolFile is the on-disk (YAML) shape of one tool's manifest entry.
type ToolFile struct {
	BinaryPath        string            `yaml:"binary_path"`
	Cwd               string            `yaml:"cwd"`
	Env               map[string]string `yaml:"env"`
	Tags              []string          `yaml:"tags"`
	Keywords          []string          `yaml:"keywords"`
	Methods           []Method          `yaml:"methods"`
	DefaultTimeoutMS  int               `yaml:"default_timeout_ms"`
}

// Tool is the runtime, validated form of a tool's capability entry:
// keyword patterns are compiled, and availability reflects whether
// manifest discovery (--manifest) matched the declared methods.
type Tool struct {
	Name             string
	BinaryPath       string
	Cwd              string
	Env              map[string]string
	Tags             []string
	Keywords         []*regexp.Regexp
	Methods          map[string]Method
	DefaultTimeoutMS int
	Available        bool
	UnavailableNote  string
}

// MethodByName looks up a declared method by name.
func (t Tool) MethodByName(name string) (Method, bool) {
	m, ok := t.Methods[name]
	return m, ok
}

// Index is the immutable, shared registry of tools. It must not be
// mutated after Load returns; callers that need to mark a tool
// unavailable do so by rebuilding the map via MarkUnavailable, which
// returns a new Index.
type Index struct {
	tools map[string]Tool
	order []string // tool names sorted, for deterministic iteration
}

// Load reads a YAML Capability Index file (a mapping from tool name to
// ToolFile) and compiles it into an Index. Keyword regexes that fail to
// compile are a load-time error: a malformed manifest should not silently
// degrade routing.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capability: read index %s: %w", path, err)
	}
	var raw map[string]ToolFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("capability: parse index %s: %w", path, err)
	}
	return FromMap(raw)
}

// FromMap builds an Index directly from decoded tool entries, used by
// Load and directly by tests that construct a Capability Index in code.
func FromMap(raw map[string]ToolFile) (*Index, error) {
	idx := &Index{tools: make(map[string]Tool, len(raw))}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tf := raw[name]
		keywords := make([]*regexp.Regexp, 0, len(tf.Keywords))
		for _, pat := range tf.Keywords {
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				return nil, fmt.Errorf("capability: tool %s: compile keyword %q: %w", name, pat, err)
			}
			keywords = append(keywords, re)
		}
		methods := make(map[string]Method, len(tf.Methods))
		for _, m := range tf.Methods {
			if err := m.compileSchemas(name); err != nil {
				return nil, err
			}
			methods[m.Name] = m
		}
		timeout := tf.DefaultTimeoutMS
		if timeout <= 0 {
			timeout = 30_000
		}
		idx.tools[name] = Tool{
			Name:             name,
			BinaryPath:       tf.BinaryPath,
			Cwd:              tf.Cwd,
			Env:              tf.Env,
			Tags:             tf.Tags,
			Keywords:         keywords,
			Methods:          methods,
			DefaultTimeoutMS: timeout,
			Available:        true,
		}
		idx.order = append(idx.order, name)
	}
	return idx, nil
}

// Tools returns all tools, sorted by name.
func (idx *Index) Tools() []Tool {
	out := make([]Tool, 0, len(idx.order))
	for _, name := range idx.order {
		out = append(out, idx.tools[name])
	}
	return out
}

// ByName looks up a tool by name.
func (idx *Index) ByName(name string) (Tool, bool) {
	t, ok := idx.tools[name]
	return t, ok
}

// MarkUnavailable returns a new Index with the named tool flagged
// unavailable (used after failed manifest discovery at startup). The
// Capability Index is otherwise read-only after Load, per spec.
func (idx *Index) MarkUnavailable(name, note string) *Index {
	next := &Index{tools: make(map[string]Tool, len(idx.tools)), order: idx.order}
	for k, v := range idx.tools {
		if k == name {
			v.Available = false
			v.UnavailableNote = note
		}
		next.tools[k] = v
	}
	return next
}

// WithTags returns the names of tools carrying the given tag.
func (idx *Index) WithTags(tag string) []string {
	var out []string
	for _, name := range idx.order {
		for _, t := range idx.tools[name].Tags {
			if t == tag {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
