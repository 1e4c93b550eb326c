package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validation is the outcome of checking one tool call.
type Validation struct {
	// Valid reports whether the call may be executed.
	Valid bool

	// Message carries the full error text when Valid is false, including
	// suggestions and parameter documentation.
	Message string

	// Warnings lists non-fatal findings such as renamed aliases or unknown
	// keys that were dropped.
	Warnings []string

	// Params holds the normalized parameter map (canonical names only)
	// when Valid is true.
	Params map[string]any
}

type entry struct {
	tool     Tool
	schema   Schema
	compiled *jsonschema.Schema
	aliases  map[string]string
}

// Registry maps tool names to implementations and schemas. It is populated
// once at startup and read-only afterwards; registration is still
// thread-safe for tests.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds or replaces a tool with its schema. Registration is
// idempotent; re-registering a name overwrites the prior schema.
func (r *Registry) Register(tool Tool, schema Schema) error {
	if schema.Name == "" {
		schema.Name = tool.Name()
	}
	if schema.Name != tool.Name() {
		return fmt.Errorf("schema name %q does not match tool name %q", schema.Name, tool.Name())
	}
	compiled, aliases, err := schema.compile()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[schema.Name]; !exists {
		r.order = append(r.order, schema.Name)
	}
	r.entries[schema.Name] = &entry{tool: tool, schema: schema, compiled: compiled, aliases: aliases}
	return nil
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ValidateCall checks a tool call: existence, alias renaming, required
// parameters, and type conformance. The tool is not executed.
func (r *Registry) ValidateCall(name string, params map[string]any) *Validation {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return &Validation{Valid: false, Message: r.NotFoundMessage(name)}
	}

	normalized, warnings := e.normalize(params)

	var missing []Param
	for _, p := range e.schema.Params {
		if !p.Required {
			continue
		}
		if _, present := normalized[p.Name]; !present {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "错误：工具 '%s' 缺少必需参数\n", name)
		for _, p := range missing {
			fmt.Fprintf(&b, "  - %s: %s", p.Name, p.Description)
			if p.Example != "" {
				fmt.Fprintf(&b, "（示例: %s）", p.Example)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(e.schema.Documentation())
		return &Validation{Valid: false, Message: b.String(), Warnings: warnings}
	}

	if err := e.compiled.Validate(jsonValue(normalized)); err != nil {
		msg := fmt.Sprintf("错误：工具 '%s' 参数类型不合法: %v\n\n%s",
			name, err, e.schema.Documentation())
		return &Validation{Valid: false, Message: msg, Warnings: warnings}
	}

	return &Validation{Valid: true, Warnings: warnings, Params: normalized}
}

// NormalizeParams renames aliased keys to canonical names without
// validating. Unknown keys pass through unchanged. The operation is
// idempotent.
func (r *Registry) NormalizeParams(name string, params map[string]any) map[string]any {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return params
	}
	normalized, _ := e.normalize(params)
	return normalized
}

// normalize renames aliases and reports warnings for renames and unknown
// keys. Unknown keys are preserved so downstream diagnostics can see them.
func (e *entry) normalize(params map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(params))
	var warnings []string

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := params[key]
		canonical, known := e.aliases[key]
		switch {
		case known && canonical != key:
			if _, taken := out[canonical]; !taken {
				out[canonical] = value
			}
			warnings = append(warnings,
				fmt.Sprintf("参数 '%s' 已重命名为 '%s'", key, canonical))
		case known:
			out[key] = value
		default:
			out[key] = value
			if suggestion := e.nearestParam(key); suggestion != "" {
				warnings = append(warnings,
					fmt.Sprintf("未知参数 '%s'，是否想使用 '%s'？", key, suggestion))
			} else {
				warnings = append(warnings, fmt.Sprintf("未知参数 '%s'", key))
			}
		}
	}
	return out, warnings
}

func (e *entry) nearestParam(key string) string {
	best, bestDist := "", 3
	for _, p := range e.schema.Params {
		if d := levenshtein.ComputeDistance(key, p.Name); d < bestDist {
			best, bestDist = p.Name, d
		}
	}
	return best
}

// SuggestSimilar returns up to three registered tool names close to name
// by edit distance, closest first.
func (r *Registry) SuggestSimilar(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		name string
		dist int
	}
	var matches []candidate
	for _, registered := range r.order {
		d := levenshtein.ComputeDistance(name, registered)
		if d <= 3 {
			matches = append(matches, candidate{registered, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
	out := make([]string, 0, 3)
	for _, m := range matches {
		if len(out) == 3 {
			break
		}
		out = append(out, m.name)
	}
	return out
}

// Documentation returns the rendered schema help for a tool.
func (r *Registry) Documentation(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return ""
	}
	return e.schema.Documentation()
}

// NotFoundMessage renders the unknown-tool error: fuzzy suggestions
// followed by the full tool list.
func (r *Registry) NotFoundMessage(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "错误：未知工具 '%s'\n\n", name)

	if suggestions := r.SuggestSimilar(name); len(suggestions) > 0 {
		b.WriteString("你是否想使用以下工具？\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
		b.WriteString("\n")
	}

	b.WriteString("可用工具列表：\n")
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, registered := range r.order {
		desc := r.entries[registered].schema.Description
		if len(desc) > 60 {
			desc = desc[:60] + "..."
		}
		fmt.Fprintf(&b, "  - %s: %s\n", registered, desc)
	}
	return b.String()
}

// Execute validates nothing and runs the tool directly; callers are
// expected to have validated first.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (*Result, error) {
	tool, ok := r.Get(name)
	if !ok {
		return Errorf("tool not found: %s", name), nil
	}
	return tool.Execute(ctx, params)
}

// jsonValue converts a parameter map into the any-typed shape the
// jsonschema validator expects (maps, slices, and primitives only).
func jsonValue(params map[string]any) any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = coerceJSON(v)
	}
	return out
}

func coerceJSON(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case []any:
		for i := range t {
			t[i] = coerceJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = coerceJSON(t[k])
		}
		return t
	default:
		return v
	}
}
