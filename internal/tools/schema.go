package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Param declares one tool parameter.
type Param struct {
	// Name is the canonical parameter name seen by the tool body.
	Name string

	// Type is one of string, integer, number, boolean, array, object.
	Type string

	// Required marks the parameter as mandatory.
	Required bool

	// Default documents the value used when the parameter is absent.
	Default any

	// Description explains the parameter to the model.
	Description string

	// Example is a sample value shown in error messages.
	Example string

	// Aliases lists alternative names the model may emit. Each alias must
	// map to exactly one canonical parameter within a schema.
	Aliases []string
}

// Schema declares a tool's call signature.
type Schema struct {
	Name        string
	Description string
	Params      []Param
}

// aliasMap builds alias -> canonical name. Canonical names map to
// themselves. Returns an error on ambiguous aliases.
func (s *Schema) aliasMap() (map[string]string, error) {
	m := make(map[string]string)
	for _, p := range s.Params {
		if prior, ok := m[p.Name]; ok && prior != p.Name {
			return nil, fmt.Errorf("parameter %q collides with alias of %q", p.Name, prior)
		}
		m[p.Name] = p.Name
		for _, alias := range p.Aliases {
			if prior, ok := m[alias]; ok && prior != p.Name {
				return nil, fmt.Errorf("alias %q is ambiguous between %q and %q", alias, prior, p.Name)
			}
			m[alias] = p.Name
		}
	}
	return m, nil
}

// jsonSchema renders the parameter list as a JSON Schema document used for
// type checking after alias normalization.
func (s *Schema) jsonSchema() ([]byte, error) {
	properties := make(map[string]any, len(s.Params))
	var required []string
	for _, p := range s.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

// compile validates the schema and produces its compiled JSON Schema.
func (s *Schema) compile() (*jsonschema.Schema, map[string]string, error) {
	if strings.TrimSpace(s.Name) == "" {
		return nil, nil, fmt.Errorf("schema name is required")
	}
	for _, p := range s.Params {
		switch p.Type {
		case "string", "integer", "number", "boolean", "array", "object":
		default:
			return nil, nil, fmt.Errorf("parameter %s.%s: unknown type %q", s.Name, p.Name, p.Type)
		}
	}
	aliases, err := s.aliasMap()
	if err != nil {
		return nil, nil, fmt.Errorf("schema %s: %w", s.Name, err)
	}
	raw, err := s.jsonSchema()
	if err != nil {
		return nil, nil, fmt.Errorf("schema %s: %w", s.Name, err)
	}
	compiled, err := jsonschema.CompileString(s.Name+".schema.json", string(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("schema %s: %w", s.Name, err)
	}
	return compiled, aliases, nil
}

// param returns the declaration for a canonical name.
func (s *Schema) param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Documentation renders the schema as help text for observations.
func (s *Schema) Documentation() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", s.Name, s.Description)
	if len(s.Params) == 0 {
		b.WriteString("  (无参数)\n")
		return b.String()
	}
	b.WriteString("参数:\n")
	for _, p := range s.Params {
		req := "可选"
		if p.Required {
			req = "必需"
		}
		fmt.Fprintf(&b, "  - %s (%s, %s): %s", p.Name, p.Type, req, p.Description)
		if p.Example != "" {
			fmt.Fprintf(&b, "（示例: %s）", p.Example)
		}
		if p.Default != nil {
			fmt.Fprintf(&b, "（默认: %v）", p.Default)
		}
		if len(p.Aliases) > 0 {
			fmt.Fprintf(&b, "（别名: %s）", strings.Join(p.Aliases, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
