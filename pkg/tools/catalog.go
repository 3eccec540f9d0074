package tools

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Registration couples a tool definition with its compiled argument
// schema. Entries are created once at startup and never mutated.
type Registration struct {
	Tool   Tool
	schema *gojsonschema.Schema
}

// ValidArguments reports whether args satisfy the tool's argument schema.
// It is a type guard: any schema or validation failure means the
// arguments are rejected, never an error surfaced to the caller.
func (r *Registration) ValidArguments(args map[string]any) bool {
	if r.schema == nil {
		return false
	}
	result, err := r.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return false
	}
	return result.Valid()
}

// Catalog is the static registry of available tools.
type Catalog struct {
	entries map[string]*Registration
	order   []string
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*Registration)}
}

// Register adds a tool to the catalog, compiling its parameter schema
// into an argument validator.
func (c *Catalog) Register(tool Tool) error {
	if tool.Function == nil || tool.Function.Name == "" {
		return fmt.Errorf("tool definition is missing a function name")
	}
	name := tool.Function.Name
	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Function.Parameters))
	if err != nil {
		return fmt.Errorf("compiling argument schema for %q: %w", name, err)
	}

	c.entries[name] = &Registration{Tool: tool, schema: schema}
	c.order = append(c.order, name)
	return nil
}

// Lookup returns the registration for name, if any.
func (c *Catalog) Lookup(name string) (*Registration, bool) {
	reg, ok := c.entries[name]
	return reg, ok
}

// Definitions returns the tool definitions in registration order.
func (c *Catalog) Definitions() []Tool {
	defs := make([]Tool, 0, len(c.order))
	for _, name := range c.order {
		defs = append(defs, c.entries[name].Tool)
	}
	return defs
}

// PromptDescription renders the catalog as the system-prompt block that
// teaches the model the tool-call convention.
func (c *Catalog) PromptDescription() string {
	data, err := json.Marshal(c.Definitions())
	if err != nil {
		return ""
	}
	return "You have access to the following tools:\n" + string(data) + "\n\n" +
		"To call a tool, respond with exactly one block per call in this format:\n" +
		"<tool_call>\n{\"name\": \"<tool name>\", \"arguments\": {...}}\n</tool_call>\n" +
		"Results arrive in <tool_response> blocks. Answer the user in plain text once you have what you need."
}

// Default returns the catalog shipped with the application.
func Default() *Catalog {
	c := NewCatalog()
	// The schema is statically correct, Register cannot fail here.
	_ = c.Register(AnalyzeData())
	return c
}
