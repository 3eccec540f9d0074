package tools

type ToolType string

const ToolTypeFunction ToolType = "function"

type Tool struct {
	Type     ToolType            `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

// ToolResult is the outcome of one tool execution. It is owned by the
// dispatcher; the conversation loop reads it for display and the codec
// serializes a sanitized copy into the model-facing tool response.
type ToolResult struct {
	Success      bool   `json:"success"`
	Result       string `json:"result"`
	ChartPath    string `json:"chartPath,omitempty"`
	ExecutedCode string `json:"executedCode,omitempty"`
}
