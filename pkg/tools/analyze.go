package tools

// AnalyzeDataToolName is the name of the data-analysis tool.
const AnalyzeDataToolName = "analyze_data"

// AnalyzeData creates the tool definition for querying loaded tables
// with natural language.
func AnalyzeData() Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: &FunctionDefinition{
			Name:        AnalyzeDataToolName,
			Description: "Query or analyze one or more loaded tables using natural language",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"dataframe_names": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Names of the loaded tables to analyze",
					},
					"question": map[string]any{
						"type":        "string",
						"description": "The analysis question, in natural language",
					},
				},
				"required": []string{"dataframe_names", "question"},
			},
		},
	}
}

// AnalyzeDataArgs are the decoded arguments of an analyze_data call.
type AnalyzeDataArgs struct {
	DataframeNames []string `json:"dataframe_names"`
	Question       string   `json:"question"`
}
