package toolcall

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablechat/tablechat/pkg/tools"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		content  string
		expected []ParsedToolCall
	}{
		{
			name:    "single call",
			content: `<tool_call>{"name":"analyze_data","arguments":{"dataframe_names":["data"],"question":"average age"}}</tool_call>`,
			expected: []ParsedToolCall{{
				Name:      "analyze_data",
				Arguments: map[string]any{"dataframe_names": []any{"data"}, "question": "average age"},
			}},
		},
		{
			name:    "call spanning newlines",
			content: "<tool_call>\n{\"name\": \"analyze_data\",\n \"arguments\": {\"question\": \"q\", \"dataframe_names\": []}}\n</tool_call>",
			expected: []ParsedToolCall{{
				Name:      "analyze_data",
				Arguments: map[string]any{"question": "q", "dataframe_names": []any{}},
			}},
		},
		{
			name:    "arguments before name",
			content: `<tool_call>{"arguments":{"question":"q"},"name":"analyze_data"}</tool_call>`,
			expected: []ParsedToolCall{{
				Name:      "analyze_data",
				Arguments: map[string]any{"question": "q"},
			}},
		},
		{
			name:    "two calls in document order",
			content: `first <tool_call>{"name":"a","arguments":{}}</tool_call> then <tool_call>{"name":"b","arguments":{}}</tool_call>`,
			expected: []ParsedToolCall{
				{Name: "a", Arguments: map[string]any{}},
				{Name: "b", Arguments: map[string]any{}},
			},
		},
		{
			name:     "no spans",
			content:  "The average age is 27.5.",
			expected: nil,
		},
		{
			name:     "malformed json dropped",
			content:  `<tool_call>{"name":"a","arguments":</tool_call>`,
			expected: nil,
		},
		{
			name:     "missing arguments dropped",
			content:  `<tool_call>{"name":"a"}</tool_call>`,
			expected: nil,
		},
		{
			name:     "missing name dropped",
			content:  `<tool_call>{"arguments":{}}</tool_call>`,
			expected: nil,
		},
		{
			name:     "null arguments dropped",
			content:  `<tool_call>{"name":"a","arguments":null}</tool_call>`,
			expected: nil,
		},
		{
			name:     "garbled call does not drop its neighbors",
			content:  `<tool_call>not json</tool_call><tool_call>{"name":"b","arguments":{}}</tool_call>`,
			expected: []ParsedToolCall{{Name: "b", Arguments: map[string]any{}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Parse(tt.content))
		})
	}
}

func TestContains(t *testing.T) {
	t.Parallel()
	assert.True(t, Contains(`<tool_call>{"name":"a","arguments":{}}</tool_call>`))
	assert.True(t, Contains("<tool_call> not even json </tool_call>"))
	assert.False(t, Contains("<tool_call> unterminated"))
	assert.False(t, Contains("plain text"))
	assert.False(t, Contains("</tool_call> only closing"))
}

func TestStripIsIdempotent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "call removed and whitespace trimmed",
			content:  "  before <tool_call>{\"name\":\"a\",\"arguments\":{}}</tool_call> after  ",
			expected: "before  after",
		},
		{
			name:     "multiple calls removed",
			content:  `<tool_call>{"a":1}</tool_call><tool_call>{"b":2}</tool_call>`,
			expected: "",
		},
		{
			name:     "plain text untouched",
			content:  "The average age is 27.5.",
			expected: "The average age is 27.5.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			once := Strip(tt.content)
			assert.Equal(t, tt.expected, once)
			assert.Equal(t, once, Strip(once))
		})
	}
}

func TestSanitizeResult(t *testing.T) {
	t.Parallel()

	t.Run("chart path removed and notice appended once", func(t *testing.T) {
		t.Parallel()
		sanitized := SanitizeResult(tools.ToolResult{
			Success:   true,
			Result:    "Here is your chart.",
			ChartPath: "data:image/png;base64,AAAA",
		})

		assert.Empty(t, sanitized.ChartPath)
		assert.NotContains(t, sanitized.Result, "base64")
		assert.Equal(t, 1, strings.Count(sanitized.Result, chartNotice))
		assert.True(t, strings.HasPrefix(sanitized.Result, "Here is your chart."))
	})

	t.Run("no chart path leaves result unchanged", func(t *testing.T) {
		t.Parallel()
		original := tools.ToolResult{Success: true, Result: "The average age is 27.5"}
		assert.Equal(t, original, SanitizeResult(original))
	})
}

func TestBuildResponsePayload(t *testing.T) {
	t.Parallel()
	payload := BuildResponsePayload("analyze_data", tools.ToolResult{
		Success:      true,
		Result:       "done",
		ChartPath:    "data:image/png;base64,AAAA",
		ExecutedCode: "df.mean()",
	})

	require.True(t, strings.HasPrefix(payload, "<tool_response>\n"))
	require.True(t, strings.HasSuffix(payload, "\n</tool_response>"))

	inner := strings.TrimSuffix(strings.TrimPrefix(payload, "<tool_response>\n"), "\n</tool_response>")
	var decoded struct {
		Name    string           `json:"name"`
		Content tools.ToolResult `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(inner), &decoded))

	assert.Equal(t, "analyze_data", decoded.Name)
	assert.True(t, decoded.Content.Success)
	assert.Empty(t, decoded.Content.ChartPath)
	assert.Contains(t, decoded.Content.Result, chartNotice)
	assert.Equal(t, "df.mean()", decoded.Content.ExecutedCode)
	assert.NotContains(t, payload, "base64")
}
