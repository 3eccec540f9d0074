// Package toolcall parses tool-call directives out of generated text and
// serializes tool responses back into the model-facing history. The wire
// format follows the function-calling convention of Hermes-style local
// models: JSON payloads wrapped in <tool_call>/<tool_response> markers.
package toolcall

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tablechat/tablechat/pkg/tools"
)

const (
	OpenMarker  = "<tool_call>"
	CloseMarker = "</tool_call>"

	responseOpenMarker  = "<tool_response>"
	responseCloseMarker = "</tool_response>"

	// chartNotice replaces inline chart payloads in model-facing tool
	// responses so the model knows an image exists without seeing the
	// bytes.
	chartNotice = "[An image/chart with the result has been displayed to the user.]"
)

var callSpan = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)

// ParsedToolCall is one structured tool invocation extracted from text.
// It is ephemeral: produced here, consumed immediately by the dispatcher.
type ParsedToolCall struct {
	Name      string
	Arguments map[string]any
}

// Parse extracts every well-formed tool call from content, in document
// order. A span whose payload is not valid JSON, or is missing the name
// or arguments field, is dropped without error: one garbled call among
// several must not abort the round.
func Parse(content string) []ParsedToolCall {
	var calls []ParsedToolCall
	for _, match := range callSpan.FindAllStringSubmatch(content, -1) {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(match[1]), &raw); err != nil {
			slog.Debug("Dropping unparsable tool call span", "error", err)
			continue
		}

		nameRaw, hasName := raw["name"]
		argsRaw, hasArgs := raw["arguments"]
		if !hasName || !hasArgs {
			slog.Debug("Dropping tool call span with missing fields")
			continue
		}

		var name string
		if err := json.Unmarshal(nameRaw, &name); err != nil {
			slog.Debug("Dropping tool call span with non-string name", "error", err)
			continue
		}

		var args map[string]any
		if err := json.Unmarshal(argsRaw, &args); err != nil || args == nil {
			slog.Debug("Dropping tool call span with non-object arguments", "name", name)
			continue
		}

		calls = append(calls, ParsedToolCall{Name: name, Arguments: args})
	}
	return calls
}

// Contains reports whether content holds both tool-call markers. This is
// an early-exit heuristic, not structural validation: the inner payload
// may still fail to parse.
func Contains(content string) bool {
	return strings.Contains(content, OpenMarker) && strings.Contains(content, CloseMarker)
}

// Strip removes all matched tool-call spans and trims surrounding
// whitespace. Strip is idempotent.
func Strip(content string) string {
	return strings.TrimSpace(callSpan.ReplaceAllString(content, ""))
}

// SanitizeResult prepares a tool result for the model-facing history:
// the chart payload is removed and, when one was present, the result
// text gains a fixed notice so the model knows the user saw an image.
func SanitizeResult(result tools.ToolResult) tools.ToolResult {
	if result.ChartPath == "" {
		return result
	}
	result.ChartPath = ""
	result.Result = strings.TrimSpace(result.Result + "\n\n" + chartNotice)
	return result
}

// BuildResponsePayload serializes one tool result as a tool_response
// block for the next model round.
func BuildResponsePayload(toolName string, result tools.ToolResult) string {
	payload := struct {
		Name    string           `json:"name"`
		Content tools.ToolResult `json:"content"`
	}{
		Name:    toolName,
		Content: SanitizeResult(result),
	}

	// The payload is plain data, marshaling cannot fail.
	data, _ := json.Marshal(payload)
	return responseOpenMarker + "\n" + string(data) + "\n" + responseCloseMarker
}
