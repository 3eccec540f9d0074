package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tablechat/tablechat/pkg/sandbox"
	"github.com/tablechat/tablechat/pkg/tools"
)

// ToolHandler executes one validated tool call. Handlers return failures
// as results, never as panics; the model gets the failure text and may
// self-correct in the next round.
type ToolHandler func(ctx context.Context, args map[string]any) tools.ToolResult

// Dispatcher validates tool calls against the catalog and routes them to
// the sandbox. The handler registry is populated once at construction;
// dispatch is a single lookup plus invocation.
type Dispatcher struct {
	catalog *tools.Catalog
	sandbox sandbox.Runner
	toolMap map[string]ToolHandler
	tracer  trace.Tracer
}

// NewDispatcher wires the catalog to its handlers. sb may be nil when
// the Python environment is not available; tracer may be nil.
func NewDispatcher(catalog *tools.Catalog, sb sandbox.Runner, tracer trace.Tracer) *Dispatcher {
	d := &Dispatcher{
		catalog: catalog,
		sandbox: sb,
		toolMap: make(map[string]ToolHandler),
		tracer:  tracer,
	}
	d.toolMap[tools.AnalyzeDataToolName] = d.runAnalysis
	return d
}

// ExecuteTool validates and runs one tool call. Every failure mode is
// normalized into a ToolResult; no error ever escapes the dispatcher.
func (d *Dispatcher) ExecuteTool(ctx context.Context, name string, args map[string]any) tools.ToolResult {
	ctx, span := d.startSpan(ctx, "runtime.tool.call", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()

	reg, ok := d.catalog.Lookup(name)
	if !ok {
		slog.Debug("Unknown tool requested", "tool", name)
		span.SetStatus(codes.Error, "unknown tool")
		return failure("Unknown tool: " + name)
	}

	if !reg.ValidArguments(args) {
		slog.Debug("Tool call rejected by argument schema", "tool", name)
		span.SetStatus(codes.Error, "invalid arguments")
		return failure(fmt.Sprintf("Invalid arguments for %s tool", name))
	}

	handler, ok := d.toolMap[name]
	if !ok {
		span.SetStatus(codes.Error, "no handler registered")
		return failure("Unknown tool: " + name)
	}

	result := handler(ctx, args)
	if result.Success {
		span.SetStatus(codes.Ok, "tool call processed")
	} else {
		span.SetStatus(codes.Error, result.Result)
	}
	return result
}

// runAnalysis handles the analyze_data tool. Arguments have already
// passed the schema guard.
func (d *Dispatcher) runAnalysis(ctx context.Context, args map[string]any) tools.ToolResult {
	decoded, err := decodeArgs(args)
	if err != nil {
		return failure(fmt.Sprintf("Invalid arguments for %s tool", tools.AnalyzeDataToolName))
	}

	if len(decoded.DataframeNames) == 0 {
		return failure("No dataframes specified")
	}
	if d.sandbox == nil {
		return failure("Python environment not ready")
	}
	for _, name := range decoded.DataframeNames {
		if !d.sandbox.HasTable(name) {
			return failure("Unknown dataframe: " + name)
		}
	}

	slog.Debug("Running analysis", "tables", decoded.DataframeNames, "question", decoded.Question)

	res, err := d.sandbox.RunAnalysis(ctx, decoded.DataframeNames, decoded.Question)
	if err != nil {
		slog.Error("Analysis execution failed", "error", err)
		return failure("Error executing analysis: " + err.Error())
	}

	return tools.ToolResult{
		Success:      res.Success,
		Result:       res.ResultText,
		ChartPath:    res.ChartDataURL,
		ExecutedCode: res.ExecutedCode,
	}
}

func decodeArgs(args map[string]any) (*tools.AnalyzeDataArgs, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var decoded tools.AnalyzeDataArgs
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

func failure(msg string) tools.ToolResult {
	return tools.ToolResult{Success: false, Result: msg}
}

func (d *Dispatcher) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if d.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return d.tracer.Start(ctx, name, opts...)
}
