// Package runtime is the orchestration core: it streams model output,
// detects embedded tool calls, dispatches them to the analysis sandbox,
// feeds results back for further reasoning and finalizes a displayable
// answer, across several bounded rounds per user turn.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tablechat/tablechat/pkg/chat"
	"github.com/tablechat/tablechat/pkg/model/provider"
	"github.com/tablechat/tablechat/pkg/sandbox"
	"github.com/tablechat/tablechat/pkg/session"
	"github.com/tablechat/tablechat/pkg/toolcall"
	"github.com/tablechat/tablechat/pkg/tools"
)

// State is the externally observable conversation state.
type State string

const (
	StateReady     State = "ready"
	StateSubmitted State = "submitted"
	StateStreaming State = "streaming"
	StateError     State = "error"
)

const (
	// previewLimit bounds tool-result previews shown inline.
	previewLimit = 100

	chartPreview = "Chart generated"

	apologyText = "I'm sorry, I ran into a problem generating a response. Please try sending your message again."
)

// TableSource exposes the summaries of the currently loaded tables for
// the system prompt. sandbox.Client implements it.
type TableSource interface {
	Summaries() map[string]sandbox.TableSummary
}

// Runtime drives one conversation against the model runtime and the
// sandbox. Turns are strictly sequential; the scheduler guarantees
// single-flight processing.
type Runtime struct {
	provider   provider.Provider
	dispatcher *Dispatcher
	catalog    *tools.Catalog
	tables     TableSource
	sess       *session.Session
	maxRounds  int

	stateMu sync.RWMutex
	state   State

	events chan Event
}

type Config struct {
	Provider   provider.Provider
	Dispatcher *Dispatcher
	Catalog    *tools.Catalog
	Tables     TableSource
	Session    *session.Session
	MaxRounds  int
}

func New(cfg Config) *Runtime {
	maxRounds := cfg.MaxRounds
	if maxRounds < 1 {
		maxRounds = 5
	}
	return &Runtime{
		provider:   cfg.Provider,
		dispatcher: cfg.Dispatcher,
		catalog:    cfg.Catalog,
		tables:     cfg.Tables,
		sess:       cfg.Session,
		maxRounds:  maxRounds,
		state:      StateReady,
		events:     make(chan Event, 256),
	}
}

// Session returns the transcript this runtime mutates.
func (rt *Runtime) Session() *session.Session {
	return rt.sess
}

// Events exposes the UI-facing notification stream.
func (rt *Runtime) Events() <-chan Event {
	return rt.events
}

// State returns the externally observable conversation state.
func (rt *Runtime) State() State {
	rt.stateMu.RLock()
	defer rt.stateMu.RUnlock()
	return rt.state
}

func (rt *Runtime) setState(s State) {
	rt.stateMu.Lock()
	rt.state = s
	rt.stateMu.Unlock()
}

// Stop resets the externally observable state to ready. It does not
// abort an in-flight model stream or sandbox call; both are
// un-interruptible once started.
func (rt *Runtime) Stop() {
	rt.sess.ClearProgress()
	rt.setState(StateReady)
}

// emit never blocks the loop: when nobody is draining the channel the
// event is dropped.
func (rt *Runtime) emit(e Event) {
	select {
	case rt.events <- e:
	default:
		slog.Debug("Dropping runtime event, no consumer", "event", fmt.Sprintf("%T", e))
	}
}

// ProcessTurn runs one full turn: rounds of streaming plus tool
// execution until the model answers in plain text, the round budget runs
// out, or the model runtime fails. Exactly one finalized assistant
// message results, under the id assistantID.
func (rt *Runtime) ProcessTurn(ctx context.Context, userID, assistantID string) {
	rt.setState(StateSubmitted)

	if rt.provider == nil {
		rt.failTurn(assistantID, fmt.Errorf("model runtime is not available"))
		return
	}

	history := rt.sess.History(rt.systemPrompt(), userID)

	var lastContent string
	var chartPaths []string
	var traces []session.ToolTrace

	for round := 1; round <= rt.maxRounds; round++ {
		slog.Debug("Starting round", "round", round, "session_id", rt.sess.ID)

		stream, err := rt.provider.CreateChatCompletionStream(ctx, history)
		if err != nil {
			rt.failTurn(assistantID, fmt.Errorf("creating completion stream: %w", err))
			return
		}
		rt.setState(StateStreaming)

		result, err := ConsumeStream(stream, func(content string) {
			rt.sess.SetStreamingContent(assistantID, content)
			rt.emit(AssistantContent(assistantID, content))
		})
		if err != nil {
			rt.failTurn(assistantID, err)
			return
		}
		lastContent = result.Content

		if !result.IsToolCall {
			rt.finalizeTurn(assistantID, result.Content, chartPaths, traces)
			return
		}

		calls := toolcall.Parse(result.Content)
		if len(calls) == 0 {
			// Detection was a false positive, answer with the text as-is.
			rt.finalizeTurn(assistantID, result.Content, chartPaths, traces)
			return
		}

		payloads := make([]string, 0, len(calls))
		for _, call := range calls {
			res := rt.executeCall(ctx, call)
			if res.ChartPath != "" {
				chartPaths = append(chartPaths, res.ChartPath)
			}
			if res.ExecutedCode != "" {
				traces = append(traces, session.ToolTrace{
					ToolName:  call.Name,
					Input:     call.Arguments,
					Code:      res.ExecutedCode,
					Result:    truncate(res.Result, previewLimit),
					ChartPath: res.ChartPath,
				})
			}
			payloads = append(payloads, toolcall.BuildResponsePayload(call.Name, res))
		}

		history = append(history, chat.NewAssistantMessage(result.Content))
		history = append(history, chat.NewUserMessage(strings.Join(payloads, "\n")))
	}

	slog.Debug("Round budget exhausted", "max_rounds", rt.maxRounds, "session_id", rt.sess.ID)
	rt.emit(MaxRoundsReached(rt.maxRounds))
	rt.finalizeTurn(assistantID, lastContent, chartPaths, traces)
}

// executeCall runs one parsed tool call with progress reporting. Calls
// within a round execute strictly sequentially: the sandbox is a single
// shared execution context and progress ordering must stay deterministic.
func (rt *Runtime) executeCall(ctx context.Context, call toolcall.ParsedToolCall) tools.ToolResult {
	progressID := rt.sess.AddProgress(call.Name, questionPreview(call.Arguments))
	rt.emitProgress(progressID)

	rt.sess.SetProgressStatus(progressID, session.ProgressExecuting, "")
	rt.emitProgress(progressID)

	result := rt.dispatcher.ExecuteTool(ctx, call.Name, call.Arguments)

	status := session.ProgressComplete
	if !result.Success {
		status = session.ProgressError
	}
	rt.sess.SetProgressStatus(progressID, status, resultPreview(result))
	rt.emitProgress(progressID)

	return result
}

func (rt *Runtime) emitProgress(progressID string) {
	for _, entry := range rt.sess.Progress() {
		if entry.ID == progressID {
			rt.emit(ToolCallProgress(entry))
			return
		}
	}
}

// finalizeTurn strips tool-call markup from the final text, attaches one
// image part per chart produced during the turn (in execution order)
// plus a trace part per analysis that executed code, clears progress and
// returns to ready.
func (rt *Runtime) finalizeTurn(assistantID, content string, chartPaths []string, traces []session.ToolTrace) {
	clean := toolcall.Strip(content)

	var parts []session.MessagePart
	if clean != "" {
		parts = append(parts, session.TextPart(clean))
	}
	for i, path := range chartPaths {
		parts = append(parts, session.ImagePart(path, fmt.Sprintf("chart-%d.png", i+1), "image/png"))
	}
	for _, trace := range traces {
		parts = append(parts, session.ToolTracePart(trace))
	}

	rt.sess.Finalize(assistantID, parts)
	rt.sess.ClearProgress()
	rt.setState(StateReady)
	rt.emit(TurnCompleted(assistantID))
}

// failTurn aborts the turn outright: the assistant message is replaced
// with a fixed apologetic text carrying the underlying error, progress
// is cleared and the state moves to error. No automatic retry.
func (rt *Runtime) failTurn(assistantID string, err error) {
	slog.Error("Turn failed", "error", err, "session_id", rt.sess.ID)

	text := fmt.Sprintf("%s\n\nError: %v", apologyText, err)
	rt.sess.Finalize(assistantID, []session.MessagePart{session.TextPart(text)})
	rt.sess.ClearProgress()
	rt.setState(StateError)
	rt.emit(Error(err.Error()))
}

// systemPrompt assembles the system instruction: dataset summaries plus
// the tool-catalog description.
func (rt *Runtime) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a data analysis assistant. The user has loaded tabular datasets; ")
	sb.WriteString("answer questions about them, using the analyze_data tool when the answer requires computation.\n\n")

	if rt.tables != nil {
		summaries := rt.tables.Summaries()
		if len(summaries) > 0 {
			names := make([]string, 0, len(summaries))
			for name := range summaries {
				names = append(names, name)
			}
			sort.Strings(names)

			sb.WriteString("Loaded datasets:\n")
			for _, name := range names {
				summary := summaries[name]
				fmt.Fprintf(&sb, "- %s: %d rows, columns: %s\n", name, summary.RowCount, strings.Join(summary.ColumnNames, ", "))
			}
			sb.WriteString("\n")
		}
	}

	if rt.catalog != nil {
		sb.WriteString(rt.catalog.PromptDescription())
	}
	return sb.String()
}

// SuggestQuestions asks the model for starter questions about the loaded
// datasets, one per line. This is a background use of the shared model
// runtime and must not run while a turn is processing.
func (rt *Runtime) SuggestQuestions(ctx context.Context, count int) ([]string, error) {
	if rt.provider == nil {
		return nil, fmt.Errorf("model runtime is not available")
	}

	prompt := fmt.Sprintf("Suggest %d short questions a user could ask about the loaded datasets. Reply with one question per line, no numbering.", count)
	content, err := rt.provider.CreateChatCompletion(ctx, []chat.Message{
		chat.NewSystemMessage(rt.systemPrompt()),
		chat.NewUserMessage(prompt),
	})
	if err != nil {
		return nil, fmt.Errorf("generating suggested questions: %w", err)
	}

	var questions []string
	for line := range strings.SplitSeq(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			questions = append(questions, line)
		}
		if len(questions) == count {
			break
		}
	}
	return questions, nil
}

// WatchSandboxProgress relays unsolicited sandbox notifications onto
// the event stream until ctx is done or the channel closes.
func (rt *Runtime) WatchSandboxProgress(ctx context.Context, updates <-chan sandbox.ProgressUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			rt.emit(SandboxProgress(update.Stage, update.Detail))
		}
	}
}

func questionPreview(args map[string]any) string {
	question, _ := args["question"].(string)
	return truncate(question, previewLimit)
}

func resultPreview(result tools.ToolResult) string {
	if result.ChartPath != "" {
		return chartPreview
	}
	return truncate(result.Result, previewLimit)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
