package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablechat/tablechat/pkg/chat"
	"github.com/tablechat/tablechat/pkg/sandbox"
	"github.com/tablechat/tablechat/pkg/session"
	"github.com/tablechat/tablechat/pkg/tools"
)

const analyzeCall = `<tool_call>{"name":"analyze_data","arguments":{"dataframe_names":["data"],"question":"average age"}}</tool_call>`

// stubProvider replays scripted rounds. When the script runs out, the
// last round repeats.
type stubProvider struct {
	mu        sync.Mutex
	rounds    [][]string
	histories [][]chat.Message
	streamErr error
	answer    string
}

func (p *stubProvider) CreateChatCompletionStream(_ context.Context, messages []chat.Message) (chat.MessageStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamErr != nil {
		return nil, p.streamErr
	}

	snapshot := append([]chat.Message(nil), messages...)
	p.histories = append(p.histories, snapshot)

	idx := len(p.histories) - 1
	if idx >= len(p.rounds) {
		idx = len(p.rounds) - 1
	}
	return &scriptedStream{chunks: p.rounds[idx]}, nil
}

func (p *stubProvider) CreateChatCompletion(context.Context, []chat.Message) (string, error) {
	return p.answer, nil
}

func (p *stubProvider) streamCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.histories)
}

func newTestRuntime(p *stubProvider, runner *fakeRunner, maxRounds int) *Runtime {
	catalog := tools.Default()
	return New(Config{
		Provider:   p,
		Dispatcher: NewDispatcher(catalog, runner, nil),
		Catalog:    catalog,
		Session:    session.New(),
		MaxRounds:  maxRounds,
	})
}

func runTurn(t *testing.T, rt *Runtime, content string) string {
	t.Helper()
	userID := rt.Session().AddUserMessage(content)
	assistantID := rt.Session().AddAssistantMessage()
	rt.ProcessTurn(t.Context(), userID, assistantID)
	return assistantID
}

func drainEvents(rt *Runtime) []Event {
	var events []Event
	for {
		select {
		case e := <-rt.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func progressTransitions(events []Event) []session.ToolCallProgress {
	var transitions []session.ToolCallProgress
	for _, e := range events {
		if pe, ok := e.(*ToolCallProgressEvent); ok {
			transitions = append(transitions, pe.Progress)
		}
	}
	return transitions
}

func TestTurnWithOneToolCallRound(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner("data")
	runner.result.ResultText = "The average age is 27.5"

	provider := &stubProvider{rounds: [][]string{
		{analyzeCall},
		{"The average age in your dataset is 27.5."},
	}}
	rt := newTestRuntime(provider, runner, 5)

	assistantID := runTurn(t, rt, "What is the average age?")

	msg, ok := rt.Session().Message(assistantID)
	require.True(t, ok)
	require.True(t, msg.Final)
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, "The average age in your dataset is 27.5.", msg.Parts[0].Text)
	assert.NotContains(t, msg.Parts[0].Text, "<tool_call>")

	assert.Empty(t, rt.Session().Progress())
	assert.Equal(t, StateReady, rt.State())
	assert.Equal(t, 2, provider.streamCalls())

	// Round two saw the raw assistant text plus the tool response.
	secondHistory := provider.histories[1]
	require.GreaterOrEqual(t, len(secondHistory), 2)
	assert.Equal(t, analyzeCall, secondHistory[len(secondHistory)-2].Content)
	last := secondHistory[len(secondHistory)-1]
	assert.Equal(t, chat.MessageRoleUser, last.Role)
	assert.Contains(t, last.Content, "<tool_response>")
	assert.Contains(t, last.Content, "The average age is 27.5")
}

func TestTurnWithoutToolCall(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{rounds: [][]string{{"Hello! Load a dataset and ask me about it."}}}
	rt := newTestRuntime(provider, newFakeRunner(), 5)

	assistantID := runTurn(t, rt, "hi")

	msg, _ := rt.Session().Message(assistantID)
	assert.True(t, msg.Final)
	assert.Equal(t, "Hello! Load a dataset and ask me about it.", msg.Parts[0].Text)
	assert.Equal(t, 1, provider.streamCalls())
}

func TestTurnSandboxErrorFeedsBackToModel(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner("data")
	runner.err = errors.New("division by zero")

	provider := &stubProvider{rounds: [][]string{
		{analyzeCall},
		{"I could not compute that: the analysis failed."},
	}}
	rt := newTestRuntime(provider, runner, 5)

	assistantID := runTurn(t, rt, "average age?")

	// The turn proceeded to round two instead of aborting.
	assert.Equal(t, 2, provider.streamCalls())

	msg, _ := rt.Session().Message(assistantID)
	assert.True(t, msg.Final)
	assert.Equal(t, StateReady, rt.State())

	transitions := progressTransitions(drainEvents(rt))
	require.Len(t, transitions, 3)
	assert.Equal(t, session.ProgressPending, transitions[0].Status)
	assert.Equal(t, session.ProgressExecuting, transitions[1].Status)
	assert.Equal(t, session.ProgressError, transitions[2].Status)
	assert.Contains(t, transitions[2].ResultPreview, "Error executing analysis: division by zero")

	// The failure text went back to the model for self-correction.
	secondHistory := provider.histories[1]
	assert.Contains(t, secondHistory[len(secondHistory)-1].Content, "division by zero")
}

func TestTwoToolCallsExecuteSequentially(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner("data")

	twoCalls := `<tool_call>{"name":"analyze_data","arguments":{"dataframe_names":["data"],"question":"first"}}</tool_call>` +
		`<tool_call>{"name":"analyze_data","arguments":{"dataframe_names":["data"],"question":"second"}}</tool_call>`
	provider := &stubProvider{rounds: [][]string{
		{twoCalls},
		{"Both answers are in."},
	}}
	rt := newTestRuntime(provider, runner, 5)

	runTurn(t, rt, "two things please")

	assert.Equal(t, []string{"first", "second"}, runner.questions)
	assert.Equal(t, 1, runner.maxActive)

	// Each call fully completes before the next begins: no two entries
	// are ever executing at once.
	executing := make(map[string]bool)
	for _, tr := range progressTransitions(drainEvents(rt)) {
		switch tr.Status {
		case session.ProgressExecuting:
			executing[tr.ID] = true
			assert.Len(t, executing, 1)
		case session.ProgressComplete, session.ProgressError:
			delete(executing, tr.ID)
		}
	}
}

func TestRoundBudgetBoundsTheLoop(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner("data")
	provider := &stubProvider{rounds: [][]string{{analyzeCall}}}
	rt := newTestRuntime(provider, runner, 5)

	assistantID := runTurn(t, rt, "loop forever")

	assert.Equal(t, 5, provider.streamCalls())

	msg, _ := rt.Session().Message(assistantID)
	assert.True(t, msg.Final)
	assert.Equal(t, StateReady, rt.State())
	assert.Empty(t, rt.Session().Progress())

	var sawBudget bool
	for _, e := range drainEvents(rt) {
		if capped, ok := e.(*MaxRoundsReachedEvent); ok {
			sawBudget = true
			assert.Equal(t, 5, capped.MaxRounds)
		}
	}
	assert.True(t, sawBudget)
}

func TestGenerationErrorAbortsTurn(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{streamErr: errors.New("model exploded")}
	rt := newTestRuntime(provider, newFakeRunner(), 5)

	assistantID := runTurn(t, rt, "hello?")

	msg, _ := rt.Session().Message(assistantID)
	require.True(t, msg.Final)
	require.Len(t, msg.Parts, 1)
	assert.Contains(t, msg.Parts[0].Text, "I'm sorry")
	assert.Contains(t, msg.Parts[0].Text, "model exploded")

	assert.Equal(t, StateError, rt.State())
	assert.Empty(t, rt.Session().Progress())
}

func TestFalsePositiveToolCallFinalizesWithText(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{rounds: [][]string{
		{"Some context. <tool_call>this is not json</tool_call> The rest of the answer."},
	}}
	rt := newTestRuntime(provider, newFakeRunner(), 5)

	assistantID := runTurn(t, rt, "odd output")

	assert.Equal(t, 1, provider.streamCalls())
	msg, _ := rt.Session().Message(assistantID)
	require.True(t, msg.Final)
	assert.Equal(t, "Some context.  The rest of the answer.", msg.Parts[0].Text)
}

func TestChartsBecomeImageParts(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner("data")
	runner.result.ChartDataURL = "data:image/png;base64,AAAA"
	runner.result.ResultText = "Chart rendered"

	provider := &stubProvider{rounds: [][]string{
		{analyzeCall},
		{"Here is the age distribution."},
	}}
	rt := newTestRuntime(provider, runner, 5)

	assistantID := runTurn(t, rt, "plot ages")

	msg, _ := rt.Session().Message(assistantID)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, "Here is the age distribution.", msg.Parts[0].Text)
	require.Equal(t, session.PartTypeImage, msg.Parts[1].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", msg.Parts[1].Image.URL)
	assert.Equal(t, "chart-1.png", msg.Parts[1].Image.Filename)

	// Model-facing history never carries the chart bytes, only the notice.
	secondHistory := provider.histories[1]
	last := secondHistory[len(secondHistory)-1].Content
	assert.NotContains(t, last, "base64")
	assert.Contains(t, last, "displayed to the user")

	transitions := progressTransitions(drainEvents(rt))
	assert.Equal(t, "Chart generated", transitions[len(transitions)-1].ResultPreview)
}

func TestExecutedCodeBecomesToolTracePart(t *testing.T) {
	t.Parallel()
	runner := newFakeRunner("data")
	runner.result = &sandbox.AnalysisResult{
		Success:      true,
		ResultText:   "The average age is 27.5",
		ExecutedCode: "df['age'].mean()",
	}

	provider := &stubProvider{rounds: [][]string{
		{analyzeCall},
		{"The average age is 27.5."},
	}}
	rt := newTestRuntime(provider, runner, 5)

	assistantID := runTurn(t, rt, "average age?")

	msg, _ := rt.Session().Message(assistantID)
	require.Len(t, msg.Parts, 2)
	require.Equal(t, session.PartTypeToolTrace, msg.Parts[1].Type)
	trace := msg.Parts[1].ToolTrace
	assert.Equal(t, "analyze_data", trace.ToolName)
	assert.Equal(t, "df['age'].mean()", trace.Code)
	assert.Equal(t, "The average age is 27.5", trace.Result)
	assert.Equal(t, "average age", trace.Input["question"])
}

func TestSuggestQuestions(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{answer: "What is the average age?\nWhich city appears most?\n\nHow many rows are there?"}
	rt := newTestRuntime(provider, newFakeRunner(), 5)

	questions, err := rt.SuggestQuestions(t.Context(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"What is the average age?", "Which city appears most?"}, questions)
}

func TestResultPreviewTruncation(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 150)
	preview := resultPreview(tools.ToolResult{Success: true, Result: long})

	assert.Len(t, preview, previewLimit+3)
	assert.True(t, strings.HasSuffix(preview, "..."))
}
