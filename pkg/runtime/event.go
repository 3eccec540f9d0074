package runtime

import (
	"github.com/tablechat/tablechat/pkg/session"
)

// Event is a UI-facing notification emitted by the conversation loop and
// the scheduler. Rendering is up to the consumer.
type Event interface {
	isEvent()
}

// UserMessageEvent is sent when a user turn enters the system.
type UserMessageEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

func UserMessage(messageID, content string) Event {
	return &UserMessageEvent{Type: "user_message", MessageID: messageID, Content: content}
}

func (e *UserMessageEvent) isEvent() {}

// TurnQueuedEvent is sent when a turn is parked behind readiness.
type TurnQueuedEvent struct {
	Type          string                     `json:"type"`
	PlaceholderID string                     `json:"placeholder_id"`
	State         session.SystemLoadingState `json:"state"`
}

func TurnQueued(placeholderID string, state session.SystemLoadingState) Event {
	return &TurnQueuedEvent{Type: "turn_queued", PlaceholderID: placeholderID, State: state}
}

func (e *TurnQueuedEvent) isEvent() {}

// LoadingStateEvent is sent on every readiness change.
type LoadingStateEvent struct {
	Type  string                     `json:"type"`
	State session.SystemLoadingState `json:"state"`
}

func LoadingState(state session.SystemLoadingState) Event {
	return &LoadingStateEvent{Type: "loading_state", State: state}
}

func (e *LoadingStateEvent) isEvent() {}

// AssistantContentEvent carries the visible content accumulated so far
// in the current stream. Suppressed tool-call payloads never appear here.
type AssistantContentEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

func AssistantContent(messageID, content string) Event {
	return &AssistantContentEvent{Type: "assistant_content", MessageID: messageID, Content: content}
}

func (e *AssistantContentEvent) isEvent() {}

// ToolCallProgressEvent is sent on every progress transition of a tool
// call within a round.
type ToolCallProgressEvent struct {
	Type     string                   `json:"type"`
	Progress session.ToolCallProgress `json:"progress"`
}

func ToolCallProgress(progress session.ToolCallProgress) Event {
	return &ToolCallProgressEvent{Type: "tool_call_progress", Progress: progress}
}

func (e *ToolCallProgressEvent) isEvent() {}

// SandboxProgressEvent relays an unsolicited sandbox notification.
type SandboxProgressEvent struct {
	Type   string `json:"type"`
	Stage  string `json:"stage"`
	Detail string `json:"detail,omitempty"`
}

func SandboxProgress(stage, detail string) Event {
	return &SandboxProgressEvent{Type: "sandbox_progress", Stage: stage, Detail: detail}
}

func (e *SandboxProgressEvent) isEvent() {}

// TurnCompletedEvent is sent once the assistant message is finalized.
type TurnCompletedEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

func TurnCompleted(messageID string) Event {
	return &TurnCompletedEvent{Type: "turn_completed", MessageID: messageID}
}

func (e *TurnCompletedEvent) isEvent() {}

// MaxRoundsReachedEvent is sent when the round budget truncates a turn.
// The turn still finalizes with whatever content exists.
type MaxRoundsReachedEvent struct {
	Type      string `json:"type"`
	MaxRounds int    `json:"max_rounds"`
}

func MaxRoundsReached(maxRounds int) Event {
	return &MaxRoundsReachedEvent{Type: "max_rounds_reached", MaxRounds: maxRounds}
}

func (e *MaxRoundsReachedEvent) isEvent() {}

// ErrorEvent is sent when a turn fails outright.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func Error(msg string) Event {
	return &ErrorEvent{Type: "error", Error: msg}
}

func (e *ErrorEvent) isEvent() {}
