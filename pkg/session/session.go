package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/pkg/chat"
)

// Message is one entry in the displayable transcript. User messages are
// final on creation; assistant messages are mutated in place while
// streaming (content replaced, not appended) and frozen at finalization.
type Message struct {
	ID    string           `json:"id"`
	Role  chat.MessageRole `json:"role"`
	Parts []MessagePart    `json:"parts"`
	Final bool             `json:"final"`
}

// IsLoadingPlaceholder reports whether the message is a queued-turn
// placeholder still waiting on subsystem readiness.
func (m *Message) IsLoadingPlaceholder() bool {
	return len(m.Parts) == 1 && m.Parts[0].Type == PartTypeLoading
}

// Session holds the conversation state for the current run. Nothing is
// persisted beyond the session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.RWMutex
	messages []*Message
	progress []*ToolCallProgress
}

// New creates an empty session.
func New() *Session {
	id := uuid.New().String()
	slog.Debug("Creating new session", "session_id", id)
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
	}
}

// AddUserMessage appends a finalized user message and returns its id.
func (s *Session) AddUserMessage(content string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &Message{
		ID:    uuid.New().String(),
		Role:  chat.MessageRoleUser,
		Parts: []MessagePart{TextPart(content)},
		Final: true,
	}
	s.messages = append(s.messages, msg)
	return msg.ID
}

// AddAssistantMessage appends an empty assistant message that will be
// mutated while streaming, and returns its id.
func (s *Session) AddAssistantMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &Message{
		ID:   uuid.New().String(),
		Role: chat.MessageRoleAssistant,
	}
	s.messages = append(s.messages, msg)
	return msg.ID
}

// AddAssistantPlaceholder appends an assistant message holding a single
// loading part with the given readiness snapshot, and returns its id.
func (s *Session) AddAssistantPlaceholder(state SystemLoadingState) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &Message{
		ID:    uuid.New().String(),
		Role:  chat.MessageRoleAssistant,
		Parts: []MessagePart{LoadingPart(state)},
	}
	s.messages = append(s.messages, msg)
	return msg.ID
}

// SetStreamingContent replaces the content of a streaming assistant
// message with the accumulated text so far. Finalized messages are never
// touched.
func (s *Session) SetStreamingContent(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.lookup(id)
	if msg == nil || msg.Final {
		return
	}
	msg.Parts = []MessagePart{TextPart(content)}
}

// Finalize replaces the message's parts wholesale and freezes it.
func (s *Session) Finalize(id string, parts []MessagePart) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.lookup(id)
	if msg == nil {
		return
	}
	msg.Parts = parts
	msg.Final = true
}

// RefreshLoadingSnapshots overwrites the loading snapshot of every
// still-queued placeholder so the transcript reflects live progress
// without changing message order.
func (s *Session) RefreshLoadingSnapshots(state SystemLoadingState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages {
		if msg.Final || !msg.IsLoadingPlaceholder() {
			continue
		}
		msg.Parts = []MessagePart{LoadingPart(state)}
	}
}

// Message returns a copy of the message with the given id.
func (s *Session) Message(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg := s.lookup(id)
	if msg == nil {
		return Message{}, false
	}
	return copyMessage(msg), true
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, copyMessage(msg))
	}
	return out
}

// History builds the model-facing conversation history: the system
// instruction followed by every finalized, non-loading message up to and
// including the message with id upTo. Streaming targets, placeholders
// and later queued turns are excluded.
func (s *Session) History(systemPrompt, upTo string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := []chat.Message{chat.NewSystemMessage(systemPrompt)}
	for _, msg := range s.messages {
		if msg.Final && !msg.IsLoadingPlaceholder() {
			if content := textContent(msg); content != "" {
				history = append(history, chat.Message{Role: msg.Role, Content: content})
			}
		}
		if msg.ID == upTo {
			break
		}
	}
	return history
}

func (s *Session) lookup(id string) *Message {
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func copyMessage(msg *Message) Message {
	out := *msg
	out.Parts = append([]MessagePart(nil), msg.Parts...)
	return out
}

func textContent(msg *Message) string {
	var parts []string
	for _, part := range msg.Parts {
		if part.Type == PartTypeText && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}
