package chat

// MessageRole describes who authored a message in the model-facing history.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one entry in the conversation history sent to the model
// runtime. Content is always plain text; tool calls and tool responses
// travel inside the content as tagged spans.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// MessageStreamResponse is a single chunk yielded by a completion stream.
type MessageStreamResponse struct {
	Content string
}

// MessageStream yields completion chunks. Recv returns io.EOF once the
// stream is exhausted.
type MessageStream interface {
	Recv() (MessageStreamResponse, error)
	Close() error
}

func NewSystemMessage(content string) Message {
	return Message{Role: MessageRoleSystem, Content: content}
}

func NewUserMessage(content string) Message {
	return Message{Role: MessageRoleUser, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{Role: MessageRoleAssistant, Content: content}
}
