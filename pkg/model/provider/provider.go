package provider

import (
	"context"

	"github.com/tablechat/tablechat/pkg/chat"
)

// Provider is the model runtime boundary. Implementations talk to a
// singleton, single-writer model; access is serialized by the
// single-flight turn processor.
type Provider interface {
	// CreateChatCompletionStream starts a streaming completion and
	// returns a stream of content deltas.
	CreateChatCompletionStream(ctx context.Context, messages []chat.Message) (chat.MessageStream, error)

	// CreateChatCompletion performs a non-streaming completion and
	// returns the final content.
	CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error)
}
