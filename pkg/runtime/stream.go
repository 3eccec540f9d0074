package runtime

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tablechat/tablechat/pkg/chat"
	"github.com/tablechat/tablechat/pkg/toolcall"
)

// consumerState makes the "never show raw tool-call text" contract an
// explicit invariant: the consumer transitions from emitting to
// suppressed at most once per stream and never back.
type consumerState int

const (
	stateEmitting consumerState = iota
	stateSuppressed
)

// StreamResult is the outcome of consuming one completion stream.
type StreamResult struct {
	Content    string
	IsToolCall bool
}

// UpdateFunc receives the full visible content accumulated so far, once
// per delta, while the consumer is emitting.
type UpdateFunc func(content string)

// ConsumeStream drains a completion stream, forwarding visible content
// to onUpdate as it arrives and suppressing tool-call payloads from the
// live transcript.
//
// Suppression uses a cheap prefix heuristic: once enough text has
// accumulated, the leading-whitespace-trimmed content is compared
// against the tool-call opening marker. Tool calls that appear after
// leading prose are missed by the prefix check, so the full content is
// re-scanned after the stream completes to set IsToolCall either way.
func ConsumeStream(stream chat.MessageStream, onUpdate UpdateFunc) (StreamResult, error) {
	defer stream.Close()

	var content strings.Builder
	state := stateEmitting
	prefixChecked := false

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return StreamResult{}, fmt.Errorf("receiving from stream: %w", err)
		}
		if resp.Content == "" {
			continue
		}

		content.WriteString(resp.Content)

		if state == stateEmitting && !prefixChecked {
			trimmed := strings.TrimLeft(content.String(), " \t\r\n")
			if len(trimmed) >= len(toolcall.OpenMarker) {
				prefixChecked = true
				if strings.HasPrefix(trimmed, toolcall.OpenMarker) {
					state = stateSuppressed
				}
			}
		}

		if state == stateEmitting && onUpdate != nil {
			onUpdate(content.String())
		}
	}

	full := content.String()
	return StreamResult{
		Content:    full,
		IsToolCall: toolcall.Contains(full),
	}, nil
}
